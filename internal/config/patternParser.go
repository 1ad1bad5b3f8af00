package config

import (
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Patterns is a list of glob patterns. YAML supplies it as a list;
// environment variables supply it comma-separated.
type Patterns []string

// StringToPatterns is a DecodeHookFunc that converts a comma-separated string
// to a Patterns list. Blank elements are dropped.
func StringToPatterns() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(Patterns{}) {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return Patterns{}, nil
		}
		parts := strings.Split(raw, ",")
		out := make(Patterns, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
		return out, nil
	}
}
