package config

import (
	"reflect"
	"testing"

	"github.com/mitchellh/mapstructure"
)

// TestStringToPatterns covers the DecodeHook behavior for various inputs.
func TestStringToPatterns(t *testing.T) {
	tests := []struct {
		name      string
		toType    reflect.Type
		input     interface{}
		expectVal interface{}
	}{
		{
			name:      "single pattern",
			toType:    reflect.TypeOf(Patterns{}),
			input:     ".gitkeep",
			expectVal: Patterns{".gitkeep"},
		},
		{
			name:      "comma separated",
			toType:    reflect.TypeOf(Patterns{}),
			input:     ".gitkeep,*.tmp,*.bak",
			expectVal: Patterns{".gitkeep", "*.tmp", "*.bak"},
		},
		{
			name:      "spaces trimmed",
			toType:    reflect.TypeOf(Patterns{}),
			input:     " .gitkeep , *.tmp ",
			expectVal: Patterns{".gitkeep", "*.tmp"},
		},
		{
			name:      "blank elements dropped",
			toType:    reflect.TypeOf(Patterns{}),
			input:     ".gitkeep,,",
			expectVal: Patterns{".gitkeep"},
		},
		{
			name:      "empty string",
			toType:    reflect.TypeOf(Patterns{}),
			input:     "",
			expectVal: Patterns{},
		},
		{
			name:      "not this type",
			toType:    reflect.TypeOf(0),
			input:     "something_else",
			expectVal: "something_else",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fromVal := reflect.ValueOf(tt.input)
			toVal := reflect.New(tt.toType).Elem()
			got, err := mapstructure.DecodeHookExec(StringToPatterns(), fromVal, toVal)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.expectVal) {
				t.Errorf("expected %v (%T), got %v (%T)", tt.expectVal, tt.expectVal, got, got)
			}
		})
	}
}
