// Package config provides layered configuration loading for lockstep.
// Precedence (lowest -> highest): defaults -> YAML file -> environment
// variables, followed by validation of the merged result.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPath is where Load looks for a YAML file when LOCKSTEP_CONFIG
// is unset. A missing default file is not an error; a missing explicit one is.
const DefaultConfigPath = "lockstep.yaml"

// envPrefix namespaces the environment variables Load reads, e.g.
// LOCKSTEP_DIR, LOCKSTEP_POLICY, LOCKSTEP_CHUNK_SIZE.
const envPrefix = "LOCKSTEP_"

// Config holds the merged runtime configuration for lockstep.
type Config struct {
	Dir            string        `koanf:"dir" validate:"required,safe_path"`      // directory holding update files
	DB             string        `koanf:"db" validate:"required"`                 // path to the SQLite database
	Addr           string        `koanf:"addr" validate:"ip_port"`                // status server listen address (watch mode)
	Policy         string        `koanf:"policy" validate:"oneof=skip strict"`    // mismatch handling
	Ignore         Patterns      `koanf:"ignore"`                                 // glob patterns to skip
	CurrentPrefix  string        `koanf:"current_prefix" validate:"required"`     // header line 1 prefix
	PreviousPrefix string        `koanf:"previous_prefix" validate:"required"`    // header line 2 prefix
	ChunkSize      ByteSize      `koanf:"chunk_size" validate:"min=1"`            // header read chunk
	Interval       time.Duration `koanf:"interval" validate:"min=1s"`             // watch mode cycle interval
	HistoryLimit   int           `koanf:"history_limit" validate:"min=1"`         // rows shown by status
	StatusToken    string        `koanf:"status_token"`                           // optional bearer token for /journal
	LogLevel       string        `koanf:"log_level" validate:"oneof=debug info warn error"`
}

// DefaultAppConfig is the configuration Load starts from before overlays.
var DefaultAppConfig = Config{
	Dir:            "./updates",
	DB:             "./lockstep.db",
	Addr:           "127.0.0.1:8089",
	Policy:         "skip",
	Ignore:         Patterns{".gitkeep"},
	CurrentPrefix:  "-- Increment timestamp:",
	PreviousPrefix: "-- Previous timestamp:",
	ChunkSize:      4 << 10,
	Interval:       30 * time.Second,
	HistoryLimit:   20,
	LogLevel:       "info",
}

// The loader steps are package vars so tests can swap them out.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
}

var fileLoader = func(k *koanf.Koanf) error {
	path, explicit := os.LookupEnv("LOCKSTEP_CONFIG")
	if !explicit {
		path = DefaultConfigPath
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, envPrefix)), value
		},
	}), nil)
}

var registerValidators = func(v *validator.Validate) error {
	if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
		return err
	}
	return v.RegisterValidation("safe_path", validSafePath)
}

// Load builds the runtime configuration and validates it.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, err
	}
	if err := fileLoader(k); err != nil {
		return nil, err
	}
	if err := envLoader(k); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName: "koanf",
			Result:  &cfg,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				StringToPatterns(),
				StringToByteSize(),
			),
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, err
	}
	v := validator.New()
	if err := registerValidators(v); err != nil {
		return nil, err
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SQLiteDSN renders the configured DB path as a mattn/go-sqlite3 DSN carrying
// the pragmas lockstep relies on: WAL journaling, foreign keys, a busy
// timeout, and fully synchronous writes.
func (c *Config) SQLiteDSN() string {
	return "file:" + c.DB + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL"
}

// SlogLevel maps the configured log level onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// validIPPort accepts "ip:port" or ":port" with a numeric port in 1..65535.
// Hostnames are rejected so the value binds deterministically.
func validIPPort(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return false
	}
	return true
}

// validSafePath rejects paths that are empty, resolve to the filesystem root
// or the bare current directory, or climb out via "..".
func validSafePath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if p == "" {
		return false
	}
	clean := filepath.Clean(p)
	if clean == "." || clean == string(filepath.Separator) {
		return false
	}
	for _, seg := range strings.Split(clean, string(filepath.Separator)) {
		if seg == ".." {
			return false
		}
	}
	return true
}
