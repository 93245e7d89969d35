// Package config loads recipesync.toml.
//
// A missing file is not an error: every field has a default. Values
// present in the file replace the defaults, and the result is checked
// with validator struct tags before use. Command-line flags are applied
// on top by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/roach88/recipesync/internal/engine"
)

// DefaultFile is the config file looked up in the working directory when
// no path is given.
const DefaultFile = "recipesync.toml"

// Engine log levels. Off discards, trace logs one line per action and
// firing, verbose adds the frame sets of every join.
const (
	LevelOff     = "off"
	LevelTrace   = "trace"
	LevelVerbose = "verbose"
)

// Config is the whole file.
type Config struct {
	Engine  EngineConfig  `toml:"engine"`
	Log     LogConfig     `toml:"log"`
	Store   StoreConfig   `toml:"store"`
	Rules   RulesConfig   `toml:"rules"`
	Metrics MetricsConfig `toml:"metrics"`
}

type EngineConfig struct {
	MaxSteps int    `toml:"max_steps" validate:"gte=1"`
	LogLevel string `toml:"log_level" validate:"oneof=off trace verbose"`
}

type LogConfig struct {
	Format string `toml:"format" validate:"oneof=text json"`
	File   string `toml:"file"`
}

// StoreConfig points at the SQLite action log. An empty path keeps the
// trace in memory only.
type StoreConfig struct {
	Path string `toml:"path"`
}

type RulesConfig struct {
	Dir string `toml:"dir" validate:"required"`
}

type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace" validate:"required_if=Enabled true"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			MaxSteps: engine.DefaultMaxSteps,
			LogLevel: LevelTrace,
		},
		Log:     LogConfig{Format: "text"},
		Rules:   RulesConfig{Dir: "rules"},
		Metrics: MetricsConfig{Namespace: "recipesync"},
	}
}

// Load reads path over the defaults. An empty path reads DefaultFile if it
// exists.
func Load(path string) (Config, error) {
	if path == "" {
		if _, err := os.Stat(DefaultFile); errors.Is(err, fs.ErrNotExist) {
			cfg := Default()
			return cfg, cfg.Validate()
		}
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML text over the defaults and validates the result.
// Keys the schema does not know are rejected.
func Parse(src string) (Config, error) {
	var raw Config
	meta, err := toml.Decode(src, &raw)
	if err != nil {
		return Config{}, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}

	cfg := Default()
	if meta.IsDefined("engine", "max_steps") {
		cfg.Engine.MaxSteps = raw.Engine.MaxSteps
	}
	if meta.IsDefined("engine", "log_level") {
		cfg.Engine.LogLevel = strings.ToLower(strings.TrimSpace(raw.Engine.LogLevel))
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(raw.Log.Format))
	}
	if meta.IsDefined("log", "file") {
		cfg.Log.File = strings.TrimSpace(raw.Log.File)
	}
	if meta.IsDefined("store", "path") {
		cfg.Store.Path = strings.TrimSpace(raw.Store.Path)
	}
	if meta.IsDefined("rules", "dir") {
		cfg.Rules.Dir = strings.TrimSpace(raw.Rules.Dir)
	}
	if meta.IsDefined("metrics", "enabled") {
		cfg.Metrics.Enabled = raw.Metrics.Enabled
	}
	if meta.IsDefined("metrics", "namespace") {
		cfg.Metrics.Namespace = strings.TrimSpace(raw.Metrics.Namespace)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = newValidator()

// newValidator reports fields by their TOML key.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and reports every violation.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fieldMessage(fe)
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
