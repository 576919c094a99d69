// Package config loads replacer settings from a YAML file, a .env file and
// REPLACER_* environment variables, in increasing order of precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "REPLACER_"

// Config holds every tunable of the replacer.
type Config struct {
	// DefinitionsDir is the root holding one directory per definition group.
	DefinitionsDir string `yaml:"definitions_dir" validate:"required"`

	// CaptureTargets names the nodes the capture command exports.
	CaptureTargets []string `yaml:"capture_targets" validate:"dive,required"`

	// CaptureTargetsFile is a JSON array of node names appended to
	// CaptureTargets.
	CaptureTargetsFile string `yaml:"capture_targets_file"`

	// EvaluateInterval is the management tick. Zero evaluates only after
	// reloads.
	EvaluateInterval time.Duration `yaml:"evaluate_interval" validate:"gte=0"`

	// CycleInterval is the apply pass cadence of the run command.
	CycleInterval time.Duration `yaml:"cycle_interval" validate:"gt=0"`

	// Debounce is the watcher quiet period.
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`

	// JournalPath is the sqlite load journal. Empty disables journaling.
	JournalPath string `yaml:"journal_path"`

	// MetricsAddr serves /metrics when set, e.g. "127.0.0.1:9464".
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`

	LogLevel    string `yaml:"log_level" validate:"oneof=debug info warn error"`
	CacheSize   int    `yaml:"cache_size" validate:"gte=0"`
	Concurrency int    `yaml:"concurrency" validate:"gte=1,lte=256"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefinitionsDir:   filepath.Join("Data", "SKSE", "PartialAnimationReplacer", "Replacers"),
		EvaluateInterval: time.Second,
		CycleInterval:    16 * time.Millisecond,
		Debounce:         100 * time.Millisecond,
		LogLevel:         "info",
		CacheSize:        256,
		Concurrency:      8,
	}
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s fails %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog.Level.
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

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), the given .env files and the process environment. With
// no env files, ./.env is read if present. Process environment wins over
// .env values.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	dotenv, err := readDotEnv(envFiles)
	if err != nil {
		return nil, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if cfg.CaptureTargetsFile != "" {
		targets, err := readTargets(cfg.CaptureTargetsFile)
		if err != nil {
			return nil, err
		}
		cfg.CaptureTargets = append(cfg.CaptureTargets, targets...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readDotEnv(files []string) (map[string]string, error) {
	if len(files) == 0 {
		vals, err := godotenv.Read()
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read .env: %w", err)
		}
		return vals, nil
	}

	vals, err := godotenv.Read(files...)
	if err != nil {
		return nil, fmt.Errorf("read env files: %w", err)
	}
	return vals, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("DEFINITIONS_DIR", &c.DefinitionsDir)
	str("CAPTURE_TARGETS_FILE", &c.CaptureTargetsFile)
	str("JOURNAL_PATH", &c.JournalPath)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("LOG_LEVEL", &c.LogLevel)

	if v, ok := lookup(EnvPrefix + "CAPTURE_TARGETS"); ok {
		c.CaptureTargets = splitList(v)
	}

	for name, dst := range map[string]*time.Duration{
		"EVALUATE_INTERVAL": &c.EvaluateInterval,
		"CYCLE_INTERVAL":    &c.CycleInterval,
		"DEBOUNCE":          &c.Debounce,
	} {
		if err := dur(name, dst); err != nil {
			return err
		}
	}
	if err := num("CACHE_SIZE", &c.CacheSize); err != nil {
		return err
	}
	return num("CONCURRENCY", &c.Concurrency)
}

// splitList splits a comma-separated list, dropping blank items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func readTargets(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capture targets: %w", err)
	}
	var targets []string
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, fmt.Errorf("parse capture targets %s: %w", path, err)
	}
	return targets, nil
}
