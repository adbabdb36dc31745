// Package config loads tally process configuration.
//
// A configuration file is either YAML (.yaml, .yml) or, for any other
// extension, a list of field=value; pairs in the chunk file grammar:
//
//	dir=./ledger;
//	capacity=50;
//	digest=xxhash;
//	watch=true;
//
// Environment variables prefixed with TALLY_ override file values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/tally/pkg/chunk"
	"github.com/aretw0/tally/pkg/params"
)

// FileName is the configuration file looked up in a ledger directory.
const FileName = "tally.yaml"

// Defaults.
const (
	DefaultDir          = "."
	DefaultCapacity     = 100
	DefaultDigest       = "sha256"
	DefaultPollInterval = 50 * time.Millisecond
	DefaultHaltTimeout  = 5 * time.Second
	DefaultSystemDir    = ".tally"
	DefaultPattern      = "**/*.chunk"
)

var ErrUnknownKey = errors.New("unknown configuration key")

// Config is the process configuration.
type Config struct {
	Dir          string        `yaml:"dir"           env:"TALLY_DIR"`
	Capacity     int           `yaml:"capacity"      env:"TALLY_CAPACITY"`
	Digest       string        `yaml:"digest"        env:"TALLY_DIGEST"`
	PollInterval time.Duration `yaml:"poll_interval" env:"TALLY_POLL_INTERVAL"`
	HaltTimeout  time.Duration `yaml:"halt_timeout"  env:"TALLY_HALT_TIMEOUT"`
	Watch        bool          `yaml:"watch"         env:"TALLY_WATCH"`
	ReadOnly     bool          `yaml:"read_only"     env:"TALLY_READ_ONLY"`
	SystemDir    string        `yaml:"system_dir"    env:"TALLY_SYSTEM_DIR"`
	Pattern      string        `yaml:"pattern"       env:"TALLY_PATTERN"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Dir:          DefaultDir,
		Capacity:     DefaultCapacity,
		Digest:       DefaultDigest,
		PollInterval: DefaultPollInterval,
		HaltTimeout:  DefaultHaltTimeout,
		SystemDir:    DefaultSystemDir,
		Pattern:      DefaultPattern,
	}
}

// Load reads the file at path over the defaults. Keys absent from the file
// keep their default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = decodeYAML(data, &cfg)
	default:
		err = decodeParams(string(data), &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func decodeParams(text string, cfg *Config) error {
	m, err := params.Parse(text)
	if err != nil {
		return err
	}

	for _, key := range m.Keys() {
		switch key {
		case "dir":
			cfg.Dir, err = textValue(m, key)
		case "capacity":
			cfg.Capacity, err = m.Int(key)
		case "digest":
			cfg.Digest, err = textValue(m, key)
		case "poll_interval":
			cfg.PollInterval, err = m.Duration(key)
		case "halt_timeout":
			cfg.HaltTimeout, err = m.Duration(key)
		case "watch":
			cfg.Watch, err = m.Bool(key)
		case "read_only":
			cfg.ReadOnly, err = m.Bool(key)
		case "system_dir":
			cfg.SystemDir, err = textValue(m, key)
		case "pattern":
			cfg.Pattern, err = textValue(m, key)
		default:
			err = fmt.Errorf("%w %q", ErrUnknownKey, key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func textValue(m *params.Map, key string) (string, error) {
	v, err := m.Text(key)
	return strings.TrimSpace(v), err
}

// ApplyEnv overrides cfg with TALLY_* variables from environ. A nil environ
// reads the process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return err
	}
	return cfg.Validate()
}

// Validate reports values no component could accept.
func (c Config) Validate() error {
	switch {
	case c.Dir == "":
		return errors.New("dir must not be empty")
	case c.Capacity < 1:
		return fmt.Errorf("capacity must be at least 1, got %d", c.Capacity)
	case c.PollInterval < 0:
		return fmt.Errorf("poll_interval must not be negative, got %s", c.PollInterval)
	case c.HaltTimeout <= 0:
		return fmt.Errorf("halt_timeout must be positive, got %s", c.HaltTimeout)
	}
	if _, err := chunk.DigesterByName(c.Digest); err != nil {
		return err
	}
	return nil
}

// Find returns the configuration file in dir, trying tally.yaml, tally.yml
// and tally.conf in that order. It returns "" when there is none.
func Find(dir string) string {
	for _, name := range []string{FileName, "tally.yml", "tally.conf"} {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}
