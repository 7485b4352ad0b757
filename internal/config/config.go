// Package config loads wasmpool settings from a TOML or YAML file, a .env
// file and WASM_THREADS_* environment variables, in that order.
package config

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/instrument"
	"github.com/wippyai/wasm-threads/metrics"
	"github.com/wippyai/wasm-threads/runtime"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WASM_THREADS_"

// Config is the file and environment view of a wasmpool run.
type Config struct {
	Wasm              string   `toml:"wasm" yaml:"wasm"`
	WIT               string   `toml:"wit" yaml:"wit"`
	EntryPoint        string   `toml:"entry_point" yaml:"entry_point"`
	WorkerScriptHref  string   `toml:"worker_script" yaml:"worker_script"`
	MetricsAddr       string   `toml:"metrics_addr" yaml:"metrics_addr"`
	ReadyTimeout      string   `toml:"ready_timeout" yaml:"ready_timeout"`
	InitFunctions     []string `toml:"init_functions" yaml:"init_functions"`
	Threads           int      `toml:"threads" yaml:"threads"`
	QueueSize         int      `toml:"queue_size" yaml:"queue_size"`
	MemoryLimitPages  uint32   `toml:"memory_limit_pages" yaml:"memory_limit_pages"`
	InterruptOnCancel bool     `toml:"interrupt_on_cancel" yaml:"interrupt_on_cancel"`
	Debug             bool     `toml:"debug" yaml:"debug"`
}

// Default returns the settings used when nothing else is given.
func Default() Config {
	return Config{
		Threads:      4,
		QueueSize:    64,
		ReadyTimeout: "30s",
	}
}

// LoadFile overlays the file at path on the defaults. The format follows
// the extension: .toml, .yaml or .yml.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".toml" && ext != ".yaml" && ext != ".yml" {
		return Config{}, errors.Unsupported(errors.PhaseConfig, "config format "+ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read "+path)
	}

	switch ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse TOML "+path)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse YAML "+path)
		}
	}
	return cfg, nil
}

// LoadEnv loads envFile, if it exists, into the process environment without
// replacing variables already set. An empty envFile means ".env".
func LoadEnv(envFile string) error {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "load "+envFile)
	}
	return nil
}

// ApplyEnv overrides fields from WASM_THREADS_* variables found by lookup.
// A nil lookup uses os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok
	}

	strs := map[string]*string{
		"WASM":          &c.Wasm,
		"WIT":           &c.WIT,
		"ENTRY_POINT":   &c.EntryPoint,
		"WORKER_SCRIPT": &c.WorkerScriptHref,
		"METRICS_ADDR":  &c.MetricsAddr,
		"READY_TIMEOUT": &c.ReadyTimeout,
	}
	for name, dst := range strs {
		if v, ok := get(name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"THREADS":    &c.Threads,
		"QUEUE_SIZE": &c.QueueSize,
	}
	for name, dst := range ints {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return envError(name, v, err)
			}
			*dst = n
		}
	}

	if v, ok := get("MEMORY_LIMIT_PAGES"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return envError("MEMORY_LIMIT_PAGES", v, err)
		}
		c.MemoryLimitPages = uint32(n)
	}

	bools := map[string]*bool{
		"INTERRUPT_ON_CANCEL": &c.InterruptOnCancel,
		"DEBUG":               &c.Debug,
	}
	for name, dst := range bools {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return envError(name, v, err)
			}
			*dst = b
		}
	}

	if v, ok := get("INIT_FUNCTIONS"); ok {
		c.InitFunctions = []string{}
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				c.InitFunctions = append(c.InitFunctions, name)
			}
		}
	}
	return nil
}

func envError(name, value string, err error) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Detail("%s%s=%q", EnvPrefix, name, value).
		Cause(err).
		Build()
}

// Validate checks the settings a run needs.
func (c Config) Validate() error {
	if c.Wasm == "" {
		return errors.InvalidInput(errors.PhaseConfig, "no wasm module given")
	}
	if c.Threads < 1 {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("threads must be at least 1, got %d", c.Threads).
			Build()
	}
	if c.QueueSize < 0 {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("queue_size must not be negative, got %d", c.QueueSize).
			Build()
	}
	if _, err := c.ReadyTimeoutDuration(); err != nil {
		return err
	}
	return nil
}

// ReadyTimeoutDuration parses ReadyTimeout. Empty or "0" means no limit.
func (c Config) ReadyTimeoutDuration() (time.Duration, error) {
	if c.ReadyTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.ReadyTimeout)
	if err != nil || d < 0 {
		return 0, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("invalid ready_timeout %q", c.ReadyTimeout).
			Cause(err).
			Build()
	}
	return d, nil
}

// RuntimeConfig converts the settings into a runtime configuration.
func (c Config) RuntimeConfig(logger *zap.Logger, rec *instrument.Recorder, m *metrics.Metrics) *runtime.Config {
	return &runtime.Config{
		Logger:            logger,
		Recorder:          rec,
		Metrics:           m,
		EntryPoint:        c.EntryPoint,
		InitFunctions:     c.InitFunctions,
		WorkerScriptHref:  c.WorkerScriptHref,
		MemoryLimitPages:  c.MemoryLimitPages,
		QueueSize:         c.QueueSize,
		InterruptOnCancel: c.InterruptOnCancel,
	}
}
