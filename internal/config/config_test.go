package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/wippyai/wasm-threads/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "pool.toml",
			content: `
wasm = "guest.wasm"
threads = 8
init_functions = ["__wbindgen_start", "init"]
memory_limit_pages = 256
`,
		},
		{
			name: "yaml",
			file: "pool.yaml",
			content: `
wasm: guest.wasm
threads: 8
init_functions: [__wbindgen_start, init]
memory_limit_pages: 256
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFile(writeFile(t, tt.file, tt.content))
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			if cfg.Wasm != "guest.wasm" || cfg.Threads != 8 || cfg.MemoryLimitPages != 256 {
				t.Errorf("cfg = %+v", cfg)
			}
			if !slices.Equal(cfg.InitFunctions, []string{"__wbindgen_start", "init"}) {
				t.Errorf("init functions = %v", cfg.InitFunctions)
			}
			// Unset keys keep their defaults.
			if cfg.QueueSize != Default().QueueSize || cfg.ReadyTimeout != "30s" {
				t.Errorf("defaults lost: %+v", cfg)
			}
		})
	}
}

func TestLoadFile_Errors(t *testing.T) {
	isKind := func(err error, kind errors.Kind) bool {
		var e *errors.Error
		return stderrors.As(err, &e) && e.Kind == kind
	}

	if _, err := LoadFile(writeFile(t, "pool.json", "{}")); !isKind(err, errors.KindUnsupported) {
		t.Errorf("json = %v, want unsupported", err)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml")); !isKind(err, errors.KindNotFound) {
		t.Errorf("missing = %v, want not found", err)
	}
	if _, err := LoadFile(writeFile(t, "bad.toml", "threads = [")); !isKind(err, errors.KindInvalidData) {
		t.Errorf("bad toml = %v, want invalid data", err)
	}
	if _, err := LoadFile(writeFile(t, "bad.yml", "threads: [")); !isKind(err, errors.KindInvalidData) {
		t.Errorf("bad yaml = %v, want invalid data", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"WASM_THREADS_WASM":               "env.wasm",
		"WASM_THREADS_THREADS":            "3",
		"WASM_THREADS_MEMORY_LIMIT_PAGES": "16",
		"WASM_THREADS_DEBUG":              "true",
		"WASM_THREADS_INIT_FUNCTIONS":     "a, b,",
		"UNRELATED":                       "x",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	cfg.QueueSize = 10
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Wasm != "env.wasm" || cfg.Threads != 3 || cfg.MemoryLimitPages != 16 || !cfg.Debug {
		t.Errorf("cfg = %+v", cfg)
	}
	if !slices.Equal(cfg.InitFunctions, []string{"a", "b"}) {
		t.Errorf("init functions = %v", cfg.InitFunctions)
	}
	if cfg.QueueSize != 10 {
		t.Errorf("queue size overwritten: %d", cfg.QueueSize)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "WASM_THREADS_THREADS" {
			return "many", true
		}
		return "", false
	}
	cfg := Default()
	err := cfg.ApplyEnv(lookup)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindInvalidInput}) {
		t.Errorf("ApplyEnv = %v, want config/invalid_input", err)
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	if err := LoadEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing env file = %v, want nil", err)
	}

	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("WASM_THREADS_TEST_ONLY=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WASM_THREADS_TEST_ONLY", "")
	os.Unsetenv("WASM_THREADS_TEST_ONLY")
	if err := LoadEnv(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("WASM_THREADS_TEST_ONLY"); got != "from-file" {
		t.Errorf("env = %q, want from-file", got)
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Wasm = "guest.wasm"
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no wasm", func(c *Config) { c.Wasm = "" }},
		{"no threads", func(c *Config) { c.Threads = 0 }},
		{"negative queue", func(c *Config) { c.QueueSize = -1 }},
		{"bad timeout", func(c *Config) { c.ReadyTimeout = "soon" }},
		{"negative timeout", func(c *Config) { c.ReadyTimeout = "-1s" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestReadyTimeoutDuration(t *testing.T) {
	c := Config{ReadyTimeout: "1m30s"}
	if d, err := c.ReadyTimeoutDuration(); err != nil || d != 90*time.Second {
		t.Errorf("= %v, %v", d, err)
	}
	if d, err := (Config{}).ReadyTimeoutDuration(); err != nil || d != 0 {
		t.Errorf("empty = %v, %v", d, err)
	}
}

func TestRuntimeConfig(t *testing.T) {
	c := Default()
	c.EntryPoint = "start"
	c.InterruptOnCancel = true
	rc := c.RuntimeConfig(nil, nil, nil)
	if rc.EntryPoint != "start" || rc.QueueSize != c.QueueSize || !rc.InterruptOnCancel {
		t.Errorf("runtime config = %+v", rc)
	}
}
