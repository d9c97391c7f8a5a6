// Package config resolves CLI settings from the environment and a simple
// key=value settings file, and watches the file for changes.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/bijux/bijux-cli/pkg/core"
)

// Environment variables that override file-based settings.
const (
	EnvConfig     = "BIJUXCLI_CONFIG"
	EnvHistory    = "BIJUXCLI_HISTORY"
	EnvPluginsDir = "BIJUXCLI_PLUGINS_DIR"
	EnvMemoryDB   = "BIJUXCLI_MEMORY_DB"
	EnvLogLevel   = "BIJUXCLI_LOG_LEVEL"

	// Trace export is opt-in: the exporter name (stdout or otlp) enables it.
	EnvTraceExporter = "BIJUXCLI_TRACE_EXPORTER"
	EnvTraceEndpoint = "BIJUXCLI_TRACE_ENDPOINT"
)

// Settings keys recognized in the settings file.
const (
	KeyHistoryPath = "history_path"
	KeyPluginsDir  = "plugins_dir"
	KeyMemoryDB    = "memory_db"
	KeyLogLevel    = "log_level"
	KeyFormat      = "format"
	KeyPretty      = "pretty"
)

// Settings is the typed view over the resolved configuration.
type Settings struct {
	// HistoryPath is the JSONL history file.
	HistoryPath string `json:"history_path" validate:"required"`

	// PluginsDir holds installed plugins, one directory each.
	PluginsDir string `json:"plugins_dir" validate:"required"`

	// MemoryDB is the SQLite database for the memory and audit stores.
	MemoryDB string `json:"memory_db" validate:"required"`

	// LogLevel is the minimum log level.
	LogLevel string `json:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// Format is the default output format when no flag is given.
	Format string `json:"format" validate:"omitempty,oneof=json yaml"`

	// Pretty is the default pretty-print preference.
	Pretty bool `json:"pretty"`
}

// Config is the settings file plus its resolved values. Values set through
// the config command are persisted back to the file; environment variables
// always win over file values.
type Config struct {
	path     string
	validate *validator.Validate

	mu     sync.RWMutex
	values map[string]string
}

// DefaultDir returns the CLI state directory, ~/.bijux by default.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bijux"
	}
	return filepath.Join(home, ".bijux")
}

// Path returns the settings file path, honoring BIJUXCLI_CONFIG.
func Path() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return filepath.Join(DefaultDir(), "config.env")
}

// Load reads the settings file at path. A missing file is not an error;
// the returned Config is empty and settable.
func Load(path string) (*Config, error) {
	c := &Config{
		path:     path,
		validate: validator.New(),
		values:   make(map[string]string),
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, core.NewValidationError(
				fmt.Sprintf("config line %d is not key=value: %q", lineno, line), nil)
		}
		c.values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return c, nil
}

// Get returns the value for a key, or an empty string when unset.
func (c *Config) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores a key and persists the file.
func (c *Config) Set(key, value string) error {
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()
	return c.save()
}

// Unset removes a key and persists the file. Removing an absent key
// returns a not-found error.
func (c *Config) Unset(key string) error {
	c.mu.Lock()
	if _, ok := c.values[key]; !ok {
		c.mu.Unlock()
		return core.NewNotFoundError(fmt.Sprintf("config key not found: %s", key), nil).
			WithFailure(core.FailKeyNotFound)
	}
	delete(c.values, key)
	c.mu.Unlock()
	return c.save()
}

// All returns a copy of every key, sorted for stable output.
func (c *Config) All() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// FilePath returns the settings file path backing this config.
func (c *Config) FilePath() string {
	return c.path
}

// Settings resolves the typed settings: defaults, then file values, then
// environment overrides, then validation.
func (c *Config) Settings() (Settings, error) {
	base := DefaultDir()
	s := Settings{
		HistoryPath: filepath.Join(base, "history.jsonl"),
		PluginsDir:  filepath.Join(base, "plugins"),
		MemoryDB:    filepath.Join(base, "memory.db"),
		LogLevel:    "info",
		Format:      "json",
		Pretty:      true,
	}

	c.mu.RLock()
	if v, ok := c.values[KeyHistoryPath]; ok {
		s.HistoryPath = v
	}
	if v, ok := c.values[KeyPluginsDir]; ok {
		s.PluginsDir = v
	}
	if v, ok := c.values[KeyMemoryDB]; ok {
		s.MemoryDB = v
	}
	if v, ok := c.values[KeyLogLevel]; ok {
		s.LogLevel = v
	}
	if v, ok := c.values[KeyFormat]; ok {
		s.Format = v
	}
	if v, ok := c.values[KeyPretty]; ok {
		s.Pretty = v != "false" && v != "0"
	}
	c.mu.RUnlock()

	if v := os.Getenv(EnvHistory); v != "" {
		s.HistoryPath = v
	}
	if v := os.Getenv(EnvPluginsDir); v != "" {
		s.PluginsDir = v
	}
	if v := os.Getenv(EnvMemoryDB); v != "" {
		s.MemoryDB = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		s.LogLevel = v
	}

	if err := c.validate.Struct(s); err != nil {
		return Settings{}, core.NewValidationError("invalid configuration", err)
	}
	return s, nil
}

// save writes the file atomically: temp file in the same directory, fsync,
// rename over the destination.
func (c *Config) save() error {
	c.mu.RLock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%s\n", k, c.values[k])
	}
	c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(sb.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}
