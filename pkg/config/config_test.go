package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bijux/bijux-cli/pkg/core"
)

// writeConfig writes a settings file in a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.env")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// TestLoadMissingFile verifies a missing file yields an empty, settable
// config.
func TestLoadMissingFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "config.env"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(c.All()) != 0 {
		t.Errorf("expected an empty config, got %v", c.All())
	}
	if err := c.Set("log_level", "debug"); err != nil {
		t.Errorf("expected set on a fresh config to succeed, got %v", err)
	}
}

// TestLoadParsesFile verifies key=value parsing with comments and blanks.
func TestLoadParsesFile(t *testing.T) {
	path := writeConfig(t, "# comment\n\nlog_level = debug\nformat=yaml\n")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if v, _ := c.Get("log_level"); v != "debug" {
		t.Errorf("expected log_level debug, got %q", v)
	}
	if v, _ := c.Get("format"); v != "yaml" {
		t.Errorf("expected format yaml, got %q", v)
	}
}

// TestLoadRejectsMalformedLine verifies a non key=value line fails
// validation with its line number.
func TestLoadRejectsMalformedLine(t *testing.T) {
	path := writeConfig(t, "log_level=debug\nthis is not a setting\n")
	_, err := Load(path)
	if core.KindOf(err) != core.KindValidation {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

// TestSetGetUnsetRoundTrip verifies persistence across reloads.
func TestSetGetUnsetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.env")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := c.Set(KeyFormat, "yaml"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if v, ok := reloaded.Get(KeyFormat); !ok || v != "yaml" {
		t.Errorf("expected the set value to persist, got %q, %v", v, ok)
	}

	if err := reloaded.Unset(KeyFormat); err != nil {
		t.Fatalf("unset failed: %v", err)
	}
	if _, ok := reloaded.Get(KeyFormat); ok {
		t.Error("expected the key to be gone after unset")
	}

	err = reloaded.Unset("never_set")
	if !core.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
	var cerr *core.Error
	if !errors.As(err, &cerr) || cerr.Failure != core.FailKeyNotFound {
		t.Errorf("expected failure %s, got %v", core.FailKeyNotFound, err)
	}
}

// TestSettingsDefaults verifies the resolved defaults point at the state
// directory.
func TestSettingsDefaults(t *testing.T) {
	clearEnv(t)
	c, err := Load(filepath.Join(t.TempDir(), "config.env"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	s, err := c.Settings()
	if err != nil {
		t.Fatalf("settings failed: %v", err)
	}
	if s.LogLevel != "info" || s.Format != "json" || !s.Pretty {
		t.Errorf("unexpected defaults %+v", s)
	}
	if filepath.Base(s.HistoryPath) != "history.jsonl" {
		t.Errorf("unexpected history path %s", s.HistoryPath)
	}
}

// TestSettingsFileAndEnvPrecedence verifies environment variables override
// file values.
func TestSettingsFileAndEnvPrecedence(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "log_level=warn\nhistory_path=/from/file.jsonl\npretty=false\n")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	t.Setenv(EnvHistory, "/from/env.jsonl")
	s, err := c.Settings()
	if err != nil {
		t.Fatalf("settings failed: %v", err)
	}
	if s.HistoryPath != "/from/env.jsonl" {
		t.Errorf("expected the env override, got %s", s.HistoryPath)
	}
	if s.LogLevel != "warn" {
		t.Errorf("expected the file value, got %s", s.LogLevel)
	}
	if s.Pretty {
		t.Error("expected pretty=false from the file")
	}
}

// TestSettingsValidation verifies bad values fail the typed resolution.
func TestSettingsValidation(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "log_level=loud\n")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := c.Settings(); core.KindOf(err) != core.KindValidation {
		t.Errorf("expected a validation error for a bad log level, got %v", err)
	}

	path = writeConfig(t, "format=xml\n")
	c, err = Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := c.Settings(); core.KindOf(err) != core.KindValidation {
		t.Errorf("expected a validation error for a bad format, got %v", err)
	}
}

// TestPathHonorsEnv verifies BIJUXCLI_CONFIG selects the settings file.
func TestPathHonorsEnv(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.env")
	if got := Path(); got != "/custom/config.env" {
		t.Errorf("expected the env path, got %s", got)
	}
}

// clearEnv unsets every override for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvConfig, EnvHistory, EnvPluginsDir, EnvMemoryDB, EnvLogLevel} {
		t.Setenv(key, "")
	}
}
