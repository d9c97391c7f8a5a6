package core

import "strings"

// OutputFormat is the rendering format for command payloads and envelopes.
type OutputFormat string

const (
	// FormatJSON renders payloads as JSON. This is the default.
	FormatJSON OutputFormat = "json"

	// FormatYAML renders payloads as YAML.
	FormatYAML OutputFormat = "yaml"
)

// ParseFormat parses a format name case-insensitively.
func ParseFormat(value string) (OutputFormat, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "json":
		return FormatJSON, true
	case "yaml":
		return FormatYAML, true
	default:
		return FormatJSON, false
	}
}

// RawOptions is the unresolved global flag set as parsed off the command
// line. It carries syntax only; precedence semantics live in Resolve.
type RawOptions struct {
	// Help is true when -h/--help was present.
	Help bool

	// Quiet is true when -q/--quiet was present.
	Quiet bool

	// Debug is true when --debug was present.
	Debug bool

	// Format is the raw --format value, empty when the flag was absent.
	Format string

	// FormatSet is true when --format was given explicitly.
	FormatSet bool

	// Pretty is true when --pretty was present.
	Pretty bool

	// NoPretty is true when --no-pretty was present.
	NoPretty bool

	// Verbose is true when -v/--verbose was present.
	Verbose bool
}

// ExecutionContext is the resolved, immutable set of global-option effects
// for one invocation. Built exactly once per dispatch.
type ExecutionContext struct {
	// Help short-circuits every other effect; the invocation renders usage
	// text and exits 0 regardless of other flags.
	Help bool

	// Quiet suppresses all rendered output on both streams. Exit codes are
	// still computed normally.
	Quiet bool

	// Debug forces Verbose and Pretty and switches envelopes to full
	// diagnostic detail.
	Debug bool

	// Format is the effective output format. Defaults to JSON.
	Format OutputFormat

	// FormatRaw preserves the flag value as given, for diagnostics.
	FormatRaw string

	// FormatValid is false when an explicit --format value did not parse.
	// The engine converts that into a usage error at dispatch time unless
	// Help or Quiet is set.
	FormatValid bool

	// Pretty enables indented output. Defaults to true.
	Pretty bool

	// Verbose enables verbose diagnostics. Implied by Debug; retained but
	// inert under Quiet.
	Verbose bool
}

// Resolve turns raw global flags into an ExecutionContext. It is a pure,
// total, idempotent function: it never fails and performs no I/O. The six
// checks run strictly in precedence order; an invalid --format value is
// recorded, not rejected, so the engine can defer it to command validation.
func Resolve(raw RawOptions) ExecutionContext {
	ectx := ExecutionContext{
		Format:      FormatJSON,
		FormatValid: true,
		Pretty:      true,
	}

	// 1. help wins over everything; later checks still parse for syntax.
	ectx.Help = raw.Help

	// 2. quiet, unless help already claimed the invocation.
	ectx.Quiet = raw.Quiet && !raw.Help

	// 3. debug, unless help or quiet; forces verbose and pretty.
	ectx.Debug = raw.Debug && !raw.Help && !raw.Quiet

	// 4. format parses case-insensitively; an invalid explicit value is a
	// deferred validation failure, never a resolver failure.
	if raw.FormatSet {
		ectx.FormatRaw = raw.Format
		format, ok := ParseFormat(raw.Format)
		ectx.Format = format
		ectx.FormatValid = ok
	}

	// 5. pretty defaults on; --no-pretty clears it; debug overrides both.
	if raw.NoPretty && !raw.Pretty {
		ectx.Pretty = false
	}
	if ectx.Debug {
		ectx.Pretty = true
	}

	// 6. verbose, implied by debug; kept (not cleared) under quiet.
	ectx.Verbose = raw.Verbose || ectx.Debug

	return ectx
}
