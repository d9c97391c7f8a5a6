package core

import "testing"

// TestResolveDefaults verifies the zero flag set resolves to the documented
// defaults: JSON, pretty, nothing else.
func TestResolveDefaults(t *testing.T) {
	ectx := Resolve(RawOptions{})

	if ectx.Help || ectx.Quiet || ectx.Debug || ectx.Verbose {
		t.Errorf("expected all boolean effects off, got %+v", ectx)
	}
	if ectx.Format != FormatJSON {
		t.Errorf("expected default format json, got %s", ectx.Format)
	}
	if !ectx.FormatValid {
		t.Error("expected default format to be valid")
	}
	if !ectx.Pretty {
		t.Error("expected pretty to default on")
	}
}

// TestResolvePrecedence tests the resolver over flag combinations that
// exercise each precedence rule.
func TestResolvePrecedence(t *testing.T) {
	tests := []struct {
		name string
		raw  RawOptions
		want ExecutionContext
	}{
		{
			name: "help wins over quiet and debug",
			raw:  RawOptions{Help: true, Quiet: true, Debug: true},
			want: ExecutionContext{Help: true, Format: FormatJSON, FormatValid: true, Pretty: true},
		},
		{
			name: "quiet suppresses debug",
			raw:  RawOptions{Quiet: true, Debug: true},
			want: ExecutionContext{Quiet: true, Format: FormatJSON, FormatValid: true, Pretty: true},
		},
		{
			name: "debug forces verbose and pretty",
			raw:  RawOptions{Debug: true, NoPretty: true},
			want: ExecutionContext{Debug: true, Verbose: true, Format: FormatJSON, FormatValid: true, Pretty: true},
		},
		{
			name: "no-pretty clears pretty",
			raw:  RawOptions{NoPretty: true},
			want: ExecutionContext{Format: FormatJSON, FormatValid: true, Pretty: false},
		},
		{
			name: "explicit pretty beats no-pretty",
			raw:  RawOptions{Pretty: true, NoPretty: true},
			want: ExecutionContext{Format: FormatJSON, FormatValid: true, Pretty: true},
		},
		{
			name: "verbose flag alone",
			raw:  RawOptions{Verbose: true},
			want: ExecutionContext{Verbose: true, Format: FormatJSON, FormatValid: true, Pretty: true},
		},
		{
			name: "verbose is retained under quiet",
			raw:  RawOptions{Quiet: true, Verbose: true},
			want: ExecutionContext{Quiet: true, Verbose: true, Format: FormatJSON, FormatValid: true, Pretty: true},
		},
		{
			name: "yaml format case-insensitive",
			raw:  RawOptions{Format: "YAML", FormatSet: true},
			want: ExecutionContext{Format: FormatYAML, FormatRaw: "YAML", FormatValid: true, Pretty: true},
		},
		{
			name: "invalid format is deferred, not rejected",
			raw:  RawOptions{Format: "xml", FormatSet: true},
			want: ExecutionContext{Format: FormatJSON, FormatRaw: "xml", FormatValid: false, Pretty: true},
		},
		{
			name: "invalid format under help still resolves",
			raw:  RawOptions{Help: true, Format: "xml", FormatSet: true},
			want: ExecutionContext{Help: true, Format: FormatJSON, FormatRaw: "xml", FormatValid: false, Pretty: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.raw)
			if got != tt.want {
				t.Errorf("Resolve(%+v)\n got %+v\nwant %+v", tt.raw, got, tt.want)
			}
		})
	}
}

// TestResolveFlagPowerset checks the precedence invariants over every
// combination of the six boolean flags.
func TestResolveFlagPowerset(t *testing.T) {
	for mask := 0; mask < 1<<6; mask++ {
		raw := RawOptions{
			Help:     mask&1 != 0,
			Quiet:    mask&2 != 0,
			Debug:    mask&4 != 0,
			Pretty:   mask&8 != 0,
			NoPretty: mask&16 != 0,
			Verbose:  mask&32 != 0,
		}
		ectx := Resolve(raw)

		if ectx.Help != raw.Help {
			t.Errorf("%+v: help not carried through", raw)
		}
		if ectx.Help && (ectx.Quiet || ectx.Debug) {
			t.Errorf("%+v: help must suppress quiet and debug effects", raw)
		}
		if ectx.Quiet && ectx.Debug {
			t.Errorf("%+v: quiet and debug may never both be active", raw)
		}
		if ectx.Debug && (!ectx.Verbose || !ectx.Pretty) {
			t.Errorf("%+v: debug must force verbose and pretty, got %+v", raw, ectx)
		}
		if raw.Pretty && !ectx.Pretty {
			t.Errorf("%+v: explicit --pretty must win over --no-pretty", raw)
		}
		if !raw.Pretty && !raw.NoPretty && !ectx.Pretty {
			t.Errorf("%+v: pretty must default on", raw)
		}
		if raw.Verbose && !ectx.Verbose {
			t.Errorf("%+v: verbose flag must never be cleared", raw)
		}
		if ectx.Format != FormatJSON || !ectx.FormatValid {
			t.Errorf("%+v: format flags untouched, expected valid json", raw)
		}
	}
}

// TestResolveIdempotent verifies resolving the same raw options twice yields
// the same context.
func TestResolveIdempotent(t *testing.T) {
	raw := RawOptions{Debug: true, Format: "yaml", FormatSet: true, NoPretty: true}
	first := Resolve(raw)
	second := Resolve(raw)
	if first != second {
		t.Errorf("Resolve is not idempotent: %+v vs %+v", first, second)
	}
}

// TestParseFormat tests format parsing edge cases.
func TestParseFormat(t *testing.T) {
	tests := []struct {
		in     string
		want   OutputFormat
		wantOK bool
	}{
		{"json", FormatJSON, true},
		{"JSON", FormatJSON, true},
		{" yaml ", FormatYAML, true},
		{"xml", FormatJSON, false},
		{"", FormatJSON, false},
	}
	for _, tt := range tests {
		got, ok := ParseFormat(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseFormat(%q) = %s, %v; want %s, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
