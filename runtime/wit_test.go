package runtime

import (
	"testing"

	"go.bytecodealliance.org/wit"
)

func TestParseWitFunctions(t *testing.T) {
	witText := `
		package test:example@1.0.0;

		interface calc {
			export add: func(a: u32, b: u32) -> u32;
			export sub: func(x: s32, y: s32) -> s32;
			export get-value: func() -> u64;
		}
	`

	funcs, err := parseWitFunctions(witText)
	if err != nil {
		t.Fatalf("parseWitFunctions error: %v", err)
	}
	if len(funcs) != 3 {
		t.Errorf("expected 3 functions, got %d", len(funcs))
	}

	add, ok := funcs["add"]
	if !ok {
		t.Fatal("add function not found")
	}
	if got := add.String(); got != "add: func(p0: u32, p1: u32) -> u32" {
		t.Errorf("add = %q", got)
	}
	if _, ok := add.Params[0].(wit.U32); !ok {
		t.Errorf("add param type = %T, want u32", add.Params[0])
	}

	if get := funcs["get-value"]; len(get.Params) != 0 || len(get.Results) != 1 {
		t.Errorf("get-value = %s", get)
	}
}

func TestParseWitFunctions_NoFunctions(t *testing.T) {
	_, err := parseWitFunctions(`
		package test:example@1.0.0;
		interface empty {}
	`)
	if err == nil {
		t.Error("expected error for WIT with no functions")
	}
}

func TestParseWitFunctions_TupleResult(t *testing.T) {
	funcs, err := parseWitFunctions(`export divmod: func(a: s32, b: s32) -> (s32, s32);`)
	if err != nil {
		t.Fatalf("parseWitFunctions error: %v", err)
	}
	sig := funcs["divmod"]
	if len(sig.Params) != 2 || len(sig.Results) != 2 {
		t.Errorf("divmod = %s", sig)
	}
}

func TestParseWitFunctions_NoResult(t *testing.T) {
	funcs, err := parseWitFunctions(`export work: func(n: u32);`)
	if err != nil {
		t.Fatalf("parseWitFunctions error: %v", err)
	}
	sig := funcs["work"]
	if len(sig.Params) != 1 || len(sig.Results) != 0 {
		t.Errorf("work = %s", sig)
	}
}

func TestParseWitFunctions_BadType(t *testing.T) {
	if _, err := parseWitFunctions(`export f: func(a: invalid-type-xyz);`); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestSplitParams(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"a: s32, b: s32", []string{"a: s32", "b: s32"}},
		{"x: u32, y: s32", []string{"x: u32", "y: s32"}},
		{"", []string{}},
		{" a : s32 , b : s32 ", []string{"a : s32", "b : s32"}},
		{"a: s32, b: f32, c: bool", []string{"a: s32", "b: f32", "c: bool"}},
		{"t: tuple<s32, s32>", []string{"t: tuple<s32", "s32>"}},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			result := splitParams(tc.input)
			if len(result) != len(tc.expected) {
				t.Fatalf("expected %d parts, got %d: %v", len(tc.expected), len(result), result)
			}
			for i, exp := range tc.expected {
				if result[i] != exp {
					t.Errorf("part %d: expected %q, got %q", i, exp, result[i])
				}
			}
		})
	}
}

func TestParseWitType(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"s32", true},
		{"u64", true},
		{"f64", true},
		{"bool", true},
		{"char", true},
		{"invalid-type-xyz", false},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			_, err := parseWitType(tc.input)
			if tc.valid && err != nil {
				t.Errorf("expected valid, got error: %v", err)
			}
			if !tc.valid && err == nil {
				t.Error("expected error for invalid type")
			}
		})
	}
}
