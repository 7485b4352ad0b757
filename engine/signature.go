package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-threads/errors"
)

// Signature describes an export with WIT primitive types. Only types with
// a single core value are supported; there is no canonical ABI lowering.
type Signature struct {
	Name    string
	Params  []wit.Type
	Results []wit.Type
}

// EntrySignature is the signature of the worker entry: func(receiver: u32).
func EntrySignature(name string) Signature {
	return Signature{Name: name, Params: []wit.Type{wit.U32{}}}
}

// InferSignature maps a core function type to WIT, reading i32 and i64 as
// signed.
func InferSignature(def api.FunctionDefinition) Signature {
	sig := Signature{Name: def.Name()}
	if names := def.ExportNames(); len(names) > 0 {
		sig.Name = names[0]
	}
	for _, t := range def.ParamTypes() {
		sig.Params = append(sig.Params, witType(t))
	}
	for _, t := range def.ResultTypes() {
		sig.Results = append(sig.Results, witType(t))
	}
	return sig
}

func witType(t api.ValueType) wit.Type {
	switch t {
	case api.ValueTypeI64:
		return wit.S64{}
	case api.ValueTypeF32:
		return wit.F32{}
	case api.ValueTypeF64:
		return wit.F64{}
	default:
		return wit.S32{}
	}
}

// coreType returns the core value type a WIT primitive is passed as.
func coreType(t wit.Type) (api.ValueType, bool) {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return api.ValueTypeI32, true
	case wit.U64, wit.S64:
		return api.ValueTypeI64, true
	case wit.F32:
		return api.ValueTypeF32, true
	case wit.F64:
		return api.ValueTypeF64, true
	}
	return 0, false
}

func witTypeName(t wit.Type) string {
	switch t.(type) {
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.S8:
		return "s8"
	case wit.U16:
		return "u16"
	case wit.S16:
		return "s16"
	case wit.U32:
		return "u32"
	case wit.S32:
		return "s32"
	case wit.U64:
		return "u64"
	case wit.S64:
		return "s64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	case wit.String:
		return "string"
	}
	return fmt.Sprintf("%T", t)
}

// String renders the signature in WIT syntax, e.g.
// "add: func(p0: s32, p1: s32) -> s32".
func (s Signature) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteString(": func(")
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "p%d: %s", i, witTypeName(p))
	}
	b.WriteByte(')')
	switch len(s.Results) {
	case 0:
	case 1:
		b.WriteString(" -> ")
		b.WriteString(witTypeName(s.Results[0]))
	default:
		b.WriteString(" -> tuple<")
		for i, r := range s.Results {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(witTypeName(r))
		}
		b.WriteByte('>')
	}
	return b.String()
}

// Check reports whether def's core type matches the signature.
func (s Signature) Check(def api.FunctionDefinition) error {
	if !coreTypesMatch(s.Params, def.ParamTypes()) || !coreTypesMatch(s.Results, def.ResultTypes()) {
		return errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Detail("export %s has core type %s, want %s", s.Name, coreString(def), s).
			Build()
	}
	return nil
}

func coreTypesMatch(want []wit.Type, got []api.ValueType) bool {
	if len(want) != len(got) {
		return false
	}
	for i, t := range want {
		ct, ok := coreType(t)
		if !ok || ct != got[i] {
			return false
		}
	}
	return true
}

func coreString(def api.FunctionDefinition) string {
	names := func(ts []api.ValueType) string {
		parts := make([]string, len(ts))
		for i, t := range ts {
			parts[i] = api.ValueTypeName(t)
		}
		return strings.Join(parts, ", ")
	}
	return "(" + names(def.ParamTypes()) + ") -> (" + names(def.ResultTypes()) + ")"
}

// ParseArgs parses textual arguments into core values, one per parameter.
func (s Signature) ParseArgs(args []string) ([]uint64, error) {
	if len(args) != len(s.Params) {
		return nil, errors.InvalidInput(errors.PhaseRun,
			fmt.Sprintf("%s takes %d arguments, got %d", s.Name, len(s.Params), len(args)))
	}
	out := make([]uint64, len(args))
	for i, arg := range args {
		v, err := parseValue(s.Params[i], strings.TrimSpace(arg))
		if err != nil {
			return nil, errors.New(errors.PhaseRun, errors.KindInvalidInput).
				Detail("argument %d of %s: %q is not a %s", i, s.Name, arg, witTypeName(s.Params[i])).
				Cause(err).
				Build()
		}
		out[i] = v
	}
	return out, nil
}

func parseValue(t wit.Type, s string) (uint64, error) {
	switch t.(type) {
	case wit.Bool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return 0, err
		}
		if v {
			return 1, nil
		}
		return 0, nil
	case wit.U8:
		v, err := strconv.ParseUint(s, 0, 8)
		return v, err
	case wit.U16:
		v, err := strconv.ParseUint(s, 0, 16)
		return v, err
	case wit.U32:
		v, err := strconv.ParseUint(s, 0, 32)
		return v, err
	case wit.U64:
		return strconv.ParseUint(s, 0, 64)
	case wit.S8:
		v, err := strconv.ParseInt(s, 0, 8)
		return api.EncodeI32(int32(v)), err
	case wit.S16:
		v, err := strconv.ParseInt(s, 0, 16)
		return api.EncodeI32(int32(v)), err
	case wit.S32:
		v, err := strconv.ParseInt(s, 0, 32)
		return api.EncodeI32(int32(v)), err
	case wit.S64:
		v, err := strconv.ParseInt(s, 0, 64)
		return api.EncodeI64(v), err
	case wit.F32:
		v, err := strconv.ParseFloat(s, 32)
		return api.EncodeF32(float32(v)), err
	case wit.F64:
		v, err := strconv.ParseFloat(s, 64)
		return api.EncodeF64(v), err
	case wit.Char:
		r, size := utf8.DecodeRuneInString(s)
		if r == utf8.RuneError || size != len(s) {
			return 0, strconv.ErrSyntax
		}
		return uint64(r), nil
	}
	return 0, errors.Unsupported(errors.PhaseRun, "type "+witTypeName(t))
}

// Lower converts Go values to core values, one per parameter. Integers of
// any width are accepted when they fit the parameter type.
func (s Signature) Lower(args ...any) ([]uint64, error) {
	if len(args) != len(s.Params) {
		return nil, errors.InvalidInput(errors.PhaseRun,
			fmt.Sprintf("%s takes %d arguments, got %d", s.Name, len(s.Params), len(args)))
	}
	out := make([]uint64, len(args))
	for i, arg := range args {
		v, err := lowerValue(s.Params[i], arg)
		if err != nil {
			return nil, errors.New(errors.PhaseRun, errors.KindInvalidInput).
				Detail("argument %d of %s: %v (%T) does not fit %s", i, s.Name, arg, arg, witTypeName(s.Params[i])).
				Cause(err).
				Build()
		}
		out[i] = v
	}
	return out, nil
}

var errRange = strconv.ErrRange

func lowerValue(t wit.Type, v any) (uint64, error) {
	switch t.(type) {
	case wit.Bool:
		b, ok := v.(bool)
		if !ok {
			return 0, strconv.ErrSyntax
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case wit.F32:
		f, ok := toFloat(v)
		if !ok {
			return 0, strconv.ErrSyntax
		}
		return api.EncodeF32(float32(f)), nil
	case wit.F64:
		f, ok := toFloat(v)
		if !ok {
			return 0, strconv.ErrSyntax
		}
		return api.EncodeF64(f), nil
	case wit.Char:
		r, ok := v.(rune)
		if !ok || !utf8.ValidRune(r) {
			return 0, strconv.ErrSyntax
		}
		return uint64(r), nil
	}

	n, ok := toInt(v)
	if !ok {
		return 0, strconv.ErrSyntax
	}
	var lo, hi float64
	switch t.(type) {
	case wit.U8:
		lo, hi = 0, math.MaxUint8
	case wit.U16:
		lo, hi = 0, math.MaxUint16
	case wit.U32:
		lo, hi = 0, math.MaxUint32
	case wit.S8:
		lo, hi = math.MinInt8, math.MaxInt8
	case wit.S16:
		lo, hi = math.MinInt16, math.MaxInt16
	case wit.S32:
		lo, hi = math.MinInt32, math.MaxInt32
	case wit.U64:
		if n.neg {
			return 0, errRange
		}
		return n.bits, nil
	case wit.S64:
		if !n.neg && n.bits > math.MaxInt64 {
			return 0, errRange
		}
		return n.bits, nil
	default:
		return 0, errors.Unsupported(errors.PhaseRun, "type "+witTypeName(t))
	}
	f := n.float()
	if f < lo || f > hi {
		return 0, errRange
	}
	if n.neg {
		return api.EncodeI32(int32(int64(n.bits))), nil
	}
	return uint64(uint32(n.bits)), nil
}

// integer holds any Go integer as two's complement bits plus a sign.
type integer struct {
	bits uint64
	neg  bool
}

func (n integer) float() float64 {
	if n.neg {
		return float64(int64(n.bits))
	}
	return float64(n.bits)
}

func toInt(v any) (integer, bool) {
	switch x := v.(type) {
	case int:
		return integer{bits: uint64(x), neg: x < 0}, true
	case int8:
		return integer{bits: uint64(x), neg: x < 0}, true
	case int16:
		return integer{bits: uint64(x), neg: x < 0}, true
	case int32:
		return integer{bits: uint64(x), neg: x < 0}, true
	case int64:
		return integer{bits: uint64(x), neg: x < 0}, true
	case uint:
		return integer{bits: uint64(x)}, true
	case uint8:
		return integer{bits: uint64(x)}, true
	case uint16:
		return integer{bits: uint64(x)}, true
	case uint32:
		return integer{bits: uint64(x)}, true
	case uint64:
		return integer{bits: x}, true
	}
	return integer{}, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	if n, ok := toInt(v); ok {
		return n.float(), true
	}
	return 0, false
}

// Lift converts core results to Go values: bool, uint8..uint64,
// int8..int64, float32, float64 or rune, following the result types.
func (s Signature) Lift(raw []uint64) []any {
	out := make([]any, len(raw))
	for i, v := range raw {
		if i >= len(s.Results) {
			out[i] = v
			continue
		}
		out[i] = liftValue(s.Results[i], v)
	}
	return out
}

func liftValue(t wit.Type, v uint64) any {
	switch t.(type) {
	case wit.Bool:
		return v != 0
	case wit.U8:
		return uint8(v)
	case wit.U16:
		return uint16(v)
	case wit.U32:
		return uint32(v)
	case wit.U64:
		return v
	case wit.S8:
		return int8(v)
	case wit.S16:
		return int16(v)
	case wit.S32:
		return api.DecodeI32(v)
	case wit.S64:
		return int64(v)
	case wit.F32:
		return api.DecodeF32(v)
	case wit.F64:
		return api.DecodeF64(v)
	case wit.Char:
		return rune(v)
	}
	return v
}

// FormatResults renders core results as text, following the result types.
func (s Signature) FormatResults(raw []uint64) []string {
	lifted := s.Lift(raw)
	out := make([]string, len(lifted))
	for i, v := range lifted {
		if r, ok := v.(rune); ok && i < len(s.Results) {
			if _, isChar := s.Results[i].(wit.Char); isChar {
				out[i] = strconv.QuoteRune(r)
				continue
			}
		}
		out[i] = fmt.Sprint(v)
	}
	return out
}
