package interp

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the tag of the Value sum type.
type Kind int

const (
	KindVoid Kind = iota
	KindBool
	KindInt32
	KindUint32
	KindFloat64
	KindString
	KindArray1D
	KindArray2D
	KindStruct
	KindReference
)

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindBool:
		return "bool"
	case KindInt32:
		return "i32"
	case KindUint32:
		return "u32"
	case KindFloat64:
		return "f64"
	case KindString:
		return "string"
	case KindArray1D:
		return "array1d"
	case KindArray2D:
		return "array2d"
	case KindStruct:
		return "struct"
	case KindReference:
		return "reference"
	default:
		return "unknown"
	}
}

// ElemKind identifies the element type of an array Value.
type ElemKind int

const (
	ElemInt32 ElemKind = iota
	ElemFloat64
	ElemString
)

// StructValue is an ordered field->Value mapping plus a type tag.
type StructValue struct {
	TypeName string
	Order    []string
	Fields   map[string]Value
}

func newStructValue(typeName string) *StructValue {
	return &StructValue{TypeName: typeName, Fields: map[string]Value{}}
}

func (s *StructValue) get(name string) (Value, bool) {
	v, ok := s.Fields[name]
	return v, ok
}

func (s *StructValue) set(name string, v Value) {
	if _, ok := s.Fields[name]; !ok {
		s.Order = append(s.Order, name)
	}
	s.Fields[name] = v
}

// Reference is a borrow into a scope frame's binding, used for reference
// parameters and array-element l-values. It carries a stable frame id,
// never a raw pointer, so a stale borrow is detectable after the frame
// pops.
type Reference struct {
	FrameID uint64
	Key     string
	// Indices addresses into an array/struct held by the binding named
	// Key, when the reference denotes an element rather than the whole
	// binding (e.g. a reference parameter bound to arr[2]).
	Indices []int
}

// Value is the tagged union of every runtime value the evaluator can
// produce or store.
type Value struct {
	Kind Kind

	Bool   bool
	I32    int32
	U32    uint32
	F64    float64
	Str    string
	Arr1I  []int32
	Arr1F  []float64
	Arr1S  []string
	Arr2I  [][]int32
	Arr2F  [][]float64
	Elem   ElemKind // element kind for KindArray1D/KindArray2D
	Struct *StructValue
	Ref    *Reference
}

func VoidValue() Value                { return Value{Kind: KindVoid} }
func BoolValue(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func IntValue(i int32) Value          { return Value{Kind: KindInt32, I32: i} }
func UintValue(u uint32) Value        { return Value{Kind: KindUint32, U32: u} }
func FloatValue(f float64) Value      { return Value{Kind: KindFloat64, F64: f} }
func StringValue(s string) Value      { return Value{Kind: KindString, Str: s} }
func StructVal(s *StructValue) Value  { return Value{Kind: KindStruct, Struct: s} }
func RefValue(r *Reference) Value     { return Value{Kind: KindReference, Ref: r} }
func Array1IValue(a []int32) Value    { return Value{Kind: KindArray1D, Elem: ElemInt32, Arr1I: a} }
func Array1FValue(a []float64) Value  { return Value{Kind: KindArray1D, Elem: ElemFloat64, Arr1F: a} }
func Array1SValue(a []string) Value   { return Value{Kind: KindArray1D, Elem: ElemString, Arr1S: a} }
func Array2IValue(a [][]int32) Value  { return Value{Kind: KindArray2D, Elem: ElemInt32, Arr2I: a} }
func Array2FValue(a [][]float64) Value {
	return Value{Kind: KindArray2D, Elem: ElemFloat64, Arr2F: a}
}

// Truthy implements the bool coercion applied to conditions.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindVoid:
		return false
	case KindBool:
		return v.Bool
	case KindInt32:
		return v.I32 != 0
	case KindUint32:
		return v.U32 != 0
	case KindFloat64:
		return v.F64 != 0
	case KindString:
		return v.Str != ""
	default:
		return true
	}
}

// AsInt implements Arduino-faithful numeric coercion to a signed 32-bit
// integer, including parsing a leading numeric prefix out of strings,
// with 0 for unparseable text.
func (v Value) AsInt() int32 {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return 1
		}
		return 0
	case KindInt32:
		return v.I32
	case KindUint32:
		return int32(v.U32)
	case KindFloat64:
		return int32(v.F64)
	case KindString:
		return int32(parseLeadingFloat(v.Str))
	default:
		return 0
	}
}

// AsDouble is AsInt's floating-point counterpart.
func (v Value) AsDouble() float64 {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return 1
		}
		return 0
	case KindInt32:
		return float64(v.I32)
	case KindUint32:
		return float64(v.U32)
	case KindFloat64:
		return v.F64
	case KindString:
		return parseLeadingFloat(v.Str)
	default:
		return 0
	}
}

func parseLeadingFloat(s string) float64 {
	s = strings.TrimSpace(s)
	end := 0
	seenDigit, seenDot, seenExp := false, false, false
	for end < len(s) {
		c := s[end]
		switch {
		case c >= '0' && c <= '9':
			seenDigit = true
		case c == '-' || c == '+':
			if end != 0 && !(seenExp && (s[end-1] == 'e' || s[end-1] == 'E')) {
				goto done
			}
		case c == '.' && !seenDot && !seenExp:
			seenDot = true
		case (c == 'e' || c == 'E') && seenDigit && !seenExp:
			seenExp = true
		default:
			goto done
		}
		end++
	}
done:
	if !seenDigit {
		return 0
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return f
}

// isNumeric reports whether the Value participates in numeric promotion.
func (v Value) isNumeric() bool {
	switch v.Kind {
	case KindBool, KindInt32, KindUint32, KindFloat64:
		return true
	default:
		return false
	}
}

func (v Value) isFloaty() bool { return v.Kind == KindFloat64 }

// AsString implements the Arduino print formatter: integers base 10,
// floats with six fractional digits, bools as 1/0.
func (v Value) AsString() string {
	switch v.Kind {
	case KindVoid:
		return ""
	case KindBool:
		if v.Bool {
			return "1"
		}
		return "0"
	case KindInt32:
		return strconv.FormatInt(int64(v.I32), 10)
	case KindUint32:
		return strconv.FormatUint(uint64(v.U32), 10)
	case KindFloat64:
		return strconv.FormatFloat(v.F64, 'f', 6, 64)
	case KindString:
		return v.Str
	default:
		return fmt.Sprintf("<%s>", v.Kind)
	}
}

// TypeTag names the value's dynamic type, used for cast/diagnostic text.
func (v Value) TypeTag() string { return v.Kind.String() }

// arithmetic

func bothFloaty(a, b Value) bool { return a.isFloaty() || b.isFloaty() }

func add(a, b Value) (Value, error) {
	if a.Kind == KindString || b.Kind == KindString {
		return StringValue(a.AsString() + b.AsString()), nil
	}
	if !a.isNumeric() || !b.isNumeric() {
		return Value{}, newError(TypeMismatch, "cannot add %s and %s", a.TypeTag(), b.TypeTag())
	}
	if bothFloaty(a, b) {
		return FloatValue(a.AsDouble() + b.AsDouble()), nil
	}
	return IntValue(a.AsInt() + b.AsInt()), nil
}

func sub(a, b Value) (Value, error) {
	if !a.isNumeric() || !b.isNumeric() {
		return Value{}, newError(TypeMismatch, "cannot subtract %s and %s", a.TypeTag(), b.TypeTag())
	}
	if bothFloaty(a, b) {
		return FloatValue(a.AsDouble() - b.AsDouble()), nil
	}
	return IntValue(a.AsInt() - b.AsInt()), nil
}

func mul(a, b Value) (Value, error) {
	if !a.isNumeric() || !b.isNumeric() {
		return Value{}, newError(TypeMismatch, "cannot multiply %s and %s", a.TypeTag(), b.TypeTag())
	}
	if bothFloaty(a, b) {
		return FloatValue(a.AsDouble() * b.AsDouble()), nil
	}
	return IntValue(a.AsInt() * b.AsInt()), nil
}

func div(a, b Value) (Value, error) {
	if !a.isNumeric() || !b.isNumeric() {
		return Value{}, newError(TypeMismatch, "cannot divide %s and %s", a.TypeTag(), b.TypeTag())
	}
	if bothFloaty(a, b) {
		return FloatValue(a.AsDouble() / b.AsDouble()), nil
	}
	divisor := b.AsInt()
	if divisor == 0 {
		return Value{}, newError(DivisionByZero, "integer division by zero")
	}
	return IntValue(a.AsInt() / divisor), nil
}

func mod(a, b Value) (Value, error) {
	divisor := b.AsInt()
	if divisor == 0 {
		return Value{}, newError(DivisionByZero, "modulo by zero")
	}
	return IntValue(a.AsInt() % divisor), nil
}

// compareValues never raises on a number-vs-string comparison: the
// string is parsed numerically first, with 0 for unparseable text.
func compareValues(a, b Value) int {
	if a.Kind == KindString && b.Kind == KindString {
		return strings.Compare(a.Str, b.Str)
	}
	if bothFloaty(a, b) || a.Kind == KindString || b.Kind == KindString {
		af, bf := a.AsDouble(), b.AsDouble()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	ai, bi := a.AsInt(), b.AsInt()
	switch {
	case ai < bi:
		return -1
	case ai > bi:
		return 1
	default:
		return 0
	}
}

func valuesEqual(a, b Value) bool {
	if a.Kind == KindBool || b.Kind == KindBool {
		return a.Truthy() == b.Truthy()
	}
	return compareValues(a, b) == 0
}

// array access. Reads past the end return void; writes past the end
// auto-extend with zero-equivalent fill.

func (v *Value) array1Len() int {
	switch v.Elem {
	case ElemInt32:
		return len(v.Arr1I)
	case ElemFloat64:
		return len(v.Arr1F)
	default:
		return len(v.Arr1S)
	}
}

func (v *Value) get1D(idx int) (Value, error) {
	if idx < 0 {
		return Value{}, newError(IndexOutOfRange, "negative index %d", idx)
	}
	if idx >= v.array1Len() {
		return VoidValue(), nil
	}
	switch v.Elem {
	case ElemInt32:
		return IntValue(v.Arr1I[idx]), nil
	case ElemFloat64:
		return FloatValue(v.Arr1F[idx]), nil
	default:
		return StringValue(v.Arr1S[idx]), nil
	}
}

func (v *Value) set1D(idx int, val Value) error {
	if idx < 0 {
		return newError(IndexOutOfRange, "negative index %d", idx)
	}
	switch v.Elem {
	case ElemInt32:
		for len(v.Arr1I) <= idx {
			v.Arr1I = append(v.Arr1I, 0)
		}
		v.Arr1I[idx] = val.AsInt()
	case ElemFloat64:
		for len(v.Arr1F) <= idx {
			v.Arr1F = append(v.Arr1F, 0)
		}
		v.Arr1F[idx] = val.AsDouble()
	default:
		for len(v.Arr1S) <= idx {
			v.Arr1S = append(v.Arr1S, "")
		}
		v.Arr1S[idx] = val.AsString()
	}
	return nil
}

func (v *Value) get2D(row, col int) (Value, error) {
	if row < 0 || col < 0 {
		return Value{}, newError(IndexOutOfRange, "negative index [%d][%d]", row, col)
	}
	switch v.Elem {
	case ElemInt32:
		if row >= len(v.Arr2I) || col >= len(v.Arr2I[row]) {
			return VoidValue(), nil
		}
		return IntValue(v.Arr2I[row][col]), nil
	default:
		if row >= len(v.Arr2F) || col >= len(v.Arr2F[row]) {
			return VoidValue(), nil
		}
		return FloatValue(v.Arr2F[row][col]), nil
	}
}

func (v *Value) set2D(row, col int, val Value) error {
	if row < 0 || col < 0 {
		return newError(IndexOutOfRange, "negative index [%d][%d]", row, col)
	}
	switch v.Elem {
	case ElemInt32:
		for len(v.Arr2I) <= row {
			v.Arr2I = append(v.Arr2I, nil)
		}
		for len(v.Arr2I[row]) <= col {
			v.Arr2I[row] = append(v.Arr2I[row], 0)
		}
		v.Arr2I[row][col] = val.AsInt()
	default:
		for len(v.Arr2F) <= row {
			v.Arr2F = append(v.Arr2F, nil)
		}
		for len(v.Arr2F[row]) <= col {
			v.Arr2F[row] = append(v.Arr2F[row], 0)
		}
		v.Arr2F[row][col] = val.AsDouble()
	}
	return nil
}

func (v *Value) fieldGet(name string) (Value, error) {
	if v.Kind != KindStruct {
		return Value{}, newError(TypeMismatch, "field access on non-struct %s", v.TypeTag())
	}
	fv, ok := v.Struct.get(name)
	if !ok {
		return Value{}, newError(UndefinedName, "no such field %q on %s", name, v.Struct.TypeName)
	}
	return fv, nil
}

func (v *Value) fieldSet(name string, val Value) error {
	if v.Kind != KindStruct {
		return newError(TypeMismatch, "field assignment on non-struct %s", v.TypeTag())
	}
	v.Struct.set(name, val)
	return nil
}
