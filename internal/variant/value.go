package variant

import "math"

// Variant is a typed value whose shape was fixed at construction (spec §3).
// Only the fields relevant to Shape.Kind are populated.
type Variant struct {
	shape *Shape

	f   float64 // Double (as stored)
	i   int64   // Integer value, Scaled raw storage, Enum code
	b   bool
	s   string     // String (plain/blob-as-text/json-text)
	arr []Variant  // Array, Tuple elements
	obj map[string]Variant // Struct members present
}

// Shape returns the variant's fixed shape.
func (v Variant) Shape() *Shape { return v.shape }

// Kind is a convenience accessor for v.Shape().Kind.
func (v Variant) Kind() Kind {
	if v.shape == nil {
		return KindNull
	}
	return v.shape.Kind
}

// Null builds the Null variant.
func Null() Variant { return Variant{shape: NewNullShape()} }

// Bool builds a Bool variant.
func Bool(shape *Shape, b bool) Variant { return Variant{shape: shape, b: b} }

// Double builds a Double variant.
func Double(shape *Shape, f float64) Variant { return Variant{shape: shape, f: f} }

// Integer builds an Integer variant.
func Integer(shape *Shape, i int64) Variant { return Variant{shape: shape, i: i} }

// Scaled builds a Scaled variant from its raw integer storage.
func Scaled(shape *Shape, raw int64) Variant { return Variant{shape: shape, i: raw} }

// EnumByCode builds an Enum variant from its integer code.
func EnumByCode(shape *Shape, code int64) Variant { return Variant{shape: shape, i: code} }

// String builds a String variant (any sub-kind; JSON sub-kind stores the
// canonical JSON text verbatim in s).
func String(shape *Shape, s string) Variant { return Variant{shape: shape, s: s} }

// Array builds an Array/Tuple variant from already-typed elements.
func Array(shape *Shape, elems []Variant) Variant {
	return Variant{shape: shape, arr: append([]Variant(nil), elems...)}
}

// Struct builds a Struct variant from already-typed members.
func Struct(shape *Shape, members map[string]Variant) Variant {
	cp := make(map[string]Variant, len(members))
	for k, v := range members {
		cp[k] = v
	}
	return Variant{shape: shape, obj: cp}
}

// AsBool, AsFloat, AsInt, AsString, AsElems, AsMembers are raw accessors;
// callers are expected to have checked Kind() first.
func (v Variant) AsBool() bool           { return v.b }
func (v Variant) AsFloat() float64       { return v.f }
func (v Variant) AsInt() int64           { return v.i }
func (v Variant) AsString() string       { return v.s }
func (v Variant) AsElems() []Variant     { return v.arr }
func (v Variant) AsMembers() map[string]Variant { return v.obj }

// ScaledFloat returns a Scaled variant's rational value (raw * scale).
func (v Variant) ScaledFloat() float64 {
	if v.shape == nil {
		return 0
	}
	return float64(v.i) * v.shape.Scale
}

// EnumSymbol returns the symbolic name for an Enum variant's current code,
// or the empty string if the code has no matching member.
func (v Variant) EnumSymbol() string {
	if v.shape == nil {
		return ""
	}
	name, _ := v.shape.EnumName(v.i)
	return name
}

// Zero builds the canonical placeholder value for shape, used by Parameter
// construction before any read and by nodedef for a missing initial value.
func Zero(shape *Shape) Variant {
	switch shape.Kind {
	case KindNull:
		return Variant{shape: shape}
	case KindBool:
		return Variant{shape: shape, b: false}
	case KindDouble:
		return Variant{shape: shape, f: 0}
	case KindInteger, KindScaled, KindEnum:
		v := int64(0)
		if shape.Kind == KindInteger && shape.IMin != nil && *shape.IMin > 0 {
			v = *shape.IMin
		}
		if shape.Kind == KindEnum && len(shape.Order) > 0 {
			if code, ok := shape.Members[shape.Order[0]]; ok {
				v = code
			}
		}
		return Variant{shape: shape, i: v}
	case KindString:
		if shape.Sub == StringJSON {
			return Variant{shape: shape, s: "null"}
		}
		return Variant{shape: shape, s: ""}
	case KindArray:
		return Variant{shape: shape, arr: []Variant{}}
	case KindTuple:
		elems := make([]Variant, len(shape.Elems))
		for i, e := range shape.Elems {
			elems[i] = Zero(e)
		}
		return Variant{shape: shape, arr: elems}
	case KindStruct:
		members := make(map[string]Variant, len(shape.StructMembers))
		for _, m := range shape.StructMembers {
			members[m.Name] = Zero(m.Shape)
		}
		return Variant{shape: shape, obj: members}
	case KindCommand:
		return Variant{shape: shape}
	default:
		return Variant{shape: shape}
	}
}

// Duplicate deep-clones v, preserving its shape (spec §4.1: duplicate()).
func (v Variant) Duplicate() Variant {
	out := Variant{shape: v.shape, f: v.f, i: v.i, b: v.b, s: v.s}
	if v.arr != nil {
		out.arr = make([]Variant, len(v.arr))
		for i, e := range v.arr {
			out.arr[i] = e.Duplicate()
		}
	}
	if v.obj != nil {
		out.obj = make(map[string]Variant, len(v.obj))
		for k, e := range v.obj {
			out.obj[k] = e.Duplicate()
		}
	}
	return out
}

// IsValid reports whether v is internally well-formed for its shape (length
// bounds, struct member completeness modulo optional, enum code validity).
func (v Variant) IsValid() bool {
	if v.shape == nil {
		return false
	}
	switch v.shape.Kind {
	case KindNull:
		return true
	case KindBool, KindDouble:
		return true
	case KindInteger:
		if v.shape.IMin != nil && v.i < *v.shape.IMin {
			return false
		}
		if v.shape.IMax != nil && v.i > *v.shape.IMax {
			return false
		}
		return true
	case KindScaled:
		f := v.ScaledFloat()
		if v.shape.Min != nil && f < *v.shape.Min {
			return false
		}
		if v.shape.Max != nil && f > *v.shape.Max {
			return false
		}
		return true
	case KindEnum:
		_, ok := v.shape.EnumName(v.i)
		return ok
	case KindString:
		n := len([]rune(v.s))
		if n < v.shape.MinLen {
			return false
		}
		if v.shape.HasMaxLen && n > v.shape.MaxLen {
			return false
		}
		return true
	case KindArray:
		if len(v.arr) < v.shape.ArrMin {
			return false
		}
		if v.shape.HasArrMax && len(v.arr) > v.shape.ArrMax {
			return false
		}
		for _, e := range v.arr {
			if !e.IsValid() {
				return false
			}
		}
		return true
	case KindTuple:
		if len(v.arr) != len(v.shape.Elems) {
			return false
		}
		for _, e := range v.arr {
			if !e.IsValid() {
				return false
			}
		}
		return true
	case KindStruct:
		for _, m := range v.shape.StructMembers {
			mv, present := v.obj[m.Name]
			if !present {
				if v.shape.Optional[m.Name] {
					continue
				}
				return false
			}
			if !mv.IsValid() {
				return false
			}
		}
		return true
	case KindCommand:
		return true
	default:
		return false
	}
}

// Equal compares two variants for value equality under the same shape kind.
// Any NaN Double compares equal to any other NaN Double, whatever its bit
// pattern (spec §3's round-trip invariant), unlike IEEE-754 NaN != NaN.
func Equal(a, b Variant) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case KindNull, KindCommand:
		return true
	case KindBool:
		return a.b == b.b
	case KindDouble:
		if math.IsNaN(a.f) || math.IsNaN(b.f) {
			return math.IsNaN(a.f) && math.IsNaN(b.f)
		}
		return a.f == b.f
	case KindInteger, KindScaled, KindEnum:
		return a.i == b.i
	case KindString:
		return a.s == b.s
	case KindArray, KindTuple:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindStruct:
		if len(a.obj) != len(b.obj) {
			return false
		}
		for k, av := range a.obj {
			bv, ok := b.obj[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
