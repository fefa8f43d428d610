// Package variant implements the SECoP datainfo/value type system: a closed
// sum type (spec §3, "Variant (datainfo + value)") with a JSON codec for both
// the datainfo descriptor and the transported value.
package variant

// Kind enumerates the closed set of datainfo shapes. Command exists only as
// a property value, never as a transported value (spec §3, §9).
type Kind int

const (
	KindNull Kind = iota
	KindDouble
	KindInteger
	KindBool
	KindEnum
	KindScaled
	KindString
	KindArray
	KindTuple
	KindStruct
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindDouble:
		return "double"
	case KindInteger:
		return "int"
	case KindBool:
		return "bool"
	case KindEnum:
		return "enum"
	case KindScaled:
		return "scaled"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindTuple:
		return "tuple"
	case KindStruct:
		return "struct"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

// StringSub distinguishes the plain/blob/json sub-kinds of KindString
// (spec §3: "a blob sub-kind for binary; a JSON sub-kind whose payload is a
// freeform JSON document stored as text").
type StringSub int

const (
	StringPlain StringSub = iota
	StringBlob
	StringJSON
)

func (s StringSub) wireType() string {
	switch s {
	case StringBlob:
		return "blob"
	case StringJSON:
		return "json"
	default:
		return "string"
	}
}
