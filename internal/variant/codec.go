package variant

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
)

// ShapeError is returned when an imported value does not match a shape
// (spec §4.1: import_secop(text, strict_shape) → Ok|ShapeError). Per spec
// §9's open question, every rejection path returns this rather than a
// structurally-unchanged value with a wrong tag — fail closed.
type ShapeError struct {
	Shape   *Shape
	Message string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("variant: value does not match shape %s: %s", e.Shape.Kind, e.Message)
}

func shapeErr(s *Shape, format string, args ...any) error {
	return &ShapeError{Shape: s, Message: fmt.Sprintf(format, args...)}
}

// ImportJSON parses raw JSON into a Variant matching shape exactly (spec
// §4.1 numeric policy). strict governs struct member tolerance: when false,
// unknown struct keys are ignored; when true, they are rejected.
func (s *Shape) ImportJSON(raw json.RawMessage, strict bool) (Variant, error) {
	switch s.Kind {
	case KindNull:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return Variant{}, shapeErr(s, "invalid JSON: %v", err)
		}
		if v != nil {
			return Variant{}, shapeErr(s, "expected null")
		}
		return Variant{shape: s}, nil

	case KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Variant{}, shapeErr(s, "expected bool: %v", err)
		}
		return Bool(s, b), nil

	case KindDouble:
		f, err := importDouble(raw)
		if err != nil {
			return Variant{}, shapeErr(s, "%v", err)
		}
		if !math.IsNaN(f) && !math.IsInf(f, 0) {
			if s.Min != nil && f < *s.Min {
				return Variant{}, shapeErr(s, "%v below min %v", f, *s.Min)
			}
			if s.Max != nil && f > *s.Max {
				return Variant{}, shapeErr(s, "%v above max %v", f, *s.Max)
			}
		}
		return Double(s, f), nil

	case KindInteger:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return Variant{}, shapeErr(s, "expected integer: %v", err)
		}
		i := int64(f)
		if float64(i) != f {
			return Variant{}, shapeErr(s, "%v is not an integer", f)
		}
		if s.IMin != nil && i < *s.IMin {
			return Variant{}, shapeErr(s, "%d below min %d", i, *s.IMin)
		}
		if s.IMax != nil && i > *s.IMax {
			return Variant{}, shapeErr(s, "%d above max %d", i, *s.IMax)
		}
		return Integer(s, i), nil

	case KindScaled:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return Variant{}, shapeErr(s, "expected number: %v", err)
		}
		if s.Min != nil && f < *s.Min {
			return Variant{}, shapeErr(s, "%v below min %v", f, *s.Min)
		}
		if s.Max != nil && f > *s.Max {
			return Variant{}, shapeErr(s, "%v above max %v", f, *s.Max)
		}
		if s.Scale == 0 {
			return Variant{}, shapeErr(s, "scale factor is zero")
		}
		raw64 := f / s.Scale
		rounded := roundTiesToEven(raw64)
		return Scaled(s, int64(rounded)), nil

	case KindEnum:
		var asStr string
		if err := json.Unmarshal(raw, &asStr); err == nil {
			code, ok := s.EnumCode(asStr)
			if !ok {
				return Variant{}, shapeErr(s, "unknown enum symbol %q", asStr)
			}
			return EnumByCode(s, code), nil
		}
		var asNum float64
		if err := json.Unmarshal(raw, &asNum); err != nil {
			return Variant{}, shapeErr(s, "expected enum code or name: %v", err)
		}
		code := int64(asNum)
		if _, ok := s.EnumName(code); !ok {
			return Variant{}, shapeErr(s, "unknown enum code %d", code)
		}
		return EnumByCode(s, code), nil

	case KindString:
		switch s.Sub {
		case StringJSON:
			if !json.Valid(raw) {
				return Variant{}, shapeErr(s, "not valid JSON")
			}
			return String(s, string(raw)), nil
		case StringBlob:
			var b64 string
			if err := json.Unmarshal(raw, &b64); err != nil {
				return Variant{}, shapeErr(s, "expected base64 string: %v", err)
			}
			data, err := base64.StdEncoding.DecodeString(b64)
			if err != nil {
				return Variant{}, shapeErr(s, "invalid base64: %v", err)
			}
			if len(data) < s.MinLen || (s.HasMaxLen && len(data) > s.MaxLen) {
				return Variant{}, shapeErr(s, "blob length %d out of bounds", len(data))
			}
			return String(s, b64), nil
		default:
			var str string
			if err := json.Unmarshal(raw, &str); err != nil {
				return Variant{}, shapeErr(s, "expected string: %v", err)
			}
			n := len([]rune(str))
			if n < s.MinLen || (s.HasMaxLen && n > s.MaxLen) {
				return Variant{}, shapeErr(s, "string length %d out of bounds", n)
			}
			return String(s, str), nil
		}

	case KindArray:
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return Variant{}, shapeErr(s, "expected array: %v", err)
		}
		if len(arr) < s.ArrMin || (s.HasArrMax && len(arr) > s.ArrMax) {
			return Variant{}, shapeErr(s, "array length %d out of bounds", len(arr))
		}
		elems := make([]Variant, len(arr))
		for i, e := range arr {
			ev, err := s.Elem.ImportJSON(e, strict)
			if err != nil {
				return Variant{}, err
			}
			elems[i] = ev
		}
		return Array(s, elems), nil

	case KindTuple:
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return Variant{}, shapeErr(s, "expected array: %v", err)
		}
		if len(arr) != len(s.Elems) {
			return Variant{}, shapeErr(s, "tuple length %d, expected %d", len(arr), len(s.Elems))
		}
		elems := make([]Variant, len(arr))
		for i, e := range arr {
			ev, err := s.Elems[i].ImportJSON(e, strict)
			if err != nil {
				return Variant{}, err
			}
			elems[i] = ev
		}
		return Array(s, elems), nil

	case KindStruct:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return Variant{}, shapeErr(s, "expected object: %v", err)
		}
		members := make(map[string]Variant, len(s.StructMembers))
		for _, m := range s.StructMembers {
			raw, present := obj[m.Name]
			if !present {
				if s.Optional[m.Name] {
					continue
				}
				return Variant{}, shapeErr(s, "missing required member %q", m.Name)
			}
			mv, err := m.Shape.ImportJSON(raw, strict)
			if err != nil {
				return Variant{}, err
			}
			members[m.Name] = mv
			delete(obj, m.Name)
		}
		if strict && len(obj) > 0 {
			for k := range obj {
				return Variant{}, shapeErr(s, "unknown struct member %q", k)
			}
		}
		return Struct(s, members), nil

	case KindCommand:
		return Variant{}, shapeErr(s, "command shape cannot be imported as a value")

	default:
		return Variant{}, shapeErr(s, "unsupported kind")
	}
}

func importDouble(raw json.RawMessage) (float64, error) {
	// ExportJSON writes NaN and ±Inf as null; read null back as NaN.
	var probe any
	if json.Unmarshal(raw, &probe) == nil && probe == nil {
		return math.NaN(), nil
	}
	var asStr string
	if err := json.Unmarshal(raw, &asStr); err == nil {
		switch asStr {
		case "NaN":
			return math.NaN(), nil
		case "Inf":
			return math.Inf(1), nil
		case "-Inf":
			return math.Inf(-1), nil
		default:
			return 0, fmt.Errorf("unrecognized double string %q", asStr)
		}
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("expected number or NaN/Inf string: %w", err)
	}
	return f, nil
}

// roundTiesToEven rounds f to the nearest integer, breaking ties toward the
// even neighbor (banker's rounding), per spec §4.1's Scaled import policy.
func roundTiesToEven(f float64) float64 {
	floor := math.Floor(f)
	diff := f - floor
	switch {
	case diff < 0.5:
		return floor
	case diff > 0.5:
		return floor + 1
	default:
		if math.Mod(floor, 2) == 0 {
			return floor
		}
		return floor + 1
	}
}

// ExportJSON renders v in the SECoP wire value form. NaN/Inf Doubles encode
// as JSON null, per spec §3's round-trip convention.
func (v Variant) ExportJSON() (json.RawMessage, error) {
	switch v.Kind() {
	case KindNull:
		return json.RawMessage("null"), nil
	case KindBool:
		if v.b {
			return json.RawMessage("true"), nil
		}
		return json.RawMessage("false"), nil
	case KindDouble:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return json.RawMessage("null"), nil
		}
		return json.Marshal(v.f)
	case KindInteger:
		return json.Marshal(v.i)
	case KindScaled:
		return json.Marshal(v.ScaledFloat())
	case KindEnum:
		return json.Marshal(v.i)
	case KindString:
		switch v.shape.Sub {
		case StringJSON:
			if v.s == "" {
				return json.RawMessage("null"), nil
			}
			return json.RawMessage(v.s), nil
		case StringBlob:
			return json.Marshal(v.s)
		default:
			return json.Marshal(v.s)
		}
	case KindArray, KindTuple:
		parts := make([]json.RawMessage, len(v.arr))
		for i, e := range v.arr {
			raw, err := e.ExportJSON()
			if err != nil {
				return nil, err
			}
			parts[i] = raw
		}
		return json.Marshal(parts)
	case KindStruct:
		o := newJSONObj()
		for _, m := range v.shape.StructMembers {
			mv, present := v.obj[m.Name]
			if !present {
				continue
			}
			raw, err := mv.ExportJSON()
			if err != nil {
				return nil, err
			}
			o.fieldRaw(m.Name, raw)
		}
		return o.bytes(), nil
	case KindCommand:
		return nil, fmt.Errorf("variant: command shape has no transported value")
	default:
		return nil, fmt.Errorf("variant: unsupported kind %v", v.Kind())
	}
}

// ExportSECoP renders v as the SECoP wire text form (the JSON form encoded
// as a string), matching spec §4.1's export_secop().
func (v Variant) ExportSECoP() (string, error) {
	raw, err := v.ExportJSON()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ImportSECoP is ImportJSON with the wire text form as input, matching
// spec §4.1's import_secop(text, strict_shape).
func (s *Shape) ImportSECoP(text string, strict bool) (Variant, error) {
	return s.ImportJSON(json.RawMessage(text), strict)
}
