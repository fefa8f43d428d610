package variant

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// jsonObj is a tiny helper for building canonical, deterministically-ordered
// JSON objects. encoding/json has no notion of key order for maps, but
// datainfo re-serialization (spec §4.4: "the datainfo is re-serialized to
// canonical JSON before storage") needs a stable form to compare/log.
type jsonObj struct {
	b strings.Builder
	n int
}

func newJSONObj() *jsonObj {
	o := &jsonObj{}
	o.b.WriteByte('{')
	return o
}

func (o *jsonObj) field(name string, value any) {
	if o.n > 0 {
		o.b.WriteByte(',')
	}
	o.n++
	key, _ := json.Marshal(name)
	o.b.Write(key)
	o.b.WriteByte(':')
	raw, err := json.Marshal(value)
	if err != nil {
		raw = []byte("null")
	}
	o.b.Write(raw)
}

func (o *jsonObj) fieldRaw(name string, raw json.RawMessage) {
	if o.n > 0 {
		o.b.WriteByte(',')
	}
	o.n++
	key, _ := json.Marshal(name)
	o.b.Write(key)
	o.b.WriteByte(':')
	o.b.Write(raw)
}

func (o *jsonObj) bytes() json.RawMessage {
	o.b.WriteByte('}')
	return json.RawMessage(o.b.String())
}

// TypeJSON renders the datainfo descriptor for s, in canonical field order.
func (s *Shape) TypeJSON() (json.RawMessage, error) {
	switch s.Kind {
	case KindNull:
		return json.RawMessage(`{"type":"null"}`), nil
	case KindBool:
		return json.RawMessage(`{"type":"bool"}`), nil
	case KindDouble, KindScaled:
		o := newJSONObj()
		o.field("type", s.Kind.String())
		if s.Kind == KindScaled {
			o.field("scale", s.Scale)
		}
		if s.Min != nil {
			o.field("min", *s.Min)
		}
		if s.Max != nil {
			o.field("max", *s.Max)
		}
		if s.Unit != "" {
			o.field("unit", s.Unit)
		}
		if s.Fmtstr != "" {
			o.field("fmtstr", s.Fmtstr)
		}
		if s.AbsRes != nil {
			o.field("absolute_resolution", *s.AbsRes)
		}
		if s.RelRes != nil {
			o.field("relative_resolution", *s.RelRes)
		}
		return o.bytes(), nil
	case KindInteger:
		o := newJSONObj()
		o.field("type", "int")
		if s.IMin != nil {
			o.field("min", *s.IMin)
		}
		if s.IMax != nil {
			o.field("max", *s.IMax)
		}
		return o.bytes(), nil
	case KindEnum:
		o := newJSONObj()
		o.field("type", "enum")
		mo := newJSONObj()
		for _, name := range s.Order {
			mo.field(name, s.Members[name])
		}
		o.fieldRaw("members", mo.bytes())
		return o.bytes(), nil
	case KindString:
		o := newJSONObj()
		o.field("type", s.Sub.wireType())
		switch s.Sub {
		case StringBlob:
			o.field("minbytes", s.MinLen)
			if s.HasMaxLen {
				o.field("maxbytes", s.MaxLen)
			}
		case StringJSON:
			// no extra fields
		default:
			o.field("minchars", s.MinLen)
			if s.HasMaxLen {
				o.field("maxchars", s.MaxLen)
			}
		}
		return o.bytes(), nil
	case KindArray:
		elem, err := s.Elem.TypeJSON()
		if err != nil {
			return nil, err
		}
		o := newJSONObj()
		o.field("type", "array")
		o.fieldRaw("members", elem)
		o.field("minlen", s.ArrMin)
		if s.HasArrMax {
			o.field("maxlen", s.ArrMax)
		}
		return o.bytes(), nil
	case KindTuple:
		parts := make([]string, len(s.Elems))
		for i, e := range s.Elems {
			raw, err := e.TypeJSON()
			if err != nil {
				return nil, err
			}
			parts[i] = string(raw)
		}
		o := newJSONObj()
		o.field("type", "tuple")
		o.fieldRaw("members", json.RawMessage("["+strings.Join(parts, ",")+"]"))
		return o.bytes(), nil
	case KindStruct:
		o := newJSONObj()
		o.field("type", "struct")
		mo := newJSONObj()
		for _, m := range s.StructMembers {
			raw, err := m.Shape.TypeJSON()
			if err != nil {
				return nil, err
			}
			mo.fieldRaw(m.Name, raw)
		}
		o.fieldRaw("members", mo.bytes())
		if len(s.Optional) > 0 {
			names := make([]string, 0, len(s.Optional))
			for n := range s.Optional {
				names = append(names, n)
			}
			sort.Strings(names)
			o.field("optional", names)
		}
		return o.bytes(), nil
	case KindCommand:
		o := newJSONObj()
		o.field("type", "command")
		if s.Arg != nil {
			raw, err := s.Arg.TypeJSON()
			if err != nil {
				return nil, err
			}
			o.fieldRaw("argument", raw)
		} else {
			o.fieldRaw("argument", json.RawMessage("null"))
		}
		if s.Result != nil {
			raw, err := s.Result.TypeJSON()
			if err != nil {
				return nil, err
			}
			o.fieldRaw("result", raw)
		} else {
			o.fieldRaw("result", json.RawMessage("null"))
		}
		return o.bytes(), nil
	default:
		return nil, fmt.Errorf("variant: unknown kind %v", s.Kind)
	}
}

// rawNum parses a JSON number tolerant of both float and int encodings.
func rawNum(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// FromTypeJSON parses a datainfo descriptor into a Shape. allowCommand gates
// whether a nested "command" type is accepted — spec §4.1: "Command types
// are only accepted at property root, not inside another type."
func FromTypeJSON(raw json.RawMessage, allowCommand bool) (*Shape, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("variant: malformed datainfo: %w", err)
	}
	t, _ := m["type"].(string)
	switch t {
	case "null", "":
		return NewNullShape(), nil
	case "bool":
		return NewBoolShape(), nil
	case "double", "scaled":
		var min, max, absRes, relRes *float64
		if v, ok := rawNum(m["min"]); ok {
			min = &v
		}
		if v, ok := rawNum(m["max"]); ok {
			max = &v
		}
		if v, ok := rawNum(m["absolute_resolution"]); ok {
			absRes = &v
		}
		if v, ok := rawNum(m["relative_resolution"]); ok {
			relRes = &v
		}
		unit, _ := m["unit"].(string)
		fmtstr, _ := m["fmtstr"].(string)
		if t == "scaled" {
			scale, _ := rawNum(m["scale"])
			if scale == 0 {
				scale = 1
			}
			return NewScaledShape(scale, unit, fmtstr, min, max), nil
		}
		return NewDoubleShape(unit, fmtstr, absRes, relRes, min, max), nil
	case "int":
		var min, max *int64
		if v, ok := rawNum(m["min"]); ok {
			iv := int64(v)
			min = &iv
		}
		if v, ok := rawNum(m["max"]); ok {
			iv := int64(v)
			max = &iv
		}
		return NewIntegerShape(min, max), nil
	case "enum":
		membersRaw, _ := m["members"].(map[string]any)
		order := make([]string, 0, len(membersRaw))
		for k := range membersRaw {
			order = append(order, k)
		}
		sort.Slice(order, func(i, j int) bool { return membersRaw[order[i]].(float64) < membersRaw[order[j]].(float64) })
		members := make(map[string]int64, len(membersRaw))
		for k, v := range membersRaw {
			f, _ := rawNum(v)
			members[k] = int64(f)
		}
		return NewEnumShape(order, members), nil
	case "string":
		minLen, _ := rawNum(m["minchars"])
		maxLen, hasMax := rawNum(m["maxchars"])
		return NewStringShape(StringPlain, int(minLen), int(maxLen), hasMax), nil
	case "blob":
		minLen, _ := rawNum(m["minbytes"])
		maxLen, hasMax := rawNum(m["maxbytes"])
		return NewStringShape(StringBlob, int(minLen), int(maxLen), hasMax), nil
	case "json":
		return NewStringShape(StringJSON, 0, 0, false), nil
	case "array":
		membersRaw, ok := m["members"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("variant: array datainfo missing members")
		}
		elemBytes, _ := json.Marshal(membersRaw)
		elem, err := FromTypeJSON(elemBytes, false)
		if err != nil {
			return nil, err
		}
		minLen, _ := rawNum(m["minlen"])
		maxLen, hasMax := rawNum(m["maxlen"])
		return NewArrayShape(elem, int(minLen), int(maxLen), hasMax), nil
	case "tuple":
		membersRaw, ok := m["members"].([]any)
		if !ok {
			return nil, fmt.Errorf("variant: tuple datainfo missing members")
		}
		elems := make([]*Shape, len(membersRaw))
		for i, mr := range membersRaw {
			b, _ := json.Marshal(mr)
			es, err := FromTypeJSON(b, false)
			if err != nil {
				return nil, err
			}
			elems[i] = es
		}
		return NewTupleShape(elems...), nil
	case "struct":
		membersRaw, ok := m["members"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("variant: struct datainfo missing members")
		}
		names := make([]string, 0, len(membersRaw))
		for k := range membersRaw {
			names = append(names, k)
		}
		sort.Strings(names)
		members := make([]StructMember, 0, len(names))
		for _, name := range names {
			b, _ := json.Marshal(membersRaw[name])
			ms, err := FromTypeJSON(b, false)
			if err != nil {
				return nil, err
			}
			members = append(members, StructMember{Name: name, Shape: ms})
		}
		optional := map[string]bool{}
		if opts, ok := m["optional"].([]any); ok {
			for _, o := range opts {
				if name, ok := o.(string); ok {
					optional[name] = true
				}
			}
		}
		return NewStructShape(members, optional), nil
	case "command":
		if !allowCommand {
			return nil, fmt.Errorf("variant: command datainfo not allowed nested in another type")
		}
		var arg, result *Shape
		if argRaw, ok := m["argument"]; ok && argRaw != nil {
			b, _ := json.Marshal(argRaw)
			var err error
			arg, err = FromTypeJSON(b, false)
			if err != nil {
				return nil, err
			}
		}
		if resRaw, ok := m["result"]; ok && resRaw != nil {
			b, _ := json.Marshal(resRaw)
			var err error
			result, err = FromTypeJSON(b, false)
			if err != nil {
				return nil, err
			}
		}
		return NewCommandShape(arg, result), nil
	default:
		return nil, fmt.Errorf("variant: unknown datainfo type %q", t)
	}
}
