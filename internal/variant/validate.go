package variant

import (
	"regexp"
	"strconv"

	"github.com/secop-sine2020/secopd/internal/secoperr"
)

var fmtstrPattern = regexp.MustCompile(`^%\.\d+[feg]$`)

// Warnings recursively checks s against the "SHOULD"-level datainfo rules
// spec §4.1 lists beyond strict shape validity: Double/Scaled should carry
// a unit, and a present fmtstr must match "%.<digits>[feg]". where prefixes
// every produced warning so callers (node_complete) can report which
// accessible's datainfo it came from.
func (s *Shape) Warnings(where string) []*secoperr.Error {
	if s == nil {
		return nil
	}
	var out []*secoperr.Error
	switch s.Kind {
	case KindDouble, KindScaled:
		if s.Unit == "" {
			out = append(out, secoperr.New(secoperr.NoDescription, "%s: datainfo has no unit", where))
		}
		if s.Fmtstr != "" && !fmtstrPattern.MatchString(s.Fmtstr) {
			out = append(out, secoperr.New(secoperr.NoDescription, "%s: fmtstr %q does not match \"%%.<digits>[feg]\"", where, s.Fmtstr))
		}
	case KindArray:
		out = append(out, s.Elem.Warnings(where+"[]")...)
	case KindTuple:
		for i, e := range s.Elems {
			out = append(out, e.Warnings(where+"["+strconv.Itoa(i)+"]")...)
		}
	case KindStruct:
		for _, m := range s.StructMembers {
			out = append(out, m.Shape.Warnings(where+"."+m.Name)...)
		}
	}
	return out
}
