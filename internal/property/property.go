// Package property implements the SECoP Property leaf (spec §3, §4.3): a
// named, typed value with an "auto-placeholder" overwrite flag.
package property

import (
	"strings"

	"github.com/secop-sine2020/secopd/internal/secoperr"
	"github.com/secop-sine2020/secopd/internal/variant"
)

// Property holds (name, value, auto). Auto means the server filled in a
// placeholder value during construction; the first user write clears it.
type Property struct {
	name  string
	Value variant.Variant
	Auto  bool
}

// New constructs a user-set property (Auto=false).
func New(name string, value variant.Variant) *Property {
	return &Property{name: name, Value: value}
}

// NewAuto constructs a server-filled placeholder property (Auto=true).
func NewAuto(name string, value variant.Variant) *Property {
	return &Property{name: name, Value: value, Auto: true}
}

// Name returns the property's name, preserved exactly as written (spec §3:
// "preserved as written for emission").
func (p *Property) Name() string { return p.name }

// IsUserDefined reports whether the name is a user-defined ("_"-prefixed)
// property, which never warns even if unknown to the catalog.
func (p *Property) IsUserDefined() bool {
	return strings.HasPrefix(p.name, "_")
}

// SetValue overwrites the property's value. Allowed only when Auto is true
// (spec §4.3); otherwise returns NameAlreadyUsed. On success Auto is
// cleared, matching "a user write clears the flag" (spec §3).
func (p *Property) SetValue(v variant.Variant) error {
	if !p.Auto {
		return secoperr.New(secoperr.NameAlreadyUsed, "property %q already has a user-set value", p.name)
	}
	p.Value = v
	p.Auto = false
	return nil
}

// LookupKey normalizes a property name for case-insensitive lookup (spec
// §3: "Names are case-insensitive for lookup").
func LookupKey(name string) string {
	return strings.ToLower(name)
}
