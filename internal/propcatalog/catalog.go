// Package propcatalog implements the static property schema described in
// spec §4.2: for every (scope, property name), how mandatory it is and
// which variant kinds are acceptable.
package propcatalog

import "github.com/secop-sine2020/secopd/internal/variant"

// Scope identifies which kind of object a property is attached to.
type Scope int

const (
	ScopeNode Scope = iota
	ScopeModule
	ScopeParameter
	ScopeCommand
)

// MandatoryLevel follows spec §4.2: 0 = silent optional, 1 = recommended,
// 2 = mandatory (a MissingProperties warning if absent). Only level 2 is
// checked; no catalog row is at level 1 and an absent level-1 property
// produces no finding.
type MandatoryLevel int

const (
	LevelOptional    MandatoryLevel = 0
	LevelRecommended MandatoryLevel = 1
	LevelMandatory   MandatoryLevel = 2
)

// Entry is one catalog row: a property's mandatory level and the variant
// kinds it may hold. AnyJSON means "accept any variant whose textual form
// is valid JSON" (spec §4.2: "JSON appearing in the allowed list").
type Entry struct {
	Level   MandatoryLevel
	Kinds   []variant.Kind // Kinds[0] is canonical; later entries are accepted as well.
	AnyJSON bool
}

// Allows reports whether kind is acceptable for this entry, either directly
// or via the AnyJSON escape hatch.
func (e Entry) Allows(kind variant.Kind) bool {
	if e.AnyJSON {
		return true
	}
	for _, k := range e.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Canonical reports whether kind is the first (preferred) kind for this
// entry. Node validation does not call it: a later-listed kind is accepted
// without a warning.
func (e Entry) Canonical(kind variant.Kind) bool {
	return len(e.Kinds) > 0 && e.Kinds[0] == kind
}

type key struct {
	scope Scope
	name  string
}

// table is the static standard property schema (spec §4.2, abbreviated
// list). Keys are case-insensitive; Lookup lowercases before indexing.
var table = map[key]Entry{
	{ScopeNode, "equipment_id"}: {Level: LevelMandatory, Kinds: []variant.Kind{variant.KindString}},
	{ScopeNode, "description"}:  {Level: LevelMandatory, Kinds: []variant.Kind{variant.KindString}},
	{ScopeNode, "firmware"}:     {Level: LevelOptional, Kinds: []variant.Kind{variant.KindString}},
	{ScopeNode, "implementor"}:  {Level: LevelOptional, Kinds: []variant.Kind{variant.KindString}},
	{ScopeNode, "timeout"}:      {Level: LevelOptional, Kinds: []variant.Kind{variant.KindDouble}},
	{ScopeNode, "order"}:        {Level: LevelOptional, AnyJSON: true},

	{ScopeModule, "interface_class"}: {Level: LevelMandatory, AnyJSON: true},
	{ScopeModule, "description"}:     {Level: LevelMandatory, Kinds: []variant.Kind{variant.KindString}},
	{ScopeModule, "pollinterval"}:    {Level: LevelOptional, Kinds: []variant.Kind{variant.KindDouble}},
	{ScopeModule, "visibility"}:      {Level: LevelOptional, Kinds: []variant.Kind{variant.KindInteger, variant.KindDouble}},
	{ScopeModule, "group"}:           {Level: LevelOptional, Kinds: []variant.Kind{variant.KindString}},
	{ScopeModule, "meaning"}:         {Level: LevelOptional, Kinds: []variant.Kind{variant.KindString}},
	{ScopeModule, "importance"}:      {Level: LevelOptional, Kinds: []variant.Kind{variant.KindInteger}},
	{ScopeModule, "implementor"}:     {Level: LevelOptional, Kinds: []variant.Kind{variant.KindString}},
	{ScopeModule, "order"}:           {Level: LevelOptional, AnyJSON: true},

	{ScopeParameter, "description"}:  {Level: LevelMandatory, Kinds: []variant.Kind{variant.KindString}},
	{ScopeParameter, "datainfo"}:     {Level: LevelMandatory, AnyJSON: true},
	{ScopeParameter, "constant"}:     {Level: LevelOptional, Kinds: []variant.Kind{variant.KindNull}},
	{ScopeParameter, "readonly"}:     {Level: LevelMandatory, Kinds: []variant.Kind{variant.KindBool}},
	{ScopeParameter, "pollinterval"}: {Level: LevelOptional, Kinds: []variant.Kind{variant.KindDouble}},
	{ScopeParameter, "visibility"}:   {Level: LevelOptional, Kinds: []variant.Kind{variant.KindInteger}},
	{ScopeParameter, "group"}:        {Level: LevelOptional, Kinds: []variant.Kind{variant.KindString}},

	{ScopeCommand, "description"}: {Level: LevelMandatory, Kinds: []variant.Kind{variant.KindString}},
	{ScopeCommand, "datainfo"}:    {Level: LevelMandatory, AnyJSON: true},
	{ScopeCommand, "visibility"}:  {Level: LevelOptional, Kinds: []variant.Kind{variant.KindInteger}},
	{ScopeCommand, "group"}:       {Level: LevelOptional, Kinds: []variant.Kind{variant.KindString}},
}

// Lookup returns the catalog entry for (scope, name), if name is a known
// standard property. Lookup is case-insensitive.
func Lookup(scope Scope, name string) (Entry, bool) {
	e, ok := table[key{scope, lower(name)}]
	return e, ok
}

// Mandatory returns every standard property name required at LevelMandatory
// for scope, used by node_complete to detect MissingProperties.
func Mandatory(scope Scope) []string {
	var names []string
	for k, e := range table {
		if k.scope == scope && e.Level == LevelMandatory {
			names = append(names, k.name)
		}
	}
	return names
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}
