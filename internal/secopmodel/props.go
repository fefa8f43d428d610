// Package secopmodel implements the SECoP description model: Parameter,
// Command, Module, and Node (spec §3, §4.4–§4.6), plus the node_complete
// validation pass that freezes a node into its descriptor JSON.
package secopmodel

import "github.com/secop-sine2020/secopd/internal/property"

// propSet is an insertion-ordered, case-insensitively-keyed collection of
// properties, shared by Node, Module, Parameter, and Command (spec §3: each
// carries "properties[]").
type propSet struct {
	order []string // lookup keys, insertion order
	byKey map[string]*property.Property
}

func newPropSet() *propSet {
	return &propSet{byKey: map[string]*property.Property{}}
}

func (ps *propSet) put(p *property.Property) {
	key := property.LookupKey(p.Name())
	if _, exists := ps.byKey[key]; !exists {
		ps.order = append(ps.order, key)
	}
	ps.byKey[key] = p
}

func (ps *propSet) get(name string) (*property.Property, bool) {
	p, ok := ps.byKey[property.LookupKey(name)]
	return p, ok
}

// all returns properties in insertion order.
func (ps *propSet) all() []*property.Property {
	out := make([]*property.Property, 0, len(ps.order))
	for _, key := range ps.order {
		out = append(out, ps.byKey[key])
	}
	return out
}
