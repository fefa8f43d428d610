package secopmodel

import (
	"encoding/json"
	"sync"

	"github.com/secop-sine2020/secopd/internal/property"
	"github.com/secop-sine2020/secopd/internal/secoperr"
	"github.com/secop-sine2020/secopd/internal/strdist"
)

// Node is the top-level description: a named equipment unit exposing
// modules over one TCP listener (spec §4.6).
type Node struct {
	id    string
	props *propSet

	mods     map[string]*Module
	modOrder []string

	broker Broker

	// ready is set once node_complete validation has finished without a
	// hard error (spec §4.6: the tree is frozen and published). Once set,
	// the builder API rejects further mutation.
	ready bool

	descriptorOnce  sync.Once
	descriptorCache json.RawMessage
	descriptorErr   error
}

// NewNode constructs an empty node named id.
func NewNode(id string) *Node {
	return &Node{id: id, props: newPropSet(), mods: map[string]*Module{}}
}

// ID returns the node's equipment id.
func (n *Node) ID() string { return n.id }

// SetBroker wires the asynchronous dispatch path every module of this node
// falls back to when a parameter or command has no synchronous handler.
func (n *Node) SetBroker(b Broker) { n.broker = b }

// Broker returns the node's asynchronous dispatch path, or nil if none was
// configured (every accessible must then use synchronous handlers).
func (n *Node) Broker() Broker { return n.broker }

// AddProperty attaches or overwrites a node-scope property.
func (n *Node) AddProperty(p *property.Property) { n.props.put(p) }

// Property looks up an attached property by name.
func (n *Node) Property(name string) (*property.Property, bool) { return n.props.get(name) }

// Properties returns every attached property in insertion order.
func (n *Node) Properties() []*property.Property { return n.props.all() }

// Ready reports whether node_complete validation has finished and frozen
// the tree (spec §4.6). Once true, AddModule and the Module-level
// AddParameter/AddCommand calls are rejected.
func (n *Node) Ready() bool { return n.ready }

// AddModule attaches a module to the node, wiring its back-reference. It
// fails once the node is Ready.
func (n *Node) AddModule(m *Module) error {
	if n.ready {
		return secoperr.New(secoperr.Internal, "node %q is frozen after node_complete validation; cannot add module %q", n.id, m.id)
	}
	m.node = n
	key := lowerID(m.id)
	if _, exists := n.mods[key]; !exists {
		n.modOrder = append(n.modOrder, m.id)
	}
	n.mods[key] = m
	return nil
}

// Module looks up a module by name, case-insensitively.
func (n *Node) Module(id string) (*Module, bool) {
	m, ok := n.mods[lowerID(id)]
	return m, ok
}

// Modules returns every module in declaration order.
func (n *Node) Modules() []*Module {
	out := make([]*Module, 0, len(n.modOrder))
	for _, id := range n.modOrder {
		out = append(out, n.mods[lowerID(id)])
	}
	return out
}

func (n *Node) noSuchModule(id string) error {
	if hint := strdist.Suggest(id, n.modOrder); hint != "" {
		return secoperr.New(secoperr.InvalidModule, "node has no module %q, did you mean %q?", id, hint)
	}
	return secoperr.New(secoperr.InvalidModule, "node has no module %q", id)
}

// Activate registers sink with every module on the node (spec §5: `activate`
// with no module name activates the whole node).
func (n *Node) Activate(sink Sink) {
	for _, m := range n.Modules() {
		m.Activate(sink)
		m.InitialUpdates(sink)
	}
}

// Deactivate removes sink from every module's fan-out set.
func (n *Node) Deactivate(sink Sink) {
	for _, m := range n.Modules() {
		m.Deactivate(sink)
	}
}
