package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/secop-sine2020/secopd/internal/secoperr"
	"github.com/secop-sine2020/secopd/internal/secopmodel"
	"github.com/secop-sine2020/secopd/internal/variant"
)

// Registry is the server-wide singleton: a directory of nodes, a FIFO of
// actions waiting for a backend to claim, and a map of actions a backend
// has claimed but not yet answered. It implements secopmodel.Broker, so
// every Node it owns is wired to dispatch through it automatically.
type Registry struct {
	mu        sync.Mutex
	nodes     map[string]*secopmodel.Node
	nodeOrder []string

	// lastNode/lastModule track the most recently added object, so a
	// declarative node loader can add a module or parameter without
	// re-stating which node/module it belongs to (spec §4.6's node
	// construction API is builder-style).
	lastNode   *secopmodel.Node
	lastModule *secopmodel.Module

	pending  []*ActionEntry
	inFlight map[string]*ActionEntry

	timeout time.Duration

	stopOnce sync.Once
}

// New constructs an empty Registry. timeout is the in-flight action
// deadline (spec §4.5's SECOP_POLLING_TIMEOUT, default 60s).
func New(timeout time.Duration) *Registry {
	return &Registry{
		nodes:    map[string]*secopmodel.Node{},
		inFlight: map[string]*ActionEntry{},
		timeout:  timeout,
	}
}

// AddNode registers n, wires it to this Registry as its Broker, and sets it
// as the builder focus for subsequent AddModule calls.
func (r *Registry) AddNode(n *secopmodel.Node) {
	n.SetBroker(r)
	r.mu.Lock()
	defer r.mu.Unlock()
	key := lower(n.ID())
	if _, exists := r.nodes[key]; !exists {
		r.nodeOrder = append(r.nodeOrder, n.ID())
	}
	r.nodes[key] = n
	r.lastNode = n
	r.lastModule = nil
}

// AddModule attaches m to the most recently added node and sets it as the
// builder focus for subsequent AddParameter/AddCommand calls.
func (r *Registry) AddModule(m *secopmodel.Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastNode == nil {
		return secoperr.New(secoperr.Internal, "AddModule called before any node was added")
	}
	if err := r.lastNode.AddModule(m); err != nil {
		return err
	}
	r.lastModule = m
	return nil
}

// AddParameter attaches p to the most recently added module.
func (r *Registry) AddParameter(p *secopmodel.Parameter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastModule == nil {
		return secoperr.New(secoperr.Internal, "AddParameter called before any module was added")
	}
	return r.lastModule.AddParameter(p)
}

// AddCommand attaches c to the most recently added module.
func (r *Registry) AddCommand(c *secopmodel.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastModule == nil {
		return secoperr.New(secoperr.Internal, "AddCommand called before any module was added")
	}
	return r.lastModule.AddCommand(c)
}

// Node looks up a node by id, case-insensitively.
func (r *Registry) Node(id string) (*secopmodel.Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[lower(id)]
	return n, ok
}

// Nodes returns every registered node in registration order.
func (r *Registry) Nodes() []*secopmodel.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*secopmodel.Node, 0, len(r.nodeOrder))
	for _, id := range r.nodeOrder {
		out = append(out, r.nodes[lower(id)])
	}
	return out
}

// QueueRead implements secopmodel.Broker. It performs read coalescing (spec
// §4.5): if a Read is already pending or in flight for the same
// (nodeID, modID, paramID), that action's id is returned instead of a new
// entry being queued, so concurrent readers share a single backend pull.
func (r *Registry) QueueRead(nodeID, modID, paramID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.pending {
		if matches(e, ActionRead, nodeID, modID, paramID) {
			return e.ID
		}
	}
	for _, e := range r.inFlight {
		if matches(e, ActionRead, nodeID, modID, paramID) {
			return e.ID
		}
	}
	e := &ActionEntry{
		ID: uuid.NewString(), Kind: ActionRead,
		NodeID: nodeID, ModuleID: modID, AccessibleID: paramID,
		QueuedAt: time.Now(),
	}
	r.pending = append(r.pending, e)
	return e.ID
}

// QueueChange implements secopmodel.Broker. Changes are never coalesced:
// each carries a distinct payload.
func (r *Registry) QueueChange(nodeID, modID, paramID string, payload variant.Variant) string {
	return r.enqueue(ActionChange, nodeID, modID, paramID, payload)
}

// QueueDo implements secopmodel.Broker.
func (r *Registry) QueueDo(nodeID, modID, cmdID string, payload variant.Variant) string {
	return r.enqueue(ActionDo, nodeID, modID, cmdID, payload)
}

func (r *Registry) enqueue(kind ActionKind, nodeID, modID, accessibleID string, payload variant.Variant) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &ActionEntry{
		ID: uuid.NewString(), Kind: kind,
		NodeID: nodeID, ModuleID: modID, AccessibleID: accessibleID,
		Payload: payload, QueuedAt: time.Now(),
	}
	r.pending = append(r.pending, e)
	return e.ID
}

func matches(e *ActionEntry, kind ActionKind, nodeID, modID, accessibleID string) bool {
	return e.Kind == kind && e.NodeID == nodeID && e.ModuleID == modID && e.AccessibleID == accessibleID
}

// NextAction pops the oldest pending action, moves it to the in-flight set
// with a fresh deadline, and returns it to a polling backend worker. It
// returns nil, false when no work is queued.
func (r *Registry) NextAction() (*ActionEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return nil, false
	}
	e := r.pending[0]
	r.pending = r.pending[1:]
	e.Deadline = time.Now().Add(r.timeout)
	r.inFlight[e.ID] = e
	return e, true
}

// PutAnswer delivers a backend's answer for actionID, routing it back to
// the owning module. Unknown or already-timed-out action ids are ignored.
func (r *Registry) PutAnswer(actionID string, c secopmodel.Completion) {
	r.mu.Lock()
	e, ok := r.inFlight[actionID]
	if ok {
		delete(r.inFlight, actionID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.deliver(e, c)
}

func (r *Registry) deliver(e *ActionEntry, c secopmodel.Completion) {
	n, ok := r.Node(e.NodeID)
	if !ok {
		return
	}
	m, ok := n.Module(e.ModuleID)
	if !ok {
		return
	}
	m.CompleteAction(e.ID, c)
}

// UpdateParameter is the out-of-band push API (spec §4.7): a backend tells
// the node a value changed without any prior read or change request.
func (r *Registry) UpdateParameter(nodeID, moduleID, paramID string, c secopmodel.Completion) error {
	n, ok := r.Node(nodeID)
	if !ok {
		return secoperr.New(secoperr.InvalidNode, "no such node %q", nodeID)
	}
	m, ok := n.Module(moduleID)
	if !ok {
		return secoperr.New(secoperr.InvalidModule, "node %q has no module %q", nodeID, moduleID)
	}
	return m.PushUpdate(paramID, c)
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
