package secopmodel

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/secop-sine2020/secopd/internal/property"
	"github.com/secop-sine2020/secopd/internal/secoperr"
	"github.com/secop-sine2020/secopd/internal/strdist"
	"github.com/secop-sine2020/secopd/internal/variant"
)

// actionKind distinguishes what an in-flight entry is waiting on.
type actionKind int

const (
	actionRead actionKind = iota
	actionChange
	actionDo
)

// inFlightEntry tracks one outstanding dispatch to a parameter's or
// command's backend (spec §4.5: "a module holds a map param →
// in_flight_request"). Reads may accumulate multiple waiters (read
// coalescing); changes and commands never do.
type inFlightEntry struct {
	kind     actionKind
	targetID string
	actionID string // set only when dispatched through the Broker
	waiters  []Sink
}

// Module groups parameters and commands under one accessible namespace
// (spec §4.4). It owns the per-parameter dispatch serialization and the
// fan-out of updates to activated subscribers.
type Module struct {
	id    string
	node  *Node
	props *propSet

	mu         sync.Mutex
	params     map[string]*Parameter
	paramOrder []string
	cmds       map[string]*Command
	cmdOrder   []string

	// accessOrder preserves the creation-order interleaving of parameters
	// and commands (spec §3's Module.accessibles_order), used to seed the
	// default "order" property distinctly from paramOrder/cmdOrder, which
	// each only track their own kind.
	accessOrder []string

	activated map[Sink]bool

	pendingByParam map[string]*inFlightEntry // read/change in flight, keyed by parameter id
	pendingByCmd   map[string]*inFlightEntry
	pendingByAction map[string]*inFlightEntry // routes Registry callbacks back to their entry
}

// NewModule constructs an empty module named id.
func NewModule(id string) *Module {
	return &Module{
		id:              id,
		props:           newPropSet(),
		params:          map[string]*Parameter{},
		cmds:            map[string]*Command{},
		activated:       map[Sink]bool{},
		pendingByParam:  map[string]*inFlightEntry{},
		pendingByCmd:    map[string]*inFlightEntry{},
		pendingByAction: map[string]*inFlightEntry{},
	}
}

// ID returns the module's accessible name.
func (m *Module) ID() string { return m.id }

// AddProperty attaches or overwrites a module-scope property.
func (m *Module) AddProperty(p *property.Property) { m.props.put(p) }

// Property looks up an attached property by name.
func (m *Module) Property(name string) (*property.Property, bool) { return m.props.get(name) }

// Properties returns every attached property in insertion order.
func (m *Module) Properties() []*property.Property { return m.props.all() }

// AddParameter attaches a parameter to the module, wiring its back-reference.
// It fails once the owning node is Ready.
func (m *Module) AddParameter(p *Parameter) error {
	if m.node != nil && m.node.Ready() {
		return secoperr.New(secoperr.Internal, "module %q is frozen after node_complete validation; cannot add parameter %q", m.id, p.id)
	}
	p.mod = m
	if _, exists := m.params[lowerID(p.id)]; !exists {
		m.paramOrder = append(m.paramOrder, p.id)
		m.accessOrder = append(m.accessOrder, p.id)
	}
	m.params[lowerID(p.id)] = p
	return nil
}

// AddCommand attaches a command to the module, wiring its back-reference.
// It fails once the owning node is Ready.
func (m *Module) AddCommand(c *Command) error {
	if m.node != nil && m.node.Ready() {
		return secoperr.New(secoperr.Internal, "module %q is frozen after node_complete validation; cannot add command %q", m.id, c.id)
	}
	c.mod = m
	if _, exists := m.cmds[lowerID(c.id)]; !exists {
		m.cmdOrder = append(m.cmdOrder, c.id)
		m.accessOrder = append(m.accessOrder, c.id)
	}
	m.cmds[lowerID(c.id)] = c
	return nil
}

// Parameter looks up a parameter by name, case-insensitively.
func (m *Module) Parameter(id string) (*Parameter, bool) {
	p, ok := m.params[lowerID(id)]
	return p, ok
}

// Parameters returns every parameter in declaration order.
func (m *Module) Parameters() []*Parameter {
	out := make([]*Parameter, 0, len(m.paramOrder))
	for _, id := range m.paramOrder {
		out = append(out, m.params[lowerID(id)])
	}
	return out
}

// Command looks up a command by name, case-insensitively.
func (m *Module) Command(id string) (*Command, bool) {
	c, ok := m.cmds[lowerID(id)]
	return c, ok
}

// Commands returns every command in declaration order.
func (m *Module) Commands() []*Command {
	out := make([]*Command, 0, len(m.cmdOrder))
	for _, id := range m.cmdOrder {
		out = append(out, m.cmds[lowerID(id)])
	}
	return out
}

// accessibleNames lists every parameter and command name in creation order,
// for "did you mean" suggestions on NoSuchParameter/NoSuchCommand and as the
// default "order" property permutation (spec §4.6 step 2).
func (m *Module) accessibleNames() []string {
	return append([]string(nil), m.accessOrder...)
}

// PollInterval resolves this module's polling period (spec §4.6 step 6):
// its own "pollinterval" property if set and positive, clamped to max;
// otherwise def.
func (m *Module) PollInterval(def, max time.Duration) time.Duration {
	p, ok := m.Property("pollinterval")
	if !ok || p.Value.Kind() != variant.KindDouble {
		return def
	}
	d := time.Duration(p.Value.AsFloat() * float64(time.Second))
	if d <= 0 {
		return def
	}
	if d > max {
		return max
	}
	return d
}

func (m *Module) noSuchParameter(id string) error {
	if hint := strdist.Suggest(id, m.paramOrder); hint != "" {
		return secoperr.New(secoperr.InvalidParameter, "module %q has no parameter %q, did you mean %q?", m.id, id, hint)
	}
	return secoperr.New(secoperr.InvalidParameter, "module %q has no parameter %q", m.id, id)
}

func (m *Module) noSuchCommand(id string) error {
	if hint := strdist.Suggest(id, m.cmdOrder); hint != "" {
		return secoperr.New(secoperr.InvalidCommand, "module %q has no command %q, did you mean %q?", m.id, id, hint)
	}
	return secoperr.New(secoperr.InvalidCommand, "module %q has no command %q", m.id, id)
}

// Activate registers sink to receive update fan-out for every parameter of
// this module (spec §5's `activate` verb with no module given activates
// every module of the node, via Node.Activate).
func (m *Module) Activate(sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activated[sink] = true
}

// Deactivate removes sink from the update fan-out set.
func (m *Module) Deactivate(sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.activated, sink)
}

// InitialUpdates delivers one DeliverUpdate per parameter to sink, the
// snapshot an `activate` reply sends before live updates start.
func (m *Module) InitialUpdates(sink Sink) {
	for _, p := range m.Parameters() {
		sink.Deliver(DeliverUpdate, m.id, p.id, p.Cached())
	}
}

// Read dispatches a read of paramID. A reply is always eventually delivered
// to requester via Sink.Deliver — inline for constant parameters and
// synchronous getters, later for everything else. A second read arriving
// while one is already in flight for the same parameter joins the existing
// entry's waiters instead of triggering a second backend call (spec §4.5's
// read coalescing) — but only when that in-flight entry is itself a read;
// an in-flight change occupies the same pendingByParam slot and must not be
// clobbered, so busy=true tells the caller to defer instead
// (mirroring Change's own busy contract).
func (m *Module) Read(ctx context.Context, paramID string, requester Sink) (busy bool, err error) {
	p, ok := m.Parameter(paramID)
	if !ok {
		return false, m.noSuchParameter(paramID)
	}
	if p.constant {
		requester.Deliver(DeliverReply, m.id, paramID, p.Cached())
		return false, nil
	}

	m.mu.Lock()
	if entry, present := m.pendingByParam[paramID]; present {
		if entry.kind == actionRead {
			entry.waiters = append(entry.waiters, requester)
			m.mu.Unlock()
			return false, nil
		}
		m.mu.Unlock()
		return true, nil
	}
	entry := &inFlightEntry{kind: actionRead, targetID: paramID, waiters: []Sink{requester}}
	m.pendingByParam[paramID] = entry
	m.mu.Unlock()

	if p.getter != nil {
		c := p.getter(ctx, paramID)
		m.finishRead(paramID, c)
		return false, nil
	}

	broker := m.broker()
	if broker == nil {
		m.finishRead(paramID, Completion{Err: secoperr.New(secoperr.NoGetter, "parameter %q has no getter configured", paramID)})
		return false, nil
	}
	actionID := broker.QueueRead(m.node.ID(), m.id, paramID)
	m.mu.Lock()
	entry.actionID = actionID
	m.pendingByAction[actionID] = entry
	m.mu.Unlock()
	return false, nil
}

// Change dispatches a change of paramID to value. busy=true means a change
// or read is already in flight for this parameter; the caller (Worker)
// should queue a retry rather than treat this as an error, since changes
// carry distinct payloads and must not be coalesced with an unrelated
// in-flight request.
func (m *Module) Change(ctx context.Context, paramID string, value variant.Variant, requester Sink) (busy bool, err error) {
	p, ok := m.Parameter(paramID)
	if !ok {
		return false, m.noSuchParameter(paramID)
	}
	if writeErr := p.checkWritable(); writeErr != nil {
		return false, writeErr
	}
	if !value.IsValid() {
		return false, secoperr.New(secoperr.InvalidValue, "value does not match parameter %q's datainfo", paramID)
	}

	m.mu.Lock()
	if _, busyEntry := m.pendingByParam[paramID]; busyEntry {
		m.mu.Unlock()
		return true, nil
	}
	entry := &inFlightEntry{kind: actionChange, targetID: paramID, waiters: []Sink{requester}}
	m.pendingByParam[paramID] = entry
	m.mu.Unlock()

	if p.setter != nil {
		c := p.setter(ctx, paramID, value)
		m.finishChange(paramID, c)
		return false, nil
	}

	broker := m.broker()
	if broker == nil {
		m.finishChange(paramID, Completion{Err: secoperr.New(secoperr.NoSetter, "parameter %q has no setter configured", paramID)})
		return false, nil
	}
	actionID := broker.QueueChange(m.node.ID(), m.id, paramID, value)
	m.mu.Lock()
	entry.actionID = actionID
	m.pendingByAction[actionID] = entry
	m.mu.Unlock()
	return false, nil
}

// Do dispatches a command invocation. Commands never defer at the module
// level (spec §4.5: "commands never defer"); the Worker is responsible for
// rejecting a second `do` on a command it already has in flight with
// CommandRunning before ever calling Do.
func (m *Module) Do(ctx context.Context, cmdID string, arg variant.Variant, requester Sink) error {
	c, ok := m.Command(cmdID)
	if !ok {
		return m.noSuchCommand(cmdID)
	}
	if c.shape.Arg != nil && !arg.IsValid() {
		return secoperr.New(secoperr.InvalidValue, "argument does not match command %q's datainfo", cmdID)
	}

	entry := &inFlightEntry{kind: actionDo, targetID: cmdID, waiters: []Sink{requester}}
	m.mu.Lock()
	m.pendingByCmd[cmdID] = entry
	m.mu.Unlock()

	if c.doer != nil {
		res := c.doer(ctx, cmdID, arg)
		m.finishDo(cmdID, res)
		return nil
	}

	broker := m.broker()
	if broker == nil {
		m.finishDo(cmdID, Completion{Err: secoperr.New(secoperr.NotImplemented, "command %q has no handler configured", cmdID)})
		return nil
	}
	actionID := broker.QueueDo(m.node.ID(), m.id, cmdID, arg)
	m.mu.Lock()
	entry.actionID = actionID
	m.pendingByAction[actionID] = entry
	m.mu.Unlock()
	return nil
}

// CompleteAction routes an asynchronous answer from the Registry's polling
// bridge (spec §4.7) back to the parameter or command that requested it.
func (m *Module) CompleteAction(actionID string, c Completion) {
	m.mu.Lock()
	entry, ok := m.pendingByAction[actionID]
	if ok {
		delete(m.pendingByAction, actionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	switch entry.kind {
	case actionRead:
		m.finishRead(entry.targetID, c)
	case actionChange:
		m.finishChange(entry.targetID, c)
	case actionDo:
		m.finishDo(entry.targetID, c)
	}
}

func (m *Module) finishRead(paramID string, c Completion) {
	m.mu.Lock()
	entry := m.pendingByParam[paramID]
	delete(m.pendingByParam, paramID)
	if entry != nil && entry.actionID != "" {
		delete(m.pendingByAction, entry.actionID)
	}
	p := m.params[lowerID(paramID)]
	if p != nil {
		p.applyCompletion(c)
	}
	m.mu.Unlock()

	m.fanOutUpdate(paramID, c)
	if entry == nil {
		return
	}
	for _, w := range entry.waiters {
		w.Deliver(DeliverReply, m.id, paramID, c)
	}
}

func (m *Module) finishChange(paramID string, c Completion) {
	m.mu.Lock()
	entry := m.pendingByParam[paramID]
	delete(m.pendingByParam, paramID)
	if entry != nil && entry.actionID != "" {
		delete(m.pendingByAction, entry.actionID)
	}
	p := m.params[lowerID(paramID)]
	if p != nil {
		p.applyCompletion(c)
	}
	m.mu.Unlock()

	m.fanOutUpdate(paramID, c)
	if entry == nil {
		return
	}
	for _, w := range entry.waiters {
		w.Deliver(DeliverChanged, m.id, paramID, c)
	}
}

func (m *Module) finishDo(cmdID string, c Completion) {
	m.mu.Lock()
	entry := m.pendingByCmd[cmdID]
	delete(m.pendingByCmd, cmdID)
	if entry != nil && entry.actionID != "" {
		delete(m.pendingByAction, entry.actionID)
	}
	m.mu.Unlock()
	if entry == nil {
		return
	}
	for _, w := range entry.waiters {
		w.Deliver(DeliverDone, m.id, cmdID, c)
	}
}

// PushUpdate applies an out-of-band value change to paramID — a backend
// telling the node a value changed on its own, not in answer to any read or
// change (spec §4.7's update_parameter) — and fans it out to every activated
// subscriber. It never touches pendingByParam: an unsolicited push does not
// complete anyone's in-flight request. A NaN or non-positive timestamp is
// stamped to now (spec §4.7: "ts NaN or <= 0 reads as now").
func (m *Module) PushUpdate(paramID string, c Completion) error {
	c.Timestamp = normalizeTimestamp(c.Timestamp)
	m.mu.Lock()
	p, ok := m.params[lowerID(paramID)]
	if ok {
		p.applyCompletion(c)
	}
	m.mu.Unlock()
	if !ok {
		return m.noSuchParameter(paramID)
	}
	m.fanOutUpdate(paramID, c)
	return nil
}

// normalizeTimestamp implements spec §4.7's "now" substitution rule.
func normalizeTimestamp(ts float64) float64 {
	if math.IsNaN(ts) || ts <= 0 {
		return float64(time.Now().UnixNano()) / 1e9
	}
	return ts
}

func (m *Module) fanOutUpdate(paramID string, c Completion) {
	m.mu.Lock()
	sinks := make([]Sink, 0, len(m.activated))
	for s := range m.activated {
		sinks = append(sinks, s)
	}
	m.mu.Unlock()
	for _, s := range sinks {
		s.Deliver(DeliverUpdate, m.id, paramID, c)
	}
}

func (m *Module) broker() Broker {
	if m.node == nil {
		return nil
	}
	return m.node.Broker()
}

func lowerID(s string) string { return property.LookupKey(s) }
