package secopmodel

import (
	"context"

	"github.com/secop-sine2020/secopd/internal/variant"
)

// Completion carries the outcome of a read, change, or do, whether it
// arrived synchronously (a Getter/Setter/Doer returned inline) or
// asynchronously (the Registry polling bridge delivered an answer, spec
// §4.7). A nil Err means success.
type Completion struct {
	Value     variant.Variant
	Sigma     *variant.Variant
	Timestamp float64
	Err       error
}

// Getter fetches a parameter's current value from its backend. Returning
// inline is the synchronous callback mode (spec §9); a handler that never
// returns fast should instead be left nil so the Module defers to the
// Registry's polling bridge.
type Getter func(ctx context.Context, paramID string) Completion

// Setter pushes a requested value to a parameter's backend and returns the
// value the backend actually committed.
type Setter func(ctx context.Context, paramID string, requested variant.Variant) Completion

// Doer executes a command and returns its result.
type Doer func(ctx context.Context, cmdID string, arg variant.Variant) Completion

// Broker is the asynchronous fallback path used when a Parameter/Command has
// no synchronous handler: the Module hands the request to the Registry's
// polling bridge (spec §4.7) instead of blocking the calling goroutine.
// QueueRead additionally performs read coalescing (spec §4.5): if an
// equivalent Read is already pending or in flight for (nodeID, modID,
// paramID), the existing action's id is returned instead of a new one.
type Broker interface {
	QueueRead(nodeID, modID, paramID string) (actionID string)
	QueueChange(nodeID, modID, paramID string, payload variant.Variant) (actionID string)
	QueueDo(nodeID, modID, cmdID string, payload variant.Variant) (actionID string)
}

// DeliverKind distinguishes the four outbound message shapes a Sink may be
// asked to render (spec §5's reply/update verbs).
type DeliverKind int

const (
	DeliverReply DeliverKind = iota
	DeliverChanged
	DeliverDone
	DeliverUpdate
)

// Sink is implemented by whatever holds a client connection (the Worker, in
// this server). Deliver is called once per recipient per completion; a
// recipient that both issued the request and is subscribed to updates may
// be called twice for the same event, which spec §9 accepts as a benign
// duplicate.
type Sink interface {
	Deliver(kind DeliverKind, moduleID, accessibleID string, c Completion)
}
