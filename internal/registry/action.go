// Package registry implements the SECoP runtime directory: the singleton
// that owns every Node, the asynchronous polling bridge backends pull work
// from and push answers to (spec §4.7), and the 1Hz in-flight timeout
// sweeper (spec §4.5, SECOP_POLLING_TIMEOUT).
package registry

import (
	"time"

	"github.com/secop-sine2020/secopd/internal/variant"
)

// ActionKind identifies which verb an ActionEntry was queued for.
type ActionKind int

const (
	ActionRead ActionKind = iota
	ActionChange
	ActionDo
)

func (k ActionKind) String() string {
	switch k {
	case ActionRead:
		return "read"
	case ActionChange:
		return "change"
	case ActionDo:
		return "do"
	default:
		return "unknown"
	}
}

// ActionEntry is one unit of backend work: a read, change, or do that a
// Module could not satisfy synchronously and handed to the Registry's
// polling bridge instead.
type ActionEntry struct {
	ID           string
	Kind         ActionKind
	NodeID       string
	ModuleID     string
	AccessibleID string
	Payload      variant.Variant // Change/Do only; zero value for Read
	QueuedAt     time.Time
	Deadline     time.Time // set once claimed via NextAction
}
