package registry

import (
	"time"

	"github.com/secop-sine2020/secopd/internal/secoperr"
	"github.com/secop-sine2020/secopd/internal/secopmodel"
)

// StartSweeper launches the 1Hz timeout sweeper (spec §4.5): any in-flight
// action whose deadline has passed is answered with a Timeout completion so
// its waiters are unblocked rather than left hanging forever on a backend
// that never responded. Call the returned stop function to shut it down;
// it is safe to call at most once.
func (r *Registry) StartSweeper() (stop func()) {
	ticker := time.NewTicker(time.Second)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweepOnce()
			case <-done:
				return
			}
		}
	}()
	return func() {
		r.stopOnce.Do(func() { close(done) })
	}
}

func (r *Registry) sweepOnce() {
	now := time.Now()
	r.mu.Lock()
	var expired []*ActionEntry
	for id, e := range r.inFlight {
		if now.After(e.Deadline) {
			expired = append(expired, e)
			delete(r.inFlight, id)
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		r.deliver(e, secopmodel.Completion{
			Err: secoperr.New(secoperr.Timeout, "%s on %s:%s:%s timed out waiting for the backend", e.Kind, e.NodeID, e.ModuleID, e.AccessibleID),
		})
	}
}
