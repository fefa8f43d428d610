package registry

import (
	"context"
	"sync"
	"time"

	"github.com/secop-sine2020/secopd/internal/secopmodel"
)

// discardSink absorbs the reply to a poll-triggered read. A poll never has
// a requesting client; the refreshed value and fan-out to activated
// subscribers already happens inside Module.Read before Deliver is called,
// so there is nothing left for the poll's own "requester" to do with it.
type discardSink struct{}

func (discardSink) Deliver(secopmodel.DeliverKind, string, string, secopmodel.Completion) {}

// StartPolling launches one ticker per module across every node the
// Registry owns (spec §4.6 step 6: "start per-module polling timers").
// Each tick issues a Read for every non-constant parameter, refreshing the
// module's cache and fanning the result out to activated subscribers even
// when no client asked for it. Call the returned stop function to shut
// every poller down; it blocks until all of them have exited.
func (r *Registry) StartPolling(ctx context.Context, defaultInterval, maxInterval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, n := range r.Nodes() {
		for _, m := range n.Modules() {
			wg.Add(1)
			go func(m *secopmodel.Module) {
				defer wg.Done()
				pollModule(ctx, m, defaultInterval, maxInterval)
			}(m)
		}
	}
	return func() {
		cancel()
		wg.Wait()
	}
}

func pollModule(ctx context.Context, m *secopmodel.Module, defaultInterval, maxInterval time.Duration) {
	ticker := time.NewTicker(m.PollInterval(defaultInterval, maxInterval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range m.Parameters() {
				if p.Constant() {
					continue
				}
				// busy=true means a change is already in flight for
				// this parameter; skip it this tick rather
				// than queue a retry — the next tick tries again.
				_, _ = m.Read(ctx, p.ID(), discardSink{})
			}
		}
	}
}
