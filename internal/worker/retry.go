package worker

import (
	"context"
	"time"
)

// retryLoop re-issues deferred reads and changes every 50ms (spec
// §4.5/§4.8). An entry that is still busy goes back to the front of the
// queue, ahead of anything queued meanwhile, so request order is kept. One
// that dispatches is removed: a failure is answered here with an error
// reply, and a success is left for its own Deliver call to answer.
func (w *Worker) retryLoop(ctx context.Context) error {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.drainTodo(ctx)
		}
	}
}

func (w *Worker) drainTodo(ctx context.Context) {
	w.mu.Lock()
	pending := w.todo
	w.todo = nil
	w.mu.Unlock()

	var stillBusy []todoEntry
	for _, e := range pending {
		m, ok := w.node.Module(e.moduleID)
		if !ok {
			continue // module vanished; drop silently, matching disconnect-time purge semantics
		}
		verb := "read"
		var busy bool
		var err error
		if e.isChange {
			verb = "change"
			busy, err = m.Change(ctx, e.paramID, e.value, w)
		} else {
			busy, err = m.Read(ctx, e.paramID, w)
		}
		if err != nil {
			w.writeError(verb, e.line, err)
			continue
		}
		if busy {
			stillBusy = append(stillBusy, e)
		}
	}

	if len(stillBusy) == 0 {
		return
	}
	w.mu.Lock()
	w.todo = append(stillBusy, w.todo...)
	w.mu.Unlock()
}
