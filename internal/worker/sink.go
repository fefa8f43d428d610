package worker

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/secop-sine2020/secopd/internal/secoperr"
	"github.com/secop-sine2020/secopd/internal/secopmodel"
)

// Deliver implements secopmodel.Sink. It is called from whichever goroutine
// completed the request — the reading connection's own goroutine for an
// inline synchronous reply, or the Registry's polling/sweeper goroutines
// for an asynchronous one — so every write goes through writeLine's mutex.
func (w *Worker) Deliver(kind secopmodel.DeliverKind, moduleID, accessibleID string, c secopmodel.Completion) {
	if kind == secopmodel.DeliverDone {
		w.mu.Lock()
		delete(w.pendingDo, moduleID+":"+accessibleID)
		w.mu.Unlock()
	}

	verb, errVerb := verbNames(kind)
	spec := moduleID + ":" + accessibleID

	if c.Err != nil {
		if kind == secopmodel.DeliverUpdate {
			return // passive fan-out; nothing requested this, nothing to answer
		}
		w.writeError(errVerb, spec, c.Err)
		return
	}

	raw, err := c.Value.ExportJSON()
	if err != nil {
		w.writeError(errVerb, spec, secoperr.New(secoperr.Internal, "%v", err))
		return
	}
	w.writeLine(fmt.Sprintf("%s %s [%s, %s]", verb, spec, raw, qualifiers(c)))
}

func verbNames(kind secopmodel.DeliverKind) (verb, errVerb string) {
	switch kind {
	case secopmodel.DeliverReply:
		return "reply", "read"
	case secopmodel.DeliverChanged:
		return "changed", "change"
	case secopmodel.DeliverDone:
		return "done", "do"
	case secopmodel.DeliverUpdate:
		return "update", "update"
	default:
		return "reply", "read"
	}
}

func qualifiers(c secopmodel.Completion) string {
	var b strings.Builder
	b.WriteByte('{')
	b.WriteString(`"t":`)
	b.WriteString(jsonFloat(c.Timestamp))
	if c.Sigma != nil {
		raw, err := c.Sigma.ExportJSON()
		if err == nil {
			b.WriteString(`,"e":`)
			b.Write(raw)
		}
	}
	b.WriteByte('}')
	return b.String()
}

func jsonFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "null"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
