package registry

import (
	"context"
	"testing"
	"time"

	"github.com/secop-sine2020/secopd/internal/secopmodel"
	"github.com/secop-sine2020/secopd/internal/variant"
)

type recSink struct{ got []secopmodel.Completion }

func (s *recSink) Deliver(kind secopmodel.DeliverKind, moduleID, accessibleID string, c secopmodel.Completion) {
	s.got = append(s.got, c)
}

func doubleShape() *variant.Shape {
	return variant.NewDoubleShape("K", "", nil, nil, nil, nil)
}

func buildNode(r *Registry) (*secopmodel.Node, *secopmodel.Module, *secopmodel.Parameter) {
	n := secopmodel.NewNode("n")
	r.AddNode(n)
	m := secopmodel.NewModule("m")
	r.AddModule(m)
	p := secopmodel.NewParameter("value", doubleShape(), false, false, variant.Null())
	r.AddParameter(p)
	return n, m, p
}

func TestQueueReadCoalesces(t *testing.T) {
	r := New(time.Minute)
	_, m, _ := buildNode(r)

	sinkA := &recSink{}
	sinkB := &recSink{}
	if _, err := m.Read(context.Background(), "value", sinkA); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Read(context.Background(), "value", sinkB); err != nil {
		t.Fatal(err)
	}

	r.mu.Lock()
	pendingCount := len(r.pending)
	r.mu.Unlock()
	if pendingCount != 1 {
		t.Fatalf("expected one coalesced pending action, got %d", pendingCount)
	}

	action, ok := r.NextAction()
	if !ok {
		t.Fatal("expected a pending action")
	}
	r.PutAnswer(action.ID, secopmodel.Completion{Value: variant.Double(doubleShape(), 9), Timestamp: 1})

	if len(sinkA.got) != 1 || len(sinkB.got) != 1 {
		t.Fatalf("expected both readers answered once, got A=%d B=%d", len(sinkA.got), len(sinkB.got))
	}
}

func TestSweeperTimesOutStaleAction(t *testing.T) {
	r := New(0) // immediate deadline
	_, m, _ := buildNode(r)

	sink := &recSink{}
	if _, err := m.Read(context.Background(), "value", sink); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.NextAction(); !ok {
		t.Fatal("expected a pending action")
	}

	r.sweepOnce()
	if len(sink.got) != 1 {
		t.Fatalf("expected one timeout delivery, got %d", len(sink.got))
	}
	if sink.got[0].Err == nil {
		t.Fatal("expected a Timeout error")
	}
}

func TestUpdateParameterPushesWithoutPendingAction(t *testing.T) {
	r := New(time.Minute)
	_, _, _ = buildNode(r)

	if err := r.UpdateParameter("n", "m", "value", secopmodel.Completion{Value: variant.Double(doubleShape(), 1), Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
}

func TestAddModuleBeforeNodeFails(t *testing.T) {
	r := New(time.Minute)
	if err := r.AddModule(secopmodel.NewModule("m")); err == nil {
		t.Fatal("expected error adding a module with no node focus")
	}
}
