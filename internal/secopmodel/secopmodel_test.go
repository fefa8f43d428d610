package secopmodel

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/secop-sine2020/secopd/internal/property"
	"github.com/secop-sine2020/secopd/internal/secoperr"
	"github.com/secop-sine2020/secopd/internal/variant"
)

type recordingSink struct {
	mu  sync.Mutex
	got []Completion
}

func (s *recordingSink) Deliver(kind DeliverKind, moduleID, accessibleID string, c Completion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, c)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func doubleShape() *variant.Shape {
	return variant.NewDoubleShape("K", "", nil, nil, nil, nil)
}

func newTestModule() (*Node, *Module, *Parameter) {
	n := NewNode("testnode")
	m := NewModule("t")
	n.AddModule(m)
	p := NewParameter("value", doubleShape(), false, false, variant.Null())
	m.AddParameter(p)
	return n, m, p
}

func TestReadSyncGetterDeliversInline(t *testing.T) {
	_, m, p := newTestModule()
	p.SetHandlers(func(ctx context.Context, id string) Completion {
		return Completion{Value: variant.Double(doubleShape(), 3.5), Timestamp: 1.0}
	}, nil)

	sink := &recordingSink{}
	if _, err := m.Read(context.Background(), "value", sink); err != nil {
		t.Fatal(err)
	}
	if sink.count() != 1 {
		t.Fatalf("expected exactly one delivery, got %d", sink.count())
	}
}

func TestReadCoalescesConcurrentWaiters(t *testing.T) {
	_, m, p := newTestModule()
	release := make(chan struct{})
	called := 0
	var callMu sync.Mutex
	p.SetHandlers(func(ctx context.Context, id string) Completion {
		callMu.Lock()
		called++
		callMu.Unlock()
		<-release
		return Completion{Value: variant.Double(doubleShape(), 7), Timestamp: 2.0}
	}, nil)

	sinkA := &recordingSink{}
	sinkB := &recordingSink{}

	done := make(chan struct{})
	go func() {
		m.Read(context.Background(), "value", sinkA)
		close(done)
	}()
	// Give A's goroutine a moment to enter the getter and register the
	// in-flight entry before B joins it.
	for {
		m.mu.Lock()
		_, busy := m.pendingByParam["value"]
		m.mu.Unlock()
		if busy {
			break
		}
	}
	if _, err := m.Read(context.Background(), "value", sinkB); err != nil {
		t.Fatal(err)
	}
	close(release)
	<-done

	callMu.Lock()
	defer callMu.Unlock()
	if called != 1 {
		t.Fatalf("expected exactly one backend call, got %d", called)
	}
	if sinkA.count() != 1 || sinkB.count() != 1 {
		t.Fatalf("expected both waiters to receive exactly one reply, got A=%d B=%d", sinkA.count(), sinkB.count())
	}
}

func TestChangeBusyReturnsDeferredNotJoined(t *testing.T) {
	_, m, p := newTestModule()
	release := make(chan struct{})
	p.SetHandlers(nil, func(ctx context.Context, id string, v variant.Variant) Completion {
		<-release
		return Completion{Value: v, Timestamp: 5.0}
	})

	sinkA := &recordingSink{}
	changeDone := make(chan struct{})
	go func() {
		m.Change(context.Background(), "value", variant.Double(doubleShape(), 1), sinkA)
		close(changeDone)
	}()
	for {
		m.mu.Lock()
		_, busy := m.pendingByParam["value"]
		m.mu.Unlock()
		if busy {
			break
		}
	}

	sinkB := &recordingSink{}
	busy, err := m.Change(context.Background(), "value", variant.Double(doubleShape(), 2), sinkB)
	if err != nil {
		t.Fatal(err)
	}
	if !busy {
		t.Fatal("expected busy=true while another change is in flight")
	}
	close(release)
	<-changeDone
}

func TestChangeReadOnlyRejected(t *testing.T) {
	n := NewNode("n")
	m := NewModule("m")
	n.AddModule(m)
	p := NewParameter("ro", doubleShape(), true, false, variant.Null())
	m.AddParameter(p)

	_, err := m.Change(context.Background(), "ro", variant.Double(doubleShape(), 1), &recordingSink{})
	if err == nil {
		t.Fatal("expected ReadOnly rejection")
	}
}

func TestDoDeliversDone(t *testing.T) {
	n := NewNode("n")
	m := NewModule("m")
	n.AddModule(m)
	c := NewCommand("go", variant.NewCommandShape(nil, nil))
	c.SetHandler(func(ctx context.Context, id string, arg variant.Variant) Completion {
		return Completion{Timestamp: 9}
	})
	m.AddCommand(c)

	sink := &recordingSink{}
	if err := m.Do(context.Background(), "go", variant.Null(), sink); err != nil {
		t.Fatal(err)
	}
	if sink.count() != 1 {
		t.Fatalf("expected one delivery, got %d", sink.count())
	}
}

func TestReadUnknownParameterReturnsError(t *testing.T) {
	_, m, _ := newTestModule()
	_, err := m.Read(context.Background(), "valeu", &recordingSink{})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got == "" {
		t.Fatal("expected non-empty error message")
	}
}

func TestActivateDeliversInitialUpdateThenFanout(t *testing.T) {
	_, m, p := newTestModule()
	p.SetHandlers(func(ctx context.Context, id string) Completion {
		return Completion{Value: variant.Double(doubleShape(), 42), Timestamp: 1}
	}, nil)

	sink := &recordingSink{}
	m.Activate(sink)
	m.InitialUpdates(sink)
	if sink.count() != 1 {
		t.Fatalf("expected one initial update, got %d", sink.count())
	}

	other := &recordingSink{}
	if _, err := m.Read(context.Background(), "value", other); err != nil {
		t.Fatal(err)
	}
	if sink.count() != 2 {
		t.Fatalf("expected activated sink to receive the fan-out update, got %d", sink.count())
	}
	if other.count() != 1 {
		t.Fatalf("expected requester to receive exactly one reply, got %d", other.count())
	}
}

func TestPushUpdateStampsNowForNonPositiveTimestamp(t *testing.T) {
	_, m, p := newTestModule()
	sink := &recordingSink{}
	m.Activate(sink)

	before := float64(time.Now().UnixNano()) / 1e9
	if err := m.PushUpdate("value", Completion{Value: variant.Double(doubleShape(), 1), Timestamp: 0}); err != nil {
		t.Fatal(err)
	}
	after := float64(time.Now().UnixNano()) / 1e9

	if sink.count() != 1 {
		t.Fatalf("expected one fan-out delivery, got %d", sink.count())
	}
	got := p.Cached().Timestamp
	if got < before || got > after {
		t.Fatalf("expected a ts<=0 push to be stamped to now (between %v and %v), got %v", before, after, got)
	}
}

func TestValidateFlagsMissingMandatoryProperties(t *testing.T) {
	n := NewNode("n")
	n.AddProperty(property.New("_vendor_note", variant.String(variant.NewStringShape(variant.StringPlain, 0, 0, false), "hi")))
	m := NewModule("m")
	n.AddModule(m)

	errs := n.Validate()
	var sawMissingEquipmentID, sawMissingModuleAccessibles bool
	for _, e := range errs {
		if e.Kind == secoperr.MissingProperties {
			sawMissingEquipmentID = true
		}
		if e.Kind == secoperr.MissingMandatory {
			sawMissingModuleAccessibles = true
		}
	}
	if !sawMissingEquipmentID {
		t.Fatal("expected a MissingProperties finding for the node's absent mandatory properties")
	}
	if !sawMissingModuleAccessibles {
		t.Fatal("expected a MissingMandatory finding for the module with no accessibles")
	}
}

func TestDescriptorRendersModulesAndDatainfo(t *testing.T) {
	n := NewNode("n")
	n.AddProperty(property.New("equipment_id", variant.String(variant.NewStringShape(variant.StringPlain, 0, 0, false), "n")))
	n.AddProperty(property.New("description", variant.String(variant.NewStringShape(variant.StringPlain, 0, 0, false), "test node")))
	m := NewModule("m")
	n.AddModule(m)
	p := NewParameter("value", variant.NewIntegerShape(int64Ptr(0), int64Ptr(10)), true, false, variant.Null())
	p.AddProperty(property.New("description", variant.String(variant.NewStringShape(variant.StringPlain, 0, 0, false), "value")))
	p.AddProperty(property.New("readonly", variant.Bool(variant.NewBoolShape(), true)))
	m.AddParameter(p)

	raw, err := n.Descriptor()
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Modules map[string]struct {
			Accessibles map[string]struct {
				Datainfo struct {
					Type string `json:"type"`
				} `json:"datainfo"`
			} `json:"accessibles"`
		} `json:"modules"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("descriptor is not valid JSON: %v", err)
	}
	got := doc.Modules["m"].Accessibles["value"].Datainfo.Type
	if diff := cmp.Diff("int", got); diff != "" {
		t.Fatalf("modules.m.accessibles.value.datainfo.type mismatch (-want +got):\n%s", diff)
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestValidateDoesNotFlagDatainfoAsMissing(t *testing.T) {
	n := NewNode("n")
	n.AddProperty(property.New("equipment_id", variant.String(variant.NewStringShape(variant.StringPlain, 0, 0, false), "n")))
	n.AddProperty(property.New("description", variant.String(variant.NewStringShape(variant.StringPlain, 0, 0, false), "d")))
	m := NewModule("m")
	n.AddModule(m)
	m.AddProperty(property.New("description", variant.String(variant.NewStringShape(variant.StringPlain, 0, 0, false), "d")))
	m.AddProperty(property.New("interface_class", variant.String(variant.NewStringShape(variant.StringJSON, 0, 0, false), "[]")))
	p := NewParameter("value", doubleShape(), true, false, variant.Null())
	p.AddProperty(property.New("description", variant.String(variant.NewStringShape(variant.StringPlain, 0, 0, false), "d")))
	p.AddProperty(property.New("readonly", variant.Bool(variant.NewBoolShape(), true)))
	m.AddParameter(p)
	c := NewCommand("stop", variant.NewCommandShape(nil, nil))
	c.AddProperty(property.New("description", variant.String(variant.NewStringShape(variant.StringPlain, 0, 0, false), "d")))
	m.AddCommand(c)

	for _, e := range n.Validate() {
		if e.Kind == secoperr.MissingProperties {
			t.Fatalf("unexpected MissingProperties finding on a fully-populated accessible: %s", e.Message)
		}
	}
}

func TestValidateWarnsOnDoubleParameterMissingUnit(t *testing.T) {
	n := NewNode("n")
	n.AddProperty(property.New("equipment_id", variant.String(variant.NewStringShape(variant.StringPlain, 0, 0, false), "n")))
	m := NewModule("m")
	n.AddModule(m)
	p := NewParameter("value", variant.NewDoubleShape("", "", nil, nil, nil, nil), true, false, variant.Double(variant.NewDoubleShape("", "", nil, nil, nil, nil), 0))
	m.AddParameter(p)

	var sawNoUnit bool
	for _, e := range n.Validate() {
		if e.Kind == secoperr.NoDescription {
			sawNoUnit = true
		}
	}
	if !sawNoUnit {
		t.Fatal("expected a NoDescription warning for a Double parameter with no unit")
	}
}

func TestValidateSynthesizesOrderFromCreationOrder(t *testing.T) {
	n := NewNode("n")
	m := NewModule("m")
	n.AddModule(m)
	m.AddParameter(NewParameter("value", doubleShape(), true, false, variant.Null()))
	m.AddCommand(NewCommand("stop", variant.NewCommandShape(nil, nil)))
	m.AddParameter(NewParameter("target", doubleShape(), false, false, variant.Null()))

	n.Validate()

	orderProp, ok := m.Property("order")
	if !ok {
		t.Fatal("expected Validate to synthesize a module \"order\" property")
	}
	raw, err := orderProp.Value.ExportJSON()
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	if err := json.Unmarshal(raw, &order); err != nil {
		t.Fatal(err)
	}
	want := []string{"value", "stop", "target"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Fatalf("synthesized order mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateRejectsNonPermutationOrder(t *testing.T) {
	n := NewNode("n")
	m := NewModule("m")
	n.AddModule(m)
	m.AddParameter(NewParameter("value", doubleShape(), true, false, variant.Null()))
	m.AddProperty(property.New("order", variant.String(variant.NewStringShape(variant.StringJSON, 0, 0, false), `["value","bogus"]`)))

	errs := n.Validate()
	var saw bool
	for _, e := range errs {
		if e.Kind == secoperr.InvalidProperty {
			saw = true
		}
	}
	if !saw {
		t.Fatal("expected an InvalidProperty finding for a non-permutation order property")
	}
}

func statusShape() *variant.Shape {
	return variant.NewTupleShape(
		variant.NewEnumShape([]string{"IDLE", "BUSY"}, map[string]int64{"IDLE": 100, "BUSY": 300}),
		variant.NewStringShape(variant.StringPlain, 0, 0, false),
	)
}

func TestValidateInterfaceClassRequiresStructuralAccessibles(t *testing.T) {
	n := NewNode("n")
	m := NewModule("m")
	n.AddModule(m)
	m.AddProperty(property.New("interface_class", variant.String(variant.NewStringShape(variant.StringJSON, 0, 0, false), `["drivable"]`)))

	errs := n.Validate()
	var saw int
	for _, e := range errs {
		if e.Kind == secoperr.InvalidProperty {
			saw++
		}
	}
	if saw == 0 {
		t.Fatal("expected InvalidProperty findings for a drivable module missing value/status/target/stop")
	}
}

func TestValidateInterfaceClassAcceptsCompleteDrivable(t *testing.T) {
	n := NewNode("n")
	m := NewModule("m")
	n.AddModule(m)
	m.AddProperty(property.New("interface_class", variant.String(variant.NewStringShape(variant.StringJSON, 0, 0, false), `["drivable"]`)))
	m.AddParameter(NewParameter("value", doubleShape(), true, false, variant.Null()))
	m.AddParameter(NewParameter("status", statusShape(), true, false, variant.Null()))
	m.AddParameter(NewParameter("target", doubleShape(), false, false, variant.Null()))
	m.AddCommand(NewCommand("stop", variant.NewCommandShape(nil, nil)))

	errs := n.Validate()
	for _, e := range errs {
		if e.Kind == secoperr.InvalidProperty {
			t.Fatalf("unexpected InvalidProperty finding for a structurally complete drivable module: %s", e.Message)
		}
	}
}
