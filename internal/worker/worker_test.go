package worker

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/secop-sine2020/secopd/internal/property"
	"github.com/secop-sine2020/secopd/internal/secopmodel"
	"github.com/secop-sine2020/secopd/internal/variant"
)

func intShape(min, max int64) *variant.Shape {
	return variant.NewIntegerShape(&min, &max)
}

func strShape() *variant.Shape {
	return variant.NewStringShape(variant.StringPlain, 0, 0, false)
}

func buildTestNode(t *testing.T) *secopmodel.Node {
	t.Helper()
	n := secopmodel.NewNode("n")
	n.AddProperty(property.New("equipment_id", variant.String(strShape(), "n")))
	n.AddProperty(property.New("description", variant.String(strShape(), "test node")))

	m := secopmodel.NewModule("m")
	n.AddModule(m)
	m.AddProperty(property.New("description", variant.String(strShape(), "test module")))

	value := secopmodel.NewParameter("value", intShape(0, 10), true, false, variant.Null())
	value.AddProperty(property.New("description", variant.String(strShape(), "value")))
	value.AddProperty(property.New("readonly", variant.Bool(variant.NewBoolShape(), true)))
	value.SetHandlers(func(ctx context.Context, id string) secopmodel.Completion {
		return secopmodel.Completion{Value: variant.Integer(intShape(0, 10), 3), Timestamp: 1}
	}, nil)
	m.AddParameter(value)

	target := secopmodel.NewParameter("target", intShape(0, 10), false, false, variant.Null())
	target.AddProperty(property.New("description", variant.String(strShape(), "target")))
	target.AddProperty(property.New("readonly", variant.Bool(variant.NewBoolShape(), false)))
	var last int64
	target.SetHandlers(nil, func(ctx context.Context, id string, v variant.Variant) secopmodel.Completion {
		last = v.AsInt()
		return secopmodel.Completion{Value: variant.Integer(intShape(0, 10), last), Timestamp: 2}
	})
	m.AddParameter(target)

	return n
}

func newConnectedWorker(t *testing.T, n *secopmodel.Node) (*Worker, net.Conn, func()) {
	t.Helper()
	server, client := net.Pipe()
	w := New(n, server)
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	return w, client, cancel
}

func readLineWithTimeout(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := r.ReadString('\n')
		ch <- result{line, err}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("read error: %v", res.err)
		}
		return strings.TrimRight(res.line, "\r\n")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a reply")
		return ""
	}
}

func TestIdentityReply(t *testing.T) {
	n := buildTestNode(t)
	_, client, cancel := newConnectedWorker(t, n)
	defer cancel()
	defer client.Close()

	client.Write([]byte("*IDN?\n"))
	r := bufio.NewReader(client)
	if got := readLineWithTimeout(t, r); got != identityReply {
		t.Fatalf("got %q, want %q", got, identityReply)
	}
}

func TestDescribeContainsDatainfoType(t *testing.T) {
	n := buildTestNode(t)
	_, client, cancel := newConnectedWorker(t, n)
	defer cancel()
	defer client.Close()

	client.Write([]byte("describe\n"))
	r := bufio.NewReader(client)
	got := readLineWithTimeout(t, r)
	if !strings.HasPrefix(got, "describing . ") {
		t.Fatalf("expected describing prefix, got %q", got)
	}
	if !strings.Contains(got, `"int"`) {
		t.Fatalf("expected int datainfo type in descriptor, got %q", got)
	}
}

func TestReadReplies(t *testing.T) {
	n := buildTestNode(t)
	_, client, cancel := newConnectedWorker(t, n)
	defer cancel()
	defer client.Close()

	client.Write([]byte("read m:value\n"))
	r := bufio.NewReader(client)
	got := readLineWithTimeout(t, r)
	if !strings.HasPrefix(got, "reply m:value [3, ") {
		t.Fatalf("got %q", got)
	}
}

func TestChangeReplies(t *testing.T) {
	n := buildTestNode(t)
	_, client, cancel := newConnectedWorker(t, n)
	defer cancel()
	defer client.Close()

	client.Write([]byte("change m:target 7\n"))
	r := bufio.NewReader(client)
	got := readLineWithTimeout(t, r)
	if !strings.HasPrefix(got, "changed m:target [7, ") {
		t.Fatalf("got %q", got)
	}
}

func TestChangeBadValueKeepsConnectionOpen(t *testing.T) {
	n := buildTestNode(t)
	_, client, cancel := newConnectedWorker(t, n)
	defer cancel()
	defer client.Close()

	r := bufio.NewReader(client)
	client.Write([]byte("change m:target banana\n"))
	got := readLineWithTimeout(t, r)
	if !strings.HasPrefix(got, `error_change m:target ["BadValue"`) {
		t.Fatalf("got %q", got)
	}

	client.Write([]byte("*IDN?\n"))
	got = readLineWithTimeout(t, r)
	if got != identityReply {
		t.Fatalf("connection should stay usable after a protocol error, got %q", got)
	}
}

func TestActivateStreamsUpdatesThenActive(t *testing.T) {
	n := buildTestNode(t)
	_, client, cancel := newConnectedWorker(t, n)
	defer cancel()
	defer client.Close()

	client.Write([]byte("activate\n"))
	r := bufio.NewReader(client)
	var sawActive bool
	for i := 0; i < 5; i++ {
		line := readLineWithTimeout(t, r)
		if line == "active" {
			sawActive = true
			break
		}
		if !strings.HasPrefix(line, "update ") {
			t.Fatalf("expected update line, got %q", line)
		}
	}
	if !sawActive {
		t.Fatal("expected an active line to terminate the activate snapshot")
	}
}

// heldBroker accepts every queued request and never answers it.
type heldBroker struct{}

func (heldBroker) QueueRead(nodeID, modID, paramID string) string { return "read-1" }
func (heldBroker) QueueChange(nodeID, modID, paramID string, payload variant.Variant) string {
	return "change-1"
}
func (heldBroker) QueueDo(nodeID, modID, cmdID string, payload variant.Variant) string {
	return "do-1"
}

func TestDoCommandRunningOnSecondCall(t *testing.T) {
	n := secopmodel.NewNode("n")
	n.SetBroker(heldBroker{})
	m := secopmodel.NewModule("m")
	n.AddModule(m)
	// No handler: the first do is queued on the broker and stays in flight.
	// (A synchronous handler runs on the read loop, so no second line would
	// be read while it blocks.)
	m.AddCommand(secopmodel.NewCommand("go", variant.NewCommandShape(nil, nil)))

	_, client, cancel := newConnectedWorker(t, n)
	defer cancel()
	defer client.Close()

	client.Write([]byte("do m:go\n"))
	client.Write([]byte("do m:go\n"))

	r := bufio.NewReader(client)
	got := readLineWithTimeout(t, r)
	if !strings.HasPrefix(got, `error_do m:go ["CommandRunning"`) {
		t.Fatalf("got %q", got)
	}
}
