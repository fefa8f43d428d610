// Package worker implements the per-connection session (spec §4.8): line
// framing, verb dispatch into a Node's modules, activation tracking, and
// the deferred-request retry queue.
package worker

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/secop-sine2020/secopd/internal/secoperr"
	"github.com/secop-sine2020/secopd/internal/secopmodel"
	"github.com/secop-sine2020/secopd/internal/variant"
)

const identityReply = "ISSE&SINE2020,SECoP,V2019-09-16,v1.0"

const retryInterval = 50 * time.Millisecond

// Worker is one client connection's session state.
type Worker struct {
	node *secopmodel.Node
	conn net.Conn

	writeMu sync.Mutex
	bw      *bufio.Writer

	mu        sync.Mutex
	pendingDo map[string]string // "mod:cmd" -> original request line, for CommandRunning detection
	todo      []todoEntry
}

// todoEntry is a deferred read or change request waiting for its parameter
// to free up (spec §4.5/§4.8). A read only lands here when the in-flight
// entry it collided with is a change (commands never occupy a parameter's
// slot) — colliding with
// another in-flight read instead joins that read's waiter list in
// Module.Read directly, so two concurrent readers of an idle parameter get
// one identical backend answer (spec §8 scenario 5) rather than retrying.
type todoEntry struct {
	moduleID string
	paramID  string
	isChange bool
	value    variant.Variant
	line     string
}

// New constructs a Worker bound to node, serving conn.
func New(node *secopmodel.Node, conn net.Conn) *Worker {
	return &Worker{
		node:      node,
		conn:      conn,
		bw:        bufio.NewWriter(conn),
		pendingDo: map[string]string{},
	}
}

// Run serves the connection until it closes or ctx is cancelled. It never
// returns an error for a client protocol mistake — those become
// error_<verb> replies — only for I/O failures and ctx cancellation.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer w.node.Deactivate(w)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel() // a closed connection also stops the retry loop
		return w.readLoop(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		_ = w.conn.Close() // unblocks a read waiting for the next line
		return nil
	})
	g.Go(func() error {
		if err := w.retryLoop(ctx); err != context.Canceled {
			return err
		}
		return nil
	})
	err := g.Wait()
	_ = w.conn.Close()
	return err
}

func (w *Worker) readLoop(ctx context.Context) error {
	scanner := bufio.NewScanner(w.conn)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		w.handleLine(ctx, line)
	}
	return scanner.Err()
}

func (w *Worker) handleLine(ctx context.Context, line string) {
	verb, rest, _ := strings.Cut(line, " ")
	verbLower := strings.ToLower(verb)
	switch verbLower {
	case "*idn?":
		w.writeLine(identityReply)
	case "describe":
		w.handleDescribe()
	case "ping":
		w.handlePing(rest)
	case "activate":
		w.handleActivate(strings.TrimSpace(rest))
	case "deactivate":
		w.handleDeactivate(strings.TrimSpace(rest))
	case "read":
		w.handleRead(ctx, rest)
	case "change":
		w.handleChange(ctx, rest)
	case "do":
		w.handleDo(ctx, rest)
	case "help":
		w.handleHelp()
	default:
		w.writeError(verbLower, rest, secoperr.New(secoperr.Syntax, "unknown verb %q", verb))
	}
}

func (w *Worker) handleDescribe() {
	raw, err := w.node.Descriptor()
	if err != nil {
		w.writeError("describe", "", secoperr.New(secoperr.Internal, "%v", err))
		return
	}
	w.writeLine(fmt.Sprintf("describing . %s", raw))
}

func (w *Worker) handlePing(token string) {
	now := float64(time.Now().UnixNano()) / 1e9
	if token = strings.TrimSpace(token); token != "" {
		w.writeLine(fmt.Sprintf(`pong %s [null, {"t": %s}]`, token, strconv.FormatFloat(now, 'f', -1, 64)))
		return
	}
	w.writeLine(fmt.Sprintf(`pong [null, {"t": %s}]`, strconv.FormatFloat(now, 'f', -1, 64)))
}

func (w *Worker) handleActivate(moduleID string) {
	if moduleID == "" {
		w.node.Activate(w)
		w.writeLine("active")
		return
	}
	m, ok := w.node.Module(moduleID)
	if !ok {
		w.writeError("activate", moduleID, secoperr.New(secoperr.InvalidModule, "no such module %q", moduleID))
		return
	}
	m.Activate(w)
	m.InitialUpdates(w)
	w.writeLine("active " + moduleID)
}

func (w *Worker) handleDeactivate(moduleID string) {
	if moduleID == "" {
		w.node.Deactivate(w)
		w.writeLine("inactive")
		return
	}
	if m, ok := w.node.Module(moduleID); ok {
		m.Deactivate(w)
	}
	w.writeLine("inactive " + moduleID)
}

func (w *Worker) handleHelp() {
	for _, line := range []string{
		"Commands: *IDN? describe ping[ <token>] activate[ <module>] deactivate[ <module>]",
		"          read <mod>:<param>  change <mod>:<param> <json-value>  do <mod>:<cmd>[ <json-arg>]",
	} {
		w.writeLine(line)
	}
}

// locate splits a "<mod>:<accessible>" specifier, optionally followed by a
// JSON payload separated by a space, as used by change/do.
func locate(rest string) (moduleID, accessibleID, payload string, ok bool) {
	spec, payload, _ := strings.Cut(rest, " ")
	moduleID, accessibleID, ok = strings.Cut(spec, ":")
	return moduleID, accessibleID, strings.TrimSpace(payload), ok
}

func (w *Worker) handleRead(ctx context.Context, rest string) {
	moduleID, paramID, _, ok := locate(rest)
	if !ok {
		w.writeError("read", rest, secoperr.New(secoperr.Syntax, "expected <module>:<parameter>"))
		return
	}
	m, ok := w.node.Module(moduleID)
	if !ok {
		w.writeError("read", rest, secoperr.New(secoperr.InvalidModule, "no such module %q", moduleID))
		return
	}
	busy, err := m.Read(ctx, paramID, w)
	if err != nil {
		w.writeError("read", rest, err)
		return
	}
	if busy {
		w.mu.Lock()
		w.todo = append(w.todo, todoEntry{moduleID: moduleID, paramID: paramID, line: rest})
		w.mu.Unlock()
	}
}

func (w *Worker) handleChange(ctx context.Context, rest string) {
	moduleID, paramID, payload, ok := locate(rest)
	if !ok || payload == "" {
		w.writeError("change", rest, secoperr.New(secoperr.Syntax, "expected <module>:<parameter> <json-value>"))
		return
	}
	spec := moduleID + ":" + paramID
	m, ok := w.node.Module(moduleID)
	if !ok {
		w.writeError("change", spec, secoperr.New(secoperr.InvalidModule, "no such module %q", moduleID))
		return
	}
	p, ok := m.Parameter(paramID)
	if !ok {
		w.writeError("change", spec, secoperr.New(secoperr.InvalidParameter, "module %q has no parameter %q", moduleID, paramID))
		return
	}
	value, err := p.Shape().ImportSECoP(payload, true)
	if err != nil {
		w.writeError("change", spec, secoperr.New(secoperr.InvalidValue, "%v", err))
		return
	}
	busy, err := m.Change(ctx, paramID, value, w)
	if err != nil {
		w.writeError("change", spec, err)
		return
	}
	if busy {
		w.mu.Lock()
		w.todo = append(w.todo, todoEntry{moduleID: moduleID, paramID: paramID, isChange: true, value: value, line: spec})
		w.mu.Unlock()
	}
}

func (w *Worker) handleDo(ctx context.Context, rest string) {
	moduleID, cmdID, payload, ok := locate(rest)
	if !ok {
		w.writeError("do", rest, secoperr.New(secoperr.Syntax, "expected <module>:<command>[ <json-arg>]"))
		return
	}
	m, ok := w.node.Module(moduleID)
	if !ok {
		w.writeError("do", rest, secoperr.New(secoperr.InvalidModule, "no such module %q", moduleID))
		return
	}
	c, ok := m.Command(cmdID)
	if !ok {
		w.writeError("do", rest, secoperr.New(secoperr.InvalidCommand, "module %q has no command %q", moduleID, cmdID))
		return
	}

	key := moduleID + ":" + cmdID
	w.mu.Lock()
	if _, running := w.pendingDo[key]; running {
		w.mu.Unlock()
		w.writeError("do", rest, secoperr.New(secoperr.CommandRunning, "command %q is already running", cmdID))
		return
	}
	w.pendingDo[key] = rest
	w.mu.Unlock()

	arg := variant.Null()
	if payload != "" && c.Shape().Arg != nil {
		v, err := c.Shape().Arg.ImportSECoP(payload, true)
		if err != nil {
			w.mu.Lock()
			delete(w.pendingDo, key)
			w.mu.Unlock()
			w.writeError("do", rest, secoperr.New(secoperr.InvalidValue, "%v", err))
			return
		}
		arg = v
	}
	if err := m.Do(ctx, cmdID, arg, w); err != nil {
		w.mu.Lock()
		delete(w.pendingDo, key)
		w.mu.Unlock()
		w.writeError("do", rest, err)
	}
}

func (w *Worker) writeLine(line string) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.bw.WriteString(line)
	w.bw.WriteByte('\n')
	w.bw.Flush()
}

func (w *Worker) writeError(verb, spec string, err error) {
	token := secoperr.TokenInternalError
	if se, ok := secoperr.AsSecopError(err); ok {
		token = secoperr.ToToken(se.Kind)
	}
	line := fmt.Sprintf("error_%s %s [%q, %q, {}]", verb, spec, string(token), err.Error())
	w.writeLine(line)
}
