// Package wasmhandler lets a getter/setter/command handler be a sandboxed
// WASM guest instead of a native Go closure (spec §9's design note that the
// backend bridge must admit handlers uniformly regardless of how they're
// implemented). It is grounded in tetratelabs/wazero, present in the
// teacher's go.mod as a standalone dependency with no caller left in the
// kept source tree; this package gives it one.
package wasmhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"

	"github.com/secop-sine2020/secopd/internal/secoperr"
	"github.com/secop-sine2020/secopd/internal/secopmodel"
	"github.com/secop-sine2020/secopd/internal/variant"
)

// Handler hosts one compiled WASM module and exposes its exported
// secop_get/secop_set/secop_do functions as secopmodel Getter/Setter/Doer
// closures. Only synchronous (callback-mode) handlers are backed this way;
// polling-mode dispatch has no analog for a guest that cannot be "pulled"
// by an external embedding loop.
type Handler struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
}

// getRequest/getResponse etc. are the JSON envelopes crossing the host/guest
// boundary over WASM linear memory. A guest exports an "alloc" function the
// host uses to place the request bytes, then calls secop_get/secop_set/
// secop_do with (ptr, len) and receives a packed (ptr<<32|len) result
// pointing at a JSON response buffer the host reads back out.
type getRequest struct {
	Param string `json:"param"`
}

type setRequest struct {
	Param string          `json:"param"`
	Value json.RawMessage `json:"value"`
}

type doRequest struct {
	Command string          `json:"command"`
	Arg     json.RawMessage `json:"arg,omitempty"`
}

type guestResponse struct {
	Value     json.RawMessage `json:"value"`
	Timestamp float64         `json:"timestamp"`
	Error     string          `json:"error,omitempty"`
}

// Load compiles the WASM module at path once; the compiled module is then
// instantiated fresh for every call, isolating guest state between SECoP
// requests the way a stateless backend driver should behave.
func Load(ctx context.Context, path string) (*Handler, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wasmhandler: reading %s: %w", path, err)
	}
	rt := wazero.NewRuntime(ctx)
	compiled, err := rt.CompileModule(ctx, code)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("wasmhandler: compiling %s: %w", path, err)
	}
	return &Handler{runtime: rt, compiled: compiled}, nil
}

// Close releases the underlying wazero runtime and its compiled module.
func (h *Handler) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

// Getter returns a secopmodel.Getter that calls the guest's secop_get
// export for paramID, decoding the guest's response against shape.
func (h *Handler) Getter(paramID string, shape *variant.Shape) secopmodel.Getter {
	return func(ctx context.Context, id string) secopmodel.Completion {
		resp, err := h.call(ctx, "secop_get", getRequest{Param: paramID})
		if err != nil {
			return secopmodel.Completion{Err: err}
		}
		return resp.toCompletion(shape)
	}
}

// Setter returns a secopmodel.Setter that calls the guest's secop_set
// export with the requested value.
func (h *Handler) Setter(paramID string, shape *variant.Shape) secopmodel.Setter {
	return func(ctx context.Context, id string, requested variant.Variant) secopmodel.Completion {
		raw, err := requested.ExportJSON()
		if err != nil {
			return secopmodel.Completion{Err: secoperr.New(secoperr.Internal, "%v", err)}
		}
		resp, err := h.call(ctx, "secop_set", setRequest{Param: paramID, Value: raw})
		if err != nil {
			return secopmodel.Completion{Err: err}
		}
		return resp.toCompletion(shape)
	}
}

// Doer returns a secopmodel.Doer that calls the guest's secop_do export.
// resultShape may be nil (a command whose result is Null).
func (h *Handler) Doer(cmdID string, resultShape *variant.Shape) secopmodel.Doer {
	return func(ctx context.Context, id string, arg variant.Variant) secopmodel.Completion {
		req := doRequest{Command: cmdID}
		if arg.Kind() != variant.KindNull {
			raw, err := arg.ExportJSON()
			if err != nil {
				return secopmodel.Completion{Err: secoperr.New(secoperr.Internal, "%v", err)}
			}
			req.Arg = raw
		}
		resp, err := h.call(ctx, "secop_do", req)
		if err != nil {
			return secopmodel.Completion{Err: err}
		}
		if resultShape == nil {
			return secopmodel.Completion{Value: variant.Null(), Timestamp: resp.Timestamp}
		}
		return resp.toCompletion(resultShape)
	}
}

func (r guestResponse) toCompletion(shape *variant.Shape) secopmodel.Completion {
	if r.Error != "" {
		return secopmodel.Completion{Err: secoperr.New(secoperr.CommFailed, "%s", r.Error)}
	}
	v, err := shape.ImportJSON(r.Value, true)
	if err != nil {
		return secopmodel.Completion{Err: secoperr.New(secoperr.InvalidValue, "guest returned a value that does not match datainfo: %v", err)}
	}
	return secopmodel.Completion{Value: v, Timestamp: r.Timestamp}
}

// call instantiates a fresh module instance, writes req as JSON into guest
// memory via its exported "alloc", invokes export with (ptr, len), and reads
// back the packed (ptr<<32|len) response.
func (h *Handler) call(ctx context.Context, export string, req any) (guestResponse, error) {
	mod, err := h.runtime.InstantiateModule(ctx, h.compiled, wazero.NewModuleConfig())
	if err != nil {
		return guestResponse{}, secoperr.New(secoperr.CommFailed, "wasm guest instantiation failed: %v", err)
	}
	defer mod.Close(ctx)

	payload, err := json.Marshal(req)
	if err != nil {
		return guestResponse{}, secoperr.New(secoperr.Internal, "%v", err)
	}

	alloc := mod.ExportedFunction("alloc")
	fn := mod.ExportedFunction(export)
	if alloc == nil || fn == nil {
		return guestResponse{}, secoperr.New(secoperr.NotImplemented, "wasm guest does not export %q and alloc", export)
	}

	results, err := alloc.Call(ctx, uint64(len(payload)))
	if err != nil || len(results) != 1 {
		return guestResponse{}, secoperr.New(secoperr.CommFailed, "wasm guest alloc failed: %v", err)
	}
	ptr := uint32(results[0])

	if !mod.Memory().Write(ptr, payload) {
		return guestResponse{}, secoperr.New(secoperr.CommFailed, "wasm guest memory write out of range")
	}

	results, err = fn.Call(ctx, uint64(ptr), uint64(len(payload)))
	if err != nil || len(results) != 1 {
		return guestResponse{}, secoperr.New(secoperr.CommFailed, "wasm guest call %q failed: %v", export, err)
	}

	packed := results[0]
	respPtr := uint32(packed >> 32)
	respLen := uint32(packed)
	raw, ok := mod.Memory().Read(respPtr, respLen)
	if !ok {
		return guestResponse{}, secoperr.New(secoperr.CommFailed, "wasm guest response out of range")
	}

	var resp guestResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return guestResponse{}, secoperr.New(secoperr.CommFailed, "wasm guest returned invalid JSON: %v", err)
	}
	return resp, nil
}
