package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

const hostModuleName = "atomic_cloud_host"

// WasmHost instantiates one driver plugin as a sandboxed WASM module via
// wazero, with WASI support. It implements Driver by calling the module's
// exported init/init_node/tick/shutdown functions (and a NodeHandle's
// allocate/free/start/restart/stop/tick through wasmNodeHandle), passing
// arguments and results as JSON over the module's wasm_alloc/wasm_free
// shared-memory convention. Host functions implementing HTTP egress,
// filesystem mounts, process spawn, and directory removal are
// capability-gated per plugin (configs/wasm-plugins.toml).
type WasmHost struct {
	name   string
	log    zerolog.Logger
	grants Grants

	runtime    wazero.Runtime
	module     api.Module
	callBudget time.Duration

	// mu serializes exported calls: the module has one shared linear memory,
	// so two concurrent calls could stomp each other's wasm_alloc regions.
	mu sync.Mutex
}

// NewWasmHost loads wasmBytes as plugin name with grants, instantiating a
// fresh runtime and WASI snapshot. epochInterval bounds any single call's
// CPU budget: every exported call runs under a context with that timeout,
// and WithCloseOnContextDone(true) tells wazero to tear the module down
// cooperatively at its next safe point rather than let a runaway host call
// block the controller tick forever. A zero epochInterval disables the
// bound.
func NewWasmHost(ctx context.Context, log zerolog.Logger, name string, wasmBytes []byte, grants Grants, epochInterval time.Duration) (*WasmHost, error) {
	cfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithCompilationCache(wazero.NewCompilationCache())

	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi for plugin %s: %w", name, err)
	}

	h := &WasmHost{
		name:       name,
		log:        log.With().Str("plugin", name).Logger(),
		grants:     grants,
		runtime:    rt,
		callBudget: epochInterval,
	}

	if err := h.registerHostFunctions(ctx); err != nil {
		rt.Close(ctx)
		return nil, err
	}

	mod, err := rt.InstantiateWithConfig(ctx, wasmBytes,
		wazero.NewModuleConfig().WithStdout(os.Stdout).WithStderr(os.Stderr).WithName(name))
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate module for plugin %s: %w", name, err)
	}
	h.module = mod

	return h, nil
}

// registerHostFunctions wires the capability-gated host imports a plugin
// may call out to. Each returns 0 if the plugin's configured grants allow
// the capability, 1 if denied -- the plugin is expected to treat a denial
// as a normal business-logic failure, not a trap.
func (h *WasmHost) registerHostFunctions(ctx context.Context) error {
	builder := h.runtime.NewHostModuleBuilder(hostModuleName)
	gated := []struct {
		name       string
		capability Capability
	}{
		{"http_egress", CapHTTPEgress},
		{"fs_mount", CapFilesystemMount},
		{"process_spawn", CapProcessSpawn},
		{"dir_remove", CapDirectoryRemove},
	}
	for _, fn := range gated {
		capability := fn.capability
		builder = builder.NewFunctionBuilder().
			WithFunc(func(context.Context, api.Module) uint32 {
				if err := h.checkCapability(capability); err != nil {
					h.log.Warn().Err(err).Msg("plugin attempted a capability it was not granted")
					return 1
				}
				return 0
			}).
			Export(fn.name)
	}
	_, err := builder.Instantiate(ctx)
	return err
}

func (h *WasmHost) checkCapability(c Capability) error {
	if !h.grants.Allows(c) {
		return &CapabilityDeniedError{Plugin: h.name, Capability: c}
	}
	return nil
}

// withBudget bounds ctx to the plugin's per-call CPU budget. A zero budget
// leaves ctx untouched.
func (h *WasmHost) withBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.callBudget <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, h.callBudget)
}

func (h *WasmHost) Init(ctx context.Context) (Information, error) {
	var info Information
	if err := h.callExported(ctx, "init", nil, &info); err != nil {
		return Information{}, err
	}
	return info, nil
}

type wasmInitNodeRequest struct {
	Name         string           `json:"name"`
	Capabilities Capabilities     `json:"capabilities"`
	Controller   RemoteController `json:"controller"`
}

type wasmInitNodeResponse struct {
	Handle uint64 `json:"handle"`
}

func (h *WasmHost) InitNode(ctx context.Context, name string, caps Capabilities, controller RemoteController) (NodeHandle, error) {
	var resp wasmInitNodeResponse
	req := wasmInitNodeRequest{Name: name, Capabilities: caps, Controller: controller}
	if err := h.callExported(ctx, "init_node", req, &resp); err != nil {
		return nil, err
	}
	return &wasmNodeHandle{host: h, handle: resp.Handle}, nil
}

type wasmTickResponse struct {
	Errors []string `json:"errors"`
}

func (h *WasmHost) Tick(ctx context.Context) error {
	var resp wasmTickResponse
	if err := h.callExported(ctx, "tick", nil, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return fmt.Errorf("plugin %s reported %d tick error(s): %s", h.name, len(resp.Errors), resp.Errors[0])
	}
	return nil
}

func (h *WasmHost) Shutdown(ctx context.Context) error {
	return h.callExported(ctx, "shutdown", nil, nil)
}

// Close tears down the underlying wazero runtime, including the module
// instance it holds; called after Shutdown by the plugin host's registered
// closer.
func (h *WasmHost) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

// callExported marshals req (if non-nil) to JSON, invokes fnName through
// the module's wasm_alloc/wasm_free shared-memory convention -- the
// ptr/len packing used to cross byte slices over the WASM boundary -- and
// unmarshals the JSON result into resp (if non-nil).
func (h *WasmHost) callExported(ctx context.Context, fnName string, req any, resp any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	budgetCtx, cancel := h.withBudget(ctx)
	defer cancel()

	var payload []byte
	if req != nil {
		b, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("marshal %s request for plugin %s: %w", fnName, h.name, err)
		}
		payload = b
	}

	out, err := callBytesFn(budgetCtx, h.module, fnName, payload)
	if err != nil {
		return fmt.Errorf("plugin %s: %w", h.name, err)
	}
	if resp != nil && len(out) > 0 {
		if err := json.Unmarshal(out, resp); err != nil {
			return fmt.Errorf("unmarshal %s response from plugin %s: %w", fnName, h.name, err)
		}
	}
	return nil
}

// callBytesFn implements the (ptr,len) shared-memory calling convention: it
// allocates space for input via the guest's exported wasm_alloc, writes it,
// invokes fnName(ptr,len) expecting a packed (ptr<<32)|len result, reads the
// result back out of linear memory, then frees both buffers via wasm_free.
func callBytesFn(ctx context.Context, mod api.Module, fnName string, input []byte) ([]byte, error) {
	targetFn := mod.ExportedFunction(fnName)
	if targetFn == nil {
		return nil, fmt.Errorf("missing export %q", fnName)
	}
	allocFn := mod.ExportedFunction("wasm_alloc")
	freeFn := mod.ExportedFunction("wasm_free")

	var inputPtr, inputLen uint64
	if len(input) > 0 {
		if allocFn == nil || freeFn == nil {
			return nil, fmt.Errorf("plugin does not export wasm_alloc/wasm_free required to call %q with arguments", fnName)
		}
		inputLen = uint64(len(input))
		results, err := allocFn.Call(ctx, inputLen)
		if err != nil {
			return nil, fmt.Errorf("wasm_alloc: %w", err)
		}
		inputPtr = results[0]
		if !mod.Memory().Write(uint32(inputPtr), input) {
			freeFn.Call(ctx, inputPtr, inputLen)
			return nil, fmt.Errorf("wasm memory write out of range")
		}
	}

	results, err := targetFn.Call(ctx, inputPtr, inputLen)
	if len(input) > 0 {
		freeFn.Call(ctx, inputPtr, inputLen)
	}
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", fnName, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	packed := results[0]
	resultPtr := uint32(packed >> 32)
	resultLen := uint32(packed & 0xFFFFFFFF)
	if resultPtr == 0 || resultLen == 0 {
		return nil, nil
	}
	out, ok := mod.Memory().Read(resultPtr, resultLen)
	if !ok {
		return nil, fmt.Errorf("wasm memory read out of range")
	}
	copied := make([]byte, len(out))
	copy(copied, out)
	if freeFn != nil {
		freeFn.Call(ctx, uint64(resultPtr), uint64(resultLen))
	}
	return copied, nil
}

// wasmNodeHandle is the NodeHandle a WasmHost hands back from InitNode: a
// handle id minted by the guest's init_node, threaded through every
// subsequent call so the guest can look up which node instance it refers
// to.
type wasmNodeHandle struct {
	host   *WasmHost
	handle uint64
}

type wasmAllocateRequest struct {
	Handle    uint64    `json:"handle"`
	PortCount int       `json:"port_count"`
	Resources Resources `json:"resources"`
	Spec      Spec      `json:"spec"`
}

type wasmAllocateResponse struct {
	Addresses []Address `json:"addresses"`
}

func (n *wasmNodeHandle) Allocate(ctx context.Context, proposal AllocationProposal) ([]Address, error) {
	var resp wasmAllocateResponse
	req := wasmAllocateRequest{Handle: n.handle, PortCount: proposal.PortCount, Resources: proposal.Resources, Spec: proposal.Spec}
	if err := n.host.callExported(ctx, "allocate", req, &resp); err != nil {
		return nil, err
	}
	return resp.Addresses, nil
}

type wasmFreeRequest struct {
	Handle    uint64    `json:"handle"`
	Addresses []Address `json:"addresses"`
}

func (n *wasmNodeHandle) Free(ctx context.Context, addrs []Address) error {
	return n.host.callExported(ctx, "free", wasmFreeRequest{Handle: n.handle, Addresses: addrs}, nil)
}

type wasmServerRequest struct {
	Handle uint64        `json:"handle"`
	Server ServerContext `json:"server"`
}

type wasmStartResponse struct {
	Supported bool `json:"supported"`
}

func (n *wasmNodeHandle) Start(ctx context.Context, server ServerContext) (StartOutcome, error) {
	var resp wasmStartResponse
	if err := n.host.callExported(ctx, "start", wasmServerRequest{Handle: n.handle, Server: server}, &resp); err != nil {
		return StartOutcome{}, err
	}
	if !resp.Supported {
		return StartOutcome{Supported: false}, nil
	}
	return StartOutcome{Supported: true, Screen: &wasmScreenHandle{host: n.host, handle: n.handle, serverID: server.ServerID}}, nil
}

func (n *wasmNodeHandle) Restart(ctx context.Context, server ServerContext) error {
	return n.host.callExported(ctx, "restart", wasmServerRequest{Handle: n.handle, Server: server}, nil)
}

func (n *wasmNodeHandle) Stop(ctx context.Context, server ServerContext, guard *Guard) error {
	// The guard has no cross-boundary representation -- a wasm plugin polls
	// by retrying stop, not by holding a reference to it -- so it's left
	// untouched here, matching the loopback driver's handling of the same
	// parameter.
	return n.host.callExported(ctx, "stop", wasmServerRequest{Handle: n.handle, Server: server}, nil)
}

func (n *wasmNodeHandle) Tick(ctx context.Context) error {
	return n.host.callExported(ctx, "node_tick", struct {
		Handle uint64 `json:"handle"`
	}{n.handle}, nil)
}

// wasmScreenHandle is the ScreenHandle returned from a wasm driver's start
// call when it reports screen support.
type wasmScreenHandle struct {
	host     *WasmHost
	handle   uint64
	serverID string
}

type wasmScreenRequest struct {
	Handle   uint64 `json:"handle"`
	ServerID string `json:"server_id"`
}

type wasmPullResponse struct {
	Lines []string `json:"lines"`
}

func (s *wasmScreenHandle) Pull(ctx context.Context) ([]string, error) {
	var resp wasmPullResponse
	if err := s.host.callExported(ctx, "screen_pull", wasmScreenRequest{Handle: s.handle, ServerID: s.serverID}, &resp); err != nil {
		return nil, err
	}
	return resp.Lines, nil
}

type wasmWriteRequest struct {
	Handle   uint64 `json:"handle"`
	ServerID string `json:"server_id"`
	Data     []byte `json:"data"`
}

func (s *wasmScreenHandle) Write(ctx context.Context, data []byte) error {
	return s.host.callExported(ctx, "screen_write", wasmWriteRequest{Handle: s.handle, ServerID: s.serverID, Data: data}, nil)
}
