package sdk

import (
	"context"
	"fmt"
	"sync"
)

// PermissionHandler decides whether the CLI may run a tool. It is called
// from the receive loop, so a slow decision holds up later traffic.
type PermissionHandler interface {
	CanUseTool(ctx context.Context, toolName string, input map[string]any, permCtx ToolPermissionContext) (PermissionResult, error)
}

// CanUseTool lets a plain function act as a PermissionHandler.
func (f CanUseToolFunc) CanUseTool(ctx context.Context, toolName string, input map[string]any, permCtx ToolPermissionContext) (PermissionResult, error) {
	return f(ctx, toolName, input, permCtx)
}

// HookHandler answers hook_callback requests for one registered callback id.
type HookHandler interface {
	HandleHook(ctx context.Context, input HookInput, toolUseID *string) (HookOutput, error)
}

// HandleHook lets a plain function act as a HookHandler.
func (f HookCallback) HandleHook(ctx context.Context, input HookInput, toolUseID *string) (HookOutput, error) {
	return f(ctx, input, toolUseID)
}

// callbackRegistry holds the caller-supplied handlers the receive loop
// dispatches to. Lookups copy the handler out; the lock is never held
// while a handler runs.
type callbackRegistry struct {
	mu         sync.RWMutex
	permission PermissionHandler
	hooks      map[string]HookHandler
	nextHookID int
}

func newCallbackRegistry(permission PermissionHandler) *callbackRegistry {
	return &callbackRegistry{
		permission: permission,
		hooks:      make(map[string]HookHandler),
	}
}

func (r *callbackRegistry) permissionHandler() PermissionHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.permission
}

// registerHook stores h under a fresh "hook_N" id and returns the id.
func (r *callbackRegistry) registerHook(h HookHandler) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := fmt.Sprintf("hook_%d", r.nextHookID)
	r.nextHookID++
	r.hooks[id] = h
	return id
}

func (r *callbackRegistry) hook(id string) (HookHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hooks[id]
	return h, ok
}
