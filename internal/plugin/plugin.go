// Package plugin implements the HookDispatcher and PluginHost: a priority-
// ordered hook dispatch mechanism and a load/unload registry for the
// handlers that back it, per spec §4.7.
package plugin

import "context"

// HookResult is a handler's verdict for a single hook invocation.
type HookResult int

const (
	// Continue appends the handler's value to the dispatch results and lets
	// the chain proceed to the next handler.
	Continue HookResult = iota
	// Skip omits the handler's value from the dispatch results but lets the
	// chain proceed.
	Skip
	// Stop halts the chain immediately; the handler's value is still
	// appended, and the dispatch context is marked stopped.
	Stop
)

// Handler is one hook's callback, called synchronously in the dispatch
// chain. value is opaque to the dispatcher.
type Handler func(ctx context.Context, payload any) (HookResult, any, error)

// RegisteredHook pairs a Handler with the priority it was registered at —
// higher priority runs first.
type RegisteredHook struct {
	Handler  Handler
	Priority int
	Owner    string // plugin name, for logging and unload-time pruning
}

// Plugin is the contract every loadable plugin implements.
type Plugin interface {
	// Name identifies the plugin for load/unload/notify purposes.
	Name() string
	// OnLoad is called once, before the plugin's hooks are registered, with the host-provided
	// config blob (opaque to the host, interpreted by the plugin).
	OnLoad(ctx context.Context, config map[string]any) error
	// OnUnload is called once, before the plugin is removed from the host.
	OnUnload(ctx context.Context) error
	// RegisterHooks returns the hook_name -> Handler map this plugin wants
	// dispatched to it, each paired with a dispatch priority.
	RegisterHooks() map[string]RegisteredHook
}

// Well-known hook names used by the core, per spec §4.7.
const (
	HookOnStartup  = "on_startup"
	HookOnShutdown = "on_shutdown"
	HookOnMessage  = "on_message"
	HookOnReaction = "on_reaction"
	HookOnCommand  = "on_command"
	// HookOnImageGen and HookOnListRun back the IMAGE_GEN/LIST_RUN result
	// markers (spec §4.6): both are externally implemented, so the core
	// only dispatches them and leaves the real work to whatever plugin
	// registers the hook.
	HookOnImageGen = "on_image_gen"
	HookOnListRun  = "on_list_run"
)
