package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Factory builds a fresh Plugin instance by name. Since Go has no runtime
// dynamic-module reimport equivalent to Python's importlib.reload, plugins
// are registered at compile time through a Factory rather than loaded from
// a path, the same way the teacher's coordinator holds a fixed set of
// constructible agent kinds rather than discovering them at runtime.
type Factory func() Plugin

// PluginHost is the load/unload registry for plugins, dispatching their
// hooks through a HookDispatcher. Grounded on internal/kogagent's
// Coordinator: a mutex-guarded map of named things, with register/kill/
// list/broadcast-shaped operations.
type PluginHost struct {
	mu         sync.RWMutex
	factories  map[string]Factory
	loaded     map[string]Plugin
	dispatcher *HookDispatcher
	logger     zerolog.Logger
}

func NewHost(dispatcher *HookDispatcher, logger zerolog.Logger) *PluginHost {
	return &PluginHost{
		factories:  make(map[string]Factory),
		loaded:     make(map[string]Plugin),
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "plugin_host").Logger(),
	}
}

// RegisterFactory makes a plugin kind loadable by name. Call before Load.
func (h *PluginHost) RegisterFactory(name string, f Factory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.factories[name] = f
}

// Load instantiates, configures, and registers the named plugin's hooks.
// A failing OnLoad leaves the host state unchanged — the plugin is never
// added to loaded and its hooks are never registered.
func (h *PluginHost) Load(ctx context.Context, name string, config map[string]any) error {
	h.mu.Lock()
	factory, ok := h.factories[name]
	if _, already := h.loaded[name]; already {
		h.mu.Unlock()
		return fmt.Errorf("plugin %q already loaded", name)
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("no registered factory for plugin %q", name)
	}

	p := factory()
	if err := p.OnLoad(ctx, config); err != nil {
		return fmt.Errorf("plugin %q OnLoad failed: %w", name, err)
	}

	h.mu.Lock()
	h.loaded[name] = p
	h.mu.Unlock()

	for hookName, hook := range p.RegisterHooks() {
		hook.Owner = p.Name()
		h.dispatcher.Register(hookName, hook)
	}
	h.logger.Info().Str("plugin", name).Msg("plugin loaded")
	return nil
}

// Unload calls the plugin's OnUnload and removes its hooks from the
// dispatcher regardless of whether OnUnload returns an error — a plugin
// that fails to clean up after itself must still stop receiving events.
func (h *PluginHost) Unload(ctx context.Context, name string) error {
	h.mu.Lock()
	p, ok := h.loaded[name]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("plugin %q not loaded", name)
	}
	delete(h.loaded, name)
	h.mu.Unlock()

	h.dispatcher.Unregister(p.Name())

	if err := p.OnUnload(ctx); err != nil {
		h.logger.Warn().Err(err).Str("plugin", name).Msg("plugin OnUnload failed, hooks removed anyway")
		return err
	}
	h.logger.Info().Str("plugin", name).Msg("plugin unloaded")
	return nil
}

// Reload unloads (tolerating an unload error) and loads the plugin again
// with a possibly new config.
func (h *PluginHost) Reload(ctx context.Context, name string, config map[string]any) error {
	if h.IsLoaded(name) {
		_ = h.Unload(ctx, name)
	}
	return h.Load(ctx, name, config)
}

func (h *PluginHost) IsLoaded(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.loaded[name]
	return ok
}

// List returns the currently loaded plugin names.
func (h *PluginHost) List() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.loaded))
	for name := range h.loaded {
		names = append(names, name)
	}
	return names
}

// ShutdownAll unloads every loaded plugin, collecting (not stopping on)
// individual unload errors so one broken plugin can't block shutdown of
// the rest.
func (h *PluginHost) ShutdownAll(ctx context.Context) []error {
	var errs []error
	for _, name := range h.List() {
		if err := h.Unload(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("unloading %q: %w", name, err))
		}
	}
	return errs
}
