package executor

import "sync"

// InterventionManager holds, per thread_ts, the single pending prompt that
// arrived while a round was already executing on that thread, per spec
// §4.3. Every operation is O(1) and non-blocking: save_pending overwrites
// whatever was there, pop_pending atomically takes-and-clears, and
// fire_interrupt is delegated straight to the engine adapter without
// waiting for an acknowledgment.
type InterventionManager struct {
	mu      sync.Mutex
	pending map[string]*PendingPrompt
	adapter interrupter
}

// interrupter is the subset of engine.Adapter the InterventionManager needs
// — kept narrow so this file has no direct import-cycle-prone dependency
// on the engine package's invocation types.
type interrupter interface {
	Interrupt(threadTS string)
}

// NewInterventionManager constructs an InterventionManager whose
// fire_interrupt calls adapter.Interrupt.
func NewInterventionManager(adapter interrupter) *InterventionManager {
	return &InterventionManager{
		pending: make(map[string]*PendingPrompt),
		adapter: adapter,
	}
}

// SavePending overwrites the pending prompt for threadTS. A second arrival
// while one is already pending discards the first — spec §3.2/§4.2's
// explicit "overwriting any prior" rule; there is never more than one
// prompt queued behind an in-flight round.
func (m *InterventionManager) SavePending(threadTS string, p *PendingPrompt) {
	m.mu.Lock()
	m.pending[threadTS] = p
	m.mu.Unlock()
}

// PopPending atomically takes and clears the pending prompt for threadTS,
// returning nil if there was none.
func (m *InterventionManager) PopPending(threadTS string) *PendingPrompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[threadTS]
	if !ok {
		return nil
	}
	delete(m.pending, threadTS)
	return p
}

// FireInterrupt is fire-and-forget: a successful interrupt is nice-to-have
// (the current round ends sooner), an unsuccessful one is harmless — the
// pending entry saved by SavePending still guarantees the new prompt runs
// once the current call finishes naturally.
func (m *InterventionManager) FireInterrupt(threadTS string) {
	m.adapter.Interrupt(threadTS)
}
