package sdk

import (
	"encoding/json"
	"fmt"
	"sync"
)

// controlResult is what a waiter receives for its request id.
type controlResult struct {
	payload json.RawMessage
	errMsg  string
	isError bool
}

// pendingTable correlates outbound control requests with their responses.
// Each slot is single-use: it is resolved, removed on timeout, or closed
// when the connection ends. The lock is never held across I/O.
type pendingTable struct {
	mu     sync.Mutex
	slots  map[string]chan controlResult
	closed bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{slots: make(map[string]chan controlResult)}
}

// register opens a slot for id. The returned channel yields exactly one
// result, or is closed without a value if the table shuts down first.
func (p *pendingTable) register(id string) (<-chan controlResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrConnectionClosed
	}
	if _, exists := p.slots[id]; exists {
		return nil, fmt.Errorf("%w: duplicate request id %s", ErrControlProtocol, id)
	}
	ch := make(chan controlResult, 1)
	p.slots[id] = ch
	return ch, nil
}

// resolve delivers res to the waiter for id. It reports false when no
// such waiter exists (already answered, timed out, or never sent).
func (p *pendingTable) resolve(id string, res controlResult) bool {
	p.mu.Lock()
	ch, ok := p.slots[id]
	if ok {
		delete(p.slots, id)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- res
	return true
}

// remove drops the slot for id without delivering anything.
func (p *pendingTable) remove(id string) {
	p.mu.Lock()
	delete(p.slots, id)
	p.mu.Unlock()
}

// closeAll abandons every outstanding request and refuses new ones.
func (p *pendingTable) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for id, ch := range p.slots {
		close(ch)
		delete(p.slots, id)
	}
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}
