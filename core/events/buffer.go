package events

import "sync"

// Buffer collects events raised during a state transaction and forwards them
// to the sink only once the transaction commits. Discard drops events from a
// failed call so subscribers never observe transitions that were rolled back.
type Buffer struct {
	mu      sync.Mutex
	sink    Emitter
	pending []Event
}

// NewBuffer returns a buffer in front of the supplied sink. A nil sink is
// replaced with a NoopEmitter.
func NewBuffer(sink Emitter) *Buffer {
	if sink == nil {
		sink = NoopEmitter{}
	}
	return &Buffer{sink: sink}
}

// Emit queues the event until Flush.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, evt)
}

// Flush forwards queued events to the sink in emission order.
func (b *Buffer) Flush() {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	for _, evt := range pending {
		b.sink.Emit(evt)
	}
}

// Discard drops queued events without forwarding them.
func (b *Buffer) Discard() {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}
