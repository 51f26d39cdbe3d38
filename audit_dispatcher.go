package goCred

import (
	"context"
	"sync"
)

// auditMustDeliver reports whether eventType records a change to an
// account's credentials or standing. These events are queued even when
// DropIfFull is set; only routine login traffic is shed.
func auditMustDeliver(eventType string) bool {
	switch eventType {
	case AuditAccountLocked,
		AuditAccountUnlocked,
		AuditPasswordChanged,
		AuditPasswordReset,
		AuditTemporaryPassword,
		AuditSessionImpersonation:
		return true
	}
	return false
}

// auditDispatcher hands events to the sink from a single goroutine so a
// slow sink never runs on the request path.
type auditDispatcher struct {
	sink       AuditSink
	dropIfFull bool
	queue      chan AuditEvent
	drained    chan struct{}

	// mu guards closed and queue closure against in-flight sends.
	mu     sync.RWMutex
	closed bool

	dropMu  sync.Mutex
	dropped map[string]uint64
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &auditDispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan AuditEvent, max(cfg.BufferSize, 1)),
		drained:    make(chan struct{}),
		dropped:    make(map[string]uint64),
	}
	go d.drain()
	return d
}

func (d *auditDispatcher) drain() {
	defer close(d.drained)
	for event := range d.queue {
		d.sink.Emit(context.Background(), event)
	}
}

// Emit queues event. A routine event meeting a full buffer is dropped when
// DropIfFull is set. Everything else waits for room or for ctx.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull && !auditMustDeliver(event.EventType) {
		select {
		case d.queue <- event:
		default:
			d.countDrop(event.EventType)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.countDrop(event.EventType)
	}
}

func (d *auditDispatcher) countDrop(eventType string) {
	d.dropMu.Lock()
	d.dropped[eventType]++
	d.dropMu.Unlock()
}

// Close stops accepting events and waits until the queued ones reach the
// sink. Calling it again is a no-op.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.drained
}

// Dropped returns the number of events that never reached the queue.
func (d *auditDispatcher) Dropped() uint64 {
	var total uint64
	for _, n := range d.DroppedByType() {
		total += n
	}
	return total
}

// DroppedByType returns the drop count per event type.
func (d *auditDispatcher) DroppedByType() map[string]uint64 {
	out := map[string]uint64{}
	if d == nil {
		return out
	}
	d.dropMu.Lock()
	defer d.dropMu.Unlock()
	for k, v := range d.dropped {
		out[k] = v
	}
	return out
}
