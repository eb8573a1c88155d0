package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// UrgentSeverity is the lowest severity routed through the urgent lane.
// Urgent events are never dropped: when their lane is full they are handed
// to the sink on the emitting goroutine, so sinks must be safe for
// concurrent use.
const UrgentSeverity = SeverityHigh

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled bool
	// BufferSize bounds the routine lane (events below UrgentSeverity).
	BufferSize int
	// UrgentBufferSize bounds the urgent lane. Zero means BufferSize.
	UrgentBufferSize int
	// DropIfFull applies to the routine lane only.
	DropIfFull bool
}

// Dispatcher forwards audit events to a sink from a background worker. The
// worker always empties the urgent lane before taking routine events, so a
// burst of login noise cannot delay a reuse or lockout alert. It is itself a
// Sink, so components can be handed either one.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool

	routine chan Event
	urgent  chan Event
	done    chan struct{}
	wg      sync.WaitGroup

	// mu orders urgent sends against Close so none lands after the final drain.
	mu     sync.RWMutex
	closed atomic.Bool
	once   sync.Once

	dropped atomic.Uint64
	inlined atomic.Uint64
}

// NewDispatcher returns nil when cfg.Enabled is false; a nil *Dispatcher
// accepts and discards events.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.UrgentBufferSize <= 0 {
		cfg.UrgentBufferSize = cfg.BufferSize
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		routine:    make(chan Event, cfg.BufferSize),
		urgent:     make(chan Event, cfg.UrgentBufferSize),
		done:       make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	ctx := context.Background()

	for {
		select {
		case event := <-d.urgent:
			d.sink.Emit(ctx, event)
			continue
		default:
		}

		select {
		case event := <-d.urgent:
			d.sink.Emit(ctx, event)
		case event := <-d.routine:
			d.sink.Emit(ctx, event)
		case <-d.done:
			d.drain(ctx, d.urgent)
			d.drain(ctx, d.routine)
			return
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context, ch chan Event) {
	for {
		select {
		case event := <-ch:
			d.sink.Emit(ctx, event)
		default:
			return
		}
	}
}

// Emit routes event by severity. Routine events follow DropIfFull and are
// ignored once the dispatcher is closed; urgent events are always delivered.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Severity >= UrgentSeverity {
		d.emitUrgent(ctx, event)
		return
	}
	if d.closed.Load() {
		return
	}

	if d.dropIfFull {
		select {
		case d.routine <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.routine <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.done:
	}
}

func (d *Dispatcher) emitUrgent(ctx context.Context, event Event) {
	d.mu.RLock()
	if !d.closed.Load() {
		select {
		case d.urgent <- event:
			d.mu.RUnlock()
			return
		default:
		}
	}
	d.mu.RUnlock()

	d.inlined.Add(1)
	d.sink.Emit(ctx, event)
}

// Close stops accepting routine events and drains what is already buffered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.mu.Lock()
		d.closed.Store(true)
		d.mu.Unlock()
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped counts routine events discarded because their lane was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Inlined counts urgent events delivered on the emitting goroutine because
// the urgent lane was full or the dispatcher was closed.
func (d *Dispatcher) Inlined() uint64 {
	if d == nil {
		return 0
	}
	return d.inlined.Load()
}
