// Package eventbus implements the typed in-process publish/subscribe bus
// that every core component communicates through: a single dispatcher
// goroutine drains a queue and fans each event out to its kind's handlers
// concurrently. Handlers for one event run independently of each other; a
// handler failure is logged and never stops the dispatcher or its siblings.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
)

// Kind identifies an event's type for subscription and dispatch, matching
// the event kinds named in the core's event catalogue.
type Kind int

const (
	KindMarket Kind = iota
	KindSignal
	KindOrder
	KindFill
	KindControl
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindMarket:
		return "market"
	case KindSignal:
		return "signal"
	case KindOrder:
		return "order"
	case KindFill:
		return "fill"
	case KindControl:
		return "control"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is implemented by every concrete event payload type in package
// events; EventKind reports which dispatch list it is routed to.
type Event interface {
	EventKind() Kind
}

// Handler processes one event. A returned error is logged by the bus and
// passed to the onErr callback given to New; it never stops the dispatcher.
type Handler func(ctx context.Context, ev Event) error

// queueCapacity is generous: publish only blocks if a producer genuinely
// outruns the dispatcher, which the design treats as a bug to surface
// rather than paper over with an unbounded goroutine-per-publish scheme.
const queueCapacity = 4096

// Bus is the typed event bus. Zero value is not usable; construct with New.
type Bus struct {
	log *slog.Logger

	mu       sync.RWMutex
	handlers map[Kind][]Handler

	queue  chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	onErr  func(err error, ev Event)
}

// New constructs a Bus. onErr, if non-nil, is invoked whenever a handler
// returns an error. The Application Loop passes nil, so handler errors are
// only logged.
func New(log *slog.Logger, onErr func(err error, ev Event)) *Bus {
	if onErr == nil {
		onErr = func(error, Event) {}
	}
	return &Bus{
		log:      log,
		handlers: make(map[Kind][]Handler),
		queue:    make(chan Event, queueCapacity),
		done:     make(chan struct{}),
		onErr:    onErr,
	}
}

// Subscribe registers handler to run whenever an event of kind is
// dispatched. Subscriptions made after Start are safe; the registry is
// mutex-guarded.
func (b *Bus) Subscribe(kind Kind, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], handler)
}

// Publish enqueues ev for dispatch. It blocks only if the queue is
// momentarily full; it never silently drops an event.
func (b *Bus) Publish(ev Event) {
	b.queue <- ev
}

// Start launches the single dispatcher goroutine. It runs until Stop is
// called.
func (b *Bus) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.dispatchLoop(ctx)
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case ev, ok := <-b.queue:
			if !ok {
				return
			}
			b.dispatch(ctx, ev)
		case <-b.done:
			b.drain(ctx)
			return
		}
	}
}

// drain dispatches every event still queued before the dispatcher exits,
// satisfying the "already-queued events are drained before handler
// cancellation" stop contract.
func (b *Bus) drain(ctx context.Context) {
	for {
		select {
		case ev := <-b.queue:
			b.dispatch(ctx, ev)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[ev.EventKind()]...)
	b.mu.RUnlock()

	var hwg sync.WaitGroup
	for _, h := range handlers {
		h := h
		hwg.Add(1)
		go func() {
			defer hwg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("eventbus: handler panic", "kind", ev.EventKind(), "panic", r)
				}
			}()
			if err := h(ctx, ev); err != nil {
				b.log.Error("eventbus: handler error", "kind", ev.EventKind(), "error", err)
				b.onErr(err, ev)
			}
		}()
	}
	hwg.Wait()
}

// Stop signals the dispatcher to drain remaining events and exit, then
// waits for it to do so.
func (b *Bus) Stop() {
	close(b.done)
	b.wg.Wait()
}

// QueueLen reports the current queue depth, used by metrics and by
// WaitEmpty.
func (b *Bus) QueueLen() int {
	return len(b.queue)
}

// WaitEmpty blocks until the queue is observed empty, or ctx is canceled.
// Because dispatch happens concurrently with Publish, this is a
// best-effort convenience for tests and shutdown sequencing, not a strict
// barrier.
func (b *Bus) WaitEmpty(ctx context.Context) error {
	for {
		if b.QueueLen() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
