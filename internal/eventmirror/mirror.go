// Package eventmirror optionally mirrors core events onto Redis Streams
// and Pub/Sub so external consumers (a dashboard, an alerting pipeline, an
// ad-hoc notebook) can observe the trading core without coupling to its
// in-process event bus. Grounded on the teacher's internal/store/redis
// writer/bufferedwriter/circuitbreaker trio: the XADD-with-trim-then-SET
// latest-then-PUBLISH pipeline pattern is kept verbatim, re-themed from
// candle/indicator payloads to this domain's market/signal/order/fill/
// control/error events, and writes during a Redis outage are buffered
// locally and replayed when the circuit closes instead of being dropped.
package eventmirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"ktrader/internal/eventbus"
	"ktrader/internal/events"
)

const (
	streamMaxLen  = 5000
	latestTTL     = 30 * time.Minute
	defaultMaxBuf = 10000
)

// Config configures the Redis connection backing the mirror.
type Config struct {
	Addr     string
	Password string
	DB       int

	MaxFailures   int           // consecutive failures before the circuit opens
	ResetTimeout  time.Duration // how long the circuit stays open before probing
	MaxBufferSize int           // buffered writes kept while the circuit is open
}

// Mirror subscribes to the event bus and fans every event out to Redis.
type Mirror struct {
	client *goredis.Client
	cb     *CircuitBreaker
	log    *slog.Logger

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int
}

type pendingWrite struct {
	Stream string
	Latest string
	PubSub string
	Data   []byte
}

// New dials Redis and constructs a Mirror. It pings once so misconfiguration
// surfaces at startup rather than on the first event.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Mirror, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("eventmirror: redis ping: %w", err)
	}

	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	resetTimeout := cfg.ResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = 10 * time.Second
	}
	maxBuf := cfg.MaxBufferSize
	if maxBuf <= 0 {
		maxBuf = defaultMaxBuf
	}

	m := &Mirror{
		client: client,
		cb:     NewCircuitBreaker(maxFailures, resetTimeout),
		log:    log,
		buffer: make([]pendingWrite, 0, 256),
		maxBuf: maxBuf,
	}

	m.cb.OnStateChange = func(from, to State) {
		log.Info("eventmirror: circuit state change", "from", from, "to", to)
		if to == StateClosed {
			go m.flush(context.Background())
		}
	}

	return m, nil
}

// Client returns the underlying Redis client, for health checks.
func (m *Mirror) Client() *goredis.Client { return m.client }

// Subscribe registers the mirror's handlers on bus for every event kind it
// mirrors. Handler errors are logged by the bus itself; mirroring never
// blocks or fails the core pipeline.
func (m *Mirror) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.KindMarket, func(ctx context.Context, ev eventbus.Event) error {
		mkt := ev.(events.MarketEvent)
		return m.write(ctx, "mkt", mkt.Symbol, mkt)
	})
	bus.Subscribe(eventbus.KindSignal, func(ctx context.Context, ev eventbus.Event) error {
		sig := ev.(events.SignalEvent)
		return m.write(ctx, "sig", sig.Symbol, sig)
	})
	bus.Subscribe(eventbus.KindOrder, func(ctx context.Context, ev eventbus.Event) error {
		ord := ev.(events.OrderEvent)
		return m.write(ctx, "ord", ord.Order.Symbol, ord)
	})
	bus.Subscribe(eventbus.KindFill, func(ctx context.Context, ev eventbus.Event) error {
		fill := ev.(events.FillEvent)
		return m.write(ctx, "fill", fill.OrderID, fill)
	})
	bus.Subscribe(eventbus.KindControl, func(ctx context.Context, ev eventbus.Event) error {
		ctl := ev.(events.ControlEvent)
		return m.write(ctx, "ctl", "core", ctl)
	})
	bus.Subscribe(eventbus.KindError, func(ctx context.Context, ev eventbus.Event) error {
		errEv := ev.(events.ErrorEvent)
		return m.write(ctx, "err", errEv.ErrorType, errEv)
	})
}

// write marshals payload and runs the XADD+SET+PUBLISH pipeline through the
// circuit breaker, buffering locally on an open circuit rather than losing
// the event.
func (m *Mirror) write(ctx context.Context, kind, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventmirror: marshal %s: %w", kind, err)
	}

	stream := "evt:" + kind + ":" + key
	latest := "evt:" + kind + ":" + key + ":latest"
	pubsub := "pub:evt:" + kind + ":" + key

	err = m.cb.Execute(func() error {
		return m.pipeline(ctx, stream, latest, pubsub, data)
	})
	if err == ErrCircuitOpen {
		m.bufferWrite(pendingWrite{Stream: stream, Latest: latest, PubSub: pubsub, Data: data})
		return nil
	}
	if err != nil {
		m.log.Warn("eventmirror: write failed", "kind", kind, "error", err)
	}
	return nil
}

func (m *Mirror) pipeline(ctx context.Context, stream, latest, pubsub string, data []byte) error {
	pipe := m.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Set(ctx, latest, data, latestTTL)
	pipe.Publish(ctx, pubsub, data)
	_, err := pipe.Exec(ctx)
	return err
}

func (m *Mirror) bufferWrite(pw pendingWrite) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.buffer) >= m.maxBuf {
		m.buffer = m.buffer[1:]
	}
	m.buffer = append(m.buffer, pw)
}

// flush replays every buffered write once the circuit closes again.
func (m *Mirror) flush(ctx context.Context) {
	m.mu.Lock()
	if len(m.buffer) == 0 {
		m.mu.Unlock()
		return
	}
	toFlush := m.buffer
	m.buffer = make([]pendingWrite, 0, 256)
	m.mu.Unlock()

	for _, pw := range toFlush {
		if err := m.pipeline(ctx, pw.Stream, pw.Latest, pw.PubSub, pw.Data); err != nil {
			m.log.Warn("eventmirror: flush write failed", "stream", pw.Stream, "error", err)
		}
	}
	m.log.Info("eventmirror: flushed buffered writes", "count", len(toFlush))
}

// PendingCount returns the number of writes buffered during a circuit-open
// window, awaiting replay.
func (m *Mirror) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffer)
}

// Close releases the underlying Redis connection.
func (m *Mirror) Close() error {
	return m.client.Close()
}
