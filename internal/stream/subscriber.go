// Package stream keeps one live WebSocket connection to the workflow event
// stream and records every decoded event in arrival order.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/pitabwire/sentinel/internal/config"
	"github.com/pitabwire/sentinel/internal/observability"
	"github.com/pitabwire/sentinel/model"
)

// Frame skip reasons reported in metrics.
const (
	skipKeepalive = "keepalive"
	skipMalformed = "malformed"
)

var keepalive = []byte("pong")

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Subscriber) { s.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Subscriber) { s.metrics = m }
}

// WithPingInterval sets how often the connection is checked with a ping.
// Zero disables pings.
func WithPingInterval(d time.Duration) Option {
	return func(s *Subscriber) { s.pingInterval = d }
}

// WithReconnect sets the reconnect backoff bounds.
func WithReconnect(initial, maxInterval time.Duration) Option {
	return func(s *Subscriber) {
		if initial > 0 {
			s.reconnectInitial = initial
		}
		if maxInterval > 0 {
			s.reconnectMax = maxInterval
		}
	}
}

// WithReadLimit caps the size of a single frame.
func WithReadLimit(n int64) Option {
	return func(s *Subscriber) {
		if n > 0 {
			s.readLimit = n
		}
	}
}

// Subscriber maintains the stream connection. Connection errors are logged
// and retried; they never reach callers.
type Subscriber struct {
	url              string
	pingInterval     time.Duration
	reconnectInitial time.Duration
	reconnectMax     time.Duration
	readLimit        int64
	logger           *zap.Logger
	metrics          *observability.Metrics

	mu        sync.RWMutex
	messages  []model.WorkflowEvent
	connected bool
	subs      map[int]chan struct{}
	nextSub   int

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a subscriber for the WebSocket at url. Call Start to connect.
func New(url string, opts ...Option) *Subscriber {
	s := &Subscriber{
		url:              url,
		pingInterval:     30 * time.Second,
		reconnectInitial: time.Second,
		reconnectMax:     30 * time.Second,
		readLimit:        1 << 20,
		logger:           zap.NewNop(),
		subs:             make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig creates a subscriber from the stream section of the config.
func NewFromConfig(cfg config.StreamConfig, opts ...Option) *Subscriber {
	base := []Option{
		WithPingInterval(cfg.PingInterval),
		WithReconnect(cfg.ReconnectInitial, cfg.ReconnectMax),
		WithReadLimit(cfg.ReadLimit),
	}
	return New(cfg.URL, append(base, opts...)...)
}

// Start launches the connection loop. It returns immediately; the loop runs
// until ctx is cancelled or Close is called. Start must be called once.
func (s *Subscriber) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()
	go s.loop(ctx)
}

// Close stops the connection loop and waits for it to exit.
func (s *Subscriber) Close() {
	s.mu.RLock()
	cancel, done := s.cancel, s.done
	s.mu.RUnlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// IsConnected reports whether the stream is currently open.
func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Messages returns a copy of every event received since Start.
func (s *Subscriber) Messages() []model.WorkflowEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.WorkflowEvent, len(s.messages))
	copy(out, s.messages)
	return out
}

// Since returns the events after cursor and the cursor to pass next time.
func (s *Subscriber) Since(cursor int) ([]model.WorkflowEvent, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.messages)
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= n {
		return nil, n
	}
	out := make([]model.WorkflowEvent, n-cursor)
	copy(out, s.messages[cursor:])
	return out, n
}

// Len returns the number of events received.
func (s *Subscriber) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Subscribe returns a channel signalled after new events are appended.
// Signals coalesce: one pending signal may stand for many events.
func (s *Subscriber) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Subscriber) loop(ctx context.Context) {
	defer close(s.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.reconnectInitial
	b.MaxInterval = s.reconnectMax
	b.Multiplier = 2
	b.Reset()

	for {
		conn, _, err := websocket.Dial(ctx, s.url, nil)
		if err == nil {
			b.Reset()
			s.serve(ctx, conn)
		} else if ctx.Err() == nil {
			s.logger.Warn("event stream dial failed", zap.String("url", s.url), zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}

		wait := b.NextBackOff()
		s.metrics.RecordStreamReconnect()
		s.logger.Info("event stream reconnecting", zap.Duration("in", wait))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// serve reads frames from conn until it fails or ctx is done.
func (s *Subscriber) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.CloseNow()
	conn.SetReadLimit(s.readLimit)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.setConnected(true)
	defer s.setConnected(false)
	s.logger.Info("event stream connected", zap.String("url", s.url))

	if s.pingInterval > 0 {
		go s.keepAlive(connCtx, conn)
	}

	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("event stream disconnected", zap.Error(err))
			}
			return
		}
		s.handleFrame(data)
	}
}

// keepAlive pings the peer and tears the connection down when a ping is not
// answered within the interval.
func (s *Subscriber) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, s.pingInterval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.Warn("event stream ping failed", zap.Error(err))
				}
				_ = conn.CloseNow()
				return
			}
		}
	}
}

func (s *Subscriber) handleFrame(data []byte) {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, keepalive) {
		s.metrics.RecordStreamFrameSkipped(skipKeepalive)
		return
	}

	var ev model.WorkflowEvent
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		s.metrics.RecordStreamFrameSkipped(skipMalformed)
		s.logger.Debug("skipping malformed frame", zap.Int("bytes", len(data)), zap.Error(err))
		return
	}

	s.mu.Lock()
	s.messages = append(s.messages, ev)
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()
	s.metrics.RecordStreamMessage(string(ev.Type))
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
	s.metrics.SetStreamConnected(v)
}
