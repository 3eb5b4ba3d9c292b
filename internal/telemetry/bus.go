// Package telemetry is an in-memory publish/subscribe bus for per-query
// pipeline progress. Delivery never blocks the publisher.
package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragindex/internal/metrics"
)

// Config tunes session retention and subscriber delivery.
type Config struct {
	SessionTTL        time.Duration
	SweepInterval     time.Duration
	KeepAliveInterval time.Duration
	// BufferSize is the per-subscriber queue length. Events beyond it are dropped.
	BufferSize int
}

// DefaultConfig returns a 1h TTL swept every 5m and a 30s keep-alive.
func DefaultConfig() Config {
	return Config{
		SessionTTL:        time.Hour,
		SweepInterval:     5 * time.Minute,
		KeepAliveInterval: 30 * time.Second,
		BufferSize:        64,
	}
}

type subscriber struct {
	id      string
	userID  string
	ch      chan Event
	handler Handler
	once    sync.Once
}

// Bus owns telemetry sessions and fans events out to subscribers of the session's user.
type Bus struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	subs     map[string]map[string]*subscriber

	stop      chan struct{}
	closeOnce sync.Once
	loops     sync.WaitGroup
	handlers  sync.WaitGroup
}

// New creates a bus and starts its sweep and keep-alive loops.
// Zero intervals disable the corresponding loop.
func New(cfg Config, logger *zap.Logger) *Bus {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bus{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
		subs:     make(map[string]map[string]*subscriber),
		stop:     make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		b.loops.Add(1)
		go b.every(cfg.SweepInterval, b.sweep)
	}
	if cfg.KeepAliveInterval > 0 {
		b.loops.Add(1)
		go b.every(cfg.KeepAliveInterval, b.keepAlive)
	}
	return b
}

func (b *Bus) every(d time.Duration, fn func()) {
	defer b.loops.Done()
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-t.C:
			fn()
		}
	}
}

// CreateSession starts tracking a query. An empty sessionID gets a generated one.
func (b *Bus) CreateSession(sessionID, userID, query string) Session {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := b.now()
	s := newSession(sessionID, userID, query, now)

	b.mu.Lock()
	b.sessions[sessionID] = s
	snap := s.clone()
	metrics.TelemetrySessions.Set(float64(len(b.sessions)))
	b.mu.Unlock()

	b.publish(userID, Event{
		Type:      EventSessionStart,
		SessionID: sessionID,
		Data:      map[string]string{"query": query},
		Timestamp: now,
	})
	return snap
}

// UpdateStep records progress of one step. StartTime is set on the first
// non-pending update and kept afterwards; the duration is computed once the
// step reaches completed or error.
func (b *Bus) UpdateStep(sessionID string, step StepName, status StepStatus, data any, errMsg string) error {
	now := b.now()

	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
	}

	st := s.Steps[step]
	started := st.StartTime != nil
	st.Status = status
	if !started && status != StepPending {
		t := now
		st.StartTime = &t
	}
	if data != nil {
		st.Data = data
	}
	if errMsg != "" {
		st.Error = errMsg
	}
	if status.terminal() && st.StartTime != nil {
		end := now
		d := end.Sub(*st.StartTime).Milliseconds()
		st.EndTime = &end
		st.DurationMs = &d
	}
	s.Steps[step] = st
	userID := s.UserID
	b.mu.Unlock()

	typ := EventStepUpdate
	switch {
	case status == StepCompleted:
		typ = EventStepComplete
	case status == StepError:
		typ = EventStepError
	case !started && status == StepInProgress:
		typ = EventStepStart
	}

	b.publish(userID, Event{Type: typ, SessionID: sessionID, StepID: step, Data: st, Timestamp: now})
	return nil
}

// CompleteSession marks the session completed with its citations.
func (b *Bus) CompleteSession(sessionID string, citations []Citation) error {
	return b.finish(sessionID, StatusCompleted, func(s *Session) any {
		s.Citations = append([]Citation(nil), citations...)
		return map[string]any{"citations": s.Citations, "totalDuration": *s.TotalDurationMs}
	})
}

// ErrorSession marks the session failed.
func (b *Bus) ErrorSession(sessionID, message string) error {
	return b.finish(sessionID, StatusError, func(s *Session) any {
		return map[string]any{"error": message, "totalDuration": *s.TotalDurationMs}
	})
}

func (b *Bus) finish(sessionID string, status Status, mutate func(*Session) any) error {
	now := b.now()

	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
	}
	total := now.Sub(s.Timestamp).Milliseconds()
	s.Status = status
	s.TotalDurationMs = &total
	data := mutate(s)
	userID := s.UserID
	b.mu.Unlock()

	typ := EventSessionComplete
	if status == StatusError {
		typ = EventSessionError
	}
	b.publish(userID, Event{Type: typ, SessionID: sessionID, Data: data, Timestamp: now})
	return nil
}

// Session returns a copy of a tracked session.
func (b *Bus) Session(sessionID string) (Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Subscribe delivers events of userID's sessions to h until the returned
// function is called. Each subscriber has its own queue and goroutine; a
// slow or panicking handler affects only itself.
func (b *Bus) Subscribe(userID string, h Handler) (unsubscribe func()) {
	sub := &subscriber{
		id:      uuid.NewString(),
		userID:  userID,
		ch:      make(chan Event, b.cfg.BufferSize),
		handler: h,
	}

	b.mu.Lock()
	select {
	case <-b.stop:
		b.mu.Unlock()
		return func() {}
	default:
	}
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[string]*subscriber)
	}
	b.subs[userID][sub.id] = sub
	b.mu.Unlock()

	metrics.TelemetrySubscribers.Inc()
	b.handlers.Add(1)
	go b.deliver(sub)

	return func() { b.unsubscribe(sub) }
}

func (b *Bus) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

// removeLocked must be called with mu held for writing, so no publisher
// can be sending on sub.ch while it is closed.
func (b *Bus) removeLocked(sub *subscriber) {
	sub.once.Do(func() {
		if m := b.subs[sub.userID]; m != nil {
			delete(m, sub.id)
			if len(m) == 0 {
				delete(b.subs, sub.userID)
			}
		}
		close(sub.ch)
		metrics.TelemetrySubscribers.Dec()
	})
}

func (b *Bus) deliver(sub *subscriber) {
	defer b.handlers.Done()
	for ev := range sub.ch {
		b.safeCall(sub, ev)
	}
}

func (b *Bus) safeCall(sub *subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Telemetry subscriber panicked",
				zap.String("subscriber", sub.id),
				zap.String("user_id", sub.userID),
				zap.String("event", string(ev.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	sub.handler(ev)
}

// publish queues ev for every subscriber of userID without blocking.
func (b *Bus) publish(userID string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[userID] {
		b.offer(sub, ev)
	}
}

func (b *Bus) offer(sub *subscriber, ev Event) {
	select {
	case sub.ch <- ev:
	default:
		metrics.TelemetryDroppedTotal.Inc()
		b.logger.Debug("Telemetry event dropped, subscriber buffer full",
			zap.String("subscriber", sub.id),
			zap.String("event", string(ev.Type)),
		)
	}
}

func (b *Bus) keepAlive() {
	ev := Event{Type: EventKeepAlive, Timestamp: b.now()}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, m := range b.subs {
		for _, sub := range m {
			b.offer(sub, ev)
		}
	}
}

// sweep drops sessions whose creation time is older than SessionTTL.
func (b *Bus) sweep() {
	cutoff := b.now().Add(-b.cfg.SessionTTL)

	b.mu.Lock()
	removed := 0
	for id, s := range b.sessions {
		if s.Timestamp.Before(cutoff) {
			delete(b.sessions, id)
			removed++
		}
	}
	remaining := len(b.sessions)
	b.mu.Unlock()

	metrics.TelemetrySessions.Set(float64(remaining))
	if removed > 0 {
		b.logger.Debug("Telemetry sessions expired",
			zap.Int("removed", removed),
			zap.Int("remaining", remaining),
		)
	}
}

// Close stops background loops, ends every subscription and waits for
// queued events to be handled. It is safe to call more than once.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		close(b.stop)
		for _, m := range b.subs {
			for _, sub := range m {
				b.removeLocked(sub)
			}
		}
		b.mu.Unlock()

		b.loops.Wait()
		b.handlers.Wait()
	})
}
