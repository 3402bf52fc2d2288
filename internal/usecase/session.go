package usecase

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/core/port"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/telemetry"
)

const sessionLockStripes = 64

// ErrSessionRequired indicates a call without a session slot id.
var ErrSessionRequired = errors.New("session id is required")

// IdentityListener receives the identity of a session slot; nil means signed out.
type IdentityListener func(*domain.Identity)

// Unsubscribe stops deliveries to a listener. It is idempotent and may be
// called from inside the listener.
type Unsubscribe func()

// SessionTracker records which identity each client auth slot holds and
// fans changes out to subscribers. Each subscriber has its own delivery
// goroutine and FIFO queue, so a slow listener never blocks writers or other
// listeners. Changes applied by other processes arrive through Refresh.
type SessionTracker struct {
	instanceID string
	store      port.SessionStore
	events     port.EventPublisher
	metrics    *telemetry.Metrics
	ttl        time.Duration
	logger     *zap.Logger
	now        func() time.Time

	locks [sessionLockStripes]sync.Mutex

	mu     sync.Mutex
	subs   map[string]map[uint64]*subscriber
	nextID uint64
}

// NewSessionTracker constructs a tracker. events and metrics may be nil.
func NewSessionTracker(store port.SessionStore, events port.EventPublisher, metrics *telemetry.Metrics, ttl time.Duration, logger *zap.Logger) *SessionTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionTracker{
		instanceID: uuid.NewString(),
		store:      store,
		events:     events,
		metrics:    metrics,
		ttl:        ttl,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		subs:       make(map[string]map[uint64]*subscriber),
	}
}

// InstanceID identifies this tracker in published identity changes.
func (t *SessionTracker) InstanceID() string {
	return t.instanceID
}

func (t *SessionTracker) lock(sid string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sid))
	return &t.locks[h.Sum32()%sessionLockStripes]
}

// Current returns the identity held by sid, or nil when signed out.
func (t *SessionTracker) Current(ctx context.Context, sid string) (*domain.Identity, error) {
	if sid == "" {
		return nil, ErrSessionRequired
	}
	identity, err := t.store.Get(ctx, sid)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return identity, nil
}

// Set makes identity the current identity of sid.
func (t *SessionTracker) Set(ctx context.Context, sid string, identity *domain.Identity) error {
	if sid == "" {
		return ErrSessionRequired
	}
	if identity == nil {
		return t.Clear(ctx, sid)
	}

	mu := t.lock(sid)
	mu.Lock()
	if err := t.store.Put(ctx, sid, identity, t.ttl); err != nil {
		mu.Unlock()
		return fmt.Errorf("store session: %w", err)
	}
	t.notify(sid, identity)
	mu.Unlock()

	t.publish(ctx, sid, identity.UID, true)
	return nil
}

// Clear signs sid out. Clearing an empty slot is a no-op.
func (t *SessionTracker) Clear(ctx context.Context, sid string) error {
	if sid == "" {
		return ErrSessionRequired
	}

	mu := t.lock(sid)
	mu.Lock()
	previous, err := t.store.Get(ctx, sid)
	if err != nil {
		mu.Unlock()
		return fmt.Errorf("load session: %w", err)
	}
	if previous == nil {
		mu.Unlock()
		return nil
	}
	if err := t.store.Delete(ctx, sid); err != nil {
		mu.Unlock()
		return fmt.Errorf("delete session: %w", err)
	}
	t.notify(sid, nil)
	mu.Unlock()

	t.publish(ctx, sid, previous.UID, false)
	return nil
}

// Refresh reloads sid from the store and delivers the result to local
// subscribers. It applies changes made by other processes sharing the store.
func (t *SessionTracker) Refresh(ctx context.Context, sid string) error {
	if sid == "" {
		return ErrSessionRequired
	}
	if !t.hasSubscribers(sid) {
		return nil
	}

	mu := t.lock(sid)
	mu.Lock()
	defer mu.Unlock()
	identity, err := t.store.Get(ctx, sid)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	t.notify(sid, identity)
	return nil
}

func (t *SessionTracker) hasSubscribers(sid string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs[sid]) > 0
}

// Subscribe delivers the current identity of sid to fn, then every change,
// in order, until the returned Unsubscribe is called.
func (t *SessionTracker) Subscribe(ctx context.Context, sid string, fn IdentityListener) (Unsubscribe, error) {
	if sid == "" {
		return nil, ErrSessionRequired
	}
	if fn == nil {
		return nil, errors.New("listener is required")
	}

	mu := t.lock(sid)
	mu.Lock()
	current, err := t.store.Get(ctx, sid)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("load session: %w", err)
	}

	sub := newSubscriber(fn)
	sub.push(current)

	t.mu.Lock()
	t.nextID++
	id := t.nextID
	if t.subs[sid] == nil {
		t.subs[sid] = make(map[uint64]*subscriber)
	}
	t.subs[sid][id] = sub
	t.mu.Unlock()
	mu.Unlock()

	go sub.run()
	t.metrics.SubscriptionAdded()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.remove(sid, id)
			if sub.stop() {
				t.metrics.SubscriptionRemoved()
			}
		})
	}, nil
}

// Close stops every subscriber.
func (t *SessionTracker) Close() {
	t.mu.Lock()
	all := t.subs
	t.subs = make(map[string]map[uint64]*subscriber)
	t.mu.Unlock()

	for _, group := range all {
		for _, sub := range group {
			if sub.stop() {
				t.metrics.SubscriptionRemoved()
			}
		}
	}
}

func (t *SessionTracker) remove(sid string, id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	group := t.subs[sid]
	delete(group, id)
	if len(group) == 0 {
		delete(t.subs, sid)
	}
}

// notify must be called with the sid stripe held so deliveries follow store order.
func (t *SessionTracker) notify(sid string, identity *domain.Identity) {
	t.mu.Lock()
	group := make([]*subscriber, 0, len(t.subs[sid]))
	for _, sub := range t.subs[sid] {
		group = append(group, sub)
	}
	t.mu.Unlock()

	for _, sub := range group {
		sub.push(identity)
	}
}

func (t *SessionTracker) publish(ctx context.Context, sid, uid string, signedIn bool) {
	if t.events == nil {
		return
	}
	event := domain.IdentityChangedEvent{
		EventID:   uuid.NewString(),
		SessionID: sid,
		UserID:    uid,
		SignedIn:  signedIn,
		ChangedAt: t.now(),
		Origin:    t.instanceID,
	}
	if err := t.events.PublishIdentityChanged(ctx, event); err != nil {
		t.logger.Warn("publish identity change failed", zap.String("user_id", uid), zap.Error(err))
	}
}

type subscriber struct {
	fn   IdentityListener
	wake chan struct{}
	done chan struct{}

	mu     sync.Mutex
	queue  []*domain.Identity
	closed bool
}

func newSubscriber(fn IdentityListener) *subscriber {
	return &subscriber{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (s *subscriber) push(identity *domain.Identity) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, identity.Clone())
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) next() (*domain.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return nil, false
	}
	identity := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return identity, true
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			identity, ok := s.next()
			if !ok {
				break
			}
			s.fn(identity)
		}
	}
}

// stop reports whether this call closed the subscriber.
func (s *subscriber) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.queue = nil
	close(s.done)
	return true
}
