package verification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/config"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/telemetry"
)

const defaultIdleTTL = 10 * time.Minute

var (
	ErrUnknownMethod  = errors.New("verification: contact method must be email or phone")
	ErrContactMissing = errors.New("verification: contact value is required")
)

// Registry keeps the live flows addressed by id and evicts idle ones.
type Registry struct {
	gateway Gateway
	metrics *telemetry.Metrics
	logger  *zap.Logger
	anchor  string
	idleTTL time.Duration
	now     func() time.Time

	mu    sync.Mutex
	flows map[string]*Flow
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(gw Gateway, cfg config.VerificationSettings, metrics *telemetry.Metrics, logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		gateway: gw,
		metrics: metrics,
		logger:  logger.Named("verification"),
		anchor:  cfg.DispatchAnchor,
		idleTTL: cfg.FlowIdleTTL,
		now:     time.Now,
		flows:   make(map[string]*Flow),
	}
	if r.anchor == "" {
		r.anchor = "verify-dispatch"
	}
	if r.idleTTL <= 0 {
		r.idleTTL = defaultIdleTTL
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a new idle flow. An empty cfg.Anchor takes the configured default.
func (r *Registry) Create(cfg Config, cb Callbacks) (*Flow, error) {
	if !cfg.Method.Valid() {
		return nil, ErrUnknownMethod
	}
	cfg.Contact = strings.TrimSpace(cfg.Contact)
	if cfg.Contact == "" {
		return nil, ErrContactMissing
	}
	if cfg.Anchor == "" {
		cfg.Anchor = r.anchor
	}

	id := uuid.NewString()
	flow := newFlow(id, cfg, r.gateway, cb, r.metrics, r.logger, r.now)

	r.mu.Lock()
	r.flows[id] = flow
	r.mu.Unlock()

	r.logger.Debug("verification flow created", zap.String("flow_id", id), zap.String("method", string(cfg.Method)))
	return flow, nil
}

// Get returns a live flow.
func (r *Registry) Get(id string) (*Flow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	flow, ok := r.flows[id]
	return flow, ok
}

// Remove abandons the flow and forgets it. It reports whether the flow existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	flow, ok := r.flows[id]
	delete(r.flows, id)
	r.mu.Unlock()
	if ok {
		flow.Back()
	}
	return ok
}

// Len returns the number of live flows.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

// Sweep closes flows idle longer than the configured TTL. Flows with a call in
// flight are kept. OnBack is not run for evicted flows.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var expired []*Flow
	for id, flow := range r.flows {
		last, busy := flow.idleSince()
		if busy || last.After(cutoff) {
			continue
		}
		expired = append(expired, flow)
		delete(r.flows, id)
	}
	r.mu.Unlock()

	for _, flow := range expired {
		flow.close()
	}
	if len(expired) > 0 {
		r.logger.Info("evicted idle verification flows", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Run sweeps on every interval until ctx ends, then closes all flows.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	flows := r.flows
	r.flows = make(map[string]*Flow)
	r.mu.Unlock()

	for _, flow := range flows {
		flow.close()
	}
}

// ContactMethodOf parses a method name.
func ContactMethodOf(name string) (domain.ContactMethod, error) {
	m := domain.ContactMethod(strings.ToLower(strings.TrimSpace(name)))
	if !m.Valid() {
		return "", ErrUnknownMethod
	}
	return m, nil
}
