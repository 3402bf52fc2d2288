// Package verification drives the contact-verification handshake: code
// dispatch, code confirmation, resend and backward navigation.
package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/logger"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/telemetry"
)

// State is a flow state.
type State string

const (
	StateIdle         State = "idle"
	StateDispatching  State = "dispatching"
	StateAwaitingCode State = "awaiting_code"
	StateConfirming   State = "confirming"
	StateResending    State = "resending"
	StateVerified     State = "verified"
	StateFailed       State = "failed"
)

var (
	// ErrBusy is returned while a dispatch or confirm call is already in flight.
	ErrBusy = errors.New("verification: another request is in progress")
	// ErrClosed is returned once the flow was abandoned or evicted.
	ErrClosed = errors.New("verification: flow closed")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("verification: flow already started")
	// ErrNotStarted is returned when Submit or Resend run before Start.
	ErrNotStarted = errors.New("verification: flow not started")
	// ErrNoPendingCode is returned by Submit when no code was dispatched.
	ErrNoPendingCode = errors.New("verification: no code has been sent")
	// ErrAlreadyVerified is returned by calls made after verification succeeded.
	ErrAlreadyVerified = errors.New("verification: already verified")
)

// Gateway is the part of the identity gateway a flow needs.
type Gateway interface {
	IssueChallenge(ctx context.Context, anchor string) (domain.Challenge, error)
	StartPhoneVerification(ctx context.Context, phone string, challenge domain.Challenge) (*domain.PendingVerification, error)
	ConfirmPhoneCode(ctx context.Context, sid string, pending domain.PendingVerification, code string) domain.AuthResult
}

// Config describes what a flow verifies.
type Config struct {
	Method    domain.ContactMethod
	Contact   string
	SessionID string
	// Anchor names the element the dispatch challenge is bound to.
	Anchor string
}

// Callbacks report the outcome upward. Either may be nil.
type Callbacks struct {
	// OnVerify runs exactly once, after a successful confirm. The identity is
	// nil for email flows.
	OnVerify func(identity *domain.Identity)
	OnBack   func()
}

// Snapshot is a point-in-time view of a flow.
type Snapshot struct {
	ID        string               `json:"id"`
	State     State                `json:"state"`
	Method    domain.ContactMethod `json:"method"`
	Contact   string               `json:"contact"`
	Message   string               `json:"message,omitempty"`
	Resends   int                  `json:"resends"`
	ExpiresAt *time.Time           `json:"expires_at,omitempty"`
	Identity  *domain.Identity     `json:"identity,omitempty"`
}

// Flow is one verification state machine. It allows a single call in flight.
type Flow struct {
	id      string
	cfg     Config
	gateway Gateway
	cb      Callbacks
	metrics *telemetry.Metrics
	logger  *zap.Logger
	now     func() time.Time

	// ctx ends when the flow is abandoned; in-flight calls observe it.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	pending    *domain.PendingVerification
	exhausted  bool
	message    string
	resends    int
	generation uint64
	closed     bool
	identity   *domain.Identity
	lastActive time.Time
}

func newFlow(id string, cfg Config, gw Gateway, cb Callbacks, metrics *telemetry.Metrics, log *zap.Logger, now func() time.Time) *Flow {
	ctx, cancel := context.WithCancel(context.Background())
	return &Flow{
		id:         id,
		cfg:        cfg,
		gateway:    gw,
		cb:         cb,
		metrics:    metrics,
		logger:     log,
		now:        now,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateIdle,
		lastActive: now(),
	}
}

// ID returns the flow identifier.
func (f *Flow) ID() string {
	return f.id
}

// SessionID returns the auth slot the flow signs into.
func (f *Flow) SessionID() string {
	return f.cfg.SessionID
}

// Start dispatches the first code. Email flows skip dispatch and wait for the
// code entry directly.
func (f *Flow) Start(ctx context.Context) error {
	f.mu.Lock()
	if err := f.usableLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	if f.state != StateIdle {
		f.mu.Unlock()
		return ErrAlreadyStarted
	}
	if f.cfg.Method == domain.ContactEmail {
		f.setStateLocked(StateAwaitingCode)
		f.mu.Unlock()
		return nil
	}
	f.setStateLocked(StateDispatching)
	gen := f.generation
	f.mu.Unlock()

	pending, err := f.dispatch(ctx, f.cfg.Anchor)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.staleLocked(gen) {
		return ErrClosed
	}
	if err != nil {
		f.message = domain.DescribeError(err)
		f.setStateLocked(StateFailed)
		return err
	}
	f.acceptPendingLocked(pending)
	return nil
}

// Submit confirms code against the current handle. Malformed codes are
// rejected with domain.ErrInvalidCodeFormat before any gateway call.
func (f *Flow) Submit(ctx context.Context, code string) error {
	if err := domain.ValidateCode(code); err != nil {
		return err
	}

	f.mu.Lock()
	if err := f.usableLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	switch f.state {
	case StateIdle:
		f.mu.Unlock()
		return ErrNotStarted
	case StateConfirming, StateDispatching, StateResending:
		f.mu.Unlock()
		return ErrBusy
	case StateVerified:
		f.mu.Unlock()
		return ErrAlreadyVerified
	case StateFailed:
		f.mu.Unlock()
		return ErrNoPendingCode
	}

	if f.cfg.Method == domain.ContactEmail {
		// Email ownership is proven through the emailed link, not this code.
		f.setStateLocked(StateVerified)
		f.mu.Unlock()
		f.fireVerify(nil)
		return nil
	}

	if f.exhausted || f.pending == nil {
		err := domain.NewAuthError(domain.CodeCodeExpired, "handle already used or expired")
		f.message = domain.DescribeError(err)
		f.mu.Unlock()
		return err
	}

	pending := *f.pending
	f.setStateLocked(StateConfirming)
	gen := f.generation
	f.mu.Unlock()

	callCtx, done := f.callContext(ctx)
	res := f.gateway.ConfirmPhoneCode(callCtx, f.cfg.SessionID, pending, code)
	done()

	f.mu.Lock()
	if f.staleLocked(gen) {
		f.mu.Unlock()
		return ErrClosed
	}
	if !res.OK() {
		f.exhausted = true
		f.message = domain.DescribeError(res.Error())
		f.setStateLocked(StateAwaitingCode)
		f.mu.Unlock()
		return res.Error()
	}
	f.identity = res.Identity.Clone()
	f.message = ""
	f.pending = nil
	f.setStateLocked(StateVerified)
	f.mu.Unlock()

	f.fireVerify(res.Identity)
	return nil
}

// Resend dispatches a fresh code with a challenge on a new anchor and replaces
// the stored handle. Email flows have nothing to resend.
func (f *Flow) Resend(ctx context.Context) error {
	f.mu.Lock()
	if err := f.usableLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	switch f.state {
	case StateIdle:
		f.mu.Unlock()
		return ErrNotStarted
	case StateDispatching, StateResending, StateConfirming:
		f.mu.Unlock()
		return ErrBusy
	case StateVerified:
		f.mu.Unlock()
		return ErrAlreadyVerified
	}
	if f.cfg.Method == domain.ContactEmail {
		f.mu.Unlock()
		return nil
	}

	f.resends++
	anchor := fmt.Sprintf("%s-resend-%d", f.cfg.Anchor, f.resends)
	f.setStateLocked(StateResending)
	gen := f.generation
	f.mu.Unlock()

	pending, err := f.dispatch(ctx, anchor)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.staleLocked(gen) {
		return ErrClosed
	}
	if err != nil {
		f.message = domain.DescribeError(err)
		if f.pending != nil {
			f.setStateLocked(StateAwaitingCode)
		} else {
			f.setStateLocked(StateFailed)
		}
		return err
	}
	f.acceptPendingLocked(pending)
	return nil
}

// Back abandons the flow from any state. In-flight calls are cancelled and
// any result that still arrives is discarded. OnBack runs once.
func (f *Flow) Back() {
	if !f.close() {
		return
	}
	if f.cb.OnBack != nil {
		f.cb.OnBack()
	}
}

// close discards controller state and reports whether this call closed the flow.
func (f *Flow) close() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.closed = true
	f.generation++
	f.cancel()
	f.pending = nil
	f.identity = nil
	f.message = ""
	f.setStateLocked(StateIdle)
	return true
}

// Snapshot returns the current view of the flow.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := Snapshot{
		ID:       f.id,
		State:    f.state,
		Method:   f.cfg.Method,
		Contact:  logger.MaskContact(f.cfg.Contact),
		Message:  f.message,
		Resends:  f.resends,
		Identity: f.identity.Clone(),
	}
	if f.pending != nil && !f.exhausted {
		expires := f.pending.ExpiresAt
		s.ExpiresAt = &expires
	}
	return s
}

func (f *Flow) idleSince() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	busy := f.state == StateDispatching || f.state == StateResending || f.state == StateConfirming
	return f.lastActive, busy
}

func (f *Flow) dispatch(ctx context.Context, anchor string) (*domain.PendingVerification, error) {
	callCtx, done := f.callContext(ctx)
	defer done()

	challenge, err := f.gateway.IssueChallenge(callCtx, anchor)
	if err != nil {
		return nil, err
	}
	pending, err := f.gateway.StartPhoneVerification(callCtx, f.cfg.Contact, challenge)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("verification code dispatched",
		zap.String("flow_id", f.id),
		zap.String("anchor", anchor),
		zap.String("contact", logger.MaskPhone(f.cfg.Contact)),
	)
	return pending, nil
}

// callContext derives a context that also ends when the flow is abandoned.
func (f *Flow) callContext(ctx context.Context) (context.Context, func()) {
	callCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(f.ctx, cancel)
	return callCtx, func() {
		stop()
		cancel()
	}
}

func (f *Flow) fireVerify(identity *domain.Identity) {
	f.logger.Info("contact verified", zap.String("flow_id", f.id), zap.String("method", string(f.cfg.Method)))
	if f.cb.OnVerify != nil {
		f.cb.OnVerify(identity)
	}
}

func (f *Flow) usableLocked() error {
	if f.closed {
		return ErrClosed
	}
	f.lastActive = f.now()
	return nil
}

func (f *Flow) staleLocked(gen uint64) bool {
	if f.closed || f.generation != gen {
		f.logger.Debug("discarding late verification result", zap.String("flow_id", f.id))
		return true
	}
	f.lastActive = f.now()
	return false
}

func (f *Flow) acceptPendingLocked(pending *domain.PendingVerification) {
	f.pending = pending
	f.exhausted = false
	f.message = ""
	f.setStateLocked(StateAwaitingCode)
}

func (f *Flow) setStateLocked(s State) {
	if f.state == s {
		return
	}
	f.state = s
	f.metrics.ObserveTransition(string(s))
}
