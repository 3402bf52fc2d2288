package usecase

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/core/port"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/config"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/security"
	"github.com/abdulhad-eng/home-fair-share/internal/ratelimit"
	"github.com/abdulhad-eng/home-fair-share/internal/repository"
	redisrepo "github.com/abdulhad-eng/home-fair-share/internal/repository/redis"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]domain.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if user.Email != nil && existing.Email != nil && *existing.Email == *user.Email {
			return repository.ErrDuplicate
		}
		if user.Phone != nil && existing.Phone != nil && *existing.Phone == *user.Phone {
			return repository.ErrDuplicate
		}
	}
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) find(match func(domain.User) bool) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			copied := u
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.ID == id })
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Email != nil && strings.EqualFold(*u.Email, email) })
}

func (r *fakeUserRepo) GetByPhone(_ context.Context, phone string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Phone != nil && *u.Phone == phone })
}

func (r *fakeUserRepo) update(id string, fn func(*domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&u)
	r.users[id] = u
	return nil
}

func (r *fakeUserRepo) UpdateProfile(_ context.Context, id string, update domain.ProfileUpdate, at time.Time) error {
	return r.update(id, func(u *domain.User) {
		if update.DisplayName != nil {
			u.DisplayName = *update.DisplayName
		}
		if update.PhotoURL != nil {
			u.PhotoURL = *update.PhotoURL
		}
		u.UpdatedAt = at
	})
}

func (r *fakeUserRepo) UpdatePassword(_ context.Context, id string, hash, algo string, at time.Time) error {
	return r.update(id, func(u *domain.User) {
		u.PasswordHash = hash
		u.PasswordAlgo = algo
		u.UpdatedAt = at
	})
}

func (r *fakeUserRepo) MarkEmailVerified(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(u *domain.User) {
		u.EmailVerified = true
		u.UpdatedAt = at
	})
}

func (r *fakeUserRepo) TouchSignIn(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(u *domain.User) { u.LastSignInAt = &at })
}

type fakeIdentityRepo struct {
	mu    sync.Mutex
	links []domain.LinkedIdentity
}

func (r *fakeIdentityRepo) Create(_ context.Context, link domain.LinkedIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.Provider == link.Provider && l.ProviderUserID == link.ProviderUserID {
			return repository.ErrDuplicate
		}
	}
	r.links = append(r.links, link)
	return nil
}

func (r *fakeIdentityRepo) GetByProvider(_ context.Context, provider domain.SocialProvider, providerUserID string) (*domain.LinkedIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.Provider == provider && l.ProviderUserID == providerUserID {
			copied := l
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeIdentityRepo) ListProviders(_ context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, l := range r.links {
		if l.UserID == userID {
			out = append(out, string(l.Provider))
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	emails   []domain.EmailVerificationRequestedEvent
	sms      []domain.SMSCodeRequestedEvent
	resets   []domain.PasswordResetRequestedEvent
	changes  []domain.IdentityChangedEvent
	failWith error
}

func (p *recordingPublisher) PublishEmailVerificationRequested(_ context.Context, e domain.EmailVerificationRequestedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.emails = append(p.emails, e)
	return nil
}

func (p *recordingPublisher) PublishSMSCodeRequested(_ context.Context, e domain.SMSCodeRequestedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.sms = append(p.sms, e)
	return nil
}

func (p *recordingPublisher) PublishPasswordResetRequested(_ context.Context, e domain.PasswordResetRequestedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.resets = append(p.resets, e)
	return nil
}

func (p *recordingPublisher) PublishIdentityChanged(_ context.Context, e domain.IdentityChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, e)
	return nil
}

func (p *recordingPublisher) lastSMS(t *testing.T) domain.SMSCodeRequestedEvent {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sms) == 0 {
		t.Fatal("expected an sms event")
	}
	return p.sms[len(p.sms)-1]
}

type fakeConsent struct {
	assertion *domain.SocialAssertion
	err       error
	urls      []string
}

func (f *fakeConsent) Authenticate(ctx context.Context, kind domain.SocialProvider, presenter port.ConsentPresenter) (*domain.SocialAssertion, error) {
	url := "https://consent.test/" + string(kind)
	f.urls = append(f.urls, url)
	if err := presenter.PresentConsent(ctx, url); err != nil {
		return nil, err
	}
	return f.assertion, f.err
}

type providerHarness struct {
	provider   *Provider
	users      *fakeUserRepo
	identities *fakeIdentityRepo
	events     *recordingPublisher
	social     *fakeConsent
	redis      *miniredis.Miniredis
	client     *red.Client
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		RateLimit: config.RateLimitSettings{
			WindowDuration:           time.Minute,
			SignInMaxAttempts:        5,
			RegisterMaxAttempts:      5,
			PasswordResetMaxAttempts: 3,
			PhoneSendMaxAttempts:     3,
			PhoneSendWindow:          time.Hour,
		},
		Verification: config.VerificationSettings{
			CodeTTL:          10 * time.Minute,
			ChallengeTTL:     2 * time.Minute,
			EmailLinkTTL:     24 * time.Hour,
			PasswordResetTTL: time.Hour,
			DispatchAnchor:   "send-code-button",
		},
		Session: config.SessionSettings{TTL: time.Hour},
	}
}

func newProviderHarness(t *testing.T) *providerHarness {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := red.NewClient(&red.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewArgon2Hasher returned error: %v", err)
	}

	h := &providerHarness{
		users:      newFakeUserRepo(),
		identities: &fakeIdentityRepo{},
		events:     &recordingPublisher{},
		social:     &fakeConsent{},
		redis:      server,
		client:     client,
	}
	provider, err := NewProvider(testConfig(), ProviderDeps{
		Users:      h.users,
		Identities: h.identities,
		Pending:    redisrepo.NewPendingCodeRepository(client, "test"),
		Challenges: redisrepo.NewChallengeRepository(client, "test"),
		Links:      redisrepo.NewLinkTokenRepository(client, "test"),
		Limiter:    ratelimit.New(redisrepo.NewRateLimitRepository(client, "test", time.Hour)),
		Hasher:     hasher,
		Events:     h.events,
		Social:     h.social,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}
	h.provider = provider
	return h
}

func codeOf(t *testing.T, err error, want domain.ErrorCode) {
	t.Helper()
	if got := domain.ErrorCodeOf(err); got != want {
		t.Fatalf("expected %s, got %v", want, err)
	}
}
