// Package identity is a local identity provider: users in Postgres, bcrypt
// passwords and HS256 session tokens. It holds at most one session, the way a
// client SDK does, and publishes auth state changes through a dispatcher.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/auth-session/internal/auth"
	"github.com/spec-kit/auth-session/internal/domain"
	"github.com/spec-kit/auth-session/internal/events"
	"github.com/spec-kit/auth-session/internal/observability"
	"github.com/spec-kit/auth-session/internal/repository"
)

const minPasswordLength = 6

var (
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrWeakPassword  = fmt.Errorf("password must be at least %d characters", minPasswordLength)
	errNoUserInToken = errors.New("session user no longer exists")
)

// Config wires a Provider.
type Config struct {
	Users       repository.UserRepository
	Tokens      *auth.TokenManager
	Dispatcher  events.Dispatcher
	BcryptCost  int
	AutoConfirm bool
	Logger      *zap.Logger
}

// Provider implements session.IdentityProvider.
type Provider struct {
	users       repository.UserRepository
	tokens      *auth.TokenManager
	dispatcher  events.Dispatcher
	bcryptCost  int
	autoConfirm bool
	logger      *zap.Logger
	now         func() time.Time

	mu      sync.Mutex
	current *domain.Session
}

// New builds a provider. A nil dispatcher gets an in-memory one.
func New(cfg Config) *Provider {
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = events.NewInMemoryDispatcher()
	}
	return &Provider{
		users:       cfg.Users,
		tokens:      cfg.Tokens,
		dispatcher:  dispatcher,
		bcryptCost:  cfg.BcryptCost,
		autoConfirm: cfg.AutoConfirm,
		logger:      observability.OrNop(cfg.Logger).Named("identity"),
		now:         time.Now,
	}
}

// GetSession returns the held session, or nil when there is none or its
// token no longer validates.
func (p *Provider) GetSession(_ context.Context) (*domain.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, nil
	}
	if _, err := p.tokens.ParseToken(p.current.AccessToken); err != nil {
		p.logger.Debug("held session dropped", zap.String("user_id", p.current.UserID()), zap.Error(err))
		p.current = nil
		return nil, nil
	}
	return cloneSession(p.current), nil
}

// SignInWithPassword authenticates and starts a session.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (domain.AuthResponse, error) {
	rec, err := p.users.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.AuthResponse{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return domain.AuthResponse{}, fmt.Errorf("load user: %w", err)
	}
	if err := auth.ComparePassword(rec.PasswordHash, password); err != nil {
		return domain.AuthResponse{}, err
	}
	if !rec.User.Confirmed() {
		return domain.AuthResponse{}, domain.ErrEmailNotConfirmed
	}

	sess, err := p.startSession(&rec.User, "")
	if err != nil {
		return domain.AuthResponse{}, err
	}
	p.publish(ctx, domain.EventSignedIn, sess)
	return domain.AuthResponse{User: rec.User.Clone(), Session: cloneSession(sess)}, nil
}

// SignUp registers a user. With auto-confirm the user is signed in at once;
// otherwise the response carries no session until ConfirmEmail.
func (p *Provider) SignUp(ctx context.Context, email, password string, opts domain.SignUpOptions) (domain.AuthResponse, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return domain.AuthResponse{}, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return domain.AuthResponse{}, ErrWeakPassword
	}

	hash, err := auth.HashPassword(password, p.bcryptCost)
	if err != nil {
		return domain.AuthResponse{}, fmt.Errorf("hash password: %w", err)
	}

	rec := &repository.UserRecord{
		User:         domain.User{Email: email, Metadata: opts.Metadata},
		PasswordHash: hash,
	}
	if p.autoConfirm {
		confirmedAt := p.now().UTC()
		rec.User.EmailConfirmedAt = &confirmedAt
	}
	if err := p.users.Create(ctx, rec); err != nil {
		return domain.AuthResponse{}, err
	}
	p.logger.Info("user registered", zap.String("user_id", rec.User.ID), zap.Bool("confirmed", rec.User.Confirmed()))

	resp := domain.AuthResponse{User: rec.User.Clone()}
	if !rec.User.Confirmed() {
		return resp, nil
	}
	sess, err := p.startSession(&rec.User, "")
	if err != nil {
		return domain.AuthResponse{}, err
	}
	p.publish(ctx, domain.EventSignedIn, sess)
	resp.Session = cloneSession(sess)
	return resp, nil
}

// SignOut drops the held session.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()

	p.publish(ctx, domain.EventSignedOut, nil)
	return nil
}

// RefreshSession reissues the access token of the held session, keeping its id.
func (p *Provider) RefreshSession(ctx context.Context) (*domain.Session, error) {
	p.mu.Lock()
	held := p.current
	p.mu.Unlock()
	if held == nil {
		return nil, domain.ErrNoSession
	}

	rec, err := p.users.GetByID(ctx, held.UserID())
	if errors.Is(err, domain.ErrUserNotFound) {
		_ = p.SignOut(ctx)
		return nil, errNoUserInToken
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	sess, err := p.startSession(&rec.User, held.ID)
	if err != nil {
		return nil, err
	}
	p.publish(ctx, domain.EventTokenRefreshed, sess)
	return cloneSession(sess), nil
}

// ConfirmEmail marks the user confirmed, signs them in and publishes
// USER_UPDATED.
func (p *Provider) ConfirmEmail(ctx context.Context, userID string) (*domain.Session, error) {
	if err := p.users.ConfirmEmail(ctx, userID, p.now().UTC()); err != nil {
		return nil, err
	}
	rec, err := p.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	sessionID := ""
	p.mu.Lock()
	if p.current != nil && p.current.UserID() == userID {
		sessionID = p.current.ID
	}
	p.mu.Unlock()

	sess, err := p.startSession(&rec.User, sessionID)
	if err != nil {
		return nil, err
	}
	p.publish(ctx, domain.EventUserUpdated, sess)
	return cloneSession(sess), nil
}

// OnAuthStateChange subscribes handler to every auth event.
func (p *Provider) OnAuthStateChange(handler func(domain.AuthEvent)) func() {
	return p.dispatcher.Subscribe(events.AllEvents, func(_ context.Context, e events.Event) error {
		handler(e.AuthEvent())
		return nil
	})
}

func (p *Provider) startSession(user *domain.User, sessionID string) (*domain.Session, error) {
	token, sessionID, expiresAt, err := p.tokens.Issue(user, sessionID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	sess := &domain.Session{
		ID:           sessionID,
		AccessToken:  token,
		RefreshToken: uuid.NewString(),
		ExpiresAt:    expiresAt,
		User:         user.Clone(),
	}

	p.mu.Lock()
	p.current = sess
	p.mu.Unlock()
	return sess, nil
}

func (p *Provider) publish(ctx context.Context, eventType domain.AuthEventType, sess *domain.Session) {
	evt := events.NewEvent(eventType, cloneSession(sess))
	if err := p.dispatcher.Publish(context.WithoutCancel(ctx), evt); err != nil {
		p.logger.Warn("auth event handler failed", zap.String("event", string(eventType)), zap.Error(err))
	}
}

func cloneSession(s *domain.Session) *domain.Session {
	if s == nil {
		return nil
	}
	out := *s
	out.User = s.User.Clone()
	return &out
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
