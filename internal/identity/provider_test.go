package identity

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/auth-session/internal/auth"
	"github.com/spec-kit/auth-session/internal/domain"
	"github.com/spec-kit/auth-session/internal/repository"
	"github.com/spec-kit/auth-session/internal/session"
)

var _ session.IdentityProvider = (*Provider)(nil)

type memoryUsers struct {
	mu      sync.Mutex
	byID    map[string]*repository.UserRecord
	counter int
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byID: make(map[string]*repository.UserRecord)}
}

func (m *memoryUsers) Create(_ context.Context, rec *repository.UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.User.Email == rec.User.Email {
			return domain.ErrEmailTaken
		}
	}
	m.counter++
	rec.User.ID = "user-" + strconv.Itoa(m.counter)
	rec.User.CreatedAt = time.Now()
	stored := *rec
	m.byID[rec.User.ID] = &stored
	return nil
}

func (m *memoryUsers) GetByID(_ context.Context, id string) (*repository.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	out := *rec
	return &out, nil
}

func (m *memoryUsers) GetByEmail(_ context.Context, email string) (*repository.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.byID {
		if rec.User.Email == email {
			out := *rec
			return &out, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (m *memoryUsers) ConfirmEmail(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	rec.User.EmailConfirmedAt = &at
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []domain.AuthEvent
}

func (r *recorder) handle(e domain.AuthEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []domain.AuthEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AuthEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newProvider(t *testing.T, autoConfirm bool) (*Provider, *recorder) {
	t.Helper()
	p := New(Config{
		Users:       newMemoryUsers(),
		Tokens:      auth.NewTokenManager("test-secret", time.Hour),
		BcryptCost:  bcrypt.MinCost,
		AutoConfirm: autoConfirm,
		Logger:      zaptest.NewLogger(t),
	})
	rec := &recorder{}
	t.Cleanup(p.OnAuthStateChange(rec.handle))
	return p, rec
}

func TestProvider_SignUpAutoConfirmSignsIn(t *testing.T) {
	p, rec := newProvider(t, true)
	ctx := context.Background()

	resp, err := p.SignUp(ctx, " Ada@Example.com ", "secret1", domain.SignUpOptions{Metadata: map[string]any{"role": "instructor"}})
	require.NoError(t, err)
	require.NotNil(t, resp.Session)
	assert.Equal(t, "ada@example.com", resp.User.Email)
	assert.True(t, resp.User.Confirmed())
	assert.Equal(t, "instructor", resp.User.Metadata["role"])
	assert.Equal(t, []domain.AuthEventType{domain.EventSignedIn}, rec.types())

	held, err := p.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Equal(t, resp.User.ID, held.UserID())
}

func TestProvider_SignUpWithoutConfirmation(t *testing.T) {
	p, rec := newProvider(t, false)
	ctx := context.Background()

	resp, err := p.SignUp(ctx, "ada@example.com", "secret1", domain.SignUpOptions{})
	require.NoError(t, err)
	assert.Nil(t, resp.Session)
	assert.False(t, resp.User.Confirmed())
	assert.Empty(t, rec.types())

	_, err = p.SignInWithPassword(ctx, "ada@example.com", "secret1")
	assert.ErrorIs(t, err, domain.ErrEmailNotConfirmed)

	sess, err := p.ConfirmEmail(ctx, resp.User.ID)
	require.NoError(t, err)
	assert.True(t, sess.User.Confirmed())
	assert.Equal(t, []domain.AuthEventType{domain.EventUserUpdated}, rec.types())
}

func TestProvider_SignUpValidation(t *testing.T) {
	p, _ := newProvider(t, true)
	ctx := context.Background()

	_, err := p.SignUp(ctx, "not-an-email", "secret1", domain.SignUpOptions{})
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = p.SignUp(ctx, "ada@example.com", "123", domain.SignUpOptions{})
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = p.SignUp(ctx, "ada@example.com", "secret1", domain.SignUpOptions{})
	require.NoError(t, err)
	_, err = p.SignUp(ctx, "ada@example.com", "secret1", domain.SignUpOptions{})
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}

func TestProvider_SignInAndOut(t *testing.T) {
	p, rec := newProvider(t, true)
	ctx := context.Background()
	_, err := p.SignUp(ctx, "ada@example.com", "secret1", domain.SignUpOptions{})
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx))

	_, err = p.SignInWithPassword(ctx, "ada@example.com", "wrong-pass")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = p.SignInWithPassword(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	resp, err := p.SignInWithPassword(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	require.NotNil(t, resp.Session)

	require.NoError(t, p.SignOut(ctx))
	held, err := p.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, held)

	assert.Equal(t, []domain.AuthEventType{
		domain.EventSignedIn, domain.EventSignedOut, domain.EventSignedIn, domain.EventSignedOut,
	}, rec.types())
}

func TestProvider_RefreshKeepsSessionID(t *testing.T) {
	p, rec := newProvider(t, true)
	ctx := context.Background()

	_, err := p.RefreshSession(ctx)
	assert.ErrorIs(t, err, domain.ErrNoSession)

	resp, err := p.SignUp(ctx, "ada@example.com", "secret1", domain.SignUpOptions{})
	require.NoError(t, err)

	refreshed, err := p.RefreshSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, resp.Session.ID, refreshed.ID)
	assert.Equal(t, domain.EventTokenRefreshed, rec.types()[len(rec.types())-1])
}

func TestProvider_GetSessionDropsExpiredToken(t *testing.T) {
	p, _ := newProvider(t, true)
	ctx := context.Background()
	_, err := p.SignUp(ctx, "ada@example.com", "secret1", domain.SignUpOptions{})
	require.NoError(t, err)

	p.tokens = auth.NewTokenManager("rotated-secret", time.Hour)

	held, err := p.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, held)
}

func TestProvider_DrivesSessionMachine(t *testing.T) {
	p, _ := newProvider(t, true)
	m := session.New(session.Config{Provider: p, Logger: zaptest.NewLogger(t)})
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	m.WaitIdle()

	res := m.SignUp(context.Background(), "ada@example.com", "secret1", domain.RoleStudent)
	require.True(t, res.Success)
	m.WaitIdle()

	state := m.Snapshot()
	require.NotNil(t, state.User)
	require.NotNil(t, state.Role)
	assert.Equal(t, domain.DefaultRole, *state.Role)

	m.SignOut(context.Background())
	m.WaitIdle()
	assert.Nil(t, m.Snapshot().User)
	held, _ := p.GetSession(context.Background())
	assert.Nil(t, held)
}
