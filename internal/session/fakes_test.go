package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spec-kit/auth-session/internal/domain"
)

type fakeProvider struct {
	mu       sync.Mutex
	handlers map[int]func(domain.AuthEvent)
	nextID   int

	session      *domain.Session
	sessionErr   error
	sessionBlock chan struct{}

	signInResp  domain.AuthResponse
	signInErr   error
	signInBlock chan struct{}

	signUpResp domain.AuthResponse
	signUpErr  error
	signUpOpts domain.SignUpOptions

	signOutBlock   chan struct{}
	signOutStarted chan struct{}
	signOutDone    chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		handlers:       make(map[int]func(domain.AuthEvent)),
		signOutStarted: make(chan struct{}, 8),
		signOutDone:    make(chan struct{}, 8),
	}
}

func (f *fakeProvider) GetSession(ctx context.Context) (*domain.Session, error) {
	f.mu.Lock()
	block := f.sessionBlock
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.sessionErr
}

func (f *fakeProvider) SignInWithPassword(ctx context.Context, _, _ string) (domain.AuthResponse, error) {
	if f.signInBlock != nil {
		select {
		case <-f.signInBlock:
		case <-ctx.Done():
			return domain.AuthResponse{}, ctx.Err()
		}
	}
	return f.signInResp, f.signInErr
}

func (f *fakeProvider) SignUp(_ context.Context, _, _ string, opts domain.SignUpOptions) (domain.AuthResponse, error) {
	f.mu.Lock()
	f.signUpOpts = opts
	f.mu.Unlock()
	return f.signUpResp, f.signUpErr
}

func (f *fakeProvider) SignOut(context.Context) error {
	f.signOutStarted <- struct{}{}
	if f.signOutBlock != nil {
		<-f.signOutBlock
	}
	f.signOutDone <- struct{}{}
	return nil
}

func (f *fakeProvider) OnAuthStateChange(handler func(domain.AuthEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.handlers[id] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}
}

func (f *fakeProvider) emit(evt domain.AuthEvent) {
	f.mu.Lock()
	handlers := make([]func(domain.AuthEvent), 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

func (f *fakeProvider) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

type fakeResolver struct {
	mu    sync.Mutex
	roles map[string]domain.Role
	gates map[string]chan struct{}
	calls map[string]int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		roles: make(map[string]domain.Role),
		gates: make(map[string]chan struct{}),
		calls: make(map[string]int),
	}
}

func (r *fakeResolver) set(userID string, role domain.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[userID] = role
}

func (r *fakeResolver) block(userID string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{})
	r.gates[userID] = ch
	return ch
}

func (r *fakeResolver) callCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[userID]
}

func (r *fakeResolver) ResolveRole(_ context.Context, userID string) domain.Role {
	r.mu.Lock()
	r.calls[userID]++
	gate := r.gates[userID]
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if role, ok := r.roles[userID]; ok {
		return role
	}
	return domain.DefaultRole
}

type fakeProfiles struct {
	mu          sync.Mutex
	updateErr   error
	assignErr   error
	updates     []domain.ProfileUpdate
	assignments []domain.RoleAssignment
	updateBlock chan struct{}
	assignPanic bool

	// readProfile, when set, is returned by ReadProfile once readBlock opens.
	readProfile *domain.Profile
	readBlock   chan struct{}
	readStarted chan struct{}
}

func (p *fakeProfiles) UpdateProfile(_ context.Context, _ string, fields domain.ProfileUpdate) error {
	if p.updateBlock != nil {
		<-p.updateBlock
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, fields)
	return p.updateErr
}

func (p *fakeProfiles) AssignRole(_ context.Context, assignment domain.RoleAssignment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.assignPanic {
		panic("profile store exploded")
	}
	p.assignments = append(p.assignments, assignment)
	return p.assignErr
}

func (p *fakeProfiles) ReadProfile(context.Context, string) (*domain.Profile, error) {
	if p.readStarted != nil {
		p.readStarted <- struct{}{}
	}
	if p.readBlock != nil {
		<-p.readBlock
	}
	if p.readProfile != nil {
		out := *p.readProfile
		return &out, nil
	}
	return nil, errors.New("dial tcp: connection refused")
}

func (p *fakeProfiles) CreateProfile(context.Context, string, domain.ProfileDefaults) (*domain.Profile, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func testUser(id string) *domain.User {
	confirmed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &domain.User{ID: id, Email: id + "@example.com", EmailConfirmedAt: &confirmed}
}

func testSession(id string) *domain.Session {
	return &domain.Session{
		ID:          "sess-" + id,
		AccessToken: "token-" + id,
		ExpiresAt:   time.Now().Add(time.Hour),
		User:        testUser(id),
	}
}
