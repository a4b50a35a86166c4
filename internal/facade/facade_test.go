package facade_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/auth-session/internal/domain"
	"github.com/spec-kit/auth-session/internal/facade"
	"github.com/spec-kit/auth-session/internal/session"
)

func TestRoleFor(t *testing.T) {
	user := &domain.User{ID: "user-1"}

	tests := []struct {
		name   string
		state  session.State
		want   domain.Role
		wantOK bool
	}{
		{"anonymous", session.State{}, "", false},
		{"role pending", session.State{User: user}, "", false},
		{"loading", session.State{User: user, Role: domain.RoleAdmin.Ptr(), Loading: true}, "", false},
		{"resolved", session.State{User: user, Role: domain.RoleInstructor.Ptr()}, domain.RoleInstructor, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := facade.RoleFor(tt.state)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHasRole(t *testing.T) {
	state := session.State{User: &domain.User{ID: "user-1"}, Role: domain.RoleAdmin.Ptr()}

	assert.True(t, facade.HasRole(state, domain.RoleAdmin))
	assert.True(t, facade.HasRole(state, domain.RoleInstructor, domain.RoleAdmin))
	assert.False(t, facade.HasRole(state, domain.RoleStudent))
	assert.False(t, facade.HasRole(session.State{}, domain.RoleStudent))
}

func TestNewReturnsMachine(t *testing.T) {
	m := session.New(session.Config{})
	auth := facade.New(m)
	assert.Equal(t, session.PhaseUninitialized, auth.Snapshot().Phase())
}
