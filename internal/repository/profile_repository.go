package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/auth-session/internal/domain"
)

// ProfileRepository reads and writes the remote profile store.
type ProfileRepository interface {
	ReadProfile(ctx context.Context, userID string) (*domain.Profile, error)
	CreateProfile(ctx context.Context, userID string, defaults domain.ProfileDefaults) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, userID string, fields domain.ProfileUpdate) error
	AssignRole(ctx context.Context, assignment domain.RoleAssignment) error
}

type profileRepository struct {
	db DB
}

// NewProfileRepository returns a Postgres-backed implementation.
func NewProfileRepository(db DB) ProfileRepository {
	return &profileRepository{db: db}
}

const profileColumns = `user_id, role, display_name, created_at, updated_at`

func (r *profileRepository) ReadProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	const query = `SELECT ` + profileColumns + ` FROM profiles WHERE user_id=$1`
	return scanProfile(r.db.QueryRow(ctx, query, userID))
}

// CreateProfile inserts a profile with defaults. The role requested at
// sign-up, if one was recorded, takes precedence over defaults.Role. A
// concurrent insert for the same user wins; its row is returned instead.
func (r *profileRepository) CreateProfile(ctx context.Context, userID string, defaults domain.ProfileDefaults) (*domain.Profile, error) {
	const query = `
        INSERT INTO profiles (user_id, role, display_name)
        VALUES ($1, COALESCE(
            (SELECT role FROM role_assignments WHERE user_id=$1 ORDER BY created_at DESC LIMIT 1),
            $2), $3)
        ON CONFLICT (user_id) DO NOTHING
        RETURNING ` + profileColumns

	role := defaults.Role
	if !role.Valid() {
		role = domain.DefaultRole
	}
	profile, err := scanProfile(r.db.QueryRow(ctx, query, userID, string(role), defaults.DisplayName))
	if errors.Is(err, domain.ErrProfileNotFound) {
		return r.ReadProfile(ctx, userID)
	}
	return profile, err
}

func (r *profileRepository) UpdateProfile(ctx context.Context, userID string, fields domain.ProfileUpdate) error {
	const query = `
        UPDATE profiles
        SET role=COALESCE($2, role), display_name=COALESCE($3, display_name), updated_at=NOW()
        WHERE user_id=$1`

	var role *string
	if fields.Role != nil {
		if !fields.Role.Valid() {
			return domain.ErrInvalidRole
		}
		r := string(*fields.Role)
		role = &r
	}

	cmd, err := r.db.Exec(ctx, query, userID, role, fields.DisplayName)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrProfileNotFound
	}
	return nil
}

func (r *profileRepository) AssignRole(ctx context.Context, assignment domain.RoleAssignment) error {
	const query = `
        INSERT INTO role_assignments (user_id, role, created_at)
        VALUES ($1, $2, COALESCE($3, NOW()))`

	if !assignment.Role.Valid() {
		return domain.ErrInvalidRole
	}
	var createdAt *time.Time
	if !assignment.CreatedAt.IsZero() {
		createdAt = &assignment.CreatedAt
	}
	_, err := r.db.Exec(ctx, query, assignment.UserID, string(assignment.Role), createdAt)
	return err
}

func scanProfile(row pgx.Row) (*domain.Profile, error) {
	var (
		profile domain.Profile
		role    string
	)
	if err := row.Scan(
		&profile.UserID,
		&role,
		&profile.DisplayName,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	); err != nil {
		return nil, notFound(err, domain.ErrProfileNotFound)
	}
	profile.Role = domain.Role(role)
	return &profile, nil
}
