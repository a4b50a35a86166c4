package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spec-kit/auth-session/internal/domain"
)

// UserRecord is a stored identity with its password hash.
type UserRecord struct {
	User         domain.User
	PasswordHash string
}

// UserRepository defines persistence access for identities.
type UserRepository interface {
	Create(ctx context.Context, rec *UserRecord) error
	GetByID(ctx context.Context, id string) (*UserRecord, error)
	GetByEmail(ctx context.Context, email string) (*UserRecord, error)
	ConfirmEmail(ctx context.Context, id string, at time.Time) error
}

type userRepository struct {
	db DB
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(db DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, rec *UserRecord) error {
	const query = `
        INSERT INTO users (email, password_hash, email_confirmed_at, metadata)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at`

	metadata, err := json.Marshal(orEmpty(rec.User.Metadata))
	if err != nil {
		return fmt.Errorf("encode user metadata: %w", err)
	}

	err = r.db.QueryRow(ctx, query,
		rec.User.Email,
		rec.PasswordHash,
		rec.User.EmailConfirmedAt,
		metadata,
	).Scan(&rec.User.ID, &rec.User.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ErrEmailTaken
	}
	return err
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*UserRecord, error) {
	const query = `
        SELECT id, email, password_hash, email_confirmed_at, metadata, created_at
        FROM users WHERE id=$1`
	return r.scanOne(ctx, query, id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*UserRecord, error) {
	const query = `
        SELECT id, email, password_hash, email_confirmed_at, metadata, created_at
        FROM users WHERE email=$1`
	return r.scanOne(ctx, query, email)
}

func (r *userRepository) ConfirmEmail(ctx context.Context, id string, at time.Time) error {
	const query = `
        UPDATE users SET email_confirmed_at=COALESCE(email_confirmed_at, $2), updated_at=NOW()
        WHERE id=$1`

	cmd, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *userRepository) scanOne(ctx context.Context, query string, arg string) (*UserRecord, error) {
	var (
		rec      UserRecord
		metadata []byte
	)
	if err := r.db.QueryRow(ctx, query, arg).Scan(
		&rec.User.ID,
		&rec.User.Email,
		&rec.PasswordHash,
		&rec.User.EmailConfirmedAt,
		&metadata,
		&rec.User.CreatedAt,
	); err != nil {
		return nil, notFound(err, domain.ErrUserNotFound)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.User.Metadata); err != nil {
			return nil, fmt.Errorf("decode user metadata: %w", err)
		}
	}
	return &rec, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
