package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventhub/partner-portal/internal/domain"
)

// PostgresRepository implements domain.UserRepository using PostgreSQL. The
// users table is owned by the main application; the portal only reads it.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, email, phone, name, role, avatar_url, created_at, updated_at`

// GetUserByID retrieves a user by ID
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	row := r.db.QueryRow(ctx, query, id)
	return scanUser(row)
}

// GetUserWithPassword retrieves a user with password hash for verification
func (r *PostgresRepository) GetUserWithPassword(ctx context.Context, email string) (*domain.User, string, error) {
	query := `SELECT ` + userColumns + `, password FROM users WHERE lower(email) = lower($1)`
	row := r.db.QueryRow(ctx, query, email)

	var user domain.User
	var passwordHash *string
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Phone,
		&user.Name,
		&user.Role,
		&user.AvatarURL,
		&user.CreatedAt,
		&user.UpdatedAt,
		&passwordHash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", domain.ErrUserNotFound
		}
		return nil, "", err
	}

	hash := ""
	if passwordHash != nil {
		hash = *passwordHash
	}

	return &user, hash, nil
}

// Ping checks database connectivity for readiness probes.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Phone,
		&user.Name,
		&user.Role,
		&user.AvatarURL,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}
