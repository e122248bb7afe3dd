package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, name, email, phone, password_hash, role,
	email_verified, email_verified_at, phone_verified, phone_verified_at,
	two_factor_enabled, two_factor_method, two_factor_secret, gardens,
	created_at, updated_at`

const uniqueViolation = "23505"

// PostgresUserStore keeps users in the "users" table created by
// migrations/0001_users.up.sql.
type PostgresUserStore struct {
	DB *pgxpool.Pool
}

func NewPostgresUserStore(db *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{DB: db}
}

func (r *PostgresUserStore) Create(ctx context.Context, u *User) error {
	gardens, err := json.Marshal(nonNilGardens(u.Gardens))
	if err != nil {
		return fmt.Errorf("encode gardens: %w", err)
	}
	u.Email = NormalizeEmail(u.Email)

	_, err = r.DB.Exec(ctx, `
		INSERT INTO users
		(id, name, email, phone, password_hash, role, email_verified, email_verified_at,
		 phone_verified, two_factor_enabled, two_factor_method, gardens, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, u.ID, u.Name, u.Email, u.Phone, u.PasswordHash, u.Role, u.EmailVerified, u.EmailVerifiedAt,
		u.PhoneVerified, u.TwoFactorEnabled, u.TwoFactorMethod, gardens, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *PostgresUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, NormalizeEmail(email))
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

func (r *PostgresUserStore) FindByID(ctx context.Context, id string) (*User, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

// MarkEmailVerified only flips rows that are still unverified, so two
// concurrent verifications report true exactly once.
func (r *PostgresUserStore) MarkEmailVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.DB.Exec(ctx, `
		UPDATE users
		SET email_verified=TRUE, email_verified_at=$2, updated_at=$2
		WHERE id=$1 AND email_verified=FALSE
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark email verified: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	exists, err := r.exists(ctx, id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrUserNotFound
	}
	return false, nil
}

func (r *PostgresUserStore) MarkPhoneVerified(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "mark phone verified", `
		UPDATE users
		SET phone_verified=TRUE, phone_verified_at=$2, updated_at=$2
		WHERE id=$1
	`, id, at)
}

func (r *PostgresUserStore) UpdatePassword(ctx context.Context, id, hash string) error {
	return r.exec(ctx, "update password", `
		UPDATE users
		SET password_hash=$2, updated_at=NOW()
		WHERE id=$1
	`, id, hash)
}

func (r *PostgresUserStore) SetTwoFactorSecret(ctx context.Context, id, method string, secret *string) error {
	return r.exec(ctx, "set two-factor secret", `
		UPDATE users
		SET two_factor_secret=$2, two_factor_method=$3, updated_at=NOW()
		WHERE id=$1
	`, id, secret, method)
}

func (r *PostgresUserStore) EnableTwoFactor(ctx context.Context, id, method string) error {
	return r.exec(ctx, "enable two-factor", `
		UPDATE users
		SET two_factor_enabled=TRUE, two_factor_method=$2, updated_at=NOW()
		WHERE id=$1
	`, id, method)
}

func (r *PostgresUserStore) DisableTwoFactor(ctx context.Context, id string) error {
	return r.exec(ctx, "disable two-factor", `
		UPDATE users
		SET two_factor_enabled=FALSE,
		    two_factor_method='',
		    two_factor_secret=NULL,
		    updated_at=NOW()
		WHERE id=$1
	`, id)
}

func (r *PostgresUserStore) exec(ctx context.Context, op, query string, args ...interface{}) error {
	tag, err := r.DB.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PostgresUserStore) exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.DB.QueryRow(ctx, `SELECT 1 FROM users WHERE id=$1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		u               User
		emailVerifiedAt sql.NullTime
		phoneVerifiedAt sql.NullTime
		secret          sql.NullString
		gardens         []byte
	)

	if err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Phone,
		&u.PasswordHash,
		&u.Role,
		&u.EmailVerified,
		&emailVerifiedAt,
		&u.PhoneVerified,
		&phoneVerifiedAt,
		&u.TwoFactorEnabled,
		&u.TwoFactorMethod,
		&secret,
		&gardens,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if emailVerifiedAt.Valid {
		t := emailVerifiedAt.Time
		u.EmailVerifiedAt = &t
	}
	if phoneVerifiedAt.Valid {
		t := phoneVerifiedAt.Time
		u.PhoneVerifiedAt = &t
	}
	if secret.Valid {
		s := secret.String
		u.TwoFactorSecret = &s
	}
	if len(gardens) > 0 {
		if err := json.Unmarshal(gardens, &u.Gardens); err != nil {
			return nil, fmt.Errorf("decode gardens for %s: %w", u.ID, err)
		}
	}
	return &u, nil
}

func nonNilGardens(g []GardenMembership) []GardenMembership {
	if g == nil {
		return []GardenMembership{}
	}
	return g
}
