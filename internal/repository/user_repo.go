package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"norvis/internal/model"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrUserExists is returned when the user ID or email is already registered.
var ErrUserExists = errors.New("user already exists")

type UserRepository interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByStripeCustomerID(ctx context.Context, customerID string) (*model.User, error)
	UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error
}

type userRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) UserRepository {
	return &userRepo{db: db}
}

const userColumns = `user_id, name, email, role, stripe_customer_id, created_at, updated_at`

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.UserID, &u.Name, &u.Email, &u.Role, &u.StripeCustomerID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) CreateUser(ctx context.Context, u *model.User) error {
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	query := `INSERT INTO user_profiles (user_id, name, email, role)
              VALUES ($1, $2, $3, $4) RETURNING ` + userColumns
	created, err := scanUser(r.db.QueryRowContext(ctx, query, u.UserID, u.Name, u.Email, u.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrUserExists
		}
		return fmt.Errorf("creating user %s: %w", u.UserID, err)
	}
	*u = *created
	return nil
}

// GetUserByID returns nil, nil when the user does not exist.
func (r *userRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM user_profiles WHERE user_id=$1`
	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func (r *userRepo) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM user_profiles WHERE stripe_customer_id=$1`
	u, err := scanUser(r.db.QueryRowContext(ctx, query, customerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func (r *userRepo) UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error {
	query := `UPDATE user_profiles SET stripe_customer_id=$2, updated_at=NOW() WHERE user_id=$1`
	if _, err := r.db.ExecContext(ctx, query, userID, customerID); err != nil {
		return fmt.Errorf("updating stripe customer for user %s: %w", userID, err)
	}
	return nil
}
