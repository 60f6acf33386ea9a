package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"norvis/internal/model"
)

// ErrQuotaNotFound is returned when a user has no quota record.
var ErrQuotaNotFound = errors.New("subscription quota not found")

// QuotaRepository persists per-user subscription quotas.
type QuotaRepository interface {
	// CreateQuota inserts q unless the user already has a record.
	CreateQuota(ctx context.Context, q *model.SubscriptionQuota) error
	GetQuota(ctx context.Context, userID string) (*model.SubscriptionQuota, error)
	// UpdateQuota locks the user's row, lets fn mutate it and writes it back in
	// the same transaction. An error from fn rolls back and is returned as is.
	UpdateQuota(ctx context.Context, userID string, fn func(q *model.SubscriptionQuota) error) (*model.SubscriptionQuota, error)
	// DowngradeExpired rewrites paid tiers whose end date passed to FREE and returns the affected user IDs.
	DowngradeExpired(ctx context.Context, now time.Time, freeLimit int) ([]string, error)
}

type quotaRepo struct {
	db *sql.DB
}

func NewQuotaRepo(db *sql.DB) QuotaRepository {
	return &quotaRepo{db: db}
}

const quotaColumns = `user_id, subscription_type, message_limit, daily_message_count,
	last_message_reset_date, subscription_start_date, subscription_end_date, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuota(row rowScanner) (*model.SubscriptionQuota, error) {
	var (
		q     model.SubscriptionQuota
		tier  string
		start sql.NullTime
		end   sql.NullTime
	)
	if err := row.Scan(
		&q.UserID,
		&tier,
		&q.MessageLimit,
		&q.DailyMessageCount,
		&q.LastMessageResetDate,
		&start,
		&end,
		&q.UpdatedAt,
	); err != nil {
		return nil, err
	}
	q.SubscriptionType = model.Tier(tier)
	if start.Valid {
		q.SubscriptionStartDate = &start.Time
	}
	if end.Valid {
		q.SubscriptionEndDate = &end.Time
	}
	return &q, nil
}

func (r *quotaRepo) CreateQuota(ctx context.Context, q *model.SubscriptionQuota) error {
	const query = `
		INSERT INTO subscription_quotas (user_id, subscription_type, message_limit, daily_message_count,
			last_message_reset_date, subscription_start_date, subscription_end_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		q.UserID,
		string(q.SubscriptionType),
		q.MessageLimit,
		q.DailyMessageCount,
		q.LastMessageResetDate,
		q.SubscriptionStartDate,
		q.SubscriptionEndDate,
	)
	if err != nil {
		return fmt.Errorf("creating quota for user %s: %w", q.UserID, err)
	}
	return nil
}

func (r *quotaRepo) GetQuota(ctx context.Context, userID string) (*model.SubscriptionQuota, error) {
	query := `SELECT ` + quotaColumns + ` FROM subscription_quotas WHERE user_id = $1`
	q, err := scanQuota(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuotaNotFound
		}
		return nil, fmt.Errorf("fetching quota for user %s: %w", userID, err)
	}
	return q, nil
}

func (r *quotaRepo) UpdateQuota(ctx context.Context, userID string, fn func(q *model.SubscriptionQuota) error) (*model.SubscriptionQuota, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting quota transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	selectQ := `SELECT ` + quotaColumns + ` FROM subscription_quotas WHERE user_id = $1 FOR UPDATE`
	q, err := scanQuota(tx.QueryRowContext(ctx, selectQ, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuotaNotFound
		}
		return nil, fmt.Errorf("locking quota for user %s: %w", userID, err)
	}

	if err := fn(q); err != nil {
		return nil, err
	}

	const updateQ = `
		UPDATE subscription_quotas
		SET subscription_type = $2,
			message_limit = $3,
			daily_message_count = $4,
			last_message_reset_date = $5,
			subscription_start_date = $6,
			subscription_end_date = $7,
			updated_at = NOW()
		WHERE user_id = $1
	`
	if _, err := tx.ExecContext(ctx, updateQ,
		q.UserID,
		string(q.SubscriptionType),
		q.MessageLimit,
		q.DailyMessageCount,
		q.LastMessageResetDate,
		q.SubscriptionStartDate,
		q.SubscriptionEndDate,
	); err != nil {
		return nil, fmt.Errorf("updating quota for user %s: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing quota for user %s: %w", userID, err)
	}
	return q, nil
}

func (r *quotaRepo) DowngradeExpired(ctx context.Context, now time.Time, freeLimit int) ([]string, error) {
	const q = `
		UPDATE subscription_quotas
		SET subscription_type = 'FREE',
			message_limit = $1,
			subscription_start_date = NULL,
			subscription_end_date = NULL,
			updated_at = NOW()
		WHERE subscription_type <> 'FREE'
		  AND (subscription_end_date IS NULL OR subscription_end_date < $2)
		RETURNING user_id
	`
	rows, err := r.db.QueryContext(ctx, q, freeLimit, now)
	if err != nil {
		return nil, fmt.Errorf("downgrading expired subscriptions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning downgraded user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating downgraded rows: %w", err)
	}
	return ids, nil
}
