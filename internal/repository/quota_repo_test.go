package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"norvis/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quotaCols = []string{
	"user_id", "subscription_type", "message_limit", "daily_message_count",
	"last_message_reset_date", "subscription_start_date", "subscription_end_date", "updated_at",
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestQuotaRepo_GetQuota(t *testing.T) {
	db, mock := newMock(t)
	repo := NewQuotaRepo(db)
	reset := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := reset.AddDate(0, 0, 30)

	mock.ExpectQuery(regexp.QuoteMeta("FROM subscription_quotas WHERE user_id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(quotaCols).
			AddRow("u1", "PRO", 700, 12, reset, reset, end, reset))

	q, err := repo.GetQuota(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, model.TierPro, q.SubscriptionType)
	assert.Equal(t, 700, q.MessageLimit)
	assert.Equal(t, 12, q.DailyMessageCount)
	require.NotNil(t, q.SubscriptionEndDate)
	assert.Equal(t, end, *q.SubscriptionEndDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepo_GetQuotaNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewQuotaRepo(db)

	mock.ExpectQuery("FROM subscription_quotas").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetQuota(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrQuotaNotFound)
}

func TestQuotaRepo_UpdateQuotaCommits(t *testing.T) {
	db, mock := newMock(t)
	repo := NewQuotaRepo(db)
	reset := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(quotaCols).
			AddRow("u1", "FREE", 25, 3, reset, nil, nil, reset))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscription_quotas")).
		WithArgs("u1", "FREE", 25, 4, reset, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	q, err := repo.UpdateQuota(context.Background(), "u1", func(q *model.SubscriptionQuota) error {
		q.DailyMessageCount++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, q.DailyMessageCount)
	assert.Nil(t, q.SubscriptionEndDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepo_UpdateQuotaRollsBackOnCallbackError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewQuotaRepo(db)
	reset := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	errBoom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(quotaCols).
			AddRow("u1", "FREE", 25, 3, reset, nil, nil, reset))
	mock.ExpectRollback()

	_, err := repo.UpdateQuota(context.Background(), "u1", func(*model.SubscriptionQuota) error {
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepo_UpdateQuotaStorageFailure(t *testing.T) {
	db, mock := newMock(t)
	repo := NewQuotaRepo(db)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := repo.UpdateQuota(context.Background(), "u1", func(*model.SubscriptionQuota) error { return nil })
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrQuotaNotFound)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestQuotaRepo_UpdateQuotaNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewQuotaRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("ghost").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.UpdateQuota(context.Background(), "ghost", func(*model.SubscriptionQuota) error { return nil })
	assert.ErrorIs(t, err, ErrQuotaNotFound)
}

func TestQuotaRepo_CreateQuota(t *testing.T) {
	db, mock := newMock(t)
	repo := NewQuotaRepo(db)
	reset := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (user_id) DO NOTHING")).
		WithArgs("u1", "FREE", 25, 0, reset, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateQuota(context.Background(), &model.SubscriptionQuota{
		UserID:               "u1",
		SubscriptionType:     model.TierFree,
		MessageLimit:         25,
		LastMessageResetDate: reset,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepo_DowngradeExpired(t *testing.T) {
	db, mock := newMock(t)
	repo := NewQuotaRepo(db)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("RETURNING user_id")).
		WithArgs(25, now).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1").AddRow("u2"))

	ids, err := repo.DowngradeExpired(context.Background(), now, 25)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
