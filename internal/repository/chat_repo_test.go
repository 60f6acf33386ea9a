package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"norvis/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var chatCols = []string{"id", "user_id", "title", "model", "created_at", "updated_at"}

func TestChatRepo_GetChatNotOwned(t *testing.T) {
	db, mock := newMock(t)
	repo := NewChatRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM chats WHERE id = $1 AND user_id = $2")).
		WithArgs("c1", "intruder").
		WillReturnRows(sqlmock.NewRows(chatCols))

	_, err := repo.GetChat(context.Background(), "c1", "intruder")
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestChatRepo_ListChats(t *testing.T) {
	db, mock := newMock(t)
	repo := NewChatRepo(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("LIMIT $2 OFFSET $3")).
		WithArgs("u1", 20, 0).
		WillReturnRows(sqlmock.NewRows(chatCols).
			AddRow("c2", "u1", "second", "gpt-4o-mini", now, now).
			AddRow("c1", "u1", "first", "claude-3-5-haiku-latest", now, now))

	chats, err := repo.ListChats(context.Background(), "u1", 20, 0)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "c2", chats[0].ID)
	assert.Equal(t, "claude-3-5-haiku-latest", chats[1].Model)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatRepo_DeleteChatMissing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewChatRepo(db)

	mock.ExpectExec("DELETE FROM chats").
		WithArgs("c1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteChat(context.Background(), "c1", "u1")
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestChatRepo_CreateMessage(t *testing.T) {
	db, mock := newMock(t)
	repo := NewChatRepo(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WithArgs("c1", model.RoleChatUser, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "chat_id", "role", "parts", "created_at"}).
			AddRow("m1", "c1", "user", []byte(`[{"type":"text","text":"hello"}]`), now))

	msg, err := repo.CreateMessage(context.Background(), "c1", model.RoleChatUser,
		model.MessageParts{{Type: "text", Text: "hello"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Parts.Text())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatRepo_ListMessagesChronological(t *testing.T) {
	db, mock := newMock(t)
	repo := NewChatRepo(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM chats")).
		WithArgs("c1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c1"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM messages")).
		WithArgs("c1", 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "chat_id", "role", "parts", "created_at"}).
			AddRow("m2", "c1", "assistant", []byte(`[{"type":"text","text":"hi there"}]`), now).
			AddRow("m1", "c1", "user", []byte(`[{"type":"text","text":"hi"}]`), now.Add(-time.Second)))

	msgs, err := repo.ListMessages(context.Background(), "c1", "u1", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestUserRepo_GetUserByIDMissing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery("FROM user_profiles").
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "name", "email", "role", "stripe_customer_id", "created_at", "updated_at"}))

	u, err := repo.GetUserByID(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestUserRepo_CreateUserDefaultsRole(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO user_profiles")).
		WithArgs("u1", "Ada", "ada@example.com", model.RoleUser).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "name", "email", "role", "stripe_customer_id", "created_at", "updated_at"}).
			AddRow("u1", "Ada", "ada@example.com", "user", nil, now, now))

	u := &model.User{UserID: "u1", Name: "Ada", Email: "ada@example.com"}
	require.NoError(t, repo.CreateUser(context.Background(), u))
	assert.Equal(t, model.RoleUser, u.Role)
	assert.Nil(t, u.StripeCustomerID)
}

func TestUserRepo_UpdateStripeCustomerIDError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectExec("UPDATE user_profiles").
		WithArgs("u1", "cus_123").
		WillReturnError(errors.New("db down"))

	err := repo.UpdateStripeCustomerID(context.Background(), "u1", "cus_123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestUserRepo_CreateUserDuplicate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO user_profiles")).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := repo.CreateUser(context.Background(), &model.User{UserID: "u1", Email: "ada@example.com"})
	assert.ErrorIs(t, err, ErrUserExists)
}
