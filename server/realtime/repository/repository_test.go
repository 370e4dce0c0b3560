package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat_sync/server/realtime/domain"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

var conversationCols = []string{"id", "member_one_id", "member_two_id", "created_at"}

func TestFindOrCreateConversationInserts(t *testing.T) {
	mock := newMock(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO conversations").
		WithArgs("alice", "bob").
		WillReturnRows(pgxmock.NewRows(conversationCols).AddRow("c1", "alice", "bob", created))

	pair, err := NewConversationRepository(mock).FindOrCreateConversation(context.Background(), "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationPair{ID: "c1", MemberOneID: "alice", MemberTwoID: "bob", CreatedAt: created}, pair)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrCreateConversationFallsBackToExistingRow(t *testing.T) {
	mock := newMock(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO conversations").
		WithArgs("alice", "bob").
		WillReturnRows(pgxmock.NewRows(conversationCols))
	mock.ExpectQuery("FROM conversations").
		WithArgs("alice", "bob").
		WillReturnRows(pgxmock.NewRows(conversationCols).AddRow("c-existing", "alice", "bob", created))

	pair, err := NewConversationRepository(mock).FindOrCreateConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "c-existing", pair.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFriendRequestMapsUniqueViolationToConflict(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("alice", "bob").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("INSERT INTO friend_requests").
		WithArgs("alice", "bob").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err := NewFriendRepository(mock).CreateFriendRequest(context.Background(), "alice", "bob")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFriendRequestRejectsExistingFriends(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("bob", "alice").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := NewFriendRepository(mock).CreateFriendRequest(context.Background(), "bob", "alice")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNotificationReadDecrementsOnce(t *testing.T) {
	mock := newMock(t)
	repo := NewNotificationRepository(mock)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO notification_counters").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"unread"}).AddRow(int64(2)))
	mock.ExpectQuery("SELECT NOT is_read FROM notifications").
		WithArgs("n1", "u1").
		WillReturnRows(pgxmock.NewRows([]string{"unread"}).AddRow(true))
	mock.ExpectExec("UPDATE notifications SET is_read=true").
		WithArgs("n1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("UPDATE notification_counters SET unread = GREATEST").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"unread"}).AddRow(int64(1)))
	mock.ExpectCommit()

	unread, err := repo.MarkNotificationRead(ctx, "u1", "n1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO notification_counters").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"unread"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT NOT is_read FROM notifications").
		WithArgs("n1", "u1").
		WillReturnRows(pgxmock.NewRows([]string{"unread"}).AddRow(false))
	mock.ExpectCommit()

	unread, err = repo.MarkNotificationRead(ctx, "u1", "n1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNotificationReadUnknownID(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO notification_counters").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"unread"}).AddRow(int64(0)))
	mock.ExpectQuery("SELECT NOT is_read FROM notifications").
		WithArgs("missing", "u1").
		WillReturnRows(pgxmock.NewRows([]string{"unread"}))
	mock.ExpectRollback()

	_, err := NewNotificationRepository(mock).MarkNotificationRead(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLikePatternEscapesWildcards(t *testing.T) {
	assert.Equal(t, `%50\%\_off%`, likePattern(" 50%_off "))
}
