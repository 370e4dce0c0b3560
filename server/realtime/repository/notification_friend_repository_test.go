package repository

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat_sync/server/realtime/domain"
)

var (
	notificationCols  = []string{"id", "user_id", "sender_id", "kind", "title", "body", "channel_id", "conversation_id", "message_id", "is_read", "created_at"}
	friendRequestCols = []string{"id", "sender_id", "recipient_id", "status", "created_at", "updated_at", "rejected_at"}
	noString          = (*string)(nil)
	noTime            = (*time.Time)(nil)
)

// rejectedAtArg matches the rejected_at bind parameter of a friend request
// update: nil when want is zero, otherwise a pointer to want.
type rejectedAtArg struct {
	want time.Time
}

func (a rejectedAtArg) Match(v any) bool {
	at, ok := v.(*time.Time)
	if !ok {
		return false
	}
	if a.want.IsZero() {
		return at == nil
	}
	return at != nil && at.Equal(a.want)
}

func expectCounterLock(mock pgxmock.PgxPoolIface, userID string, unread int64) {
	mock.ExpectQuery("INSERT INTO notification_counters").
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"unread"}).AddRow(unread))
}

func TestCreateNotificationLocksCounterThenInsertsThenIncrements(t *testing.T) {
	mock := newMock(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	channelID := "ch1"

	mock.ExpectBegin()
	expectCounterLock(mock, "bob", 2)
	mock.ExpectQuery("INSERT INTO notifications").
		WithArgs("bob", "alice", "CHANNEL_MESSAGE", "general", "hi", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(notificationCols).
			AddRow("n1", "bob", "alice", "CHANNEL_MESSAGE", "general", "hi", &channelID, noString, noString, false, created))
	mock.ExpectQuery(`UPDATE notification_counters SET unread = unread \+ 1`).
		WithArgs("bob").
		WillReturnRows(pgxmock.NewRows([]string{"unread"}).AddRow(int64(3)))
	mock.ExpectCommit()

	n, unread, err := NewNotificationRepository(mock).CreateNotification(context.Background(), domain.Notification{
		UserID:    "bob",
		SenderID:  "alice",
		Kind:      domain.NotificationChannelMessage,
		Title:     "general",
		Body:      "hi",
		ChannelID: &channelID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)
	assert.Equal(t, "n1", n.ID)
	assert.Equal(t, domain.NotificationChannelMessage, n.Kind)
	require.NotNil(t, n.ChannelID)
	assert.Equal(t, "ch1", *n.ChannelID)
	assert.Nil(t, n.ConversationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateNotificationRollsBackWhenInsertFails(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	expectCounterLock(mock, "bob", 0)
	mock.ExpectQuery("INSERT INTO notifications").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, _, err := NewNotificationRepository(mock).CreateNotification(context.Background(), domain.Notification{
		UserID: "bob", SenderID: "alice", Kind: domain.NotificationDirectMessage,
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAllNotificationsReadZeroesCounterInsideLock(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	expectCounterLock(mock, "bob", 3)
	mock.ExpectExec("UPDATE notifications SET is_read=true").
		WithArgs("bob").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectExec("UPDATE notification_counters SET unread=0").
		WithArgs("bob").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	changed, err := NewNotificationRepository(mock).MarkAllNotificationsRead(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(3), changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUnreadNotificationDecrementsCounter(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	expectCounterLock(mock, "bob", 2)
	mock.ExpectQuery("DELETE FROM notifications").
		WithArgs("n1", "bob").
		WillReturnRows(pgxmock.NewRows([]string{"is_read"}).AddRow(false))
	mock.ExpectQuery("GREATEST").
		WithArgs("bob").
		WillReturnRows(pgxmock.NewRows([]string{"unread"}).AddRow(int64(1)))
	mock.ExpectCommit()

	unread, err := NewNotificationRepository(mock).DeleteNotification(context.Background(), "bob", "n1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteReadNotificationLeavesCounter(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	expectCounterLock(mock, "bob", 2)
	mock.ExpectQuery("DELETE FROM notifications").
		WithArgs("n1", "bob").
		WillReturnRows(pgxmock.NewRows([]string{"is_read"}).AddRow(true))
	mock.ExpectCommit()

	unread, err := NewNotificationRepository(mock).DeleteNotification(context.Background(), "bob", "n1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMissingNotificationIsNotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	expectCounterLock(mock, "bob", 0)
	mock.ExpectQuery("DELETE FROM notifications").
		WithArgs("n9", "bob").
		WillReturnRows(pgxmock.NewRows([]string{"is_read"}))
	mock.ExpectRollback()

	_, err := NewNotificationRepository(mock).DeleteNotification(context.Background(), "bob", "n9")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectLockedFriendRequest(mock pgxmock.PgxPoolIface, created time.Time) {
	mock.ExpectBegin()
	mock.ExpectQuery("FROM friend_requests").
		WithArgs("fr1").
		WillReturnRows(pgxmock.NewRows(friendRequestCols).
			AddRow("fr1", "alice", "bob", "PENDING", created, created, noTime))
}

func TestTransitionFriendRequestAcceptWritesStatus(t *testing.T) {
	mock := newMock(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	at := created.Add(time.Hour)

	expectLockedFriendRequest(mock, created)
	mock.ExpectExec("UPDATE friend_requests").
		WithArgs("fr1", "ACCEPTED", at, rejectedAtArg{}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	fr, err := NewFriendRepository(mock).TransitionFriendRequest(context.Background(), "fr1", func(req *domain.FriendRequest) (bool, error) {
		return false, req.Accept("bob", at)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.FriendRequestAccepted, fr.Status)
	assert.Nil(t, fr.RejectedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionFriendRequestRejectWritesRejectedAt(t *testing.T) {
	mock := newMock(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	at := created.Add(time.Hour)

	expectLockedFriendRequest(mock, created)
	mock.ExpectExec("UPDATE friend_requests").
		WithArgs("fr1", "REJECTED", at, rejectedAtArg{want: at}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	fr, err := NewFriendRepository(mock).TransitionFriendRequest(context.Background(), "fr1", func(req *domain.FriendRequest) (bool, error) {
		return false, req.Reject("bob", at)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.FriendRequestRejected, fr.Status)
	require.NotNil(t, fr.RejectedAt)
	assert.True(t, fr.RejectedAt.Equal(at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionFriendRequestCancelDeletesRow(t *testing.T) {
	mock := newMock(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	expectLockedFriendRequest(mock, created)
	mock.ExpectExec("DELETE FROM friend_requests").
		WithArgs("fr1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	_, err := NewFriendRepository(mock).TransitionFriendRequest(context.Background(), "fr1", func(req *domain.FriendRequest) (bool, error) {
		return true, req.CanCancel("alice")
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionFriendRequestRefusedWritesNothing(t *testing.T) {
	mock := newMock(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	expectLockedFriendRequest(mock, created)
	mock.ExpectRollback()

	_, err := NewFriendRepository(mock).TransitionFriendRequest(context.Background(), "fr1", func(req *domain.FriendRequest) (bool, error) {
		return false, req.Accept("alice", created)
	})
	require.ErrorIs(t, err, domain.ErrAuthorization)
	assert.NoError(t, mock.ExpectationsWereMet())
}
