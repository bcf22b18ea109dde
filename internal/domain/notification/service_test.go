package notification

import (
	"context"
	"testing"
	"time"

	"carpool/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPusher struct {
	mock.Mock
}

func (m *MockPusher) Push(userID int64, n *Notification) bool {
	args := m.Called(userID, n)
	return args.Bool(0)
}

func newTestService(t *testing.T, pusher Pusher) *Service {
	t.Helper()
	db, err := database.Connect("file::memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, &Notification{}))
	return NewService(NewRepository(db), pusher)
}

func TestNotify_StoresAndPushes(t *testing.T) {
	pusher := new(MockPusher)
	pusher.On("Push", int64(7), mock.MatchedBy(func(n *Notification) bool {
		return n.Kind == KindBidReceived && n.RelatedID == 42 && n.ID > 0
	})).Return(true).Once()

	svc := newTestService(t, pusher)
	ctx := context.Background()

	require.NoError(t, svc.Notify(ctx, 7, KindBidReceived, 42))

	list, unread, total, err := svc.List(ctx, 7, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), unread)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "New driver offer", list[0].Title)
	pusher.AssertExpectations(t)
}

func TestMarkAsRead_OnlyOwnNotifications(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.Notify(ctx, 1, KindTripCancelled, 10))
	list, _, _, err := svc.List(ctx, 1, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	assert.ErrorIs(t, svc.MarkAsRead(ctx, list[0].ID, 2), ErrNotFound)
	require.NoError(t, svc.MarkAsRead(ctx, list[0].ID, 1))

	_, unread, _, err := svc.List(ctx, 1, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), unread)
}

func TestMarkAllAsRead(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.Notify(ctx, 3, KindTripStarted, 1))
	require.NoError(t, svc.Notify(ctx, 3, KindTripCompleted, 1))
	require.NoError(t, svc.Notify(ctx, 4, KindTripCompleted, 1))

	n, err := svc.MarkAllAsRead(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, unread, _, err := svc.List(ctx, 4, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
}

func TestHub_PushWithoutConnections(t *testing.T) {
	hub := NewHub()
	assert.False(t, hub.Push(99, &Notification{Kind: KindTripUpdated}))
	assert.Equal(t, 0, hub.Connected(99))
}

func TestPurgeRead_KeepsUnreadAndRecent(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.Notify(ctx, 3, KindTripStarted, 1))
	require.NoError(t, svc.Notify(ctx, 3, KindTripCompleted, 1))
	list, _, _, err := svc.List(ctx, 3, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NoError(t, svc.MarkAsRead(ctx, list[0].ID, 3))

	n, err := svc.PurgeRead(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	n, err = svc.PurgeRead(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, unread, total, err := svc.List(ctx, 3, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
	assert.Equal(t, int64(1), total)
}
