package notify

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-rtc/internal/domain"
)

func newTestInbox(t *testing.T) *SQLiteInbox {
	t.Helper()
	inbox, err := NewSQLiteInbox(filepath.Join(t.TempDir(), "inbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { inbox.Close() })
	return inbox
}

func sampleNotification(id string, at time.Time) *domain.UINotification {
	return &domain.UINotification{
		ID:         id,
		Kind:       domain.EventFollowRequest,
		Title:      "Follow Request",
		Body:       "ada wants to follow you",
		Actor:      &domain.Actor{Nickname: "ada"},
		Actionable: true,
		CreatedAt:  at,
		Data:       json.RawMessage(`{"follower":{"nickname":"ada"}}`),
	}
}

func TestInboxInsertAndList(t *testing.T) {
	inbox := newTestInbox(t)

	base := time.Now().UTC()
	require.NoError(t, inbox.Insert(sampleNotification("n1", base)))
	require.NoError(t, inbox.Insert(sampleNotification("n2", base.Add(time.Second))))

	got, err := inbox.List(10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first.
	assert.Equal(t, "n2", got[0].ID)
	assert.Equal(t, "n1", got[1].ID)
	assert.Equal(t, domain.EventFollowRequest, got[0].Kind)
	assert.Equal(t, "Follow Request", got[0].Title)
	assert.True(t, got[0].Actionable)
	assert.False(t, got[0].Read)
	assert.JSONEq(t, `{"follower":{"nickname":"ada"}}`, string(got[0].Data))
}

func TestInboxListLimit(t *testing.T) {
	inbox := newTestInbox(t)

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, inbox.Insert(sampleNotification(
			string(rune('a'+i)), base.Add(time.Duration(i)*time.Second),
		)))
	}

	got, err := inbox.List(3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestInboxUnreadLifecycle(t *testing.T) {
	inbox := newTestInbox(t)

	base := time.Now().UTC()
	require.NoError(t, inbox.Insert(sampleNotification("n1", base)))
	require.NoError(t, inbox.Insert(sampleNotification("n2", base)))

	count, err := inbox.UnreadCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, inbox.MarkRead("n1"))
	count, err = inbox.UnreadCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, inbox.MarkAllRead())
	count, err = inbox.UnreadCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestInboxMarkReadUnknownID(t *testing.T) {
	inbox := newTestInbox(t)
	err := inbox.MarkRead("missing")
	require.ErrorIs(t, err, domain.ErrNotificationNotFound)
}

func TestInboxDelete(t *testing.T) {
	inbox := newTestInbox(t)

	require.NoError(t, inbox.Insert(sampleNotification("n1", time.Now().UTC())))
	require.NoError(t, inbox.Delete("n1"))

	got, err := inbox.List(10)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.ErrorIs(t, inbox.Delete("n1"), domain.ErrNotificationNotFound)
}

func TestInboxPruneKeepsUnread(t *testing.T) {
	inbox := newTestInbox(t)

	base := time.Now().UTC()
	old := base.Add(-48 * time.Hour)
	require.NoError(t, inbox.Insert(sampleNotification("old-read", old)))
	require.NoError(t, inbox.Insert(sampleNotification("old-unread", old)))
	require.NoError(t, inbox.Insert(sampleNotification("fresh-read", base)))
	require.NoError(t, inbox.MarkRead("old-read"))
	require.NoError(t, inbox.MarkRead("fresh-read"))

	pruned, err := inbox.Prune(base.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	got, err := inbox.List(10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "fresh-read", got[0].ID)
	assert.Equal(t, "old-unread", got[1].ID)
}
