package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/session"
)

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore()
	sess := models.NewSession("thread-1", "user-1")

	require.NoError(t, store.Create(t.Context(), sess))

	fetched, err := store.Get(t.Context(), "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", fetched.UserID)
	assert.Equal(t, models.SessionStatusActive, fetched.Status)
}

func TestStore_CreateDuplicate(t *testing.T) {
	store := NewStore()
	sess := models.NewSession("thread-1", "user-1")

	require.NoError(t, store.Create(t.Context(), sess))

	err := store.Create(t.Context(), sess)
	assert.ErrorIs(t, err, session.ErrAlreadyExists)
}

func TestStore_GetNotFound(t *testing.T) {
	store := NewStore()

	_, err := store.Get(t.Context(), "missing")
	assert.True(t, session.IsNotFound(err))
}

func TestStore_ListFilters(t *testing.T) {
	store := NewStore()

	first := models.NewSession("thread-1", "user-1")
	second := models.NewSession("thread-2", "user-2")
	third := models.NewSession("thread-3", "user-1")
	third.Status = models.SessionStatusResolved

	require.NoError(t, store.Create(t.Context(), first))
	require.NoError(t, store.Create(t.Context(), second))
	require.NoError(t, store.Create(t.Context(), third))

	byUser, err := store.List(t.Context(), session.ListFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	byStatus, err := store.List(t.Context(), session.ListFilter{Status: models.SessionStatusResolved})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "thread-3", byStatus[0].ID)
}

func TestStore_EndedSessionRejectsWrites(t *testing.T) {
	store := NewStore()
	sess := models.NewSession("thread-1", "user-1")

	require.NoError(t, store.Create(t.Context(), sess))
	require.NoError(t, store.UpdateStatus(t.Context(), "thread-1", models.SessionStatusEnded))

	err := store.UpdateStatus(t.Context(), "thread-1", models.SessionStatusActive)
	assert.True(t, session.IsSessionEnded(err))

	sess.TurnCount = 5
	sess.Status = models.SessionStatusActive
	err = store.Update(t.Context(), sess)
	assert.True(t, session.IsSessionEnded(err))
}

func TestStore_RecordIntentDeduplicates(t *testing.T) {
	sess := models.NewSession("thread-1", "user-1")

	sess.RecordIntent("banking.transfer.money")
	sess.RecordIntent("banking.transfer.money")
	sess.RecordIntent("banking.balance.check")

	assert.Equal(t, []string{"banking.transfer.money", "banking.balance.check"}, sess.IntentHistory)
}
