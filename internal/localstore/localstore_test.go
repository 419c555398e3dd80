package localstore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"points_ledger/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "local.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func TestCachePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	db, err := Open(path)
	require.NoError(t, err)

	c, err := NewCache(db, 0)
	require.NoError(t, err)
	acct := domain.NewAccount("u1", time.Now().UTC())
	acct.Coins = 42
	require.NoError(t, c.Put(domain.AccountPath("u1"), acct))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	c, err = NewCache(db, 0)
	require.NoError(t, err)

	var got domain.Account
	ok, err := c.Get(domain.AccountPath("u1"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(42), got.Coins)
	assert.Equal(t, []string{"accounts/u1"}, c.Paths("accounts/"))
}

func TestCacheStaleness(t *testing.T) {
	db, _ := openTemp(t)
	c, err := NewCache(db, time.Minute)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })
	require.NoError(t, c.Put("accounts/u1", map[string]int{"coins": 1}))

	now = now.Add(30 * time.Second)
	var v map[string]int
	ok, err := c.Get("accounts/u1", &v)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, err = c.Get("accounts/u1", &v)
	require.NoError(t, err)
	assert.False(t, ok)

	_, found, fresh := c.Entry("accounts/u1")
	assert.True(t, found)
	assert.False(t, fresh)

	require.NoError(t, c.Delete("accounts/u1"))
	_, found, _ = c.Entry("accounts/u1")
	assert.False(t, found)
}

func TestQueueFIFOAndDurability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	db, err := Open(path)
	require.NoError(t, err)
	q := NewQueue(db)

	for _, p := range []string{"accounts/a", "accounts/b", "accounts/a"} {
		require.NoError(t, q.Enqueue(&domain.Operation{Type: domain.OpUpdate, Path: p}))
	}
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	q = NewQueue(db)

	ops, err := q.List()
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, "accounts/a", ops[0].Path)
	assert.Equal(t, "accounts/b", ops[1].Path)
	assert.NotEmpty(t, ops[0].ID)

	pending, err := q.Pending("accounts/a")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, q.Remove(ops[0].ID))
	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.ErrorIs(t, q.Remove("nope"), ErrOperationNotFound)
}

func TestQueueUpdateKeepsPositionAndDeadLetter(t *testing.T) {
	db, _ := openTemp(t)
	q := NewQueue(db)

	first := &domain.Operation{Type: domain.OpUpdate, Path: "accounts/a"}
	second := &domain.Operation{Type: domain.OpUpdate, Path: "accounts/a"}
	require.NoError(t, q.Enqueue(first))
	require.NoError(t, q.Enqueue(second))

	op := *first
	op.Retries = 3
	op.LastError = "timeout"
	require.NoError(t, q.Update(op))

	ops, err := q.List()
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, first.ID, ops[0].ID)
	assert.Equal(t, 3, ops[0].Retries)

	require.NoError(t, q.DeadLetter(ops[0], errors.New("gave up")))
	dead, err := q.DeadLetters()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "gave up", dead[0].LastError)

	ops, err = q.List()
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, second.ID, ops[0].ID)

	assert.ErrorIs(t, q.Enqueue(&domain.Operation{Type: domain.OpSet}), domain.ErrValidation)
}
