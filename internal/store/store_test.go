package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daycal/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func claim(owner, date string) model.Claim {
	return model.Claim{OwnerID: owner, DisplayName: owner, Date: date}
}

func recv(t *testing.T, sub *Subscription) model.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.Snapshots():
		require.True(t, ok, "subscription closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return model.Snapshot{}
	}
}

func TestPutOverwritesSameOwner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.Put(ctx, claim("u1", "2025-01-05"))
	require.NoError(t, err)
	second, err := s.Put(ctx, claim("u1", "2025-01-06"))
	require.NoError(t, err)

	claims, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "2025-01-06", claims[0].Date)
	assert.True(t, second.ClaimedAt.After(first.ClaimedAt))
}

func TestSharedDateKeepsBothClaims(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, claim("u1", "2025-03-10"))
	require.NoError(t, err)
	_, err = s.Put(ctx, claim("u2", "2025-03-10"))
	require.NoError(t, err)

	claims, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, claims, 2)
}

func TestPutDefaultsAndValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stored, err := s.Put(ctx, claim("u1", "2025-03-10"))
	require.NoError(t, err)
	assert.Equal(t, model.DefaultAvatarRef, stored.AvatarRef)
	assert.False(t, stored.ClaimedAt.IsZero())

	_, err = s.Put(ctx, claim("u1", "2025-13-01"))
	assert.Error(t, err)
	_, err = s.Put(ctx, claim("", "2025-03-10"))
	assert.Error(t, err)

	got, ok, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2025-03-10", got.Date)
}

func TestClaimedAtStrictlyIncreasing(t *testing.T) {
	s := openTestStore(t)
	fixed := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	var prev time.Time
	for i := 0; i < 5; i++ {
		c, err := s.Put(context.Background(), claim("u1", "2025-01-05"))
		require.NoError(t, err)
		assert.True(t, c.ClaimedAt.After(prev))
		prev = c.ClaimedAt
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx, "ghost"))

	_, err := s.Put(ctx, claim("u1", "2025-01-05"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "u1"))
	require.NoError(t, s.Delete(ctx, "u1"))

	_, ok, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubscribeDeliversInitialAndChanges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, claim("u1", "2025-01-05"))
	require.NoError(t, err)

	sub, err := s.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	initial := recv(t, sub)
	assert.Equal(t, uint64(1), initial.Revision)
	require.Len(t, initial.Claims, 1)

	_, err = s.Put(ctx, claim("u2", "2025-01-07"))
	require.NoError(t, err)
	next := recv(t, sub)
	assert.Equal(t, uint64(2), next.Revision)
	assert.Len(t, next.Claims, 2)

	require.NoError(t, s.Delete(ctx, "u1"))
	last := recv(t, sub)
	require.Len(t, last.Claims, 1)
	assert.Equal(t, "u2", last.Claims[0].OwnerID)
}

func TestNoopDeleteDoesNotBroadcast(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()
	recv(t, sub)

	require.NoError(t, s.Delete(ctx, "ghost"))
	select {
	case snap := <-sub.Snapshots():
		t.Fatalf("unexpected snapshot %+v", snap)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberSeesLatestSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	for i := 1; i <= 10; i++ {
		_, err := s.Put(ctx, claim("u1", time.Date(2025, 1, i, 0, 0, 0, 0, time.UTC).Format(model.DateLayout)))
		require.NoError(t, err)
	}

	snap := recv(t, sub)
	assert.Equal(t, uint64(10), snap.Revision)
	require.Len(t, snap.Claims, 1)
	assert.Equal(t, "2025-01-10", snap.Claims[0].Date)
}

func TestResyncRepeatsCurrentSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, claim("u1", "2025-01-05"))
	require.NoError(t, err)

	sub, err := s.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()
	first := recv(t, sub)

	require.NoError(t, s.Resync())
	again := recv(t, sub)
	assert.Equal(t, first.Revision, again.Revision)
	assert.Equal(t, first.Claims, again.Claims)
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := s.Subscribe(ctx)
	require.NoError(t, err)
	recv(t, sub)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.Snapshots():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	s.mu.Lock()
	n := len(s.subs)
	s.mu.Unlock()
	assert.Zero(t, n)
	assert.NoError(t, sub.Close())
}

func TestClosedStore(t *testing.T) {
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)

	sub, err := s.Subscribe(context.Background())
	require.NoError(t, err)
	recv(t, sub)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, ok := <-sub.Snapshots()
	assert.False(t, ok)

	ctx := context.Background()
	_, err = s.Put(ctx, claim("u1", "2025-01-05"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Delete(ctx, "u1"), ErrClosed)
	_, err = s.Subscribe(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Resync(), ErrClosed)
	assert.ErrorIs(t, s.RunGC(), ErrClosed)
}

func TestPersistentReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	_, err = s.Put(ctx, claim("u1", "2025-01-05"))
	require.NoError(t, err)
	require.NoError(t, s.RunGC())
	require.NoError(t, s.Close())

	s2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s2.Close()

	claims, err := s2.List(ctx)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "u1", claims[0].OwnerID)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
