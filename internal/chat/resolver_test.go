// ABOUTME: Tests for the conversation resolver
// ABOUTME: Verifies find-or-create, mirrored lookups, and duplicate-race recovery

package chat

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketfold/chatlink/internal/store"
)

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestResolver_CreatesOnFirstOpen(t *testing.T) {
	st := createTestStore(t)
	r := NewResolver(st, nil)
	ctx := context.Background()
	key := store.ContextKey{Kind: store.KindShop, ReferenceID: "listing-1"}

	conv, err := r.Resolve(ctx, "alice", "bob", key)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.NotEmpty(t, conv.ID)
	assert.True(t, conv.Involves("alice", "bob"))
	assert.Equal(t, key, conv.Context)

	// Persisted, not just returned
	got, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
}

func TestResolver_ReturnsExisting(t *testing.T) {
	st := createTestStore(t)
	r := NewResolver(st, nil)
	ctx := context.Background()
	key := store.ContextKey{Kind: store.KindGeneral}

	first, err := r.Resolve(ctx, "alice", "bob", key)
	require.NoError(t, err)

	second, err := r.Resolve(ctx, "alice", "bob", key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestResolver_MirroredOpensConverge(t *testing.T) {
	st := createTestStore(t)
	r := NewResolver(st, nil)
	ctx := context.Background()
	key := store.ContextKey{Kind: store.KindExchange, ReferenceID: "trade-9"}

	// Alice opens the conversation, then Bob opens it from his side with the
	// participants reversed. Both must land on the same row.
	fromAlice, err := r.Resolve(ctx, "alice", "bob", key)
	require.NoError(t, err)

	fromBob, err := r.Resolve(ctx, "bob", "alice", key)
	require.NoError(t, err)
	assert.Equal(t, fromAlice.ID, fromBob.ID)
}

func TestResolver_DistinctContextsDistinctConversations(t *testing.T) {
	st := createTestStore(t)
	r := NewResolver(st, nil)
	ctx := context.Background()

	shop, err := r.Resolve(ctx, "alice", "bob", store.ContextKey{Kind: store.KindShop, ReferenceID: "l-1"})
	require.NoError(t, err)
	general, err := r.Resolve(ctx, "alice", "bob", store.ContextKey{Kind: store.KindGeneral})
	require.NoError(t, err)
	otherRef, err := r.Resolve(ctx, "alice", "bob", store.ContextKey{Kind: store.KindShop, ReferenceID: "l-2"})
	require.NoError(t, err)

	assert.NotEqual(t, shop.ID, general.ID)
	assert.NotEqual(t, shop.ID, otherRef.ID)
}

func TestResolver_Validation(t *testing.T) {
	st := createTestStore(t)
	r := NewResolver(st, nil)
	ctx := context.Background()
	key := store.ContextKey{Kind: store.KindGeneral}

	_, err := r.Resolve(ctx, "", "bob", key)
	assert.ErrorIs(t, err, ErrResolutionFailed)

	_, err = r.Resolve(ctx, "alice", "", key)
	assert.ErrorIs(t, err, ErrResolutionFailed)

	_, err = r.Resolve(ctx, "alice", "alice", key)
	assert.ErrorIs(t, err, ErrResolutionFailed)

	_, err = r.Resolve(ctx, "alice", "bob", store.ContextKey{Kind: "bogus"})
	assert.ErrorIs(t, err, ErrResolutionFailed)
}

func TestResolver_ConcurrentOpensYieldOneConversation(t *testing.T) {
	// Memory store exercises the duplicate-race path without file locking
	// serializing the contenders.
	st := store.NewMemoryStore()
	r := NewResolver(st, nil)
	ctx := context.Background()
	key := store.ContextKey{Kind: store.KindMission, ReferenceID: "m-1"}

	const openers = 16
	results := make([]*store.Conversation, openers)
	errs := make([]error, openers)
	var wg sync.WaitGroup
	for i := 0; i < openers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			self, other := "alice", "bob"
			if i%2 == 1 {
				self, other = other, self
			}
			results[i], errs[i] = r.Resolve(ctx, self, other, key)
		}(i)
	}
	wg.Wait()

	for i := 0; i < openers; i++ {
		require.NoError(t, errs[i], "opener %d", i)
	}
	for i := 1; i < openers; i++ {
		assert.Equal(t, results[0].ID, results[i].ID, "opener %d got a different conversation", i)
	}

	convs, err := st.ListConversationsByContext(ctx, key)
	require.NoError(t, err)
	assert.Len(t, convs, 1, "exactly one conversation row must exist")
}

// failOnCreateStore reports a duplicate on insert but has no matching row,
// simulating a corrupted index.
type failOnCreateStore struct{}

func (f *failOnCreateStore) ListConversationsByContext(ctx context.Context, key store.ContextKey) ([]*store.Conversation, error) {
	return nil, nil
}

func (f *failOnCreateStore) CreateConversation(ctx context.Context, conv *store.Conversation) error {
	return store.ErrDuplicateConversation
}

func TestResolver_DuplicateWithoutRowFails(t *testing.T) {
	r := NewResolver(&failOnCreateStore{}, nil)

	_, err := r.Resolve(context.Background(), "alice", "bob", store.ContextKey{Kind: store.KindGeneral})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResolutionFailed))
}
