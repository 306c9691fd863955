package cache

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"selfvault/pkg/storage"
	"selfvault/pkg/storage/memory"
	"selfvault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SpyStore counts backend reads to show whether the cache intercepted them.
type SpyStore struct {
	mem      *memory.Store
	getCount int32
}

func (s *SpyStore) Get(ctx context.Context, hash types.Hash) ([]byte, error) {
	atomic.AddInt32(&s.getCount, 1)
	return s.mem.Get(ctx, hash)
}

func (s *SpyStore) Store(ctx context.Context, hash types.Hash, content []byte) error {
	return s.mem.Store(ctx, hash, content)
}

func (s *SpyStore) Delete(ctx context.Context, hash types.Hash) error {
	return s.mem.Delete(ctx, hash)
}

func (s *SpyStore) Count(ctx context.Context, hash types.Hash) (int64, error) {
	return s.mem.Count(ctx, hash)
}

func (s *SpyStore) Has(ctx context.Context, hash types.Hash) (bool, error) {
	return s.mem.Has(ctx, hash)
}

// deletingStore drops the last reference while a read is in flight, the
// way a concurrent Delete would.
type deletingStore struct {
	*SpyStore
}

func (s deletingStore) Get(ctx context.Context, hash types.Hash) ([]byte, error) {
	data, err := s.SpyStore.Get(ctx, hash)
	if err == nil {
		err = s.SpyStore.Delete(ctx, hash)
	}
	return data, err
}

func newTestCache(t *testing.T, backend storage.ChunkStore) *CachedStore {
	t.Helper()
	redisAddr := "localhost:6379"
	conn, err := net.DialTimeout("tcp", redisAddr, 1*time.Second)
	if err != nil {
		t.Skipf("Skipping Redis integration test: %v", err)
	}
	conn.Close()

	cachedStore, err := NewCachedStore(backend, Config{
		RedisURL: fmt.Sprintf("redis://%s/0", redisAddr),
		TTL:      1 * time.Hour,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cachedStore.Close() })
	return cachedStore
}

func TestCachedStore_Integration(t *testing.T) {
	ctx := context.Background()
	spy := &SpyStore{mem: memory.NewStore()}
	cachedStore := newTestCache(t, spy)

	hash := types.Hash("1111222233334444555566667777888899990000aaaabbbbccccddddeeeeffff")
	cachedStore.client.Del(ctx, cachedStore.cacheKey(hash))

	exists, err := cachedStore.Has(ctx, hash)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, cachedStore.Store(ctx, hash, []byte("ciphertext")))
	require.NoError(t, cachedStore.Store(ctx, hash, []byte("ciphertext")))

	data, err := cachedStore.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), data)
	assert.Equal(t, int32(0), atomic.LoadInt32(&spy.getCount), "read should be served by redis")

	require.NoError(t, cachedStore.Delete(ctx, hash))
	redisVal, err := cachedStore.client.Exists(ctx, cachedStore.cacheKey(hash)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), redisVal, "cache entry survives while references remain")

	require.NoError(t, cachedStore.Delete(ctx, hash))
	redisVal, err = cachedStore.client.Exists(ctx, cachedStore.cacheKey(hash)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), redisVal, "cache entry dropped with the last reference")

	_, err = cachedStore.Get(ctx, hash)
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&spy.getCount))
}

func TestCachedStore_FillDoesNotResurrectDeletedChunk(t *testing.T) {
	ctx := context.Background()
	spy := &SpyStore{mem: memory.NewStore()}
	cachedStore := newTestCache(t, deletingStore{spy})

	hash := types.Hash("aaaabbbbccccddddeeeeffff0000111122223333444455556666777788889999")
	cachedStore.client.Del(ctx, cachedStore.cacheKey(hash))
	require.NoError(t, spy.Store(ctx, hash, []byte("ciphertext")))

	data, err := cachedStore.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), data)

	redisVal, err := cachedStore.client.Exists(ctx, cachedStore.cacheKey(hash)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), redisVal)

	has, err := cachedStore.Has(ctx, hash)
	require.NoError(t, err)
	assert.False(t, has)
}
