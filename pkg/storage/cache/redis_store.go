package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"selfvault/pkg/storage"
	"selfvault/pkg/types"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// CachedStore decorates a storage.ChunkStore with a Redis read-through
// cache of chunk bytes. Reference counts always come from the backend.
type CachedStore struct {
	backend storage.ChunkStore
	client  *redis.Client
	ttl     time.Duration
	log     logrus.FieldLogger
}

type Config struct {
	RedisURL string // redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration
}

func NewCachedStore(backend storage.ChunkStore, cfg Config, log logrus.FieldLogger) (*CachedStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &CachedStore{
		backend: backend,
		client:  client,
		ttl:     cfg.TTL,
		log:     log,
	}, nil
}

func (s *CachedStore) cacheKey(hash types.Hash) string {
	return "sv:chunk:" + string(hash)
}

// Get serves from Redis when it can. A Redis failure degrades to the
// backend instead of failing the read.
func (s *CachedStore) Get(ctx context.Context, hash types.Hash) ([]byte, error) {
	key := s.cacheKey(hash)
	data, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		return data, nil
	case !errors.Is(err, redis.Nil):
		s.log.WithError(err).Warn("redis get failed, falling back to backend")
	}

	data, err = s.backend.Get(ctx, hash)
	if err != nil {
		return nil, err
	}

	s.fill(ctx, hash, data)
	return data, nil
}

// fill caches data after a miss. A Delete that dropped the last reference
// while the backend read was in flight would otherwise leave the key
// behind, so the count is checked again once the key is written.
func (s *CachedStore) fill(ctx context.Context, hash types.Hash, data []byte) {
	key := s.cacheKey(hash)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.log.WithError(err).Warn("redis fill failed")
		return
	}
	count, err := s.backend.Count(ctx, hash)
	if err == nil && count > 0 {
		return
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.log.WithError(err).Warn("redis del failed")
	}
}

func (s *CachedStore) Store(ctx context.Context, hash types.Hash, content []byte) error {
	if err := s.backend.Store(ctx, hash, content); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.cacheKey(hash), content, s.ttl).Err(); err != nil {
		s.log.WithError(err).Warn("redis set failed")
	}
	return nil
}

// Delete drops the cached bytes once the backend holds no reference.
func (s *CachedStore) Delete(ctx context.Context, hash types.Hash) error {
	if err := s.backend.Delete(ctx, hash); err != nil {
		return err
	}
	count, err := s.backend.Count(ctx, hash)
	if err != nil || count > 0 {
		return err
	}
	if err := s.client.Del(ctx, s.cacheKey(hash)).Err(); err != nil {
		s.log.WithError(err).Warn("redis del failed")
	}
	return nil
}

func (s *CachedStore) Count(ctx context.Context, hash types.Hash) (int64, error) {
	return s.backend.Count(ctx, hash)
}

func (s *CachedStore) Has(ctx context.Context, hash types.Hash) (bool, error) {
	val, err := s.client.Exists(ctx, s.cacheKey(hash)).Result()
	if err != nil {
		s.log.WithError(err).Warn("redis exists failed")
	} else if val > 0 {
		return true, nil
	}
	return s.backend.Has(ctx, hash)
}

func (s *CachedStore) Close() error {
	return s.client.Close()
}
