// Package redisstore persists session entries in Redis so several
// terminals or hosts can share one login.
package redisstore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key.
const DefaultPrefix = "lease:"

// Store is a redis backed store.Store. Entries never expire; the API
// session lifetime is enforced by the backend.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// New wraps rdb. An empty prefix selects DefaultPrefix.
func New(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	data, err := s.rdb.Get(context.Background(), s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *Store) Set(key string, value []byte) error {
	return s.rdb.Set(context.Background(), s.prefix+key, value, 0).Err()
}

func (s *Store) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
	}
	return s.rdb.Del(context.Background(), full...).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.rdb.Close()
}
