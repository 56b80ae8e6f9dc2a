// Package snapshot persists the full ledger state as a single JSON document
// in Redis. It is the local fallback used when the relational store cannot be
// reached at startup.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"pintrolley.app/internal/ledger"
)

// Key is fixed: the store holds exactly one state document.
const Key = "pintrolley:state:v3"

type Store struct {
	rdb *redis.Client
}

var _ ledger.SnapshotStore = (*Store)(nil)

// OpenRedis connects and verifies the server is reachable.
func OpenRedis(ctx context.Context, addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &Store{rdb: rdb}, nil
}

// New wraps an existing client (used by tests).
func New(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) Close() error { return s.rdb.Close() }

// Save overwrites the state document. No TTL: the snapshot must survive
// arbitrarily long outages of the remote store.
func (s *Store) Save(ctx context.Context, state ledger.State) error {
	buf, err := encode(state)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, Key, buf, 0).Err()
}

// Load returns nil, nil when no snapshot has been written yet.
func (s *Store) Load(ctx context.Context) (*ledger.State, error) {
	buf, err := s.rdb.Get(ctx, Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(buf)
}

func encode(state ledger.State) ([]byte, error) {
	return json.Marshal(state)
}

func decode(buf []byte) (*ledger.State, error) {
	var state ledger.State
	if err := json.Unmarshal(buf, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
