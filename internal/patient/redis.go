package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each session as a JSON snapshot under one key. Merges run
// inside an optimistic WATCH transaction and are retried when another
// writer touched the key first.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	maxRetries int
	now        Clock
}

type RedisOptions struct {
	KeyPrefix  string
	TTL        time.Duration
	MaxRetries int
	Now        Clock
}

func NewRedisStore(client *redis.Client, opts RedisOptions) *RedisStore {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "medtriage:session:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RedisStore{client: client, prefix: opts.KeyPrefix, ttl: opts.TTL, maxRetries: opts.MaxRetries, now: opts.Now}
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) GetOrCreate(ctx context.Context, id string) (Snapshot, error) {
	if err := checkID(id); err != nil {
		return Snapshot{}, err
	}
	fresh := NewSession(id, s.now()).Snapshot()
	data, err := json.Marshal(fresh)
	if err != nil {
		return Snapshot{}, err
	}
	created, err := s.client.SetNX(ctx, s.key(id), data, s.ttl).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("create session: %w", err)
	}
	if created {
		return fresh, nil
	}
	return s.Snapshot(ctx, id)
}

func (s *RedisStore) Merge(ctx context.Context, id string, delta FactDelta) (Snapshot, error) {
	if err := checkID(id); err != nil {
		return Snapshot{}, err
	}
	key := s.key(id)
	var out Snapshot
	txf := func(tx *redis.Tx) error {
		sess, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		sess.Apply(delta, s.now())
		out = sess.Snapshot()
		data, err := json.Marshal(out)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Snapshot{}, fmt.Errorf("merge session: %w", err)
	}
	return Snapshot{}, fmt.Errorf("merge session: %d concurrent retries exhausted", s.maxRetries)
}

func (s *RedisStore) load(ctx context.Context, tx *redis.Tx, id string) (*Session, error) {
	raw, err := tx.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewSession(id, s.now()), nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSession(raw)
}

func (s *RedisStore) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	if err := checkID(id); err != nil {
		return Snapshot{}, err
	}
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load session: %w", err)
	}
	sess, err := decodeSession(raw)
	if err != nil {
		return Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	return s.client.Del(ctx, s.key(id)).Err()
}

// decodeSession goes through FromSnapshot so that stored lists are re-deduplicated.
func decodeSession(raw []byte) (*Session, error) {
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return FromSnapshot(snap), nil
}
