package match

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultSnapshotTTL bounds how long an abandoned snapshot survives a crash.
	DefaultSnapshotTTL = 24 * time.Hour

	// tombstoneTTL keeps the seq of a retired session so that a save still
	// in flight cannot bring the snapshot back.
	tombstoneTTL = time.Minute

	fieldSeq  = "seq"
	fieldData = "data"

	casRetries = 5
)

// RedisStore keeps one snapshot per live session in the hash
// match:snapshot:<code> (fields seq and data). Writes only go through when
// their seq is not older than the stored one.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Save stores snap unless a newer snapshot or a tombstone is already there,
// in which case it returns ErrStaleSnapshot.
func (r *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	if r == nil || r.rdb == nil {
		return ErrStoreClosed
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return r.putIfNewer(ctx, snap.Code, snap.Seq, func(p redis.Pipeliner, key string) {
		p.HSet(ctx, key, fieldSeq, snap.Seq, fieldData, raw)
		p.Expire(ctx, key, r.ttl)
	})
}

// Load returns nil without error when no snapshot is stored.
func (r *RedisStore) Load(ctx context.Context, code string) (*Snapshot, error) {
	if r == nil || r.rdb == nil {
		return nil, ErrStoreClosed
	}
	raw, err := r.rdb.HGet(ctx, snapshotKey(code), fieldData).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Retire drops the snapshot and leaves a short-lived tombstone at seq.
func (r *RedisStore) Retire(ctx context.Context, code string, seq uint64) error {
	if r == nil || r.rdb == nil {
		return ErrStoreClosed
	}
	return r.putIfNewer(ctx, code, seq, func(p redis.Pipeliner, key string) {
		p.HDel(ctx, key, fieldData)
		p.HSet(ctx, key, fieldSeq, seq)
		p.Expire(ctx, key, tombstoneTTL)
	})
}

// putIfNewer runs write inside MULTI while the stored seq is watched.
func (r *RedisStore) putIfNewer(ctx context.Context, code string, seq uint64, write func(redis.Pipeliner, string)) error {
	key := snapshotKey(code)
	for attempt := 0; attempt < casRetries; attempt++ {
		err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := tx.HGet(ctx, key, fieldSeq).Uint64()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			case cur > seq:
				return ErrStaleSnapshot
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				write(p, key)
				return nil
			})
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return redis.TxFailedErr
}

func snapshotKey(code string) string { return "match:snapshot:" + strings.TrimSpace(code) }
