package lobby

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = time.Hour

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) keyRoom(code string) string         { return "lobby:room:" + strings.TrimSpace(code) }
func (s *Store) keyParticipants(code string) string { return s.keyRoom(code) + ":participants" }
func (s *Store) keyUser(user string) string         { return "lobby:user:" + strings.TrimSpace(user) }

func (s *Store) SaveRoom(ctx context.Context, r *Room) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.keyRoom(r.Code), raw, s.ttl).Err(); err != nil {
		return err
	}
	_ = s.rdb.Expire(ctx, s.keyParticipants(r.Code), s.ttl).Err()
	return nil
}

// LoadRoom returns nil without error when the room does not exist.
func (s *Store) LoadRoom(ctx context.Context, code string) (*Room, error) {
	raw, err := s.rdb.Get(ctx, s.keyRoom(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r Room
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) Participants(ctx context.Context, code string) ([]string, error) {
	return s.rdb.SMembers(ctx, s.keyParticipants(code)).Result()
}

// CodeOf returns the room the player currently sits in, or "".
func (s *Store) CodeOf(ctx context.Context, user string) (string, error) {
	code, err := s.rdb.Get(ctx, s.keyUser(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return code, err
}

// DeleteRoom drops the room, its participant set and every participant's index.
func (s *Store) DeleteRoom(ctx context.Context, code string) error {
	members, err := s.Participants(ctx, code)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.keyRoom(code), s.keyParticipants(code))
	for _, m := range members {
		pipe.Del(ctx, s.keyUser(m))
	}
	_, err = pipe.Exec(ctx)
	return err
}

// codeGen returns 6 upper alnum characters.
func codeGen() (string, error) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b), nil
}
