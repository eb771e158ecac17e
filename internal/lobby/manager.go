package lobby

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/checkers-match/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultBudgetMinutes = 5
	MaxBudgetMinutes     = 59
)

type Option func(*Manager)

// WithBudgets sets the budget used for non-positive requests and the cap.
func WithBudgets(defaultMinutes, maxMinutes int) Option {
	return func(m *Manager) {
		if maxMinutes > 0 {
			m.maxBudget = maxMinutes
		}
		if defaultMinutes > 0 {
			m.defaultBudget = defaultMinutes
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager pairs two players under a short room code. Rooms live in Redis so
// codes stay unique across server instances.
type Manager struct {
	rdb           *redis.Client
	store         *Store
	ttl           time.Duration
	defaultBudget int
	maxBudget     int
	now           func() time.Time
}

func NewManager(rdb *redis.Client, ttl time.Duration, opts ...Option) *Manager {
	st := NewStore(rdb, ttl)
	m := &Manager{
		rdb:           rdb,
		store:         st,
		ttl:           st.ttl,
		defaultBudget: DefaultBudgetMinutes,
		maxBudget:     MaxBudgetMinutes,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.defaultBudget > m.maxBudget {
		m.defaultBudget = m.maxBudget
	}
	return m
}

// Budget resolves a requested budget in minutes.
func (m *Manager) Budget(minutes int) int {
	if minutes <= 0 {
		return m.defaultBudget
	}
	if minutes > m.maxBudget {
		return m.maxBudget
	}
	return minutes
}

// Make opens a room for creatorID and returns it with a fresh code.
func (m *Manager) Make(ctx context.Context, creatorID string, budgetMinutes int) (*Room, error) {
	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return nil, ErrInvalidArgs
	}
	if cur, err := m.RoomOf(ctx, creatorID); err != nil {
		return nil, err
	} else if cur != nil && cur.State == StateLobby {
		return nil, ErrCreatorHasLobby
	}

	for i := 0; i < 5; i++ {
		code, err := codeGen()
		if err != nil {
			return nil, err
		}
		ok, err := m.rdb.SetNX(ctx, m.store.keyRoom(code), []byte("{}"), m.ttl).Result()
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		room := &Room{
			Code:          code,
			State:         StateLobby,
			CreatedAt:     m.now(),
			CreatorID:     creatorID,
			BudgetMinutes: m.Budget(budgetMinutes),
		}
		pipe := m.rdb.TxPipeline()
		pipe.SAdd(ctx, m.store.keyParticipants(code), creatorID)
		pipe.Expire(ctx, m.store.keyParticipants(code), m.ttl)
		pipe.Set(ctx, m.store.keyUser(creatorID), code, m.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
		if err := m.store.SaveRoom(ctx, room); err != nil {
			return nil, err
		}
		obslog.L().Info("lobby_make", zap.String("code", code), zap.String("creator_id", creatorID), zap.Int("budget_minutes", room.BudgetMinutes))
		return room, nil
	}
	return nil, fmt.Errorf("failed to allocate room code")
}

// Join seats playerID as the second player. The participant set is watched
// so two racing joiners cannot both get in.
func (m *Manager) Join(ctx context.Context, code, playerID string) (*Room, error) {
	code = normalizeCode(code)
	playerID = strings.TrimSpace(playerID)
	if code == "" || playerID == "" {
		return nil, ErrInvalidArgs
	}
	room, err := m.store.LoadRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}
	if room.CreatorID == playerID {
		return nil, ErrSelfJoin
	}
	if room.State != StateLobby || room.Full() {
		return nil, ErrRoomFull
	}

	partKey := m.store.keyParticipants(code)
	err = m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cnt, err := tx.SCard(ctx, partKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cnt >= 2 {
			return ErrRoomFull
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SAdd(ctx, partKey, playerID)
			pipe.Expire(ctx, partKey, m.ttl)
			pipe.Set(ctx, m.store.keyUser(playerID), code, m.ttl)
			return nil
		})
		return err
	}, partKey)
	if errors.Is(err, redis.TxFailedErr) {
		err = ErrRoomFull
	}
	if err != nil {
		obslog.L().Warn("lobby_join_error", zap.String("code", code), zap.String("user_id", playerID), zap.Error(err))
		return nil, err
	}

	room.JoinerID = playerID
	room.State = StateActive
	if err := m.store.SaveRoom(ctx, room); err != nil {
		return nil, err
	}
	obslog.L().Info("lobby_join", zap.String("code", code), zap.String("creator_id", room.CreatorID), zap.String("user_id", playerID))
	return room, nil
}

// Leave takes playerID out of room code. A waiting room is removed with its
// creator; in an active room only the player's index entry goes. It returns
// the room as it was, or nil when the player was not in it.
func (m *Manager) Leave(ctx context.Context, code, playerID string) (*Room, error) {
	room, err := m.store.LoadRoom(ctx, normalizeCode(code))
	if err != nil || room == nil || !room.Has(strings.TrimSpace(playerID)) {
		return nil, err
	}
	if room.State == StateLobby {
		if err := m.store.DeleteRoom(ctx, room.Code); err != nil {
			return nil, err
		}
		obslog.L().Info("lobby_remove", zap.String("code", room.Code), zap.String("reason", "creator_left"))
		return room, nil
	}
	if err := m.rdb.Del(ctx, m.store.keyUser(playerID)).Err(); err != nil {
		return nil, err
	}
	return room, nil
}

// Remove tears the room down.
func (m *Manager) Remove(ctx context.Context, code string) error {
	return m.store.DeleteRoom(ctx, normalizeCode(code))
}

func (m *Manager) Load(ctx context.Context, code string) (*Room, error) {
	return m.store.LoadRoom(ctx, normalizeCode(code))
}

// RoomOf returns the room playerID sits in, or nil.
func (m *Manager) RoomOf(ctx context.Context, playerID string) (*Room, error) {
	code, err := m.store.CodeOf(ctx, playerID)
	if err != nil || code == "" {
		return nil, err
	}
	return m.store.LoadRoom(ctx, code)
}

func normalizeCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }
