package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/park285/checkers-match/internal/checkers"
	"github.com/park285/checkers-match/internal/msgcat"
	"github.com/park285/checkers-match/internal/obslog"
	"go.uber.org/zap"
)

// SnapshotStore keeps the latest snapshot of live sessions for readers
// outside the owning process. Save must refuse a snapshot whose Seq is
// older than the stored one or than the seq a session was retired at.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, code string) (*Snapshot, error)
	Retire(ctx context.Context, code string, seq uint64) error
}

// EndHook runs after a session ended, with the rendered announcement.
type EndHook func(ctx context.Context, snap Snapshot, announcement string)

type ManagerOption func(*Manager)

// WithSessionOptions are applied to every session the manager creates.
func WithSessionOptions(opts ...Option) ManagerOption {
	return func(m *Manager) { m.sessionOpts = append(m.sessionOpts, opts...) }
}

func WithStore(st SnapshotStore) ManagerOption {
	return func(m *Manager) { m.store = st }
}

func WithCatalog(c *msgcat.Catalog) ManagerOption {
	return func(m *Manager) { m.catalog = c }
}

func WithEndHook(h EndHook) ManagerOption {
	return func(m *Manager) {
		if h != nil {
			m.hooks = append(m.hooks, h)
		}
	}
}

func WithManagerLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager tracks the live sessions of this process by room code and by
// player. Ended sessions are dropped as soon as they end.
type Manager struct {
	mu       sync.RWMutex
	byCode   map[string]*Session
	byPlayer map[string]string

	sessionOpts []Option
	store       SnapshotStore
	catalog     *msgcat.Catalog
	hooks       []EndHook
	observer    Observer
	logger      *zap.Logger
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		byCode:   make(map[string]*Session),
		byPlayer: make(map[string]string),
		observer: nopObserver{},
		logger:   obslog.L(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AttachObserver wires the transport that broadcasts session events.
func (m *Manager) AttachObserver(o Observer) {
	if m == nil || o == nil {
		return
	}
	m.mu.Lock()
	m.observer = o
	m.mu.Unlock()
}

// Create starts a session for two waiting players.
func (m *Manager) Create(code, playerA, playerB string, budgetMinutes int) (*Session, error) {
	code = strings.TrimSpace(code)
	playerA = strings.TrimSpace(playerA)
	playerB = strings.TrimSpace(playerB)
	if code == "" || playerA == "" || playerB == "" {
		return nil, ErrInvalidArgs
	}
	if playerA == playerB {
		return nil, ErrSamePlayer
	}

	m.mu.Lock()
	if _, ok := m.byCode[code]; ok {
		m.mu.Unlock()
		return nil, ErrMatchExists
	}
	for _, p := range []string{playerA, playerB} {
		if _, busy := m.byPlayer[p]; busy {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrPlayerBusy, p)
		}
	}
	opts := append([]Option{WithLogger(m.logger)}, m.sessionOpts...)
	opts = append(opts, WithObserver(m))
	s := New(code, playerA, playerB, budgetMinutes, opts...)
	m.byCode[code] = s
	m.byPlayer[playerA] = code
	m.byPlayer[playerB] = code
	m.mu.Unlock()

	m.save(s.Snapshot())
	return s, nil
}

func (m *Manager) Get(code string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byCode[strings.TrimSpace(code)]
}

// ByPlayer returns the live session a player belongs to.
func (m *Manager) ByPlayer(player string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code, ok := m.byPlayer[strings.TrimSpace(player)]
	if !ok {
		return nil
	}
	return m.byCode[code]
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byCode)
}

// Move routes a move request to the player's session.
func (m *Manager) Move(player string, from, to checkers.Coord) (*Session, bool) {
	s := m.ByPlayer(player)
	if s == nil {
		return nil, false
	}
	return s, s.RequestMove(player, from, to)
}

// Disconnect forfeits the player's live session, if any.
func (m *Manager) Disconnect(player string) *Session {
	s := m.ByPlayer(player)
	if s == nil {
		return nil
	}
	s.NotifyDisconnect(player)
	return s
}

// Lookup returns the stored snapshot of a live session. It falls back to
// the in-process session when no store is configured.
func (m *Manager) Lookup(ctx context.Context, code string) (*Snapshot, error) {
	if m.store != nil {
		snap, err := m.store.Load(ctx, code)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			return nil, ErrMatchMissing
		}
		return snap, nil
	}
	if s := m.Get(code); s != nil {
		snap := s.Snapshot()
		return &snap, nil
	}
	return nil, ErrMatchMissing
}

// MatchUpdated implements Observer for the sessions this manager owns.
func (m *Manager) MatchUpdated(snap Snapshot) {
	if !snap.Ended() {
		m.save(snap)
	}
	m.currentObserver().MatchUpdated(snap)
}

// MatchEnded implements Observer: the session is forgotten, its snapshot
// dropped and the end announced.
func (m *Manager) MatchEnded(snap Snapshot) {
	m.mu.Lock()
	if s, ok := m.byCode[snap.Code]; ok {
		white, red := s.Players()
		delete(m.byPlayer, white)
		delete(m.byPlayer, red)
		delete(m.byCode, snap.Code)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if m.store != nil {
		if err := m.store.Retire(ctx, snap.Code, snap.Seq); err != nil {
			m.logger.Warn("match_snapshot_retire_error", zap.String("code", snap.Code), zap.Error(err))
		}
	}
	text := m.Announce(snap)
	m.logger.Info("match_announce", zap.String("code", snap.Code), zap.String("text", text))

	m.currentObserver().MatchEnded(snap)
	for _, h := range m.hooks {
		h(ctx, snap, text)
	}
}

func (m *Manager) currentObserver() Observer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.observer
}

func (m *Manager) save(snap Snapshot) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := m.store.Save(ctx, snap)
	switch {
	case errors.Is(err, ErrStaleSnapshot):
		m.logger.Debug("match_snapshot_stale", zap.String("code", snap.Code), zap.Uint64("seq", snap.Seq))
	case err != nil:
		m.logger.Warn("match_snapshot_save_error", zap.String("code", snap.Code), zap.Error(err))
	}
}

// Announce renders the end-of-match line, e.g. "RED player ran out of time".
func (m *Manager) Announce(snap Snapshot) string {
	if !snap.Ended() || snap.WinnerColor == nil {
		return ""
	}
	winner := *snap.WinnerColor
	data := map[string]any{
		"Code":     snap.Code,
		"Winner":   strings.ToUpper(winner.String()),
		"Loser":    strings.ToUpper(winner.Opponent().String()),
		"WinnerID": snap.Winner,
	}
	key := "match.end." + string(snap.Reason)
	if m.catalog != nil {
		text, err := m.catalog.Render(key, data)
		if err == nil {
			return text
		}
		m.logger.Warn("match_announce_render_error", zap.String("key", key), zap.Error(err))
	}
	switch snap.Reason {
	case ReasonPiecesExhausted:
		return fmt.Sprintf("%s player took all the pieces", data["Winner"])
	case ReasonTimeout:
		return fmt.Sprintf("%s player ran out of time", data["Loser"])
	default:
		return fmt.Sprintf("%s player disconnected", data["Loser"])
	}
}
