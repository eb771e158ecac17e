package match

import (
	"crypto/rand"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/park285/checkers-match/internal/checkers"
	"github.com/park285/checkers-match/internal/obslog"
	"go.uber.org/zap"
)

const (
	// DefaultBudgetMinutes is used when a session is created without a budget.
	DefaultBudgetMinutes = 5
	// MaxBudgetMinutes caps a player's clock.
	MaxBudgetMinutes = 59
)

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clk = c
		}
	}
}

// WithLogger sets the session logger; the session adds its code field.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver receives the session's update and end events.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithMaxBudget lowers or raises the per-player cap in minutes.
func WithMaxBudget(minutes int) Option {
	return func(s *Session) {
		if minutes > 0 {
			s.maxBudget = minutes
		}
	}
}

// WithDefaultBudget is the budget in minutes for a non-positive request.
func WithDefaultBudget(minutes int) Option {
	return func(s *Session) {
		if minutes > 0 {
			s.defaultBudget = minutes
		}
	}
}

// WithColorPicker decides the color of the first player instead of a coin flip.
func WithColorPicker(pick func() checkers.Color) Option {
	return func(s *Session) {
		if pick != nil {
			s.pickColor = pick
		}
	}
}

// WithMatch starts the session from an existing position.
func WithMatch(m *checkers.Match) Option {
	return func(s *Session) { s.game = m }
}

type forfeitTimer struct {
	timer *clock.Timer
	color checkers.Color
	gen   uint64
}

// Session is one live match between two players: turn order, clocks, the
// forfeit timer and the single ended flag. All state is guarded by mu; the
// ended flag is what keeps a late timer from ending a decided match again.
type Session struct {
	mu sync.Mutex

	code    string
	whiteID string
	redID   string
	game    *checkers.Match

	turn        checkers.Color
	clocks      [2]time.Duration
	turnStarted time.Time
	startedAt   time.Time
	updatedAt   time.Time

	ended  bool
	winner checkers.Color
	reason EndReason

	// timers holds the pending forfeit timers; never more than one.
	timers []*forfeitTimer
	gen    uint64

	// seq advances on every state change and stamps each snapshot.
	seq uint64

	// emitMu serializes observer calls; emitted is the newest seq delivered.
	emitMu  sync.Mutex
	emitted uint64

	clk           clock.Clock
	logger        *zap.Logger
	observer      Observer
	defaultBudget int
	maxBudget     int
	pickColor     func() checkers.Color
}

// New creates a session between playerA and playerB. Colors are assigned by
// a fair coin, Red moves first, and Red's forfeit timer is armed at once.
// A non-positive budget falls back to the default budget.
func New(code, playerA, playerB string, budgetMinutes int, opts ...Option) *Session {
	s := &Session{
		code:          strings.TrimSpace(code),
		seq:           1,
		clk:           clock.New(),
		logger:        obslog.L(),
		observer:      nopObserver{},
		defaultBudget: DefaultBudgetMinutes,
		maxBudget:     MaxBudgetMinutes,
		pickColor:     randomColor,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.game == nil {
		s.game = checkers.NewMatch()
	}
	if s.pickColor() == checkers.White {
		s.whiteID, s.redID = playerA, playerB
	} else {
		s.whiteID, s.redID = playerB, playerA
	}
	if budgetMinutes <= 0 {
		budgetMinutes = s.defaultBudget
	}
	budget := time.Duration(ClampBudget(budgetMinutes, s.maxBudget)) * time.Minute
	s.clocks = [2]time.Duration{budget, budget}
	s.turn = checkers.Red
	now := s.clk.Now()
	s.turnStarted, s.startedAt, s.updatedAt = now, now, now
	s.logger = s.logger.With(zap.String("code", s.code))

	s.mu.Lock()
	s.armLocked()
	s.mu.Unlock()

	s.logger.Info("match_create",
		zap.String("white_id", s.whiteID),
		zap.String("red_id", s.redID),
		zap.Duration("budget", budget),
	)
	return s
}

// ClampBudget bounds a requested budget to [1, max] minutes. New resolves
// non-positive requests to the default budget before clamping.
func ClampBudget(minutes, max int) int {
	if max <= 0 {
		max = MaxBudgetMinutes
	}
	if minutes < 1 {
		return 1
	}
	if minutes > max {
		return max
	}
	return minutes
}

func randomColor() checkers.Color {
	if n, err := rand.Int(rand.Reader, big.NewInt(2)); err == nil && n.Int64() == 0 {
		return checkers.Red
	}
	return checkers.White
}

// Code is the room code the session was created for.
func (s *Session) Code() string { return s.code }

// Players returns the white and red identities.
func (s *Session) Players() (white, red string) { return s.whiteID, s.redID }

// ColorOf returns the color bound to player.
func (s *Session) ColorOf(player string) (checkers.Color, bool) {
	switch {
	case player == "":
		return checkers.White, false
	case player == s.whiteID:
		return checkers.White, true
	case player == s.redID:
		return checkers.Red, true
	}
	return checkers.White, false
}

// Ended reports whether the one-way transition to ended has happened.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// PendingTimers reports how many forfeit timers are outstanding.
func (s *Session) PendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Snapshot copies the current state under the session lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// RequestMove applies a move on behalf of player and reports whether it was
// accepted. Requests after the end, out of turn or from a stranger are
// declined without any state change; callers read Snapshot afterwards.
func (s *Session) RequestMove(player string, from, to checkers.Coord) bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		s.logger.Debug("match_move_ignored", zap.String("player", player), zap.String("why", "ended"))
		return false
	}
	color, ok := s.ColorOf(player)
	if !ok || color != s.turn {
		s.mu.Unlock()
		s.logger.Debug("match_move_ignored", zap.String("player", player), zap.String("why", "not_on_move"))
		return false
	}

	now := s.clk.Now()
	if now.Sub(s.turnStarted) >= s.clocks[color] {
		// the timer is about to fire; the move came too late to count
		s.clocks[color] = 0
		ended := s.finishLocked(color.Opponent(), ReasonTimeout, now)
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.emit(snap, false, ended)
		return false
	}

	res := s.game.ApplyMove(color, from, to)
	ended := false
	if res.Accepted() {
		s.seq++
		s.updatedAt = now
		if res.TurnEnds {
			s.endTurnLocked(color, now)
		}
		if w, done := s.game.FindWinner(); done {
			ended = s.finishLocked(w, ReasonPiecesExhausted, now)
		}
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if res.Accepted() {
		s.logger.Info("match_move",
			zap.String("player", player),
			zap.Stringer("color", color),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
			zap.Bool("capture", res.Captured),
			zap.Bool("promoted", res.Promoted),
			zap.Bool("turn_ends", res.TurnEnds),
		)
	} else {
		s.logger.Debug("match_move_rejected",
			zap.String("player", player),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
			zap.String("reason", string(res.Reason)),
		)
	}

	s.emit(snap, true, ended)
	return res.Accepted()
}

// NotifyDisconnect ends the session in favour of the player who stayed,
// whoever is on move and even in the middle of a capture chain.
func (s *Session) NotifyDisconnect(player string) bool {
	color, ok := s.ColorOf(player)
	if !ok {
		return false
	}
	s.mu.Lock()
	ended := s.finishLocked(color.Opponent(), ReasonDisconnected, s.clk.Now())
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap, false, ended)
	return ended
}

// endTurnLocked debits the mover's clock by the time since the turn began,
// hands the turn over and arms the forfeit timer for the new holder.
func (s *Session) endTurnLocked(mover checkers.Color, now time.Time) {
	s.cancelTimersLocked()
	s.clocks[mover] -= now.Sub(s.turnStarted)
	s.turn = mover.Opponent()
	s.turnStarted = now
	s.armLocked()
	s.logger.Debug("match_turn",
		zap.Stringer("turn", s.turn),
		zap.Duration("white_clock", s.clocks[checkers.White]),
		zap.Duration("red_clock", s.clocks[checkers.Red]),
	)
}

// armLocked schedules the forfeit timer for the side on move against its
// remaining budget, replacing any pending one.
func (s *Session) armLocked() {
	s.cancelTimersLocked()
	s.gen++
	gen, color := s.gen, s.turn
	t := s.clk.AfterFunc(s.clocks[color], func() { s.expire(gen, color) })
	s.timers = append(s.timers, &forfeitTimer{timer: t, color: color, gen: gen})
}

// cancelTimersLocked stops every pending timer. Stop may lose the race with
// a timer that already fired; bumping gen makes that callback a no-op.
func (s *Session) cancelTimersLocked() {
	for _, ft := range s.timers {
		ft.timer.Stop()
	}
	s.timers = s.timers[:0]
	s.gen++
}

func (s *Session) expire(gen uint64, color checkers.Color) {
	s.mu.Lock()
	if s.ended || gen != s.gen {
		s.mu.Unlock()
		return
	}
	now := s.clk.Now()
	s.clocks[color] = 0
	ended := s.finishLocked(color.Opponent(), ReasonTimeout, now)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap, false, ended)
}

// finishLocked performs the one-way transition to ended. It reports false
// when the session had already ended, keeping the first winner and reason.
func (s *Session) finishLocked(winner checkers.Color, reason EndReason, now time.Time) bool {
	if s.ended {
		return false
	}
	s.cancelTimersLocked()
	s.seq++
	s.ended = true
	s.winner = winner
	s.reason = reason
	s.updatedAt = now
	s.logger.Info("match_end",
		zap.Stringer("winner_color", winner),
		zap.String("winner_id", s.playerOf(winner)),
		zap.String("reason", string(reason)),
		zap.Duration("duration", now.Sub(s.startedAt)),
	)
	return true
}

// emit delivers observer calls one at a time in seq order. A snapshot older
// than one already delivered is dropped, so no update follows the end.
func (s *Session) emit(snap Snapshot, updated, ended bool) {
	if !updated && !ended {
		return
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if snap.Seq < s.emitted {
		s.logger.Debug("match_event_stale", zap.Uint64("seq", snap.Seq), zap.Uint64("delivered", s.emitted))
		return
	}
	s.emitted = snap.Seq
	if updated {
		s.observer.MatchUpdated(snap)
	}
	if ended {
		s.observer.MatchEnded(snap)
	}
}

func (s *Session) playerOf(c checkers.Color) string {
	if c == checkers.White {
		return s.whiteID
	}
	return s.redID
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Code:          s.code,
		Seq:           s.seq,
		Status:        StatusActive,
		WhiteID:       s.whiteID,
		RedID:         s.redID,
		Board:         s.game.Board().Grid(),
		Turn:          s.turn,
		WhiteClock:    s.clocks[checkers.White],
		RedClock:      s.clocks[checkers.Red],
		TurnStartedAt: s.turnStarted,
		WhitePieces:   s.game.Remaining(checkers.White),
		RedPieces:     s.game.Remaining(checkers.Red),
		StartedAt:     s.startedAt,
		UpdatedAt:     s.updatedAt,
	}
	if sq, ok := s.game.ChainSquare(); ok {
		snap.Chain = &sq
	}
	if s.ended {
		w := s.winner
		snap.Status = StatusEnded
		snap.Winner = s.playerOf(w)
		snap.WinnerColor = &w
		snap.Reason = s.reason
	}
	return snap
}
