package match

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/park285/checkers-match/internal/checkers"
)

type recorder struct {
	mu      sync.Mutex
	updates int
	ends    []Snapshot
	events  []string
	endedCh chan Snapshot
}

func newRecorder() *recorder { return &recorder{endedCh: make(chan Snapshot, 8)} }

func (r *recorder) MatchUpdated(Snapshot) {
	r.mu.Lock()
	r.updates++
	r.events = append(r.events, "update")
	r.mu.Unlock()
}

func (r *recorder) MatchEnded(s Snapshot) {
	r.mu.Lock()
	r.ends = append(r.ends, s)
	r.events = append(r.events, "end")
	r.mu.Unlock()
	r.endedCh <- s
}

func (r *recorder) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

func (r *recorder) endCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ends)
}

func (r *recorder) eventLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) waitEnded(t *testing.T) Snapshot {
	t.Helper()
	select {
	case s := <-r.endedCh:
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("match did not end")
	}
	return Snapshot{}
}

func whiteFirst() checkers.Color { return checkers.White }

// newTestSession binds "alice" to White and "bob" to Red.
func newTestSession(t *testing.T, minutes int, opts ...Option) (*Session, *clock.Mock, *recorder) {
	t.Helper()
	mock := clock.NewMock()
	rec := newRecorder()
	base := []Option{WithClock(mock), WithObserver(rec), WithColorPicker(whiteFirst)}
	s := New("ABC123", "alice", "bob", minutes, append(base, opts...)...)
	return s, mock, rec
}

func boardOf(pieces map[checkers.Coord]checkers.Cell) *checkers.Board {
	b := &checkers.Board{}
	for c, v := range pieces {
		b.Set(c, v)
	}
	return b
}

func TestNewSessionInitialState(t *testing.T) {
	s, mock, _ := newTestSession(t, 5)
	snap := s.Snapshot()

	if snap.WhiteID != "alice" || snap.RedID != "bob" {
		t.Fatalf("unexpected colors: white=%q red=%q", snap.WhiteID, snap.RedID)
	}
	if snap.Turn != checkers.Red {
		t.Fatalf("red moves first, got %v", snap.Turn)
	}
	if snap.WhiteClock != 5*time.Minute || snap.RedClock != 5*time.Minute {
		t.Fatalf("clocks: white=%v red=%v", snap.WhiteClock, snap.RedClock)
	}
	if !snap.TurnStartedAt.Equal(mock.Now()) {
		t.Fatalf("turn start %v, want %v", snap.TurnStartedAt, mock.Now())
	}
	if n := s.PendingTimers(); n != 1 {
		t.Fatalf("expected red forfeit timer armed, pending=%d", n)
	}
	if snap.Ended() || snap.WhitePieces != 12 || snap.RedPieces != 12 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestColorAssignmentIsBoundAtCreation(t *testing.T) {
	s := New("X", "alice", "bob", 1, WithClock(clock.NewMock()), WithColorPicker(func() checkers.Color { return checkers.Red }))
	white, red := s.Players()
	if white != "bob" || red != "alice" {
		t.Fatalf("white=%q red=%q", white, red)
	}
	if c, ok := s.ColorOf("alice"); !ok || c != checkers.Red {
		t.Fatalf("ColorOf(alice)=%v,%v", c, ok)
	}
	if _, ok := s.ColorOf("mallory"); ok {
		t.Fatalf("stranger must not have a color")
	}

	seen := map[string]bool{}
	for i := 0; i < 64 && len(seen) < 2; i++ {
		w, _ := New("X", "a", "b", 1, WithClock(clock.NewMock())).Players()
		seen[w] = true
	}
	if len(seen) != 2 {
		t.Fatalf("random assignment never produced both outcomes: %v", seen)
	}
}

func TestClampBudget(t *testing.T) {
	tests := []struct{ in, max, want int }{
		{5, 59, 5},
		{59, 59, 59},
		{120, 59, 59},
		{0, 59, 1},
		{-3, 59, 1},
		{30, 0, 30},
		{30, 10, 10},
	}
	for _, tt := range tests {
		if got := ClampBudget(tt.in, tt.max); got != tt.want {
			t.Fatalf("ClampBudget(%d,%d)=%d want %d", tt.in, tt.max, got, tt.want)
		}
	}
	s, _, _ := newTestSession(t, 600)
	if got := s.Snapshot().RedClock; got != 59*time.Minute {
		t.Fatalf("budget not clamped: %v", got)
	}
}

func TestNonPositiveBudgetUsesDefault(t *testing.T) {
	tests := []struct {
		name    string
		minutes int
		opts    []Option
		want    time.Duration
	}{
		{"zero", 0, nil, DefaultBudgetMinutes * time.Minute},
		{"negative", -4, nil, DefaultBudgetMinutes * time.Minute},
		{"configured default", 0, []Option{WithDefaultBudget(3)}, 3 * time.Minute},
		{"default above cap", 0, []Option{WithDefaultBudget(90)}, 59 * time.Minute},
		{"explicit wins", 7, []Option{WithDefaultBudget(3)}, 7 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestSession(t, tt.minutes, tt.opts...)
			snap := s.Snapshot()
			if snap.WhiteClock != tt.want || snap.RedClock != tt.want {
				t.Fatalf("clocks white=%v red=%v, want %v", snap.WhiteClock, snap.RedClock, tt.want)
			}
		})
	}
}

func TestRedOpeningMoveFlipsTurnAndDebitsClock(t *testing.T) {
	s, mock, rec := newTestSession(t, 5)
	mock.Add(3 * time.Second)

	if !s.RequestMove("bob", checkers.At(0, 5), checkers.At(1, 4)) {
		t.Fatalf("legal opening move rejected")
	}
	snap := s.Snapshot()
	if snap.Turn != checkers.White {
		t.Fatalf("turn did not flip: %v", snap.Turn)
	}
	if snap.RedClock != 5*time.Minute-3*time.Second {
		t.Fatalf("red clock %v", snap.RedClock)
	}
	if snap.WhiteClock != 5*time.Minute {
		t.Fatalf("white clock touched: %v", snap.WhiteClock)
	}
	if !snap.TurnStartedAt.Equal(mock.Now()) {
		t.Fatalf("turn start not restamped")
	}
	if snap.Board[4][1] != int(checkers.RedMan) || snap.Board[5][0] != int(checkers.Empty) {
		t.Fatalf("board not updated")
	}
	if n := s.PendingTimers(); n != 1 {
		t.Fatalf("pending timers=%d", n)
	}
	if rec.updateCount() != 1 {
		t.Fatalf("expected one update, got %d", rec.updateCount())
	}

	// the new timer runs against white's full budget
	mock.Add(5*time.Minute - time.Millisecond)
	if s.Ended() {
		t.Fatalf("ended before white's budget elapsed")
	}
	mock.Add(time.Millisecond)
	end := rec.waitEnded(t)
	if end.Reason != ReasonTimeout || end.Winner != "bob" {
		t.Fatalf("unexpected end: winner=%q reason=%q", end.Winner, end.Reason)
	}
}

func TestDeclinedRequestsLeaveStateUntouched(t *testing.T) {
	s, mock, rec := newTestSession(t, 5)
	before := s.Snapshot()
	mock.Add(time.Second)

	if s.RequestMove("alice", checkers.At(1, 2), checkers.At(0, 3)) {
		t.Fatalf("white moved on red's turn")
	}
	if s.RequestMove("mallory", checkers.At(0, 5), checkers.At(1, 4)) {
		t.Fatalf("stranger moved")
	}
	if rec.updateCount() != 0 {
		t.Fatalf("declined-before-rules requests should not broadcast")
	}
	if s.RequestMove("bob", checkers.At(0, 5), checkers.At(0, 4)) {
		t.Fatalf("illegal move accepted")
	}
	if rec.updateCount() != 1 {
		t.Fatalf("illegal move should still report state")
	}

	after := s.Snapshot()
	if after.Board != before.Board || after.Turn != before.Turn || after.RedClock != before.RedClock {
		t.Fatalf("declined requests mutated state")
	}
	if s.PendingTimers() != 1 {
		t.Fatalf("timers changed")
	}
}

func TestForcedCaptureThroughSession(t *testing.T) {
	m := checkers.NewMatchFromBoard(boardOf(map[checkers.Coord]checkers.Cell{
		checkers.At(1, 0): checkers.WhiteMan,
		checkers.At(2, 1): checkers.WhiteMan,
		checkers.At(6, 1): checkers.WhiteMan,
		checkers.At(3, 2): checkers.RedMan,
		checkers.At(7, 6): checkers.RedMan,
	}))
	s, _, _ := newTestSession(t, 5, WithMatch(m))

	if !s.RequestMove("bob", checkers.At(7, 6), checkers.At(6, 5)) {
		t.Fatalf("red quiet move rejected")
	}
	if s.RequestMove("alice", checkers.At(6, 1), checkers.At(7, 2)) {
		t.Fatalf("quiet move accepted while a capture is available")
	}
	if got := s.Snapshot().Turn; got != checkers.White {
		t.Fatalf("turn changed after rejected move: %v", got)
	}
	if !s.RequestMove("alice", checkers.At(2, 1), checkers.At(4, 3)) {
		t.Fatalf("capture rejected")
	}
	snap := s.Snapshot()
	if snap.RedPieces != 1 || snap.Board[2][3] != int(checkers.Empty) {
		t.Fatalf("capture not applied: %+v", snap)
	}
}

func TestChainCaptureKeepsTurnAndClock(t *testing.T) {
	m := checkers.NewMatchFromBoard(boardOf(map[checkers.Coord]checkers.Cell{
		checkers.At(0, 1): checkers.WhiteMan,
		checkers.At(1, 2): checkers.WhiteMan,
		checkers.At(6, 1): checkers.WhiteMan,
		checkers.At(2, 3): checkers.RedMan,
		checkers.At(4, 5): checkers.RedMan,
		checkers.At(7, 6): checkers.RedMan,
	}))
	s, mock, _ := newTestSession(t, 5, WithMatch(m))

	if !s.RequestMove("bob", checkers.At(7, 6), checkers.At(6, 5)) {
		t.Fatalf("red move rejected")
	}
	mock.Add(2 * time.Second)
	if !s.RequestMove("alice", checkers.At(1, 2), checkers.At(3, 4)) {
		t.Fatalf("first jump rejected")
	}
	mid := s.Snapshot()
	if mid.Turn != checkers.White || mid.WhiteClock != 5*time.Minute {
		t.Fatalf("turn or clock changed mid-chain: turn=%v white=%v", mid.Turn, mid.WhiteClock)
	}
	if mid.Chain == nil || *mid.Chain != checkers.At(3, 4) {
		t.Fatalf("chain square not reported: %v", mid.Chain)
	}
	if s.RequestMove("bob", checkers.At(6, 5), checkers.At(5, 4)) {
		t.Fatalf("opponent moved during a chain")
	}
	if s.RequestMove("alice", checkers.At(6, 1), checkers.At(5, 2)) {
		t.Fatalf("a different piece moved during a chain")
	}

	mock.Add(time.Second)
	if !s.RequestMove("alice", checkers.At(3, 4), checkers.At(5, 6)) {
		t.Fatalf("second jump rejected")
	}
	end := s.Snapshot()
	if end.Turn != checkers.Red {
		t.Fatalf("turn should pass after the chain")
	}
	if end.WhiteClock != 5*time.Minute-3*time.Second {
		t.Fatalf("white clock %v", end.WhiteClock)
	}
	if s.PendingTimers() != 1 {
		t.Fatalf("pending timers=%d", s.PendingTimers())
	}
}

func TestDisconnectMidChainForfeits(t *testing.T) {
	m := checkers.NewMatchFromBoard(boardOf(map[checkers.Coord]checkers.Cell{
		checkers.At(0, 1): checkers.WhiteMan,
		checkers.At(1, 2): checkers.WhiteMan,
		checkers.At(2, 3): checkers.RedMan,
		checkers.At(4, 5): checkers.RedMan,
		checkers.At(7, 6): checkers.RedMan,
	}))
	s, mock, rec := newTestSession(t, 5, WithMatch(m))

	if !s.RequestMove("bob", checkers.At(7, 6), checkers.At(6, 5)) {
		t.Fatalf("red move rejected")
	}
	if !s.RequestMove("alice", checkers.At(1, 2), checkers.At(3, 4)) {
		t.Fatalf("first jump rejected")
	}
	if s.Snapshot().Chain == nil {
		t.Fatalf("expected a pending chain")
	}

	if !s.NotifyDisconnect("alice") {
		t.Fatalf("disconnect mid-chain did not end the match")
	}
	end := rec.waitEnded(t)
	if !end.Ended() || end.Reason != ReasonDisconnected || end.Winner != "bob" {
		t.Fatalf("unexpected end: %+v", end)
	}
	if s.PendingTimers() != 0 {
		t.Fatalf("timers survived the disconnect")
	}
	if s.RequestMove("alice", checkers.At(3, 4), checkers.At(5, 6)) {
		t.Fatalf("chain continued after the forfeit")
	}
	mock.Add(10 * time.Minute)
	if n := rec.endCount(); n != 1 {
		t.Fatalf("MatchEnded delivered %d times", n)
	}
}

// stalledClock moves Now forward by skew without firing the mock's timers,
// like a move landing just before the forfeit timer runs.
type stalledClock struct {
	*clock.Mock
	skew time.Duration
}

func (c *stalledClock) Now() time.Time { return c.Mock.Now().Add(c.skew) }

func TestMoveAfterBudgetSpentLosesOnTime(t *testing.T) {
	clk := &stalledClock{Mock: clock.NewMock()}
	rec := newRecorder()
	s := New("ABC123", "alice", "bob", 1, WithClock(clk), WithObserver(rec), WithColorPicker(whiteFirst))
	before := s.Snapshot()

	clk.skew = time.Minute
	if s.RequestMove("bob", checkers.At(0, 5), checkers.At(1, 4)) {
		t.Fatalf("move accepted after red's budget ran out")
	}
	end := rec.waitEnded(t)
	if end.Reason != ReasonTimeout || end.Winner != "alice" || end.RedClock != 0 {
		t.Fatalf("unexpected end: winner=%q reason=%q red=%v", end.Winner, end.Reason, end.RedClock)
	}
	if end.Board != before.Board {
		t.Fatalf("late move was applied")
	}
	if rec.updateCount() != 0 {
		t.Fatalf("late move broadcast an update")
	}
	if s.PendingTimers() != 0 {
		t.Fatalf("forfeit timer still pending")
	}

	clk.Mock.Add(2 * time.Minute)
	if n := rec.endCount(); n != 1 {
		t.Fatalf("MatchEnded delivered %d times", n)
	}
}

func TestOlderSnapshotIsNotDeliveredAfterEnd(t *testing.T) {
	s, _, rec := newTestSession(t, 5)
	if !s.RequestMove("bob", checkers.At(0, 5), checkers.At(1, 4)) {
		t.Fatalf("opening move rejected")
	}
	taken := s.Snapshot()

	s.NotifyDisconnect("bob")
	end := rec.waitEnded(t)
	if end.Seq <= taken.Seq {
		t.Fatalf("end seq %d not after %d", end.Seq, taken.Seq)
	}

	// an update that lost the race with the end arrives late
	s.emit(taken, true, false)
	if got := rec.eventLog(); len(got) != 2 || got[0] != "update" || got[1] != "end" {
		t.Fatalf("events = %v", got)
	}
}

func TestWinningMoveEndsOnceAndLateTimerIsIgnored(t *testing.T) {
	m := checkers.NewMatchFromBoard(boardOf(map[checkers.Coord]checkers.Cell{
		checkers.At(2, 1): checkers.WhiteMan,
		checkers.At(3, 2): checkers.RedMan,
	}))
	s, mock, rec := newTestSession(t, 1, WithMatch(m))

	s.mu.Lock()
	staleGen := s.gen
	s.mu.Unlock()

	if !s.RequestMove("bob", checkers.At(3, 2), checkers.At(1, 0)) {
		t.Fatalf("winning capture rejected")
	}
	end := rec.waitEnded(t)
	if end.Reason != ReasonPiecesExhausted || end.Winner != "bob" || end.WinnerColor == nil || *end.WinnerColor != checkers.Red {
		t.Fatalf("unexpected end: %+v", end)
	}
	if s.PendingTimers() != 0 {
		t.Fatalf("timers survived the end")
	}

	// a timer that was already in flight, then the current one, then a disconnect
	s.expire(staleGen, checkers.Red)
	s.mu.Lock()
	cur := s.gen
	s.mu.Unlock()
	s.expire(cur, checkers.White)
	if s.NotifyDisconnect("alice") {
		t.Fatalf("disconnect after the end reported a transition")
	}
	mock.Add(2 * time.Minute)

	if n := rec.endCount(); n != 1 {
		t.Fatalf("MatchEnded delivered %d times", n)
	}
	snap := s.Snapshot()
	if snap.Reason != ReasonPiecesExhausted || snap.Winner != "bob" {
		t.Fatalf("first result not retained: %+v", snap)
	}
	if s.RequestMove("alice", checkers.At(0, 1), checkers.At(1, 2)) {
		t.Fatalf("move accepted after the end")
	}
}

func TestTimeoutThenLateMoveIsNoop(t *testing.T) {
	s, mock, rec := newTestSession(t, 1)
	mock.Add(time.Minute)

	end := rec.waitEnded(t)
	if end.Reason != ReasonTimeout || end.Winner != "alice" {
		t.Fatalf("unexpected end: winner=%q reason=%q", end.Winner, end.Reason)
	}
	if end.RedClock != 0 {
		t.Fatalf("timed-out clock should read zero, got %v", end.RedClock)
	}
	before := s.Snapshot()
	if s.RequestMove("bob", checkers.At(0, 5), checkers.At(1, 4)) {
		t.Fatalf("late move accepted")
	}
	if after := s.Snapshot(); after.Board != before.Board || after.Reason != ReasonTimeout {
		t.Fatalf("late move changed state")
	}
	if rec.updateCount() != 0 {
		t.Fatalf("late move broadcast an update")
	}
}

func TestDisconnectEndsImmediately(t *testing.T) {
	s, _, rec := newTestSession(t, 5)

	if s.NotifyDisconnect("mallory") {
		t.Fatalf("stranger disconnect ended the match")
	}
	if !s.NotifyDisconnect("alice") {
		t.Fatalf("disconnect did not end the match")
	}
	end := rec.waitEnded(t)
	if end.Reason != ReasonDisconnected || end.Winner != "bob" {
		t.Fatalf("unexpected end: winner=%q reason=%q", end.Winner, end.Reason)
	}
	if s.PendingTimers() != 0 {
		t.Fatalf("timers survived the disconnect")
	}
}

// Plays many turns with varying think times and checks that each clock has
// been debited by exactly the time its owner spent, with one timer pending.
func TestClockConservation(t *testing.T) {
	s, mock, _ := newTestSession(t, 10)
	spent := map[checkers.Color]time.Duration{}

	for turn := 0; turn < 40; turn++ {
		snap := s.Snapshot()
		if snap.Ended() {
			break
		}
		color := snap.Turn
		player := snap.PlayerOf(color)
		think := time.Duration(1+turn%7) * time.Second

		moved := false
		for !moved {
			from, to, ok := firstLegal(s, color)
			if !ok {
				return // blocked position; nothing more to measure
			}
			mock.Add(think)
			spent[color] += think
			think = 0
			if !s.RequestMove(player, from, to) {
				t.Fatalf("legal move %s->%s rejected", from, to)
			}
			if next := s.Snapshot(); next.Ended() || next.Turn != color {
				moved = true
			}
		}

		snap = s.Snapshot()
		if snap.Ended() {
			break
		}
		if snap.WhiteClock != 10*time.Minute-spent[checkers.White] || snap.RedClock != 10*time.Minute-spent[checkers.Red] {
			t.Fatalf("turn %d: clocks white=%v red=%v spent=%v", turn, snap.WhiteClock, snap.RedClock, spent)
		}
		if s.PendingTimers() != 1 {
			t.Fatalf("turn %d: pending timers=%d", turn, s.PendingTimers())
		}
	}
}

func firstLegal(s *Session, c checkers.Color) (checkers.Coord, checkers.Coord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for row := 0; row < checkers.Size; row++ {
		for col := 0; col < checkers.Size; col++ {
			from := checkers.At(col, row)
			if targets := s.game.LegalTargets(c, from); len(targets) > 0 {
				return from, targets[0], true
			}
		}
	}
	return checkers.Coord{}, checkers.Coord{}, false
}
