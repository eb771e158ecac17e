package wsserver

import (
	"context"
	"errors"
	"time"

	"github.com/park285/checkers-match/internal/checkers"
	"github.com/park285/checkers-match/internal/lobby"
	"github.com/park285/checkers-match/internal/match"
	"github.com/park285/checkers-match/pkg/checkersdto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type envelope = checkersdto.Envelope

func (s *Server) dispatch(ctx context.Context, c *conn, env envelope) {
	switch env.Type {
	case checkersdto.TypeCreateRoom:
		var in checkersdto.CreateRoom
		if err := env.Decode(&in); err != nil {
			s.sendError(c, "bad_request", s.text("lobby.error.invalid", "Invalid request", nil))
			return
		}
		s.createRoom(ctx, c, in)
	case checkersdto.TypeJoinRoom:
		var in checkersdto.JoinRoom
		if err := env.Decode(&in); err != nil {
			s.sendError(c, "bad_request", s.text("lobby.error.invalid", "Invalid request", nil))
			return
		}
		s.joinRoom(ctx, c, in)
	case checkersdto.TypeMove:
		var in checkersdto.Move
		if err := env.Decode(&in); err != nil {
			s.sendError(c, "bad_request", s.text("lobby.error.invalid", "Invalid request", nil))
			return
		}
		s.move(c, in)
	default:
		s.logger.Debug("ws_unknown_type", zap.String("player", c.id), zap.String("type", env.Type))
		s.sendError(c, "unknown_type", "unknown message type: "+env.Type)
	}
}

func (s *Server) createRoom(ctx context.Context, c *conn, in checkersdto.CreateRoom) {
	if s.hub.roomOf(c.id) != "" || s.matches.ByPlayer(c.id) != nil {
		s.sendError(c, "busy", s.text("lobby.error.busy", "Already in a room", nil))
		return
	}
	room, err := s.lobby.Make(ctx, c.id, in.Time)
	if err != nil {
		s.logger.Warn("lobby_make_error", zap.String("player", c.id), zap.Error(err))
		s.sendError(c, "create_failed", s.text("lobby.error.invalid", "Invalid request", nil))
		return
	}
	s.hub.join(room.Code, c.id)
	s.send(c, checkersdto.TypeCreatedRoom, checkersdto.CreatedRoom{Code: room.Code})
}

func (s *Server) joinRoom(ctx context.Context, c *conn, in checkersdto.JoinRoom) {
	if s.hub.roomOf(c.id) != "" || s.matches.ByPlayer(c.id) != nil {
		s.sendError(c, "busy", s.text("lobby.error.busy", "Already in a room", nil))
		return
	}
	room, err := s.lobby.Join(ctx, in.Code, c.id)
	if err != nil {
		s.joinFailure(c, err)
		return
	}
	if s.hub.get(room.CreatorID) == nil {
		// the creator is gone or connected elsewhere; nobody to play against
		_ = s.lobby.Remove(ctx, room.Code)
		s.joinFailure(c, lobby.ErrRoomNotFound)
		return
	}

	sess, err := s.matches.Create(room.Code, room.CreatorID, c.id, room.BudgetMinutes)
	if err != nil {
		s.logger.Warn("match_create_error", zap.String("code", room.Code), zap.Error(err))
		_ = s.lobby.Remove(ctx, room.Code)
		s.joinFailure(c, lobby.ErrRoomNotFound)
		return
	}
	s.hub.join(room.Code, c.id)

	snap := sess.Snapshot()
	seconds := int(snap.WhiteClock / time.Second)
	for _, m := range s.hub.members(room.Code) {
		color, ok := sess.ColorOf(m.id)
		if !ok {
			continue
		}
		s.send(m, checkersdto.TypeStartGame, checkersdto.StartGame{
			Code:      room.Code,
			Time:      seconds,
			PlayWhite: color == checkers.White,
		})
	}
	s.broadcast(room.Code, checkersdto.TypeUpdateGame, updateFromSnapshot(snap))
}

func (s *Server) joinFailure(c *conn, err error) {
	var msg string
	switch {
	case errors.Is(err, lobby.ErrRoomFull):
		msg = s.text("lobby.error.full", "Room Full", nil)
	case errors.Is(err, lobby.ErrSelfJoin):
		msg = s.text("lobby.error.self_join", "You are already in this room", nil)
	case errors.Is(err, lobby.ErrRoomNotFound), errors.Is(err, lobby.ErrInvalidArgs):
		msg = s.text("lobby.error.not_found", "Room Code Invalid", nil)
	default:
		s.logger.Warn("lobby_join_error", zap.String("player", c.id), zap.Error(err))
		msg = s.text("lobby.error.not_found", "Room Code Invalid", nil)
	}
	s.send(c, checkersdto.TypeJoinRoomFailure, checkersdto.JoinRoomFailure{Error: msg})
}

func (s *Server) move(c *conn, in checkersdto.Move) {
	from := checkers.At(in.From[0], in.From[1])
	to := checkers.At(in.To[0], in.To[1])
	if sess, _ := s.matches.Move(c.id, from, to); sess == nil {
		s.sendError(c, "no_match", "not in a match")
	}
}

// disconnect runs once per connection when its read loop ends.
func (s *Server) disconnect(c *conn) {
	c.close(websocket.StatusNormalClosure, "")
	code := s.hub.remove(c.id)
	s.logger.Info("ws_disconnect", zap.String("player", c.id), zap.String("room", code))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if code != "" {
		if _, err := s.lobby.Leave(ctx, code, c.id); err != nil {
			s.logger.Warn("lobby_leave_error", zap.String("code", code), zap.Error(err))
		}
	}
	s.matches.Disconnect(c.id)
}

// MatchUpdated implements match.Observer.
func (s *Server) MatchUpdated(snap match.Snapshot) {
	s.broadcast(snap.Code, checkersdto.TypeUpdateGame, updateFromSnapshot(snap))
}

// MatchEnded implements match.Observer: announce the winner, then tear the
// room down.
func (s *Server) MatchEnded(snap match.Snapshot) {
	out := checkersdto.GameOver{
		Winner:  snap.Winner,
		Reason:  string(snap.Reason),
		Message: s.matches.Announce(snap),
	}
	if snap.WinnerColor != nil {
		out.WinnerColor = snap.WinnerColor.String()
	}
	s.broadcast(snap.Code, checkersdto.TypeGameOver, out)
	s.hub.closeRoom(snap.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.lobby.Remove(ctx, snap.Code); err != nil {
		s.logger.Warn("lobby_remove_error", zap.String("code", snap.Code), zap.Error(err))
	}
	s.logger.Info("match_closed", zap.String("code", snap.Code),
		zap.String("text", s.text("match.closed", "Ended Game: "+snap.Code, map[string]any{"Code": snap.Code})))
}

func updateFromSnapshot(snap match.Snapshot) checkersdto.UpdateGame {
	out := checkersdto.UpdateGame{
		Board:     snap.Board,
		Turn:      checkersdto.TurnRed,
		WhiteTime: snap.WhiteClock.Milliseconds(),
		RedTime:   snap.RedClock.Milliseconds(),
		Ended:     snap.Ended(),
	}
	if snap.Turn == checkers.White {
		out.Turn = checkersdto.TurnWhite
	}
	if snap.Chain != nil {
		out.Chain = &checkersdto.Square{snap.Chain.Col, snap.Chain.Row}
	}
	return out
}

func (s *Server) broadcast(code, typ string, data any) {
	env, err := checkersdto.NewEnvelope(typ, data)
	if err != nil {
		s.logger.Error("ws_encode_error", zap.String("type", typ), zap.Error(err))
		return
	}
	for _, m := range s.hub.members(code) {
		m.enqueue(env)
	}
}

func (s *Server) send(c *conn, typ string, data any) {
	env, err := checkersdto.NewEnvelope(typ, data)
	if err != nil {
		s.logger.Error("ws_encode_error", zap.String("type", typ), zap.Error(err))
		return
	}
	c.enqueue(env)
}

func (s *Server) sendHello(c *conn) {
	s.send(c, checkersdto.TypeHello, checkersdto.Hello{PlayerID: c.id})
}

func (s *Server) sendError(c *conn, code, msg string) {
	s.send(c, checkersdto.TypeError, checkersdto.ClientError{Code: code, Message: msg}.Payload())
}

func (s *Server) text(key, fallback string, data any) string {
	return s.catalog.Text(key, fallback, data)
}
