package wsserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/park285/checkers-match/internal/lobby"
	"github.com/park285/checkers-match/internal/match"
	"github.com/park285/checkers-match/internal/msgcat"
	"github.com/park285/checkers-match/internal/obslog"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type Config struct {
	// AllowedOrigins are host patterns accepted on the websocket handshake.
	AllowedOrigins []string
}

type Option func(*Server)

func WithCatalog(c *msgcat.Catalog) Option {
	return func(s *Server) { s.catalog = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIDGenerator replaces the uuid player ids, mainly for tests.
func WithIDGenerator(gen func() string) Option {
	return func(s *Server) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// Server accepts player websockets, pairs them through the lobby and relays
// session events to the players of each room.
type Server struct {
	cfg     Config
	lobby   *lobby.Manager
	matches *match.Manager
	catalog *msgcat.Catalog
	hub     *hub
	router  *chi.Mux
	logger  *zap.Logger
	newID   func() string
}

// New wires the server as the observer of matches.
func New(cfg Config, lb *lobby.Manager, matches *match.Manager, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		lobby:   lb,
		matches: matches,
		hub:     newHub(),
		router:  chi.NewRouter(),
		logger:  obslog.L(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	matches.AttachObserver(s)
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(chimw.Recoverer)

	s.router.Get("/ws", s.handleWS)

	s.router.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(10 * time.Second))
		r.Get("/health", s.handleHealth)
		r.Get("/rooms/{code}", s.handleRoom)
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "path": r.URL.Path})
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		s.logger.Warn("ws_accept_error", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	ctx := r.Context()
	c := newConn(s.newID(), ws)
	s.hub.add(c)
	s.logger.Info("ws_connect", zap.String("player", c.id), zap.String("remote", r.RemoteAddr))

	go c.writeLoop(ctx)
	defer s.disconnect(c)

	s.sendHello(c)
	for {
		var env envelope
		if err := wsjson.Read(ctx, ws, &env); err != nil {
			return
		}
		s.dispatch(ctx, c, env)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"connections": s.hub.len(),
		"matches":     s.matches.Len(),
	})
}

type roomView struct {
	Room  *lobby.Room     `json:"room,omitempty"`
	Match *match.Snapshot `json:"match,omitempty"`
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	room, err := s.lobby.Load(r.Context(), code)
	if err != nil {
		s.logger.Warn("room_lookup_error", zap.String("code", code), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup_failed"})
		return
	}
	var view roomView
	view.Room = room
	if room != nil {
		code = room.Code
	}
	snap, err := s.matches.Lookup(r.Context(), code)
	switch {
	case err == nil:
		view.Match = snap
	case !errors.Is(err, match.ErrMatchMissing):
		s.logger.Warn("room_lookup_error", zap.String("code", code), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup_failed"})
		return
	}
	if view.Room == nil && view.Match == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
