package wsserver

import (
	"context"
	"sync"
	"time"

	"github.com/park285/checkers-match/pkg/checkersdto"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const sendBuffer = 32

// conn is one player's websocket. Writes go through a single writer
// goroutine; a client that falls sendBuffer frames behind is dropped.
type conn struct {
	id   string
	ws   *websocket.Conn
	send chan checkersdto.Envelope

	done      chan struct{}
	closeOnce sync.Once

	// room is guarded by hub.mu.
	room string
}

func newConn(id string, ws *websocket.Conn) *conn {
	return &conn{
		id:   id,
		ws:   ws,
		send: make(chan checkersdto.Envelope, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *conn) enqueue(env checkersdto.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	case <-c.done:
		return false
	default:
		c.close(websocket.StatusPolicyViolation, "slow consumer")
		return false
	}
}

func (c *conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case env := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, c.ws, env)
			cancel()
			if err != nil {
				c.close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (c *conn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close(code, reason)
	})
}

// hub indexes the connections of this process by player and by room code.
type hub struct {
	mu    sync.RWMutex
	conns map[string]*conn
	rooms map[string]map[string]struct{}
}

func newHub() *hub {
	return &hub{
		conns: make(map[string]*conn),
		rooms: make(map[string]map[string]struct{}),
	}
}

func (h *hub) add(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

// remove forgets the connection and returns the room it was in.
func (h *hub) remove(id string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return ""
	}
	delete(h.conns, id)
	room := c.room
	if members, ok := h.rooms[room]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	return room
}

func (h *hub) get(id string) *conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[id]
}

func (h *hub) roomOf(id string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.conns[id]; ok {
		return c.room
	}
	return ""
}

func (h *hub) join(code, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return
	}
	c.room = code
	members, ok := h.rooms[code]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[code] = members
	}
	members[id] = struct{}{}
}

func (h *hub) members(code string) []*conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*conn, 0, len(h.rooms[code]))
	for id := range h.rooms[code] {
		if c, ok := h.conns[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// closeRoom makes every member leave the room; the connections stay open.
func (h *hub) closeRoom(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.rooms[code] {
		if c, ok := h.conns[id]; ok && c.room == code {
			c.room = ""
		}
	}
	delete(h.rooms, code)
}

func (h *hub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
