package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Conn is one open realtime connection. The websocket adapter lives in
// handler.go; tests plug in fakes.
type Conn interface {
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Session is one open tab/device for a user. A user may hold many.
type Session struct {
	ID     string
	UserID string
	Conn   Conn
}

// Hub is the in-process connection registry and broadcaster. It holds no
// persistence and makes no delivery guarantee: a message sent while a
// user has zero open sessions is lost. The registry is process-local; a
// multi-process deployment needs an external fan-out layer in front.
type Hub struct {
	log          *zap.Logger
	pool         *TaskPool
	writeTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]map[string]*Session // userID -> sessionID -> session
	rooms    map[string]map[string]struct{} // room -> userID set
}

func NewHub(log *zap.Logger, pool *TaskPool, writeTimeout time.Duration) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Hub{
		log:          log.With(zap.String("component", "realtime.hub")),
		pool:         pool,
		writeTimeout: writeTimeout,
		sessions:     make(map[string]map[string]*Session),
		rooms:        make(map[string]map[string]struct{}),
	}
}

type presencePayload struct {
	UserID string `json:"user_id"`
}

type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func presenceFrame(event, userID string) []byte {
	b, _ := json.Marshal(frame{Event: event, Data: presencePayload{UserID: userID}})
	return b
}

// Connect registers the session. The user's first session announces
// user.online to everyone else.
func (h *Hub) Connect(s *Session) {
	h.mu.Lock()
	byUser, ok := h.sessions[s.UserID]
	if !ok {
		byUser = make(map[string]*Session)
		h.sessions[s.UserID] = byUser
	}
	first := len(byUser) == 0
	byUser[s.ID] = s
	h.mu.Unlock()

	h.log.Debug("session connected", zap.String("user_id", s.UserID), zap.String("session_id", s.ID))

	if first {
		h.submitBroadcast(presenceFrame("user.online", s.UserID), s.UserID)
	}
}

// Disconnect removes the session. The user's last session announces
// user.offline; intermediate disconnects announce nothing. Room
// membership survives disconnects until explicitly left.
func (h *Hub) Disconnect(userID, sessionID string) {
	h.mu.Lock()
	byUser, ok := h.sessions[userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	s, ok := byUser[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(byUser, sessionID)
	last := len(byUser) == 0
	if last {
		delete(h.sessions, userID)
	}
	h.mu.Unlock()

	_ = s.Conn.Close()
	h.log.Debug("session disconnected", zap.String("user_id", userID), zap.String("session_id", sessionID))

	if last {
		h.submitBroadcast(presenceFrame("user.offline", userID), userID)
	}
}

// SendToUser writes to every open session for the user. A failed write
// removes only that session and never surfaces to the caller.
func (h *Hub) SendToUser(userID string, data []byte) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions[userID]))
	for _, s := range h.sessions[userID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	h.write(targets, data)
}

// Broadcast writes to every open session of every user except
// excludeUser (empty means no exclusion).
func (h *Hub) Broadcast(data []byte, excludeUser string) {
	h.mu.RLock()
	var targets []*Session
	for userID, byUser := range h.sessions {
		if userID == excludeUser {
			continue
		}
		for _, s := range byUser {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	h.write(targets, data)
}

// SendToRoom writes to every open session of every room member.
func (h *Hub) SendToRoom(room string, data []byte) {
	h.mu.RLock()
	var targets []*Session
	for userID := range h.rooms[room] {
		for _, s := range h.sessions[userID] {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	h.write(targets, data)
}

func (h *Hub) JoinRoom(room, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[userID] = struct{}{}
}

// LeaveRoom removes the user; an emptied room is discarded entirely.
func (h *Hub) LeaveRoom(room, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// OnlineUsers reports users with at least one open session.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.sessions))
	for userID := range h.sessions {
		out = append(out, userID)
	}
	return out
}

// RoomMembers reports current membership; nil for an unknown room.
func (h *Hub) RoomMembers(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members, ok := h.rooms[room]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(members))
	for userID := range members {
		out = append(out, userID)
	}
	return out
}

// Close tears the registry down: pending pool tasks drain, then every
// remaining connection is closed.
func (h *Hub) Close() {
	if h.pool != nil {
		h.pool.Close()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, byUser := range h.sessions {
		for _, s := range byUser {
			_ = s.Conn.Close()
		}
	}
	h.sessions = make(map[string]map[string]*Session)
	h.rooms = make(map[string]map[string]struct{})
}

func (h *Hub) write(targets []*Session, data []byte) {
	for _, s := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
		err := s.Conn.Write(ctx, data)
		cancel()
		if err != nil {
			h.log.Debug("write failed, pruning session",
				zap.String("user_id", s.UserID), zap.String("session_id", s.ID), zap.Error(err))
			h.Disconnect(s.UserID, s.ID)
		}
	}
}

func (h *Hub) submitBroadcast(data []byte, excludeUser string) {
	if h.pool == nil {
		h.Broadcast(data, excludeUser)
		return
	}
	if !h.pool.Submit(func() { h.Broadcast(data, excludeUser) }) {
		h.log.Debug("presence broadcast dropped (pool closed or full)")
	}
}
