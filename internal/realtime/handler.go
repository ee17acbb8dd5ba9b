package realtime

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type wsConn struct{ c *websocket.Conn }

func (w wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}

// clientCommand is the small control protocol clients speak upstream:
// room joins and leaves. Everything else flows downstream.
type clientCommand struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

// WSHandler upgrades HTTP requests to realtime sessions. The caller's
// identity is taken from the X-User-ID header, which the fronting
// auth layer is expected to have validated.
type WSHandler struct {
	hub *Hub
	log *zap.Logger
}

func NewWSHandler(hub *Hub, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{hub: hub, log: log.With(zap.String("component", "realtime.ws"))}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Debug("websocket accept failed", zap.Error(err))
		return
	}

	sess := &Session{ID: uuid.NewString(), UserID: userID, Conn: wsConn{c: c}}
	h.hub.Connect(sess)
	defer h.hub.Disconnect(userID, sess.ID)

	for {
		_, data, err := c.Read(r.Context())
		if err != nil {
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.log.Debug("bad client command", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		switch cmd.Action {
		case "join_room":
			if cmd.Room != "" {
				h.hub.JoinRoom(cmd.Room, userID)
			}
		case "leave_room":
			if cmd.Room != "" {
				h.hub.LeaveRoom(cmd.Room, userID)
			}
		default:
			h.log.Debug("unknown client action", zap.String("action", cmd.Action))
		}
	}
}
