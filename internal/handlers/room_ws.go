// internal/handlers/room_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/gameroom/internal/game"
	"github.com/jason-s-yu/gameroom/internal/middleware"
	"github.com/jason-s-yu/gameroom/internal/room"
	"github.com/sirupsen/logrus"
)

const subprotocol = "room"

// ClientMessage is an inbound WebSocket message.
type ClientMessage struct {
	// Type is one of "command", "leave", "report_win" or "ping".
	Type    string `json:"type"`
	Command string `json:"command,omitempty"`
}

// session is one accepted socket bound to a room.
type session struct {
	kind      game.Kind
	code      string
	playerID  string
	token     string
	spectator bool
	conn      *wsConn
}

// RoomWSHandler upgrades GET /rooms/ws/{gameType}/{code}?player=..[&spectate=1&name=..] and
// joins the room as a player or spectator.
func (s *Server) RoomWSHandler(w http.ResponseWriter, r *http.Request) {
	kind, err := game.ParseKind(r.PathValue("gameType"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	sess := &session{
		kind:      kind,
		code:      r.PathValue("code"),
		playerID:  q.Get("player"),
		token:     tokenFromRequest(r),
		spectator: q.Get("spectate") == "1" || q.Get("spectate") == "true",
	}

	c, ok := s.accept(w, r)
	if !ok {
		return
	}
	defer c.CloseNow()
	sess.conn = newWSConn(sess.playerID, s.logger.WithField("room", room.Key(kind, sess.code)))

	if sess.spectator {
		err = s.rooms.JoinAsSpectator(kind, sess.code, sess.playerID, q.Get("name"), sess.conn)
	} else {
		err = s.rooms.Join(r.Context(), kind, sess.code, sess.playerID, sess.token, sess.conn)
	}
	if err != nil {
		s.reject(r.Context(), c, kind, sess.code, err)
		return
	}
	s.serve(r, c, sess)
}

// MatchmakingWSHandler upgrades GET /matchmaking/ws/{gameType}?player=.. and pairs the player
// with someone waiting for the same game type.
func (s *Server) MatchmakingWSHandler(w http.ResponseWriter, r *http.Request) {
	kind, err := game.ParseKind(r.PathValue("gameType"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess := &session{
		kind:     kind,
		playerID: r.URL.Query().Get("player"),
		token:    tokenFromRequest(r),
	}

	c, ok := s.accept(w, r)
	if !ok {
		return
	}
	defer c.CloseNow()
	sess.conn = newWSConn(sess.playerID, s.logger.WithField("matchmaking", kind))

	code, err := s.rooms.JoinMatchmaking(r.Context(), kind, sess.playerID, sess.token, sess.conn)
	if err != nil {
		s.reject(r.Context(), c, kind, "", err)
		return
	}
	sess.code = code
	s.serve(r, c, sess)
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{subprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warnf("websocket accept error: %v", err)
		return nil, false
	}
	if c.Subprotocol() != subprotocol {
		s.logger.Warnf("client %s connected with invalid subprotocol: %q", r.RemoteAddr, c.Subprotocol())
		c.Close(BadSubprotocolError, "client must use the 'room' subprotocol")
		return nil, false
	}
	middleware.LogWebSocketConnect(s.logger, r.RemoteAddr, r.URL.Path)
	return c, true
}

// reject writes join_rejected and closes the socket with the matching close code.
func (s *Server) reject(ctx context.Context, c *websocket.Conn, kind game.Kind, code string, err error) {
	reason, status := "room_not_found", InvalidRoomError
	switch {
	case errors.Is(err, room.ErrAuthFailed):
		reason, status = "auth_failed", InvalidAuthTokenError
	case errors.Is(err, room.ErrMissingPlayerID):
		reason, status = "missing_player_id", InvalidPlayerIDError
	case errors.Is(err, room.ErrRoomNotFound):
	default:
		s.logger.Warnf("join %s/%s failed: %v", kind, code, err)
	}

	ev := game.Event{Type: game.EventJoinRejected, Reason: reason}
	if code != "" {
		ev.RoomKey, ev.Code = room.Key(kind, code), code
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if werr := c.Write(writeCtx, websocket.MessageText, ev.Bytes()); werr != nil {
		s.logger.Debugf("write join_rejected: %v", werr)
	}
	c.Close(status, reason)
}

// serve runs the write pump and the read loop until the client goes away, then reports the
// transport loss to the room unless the client left on purpose.
func (s *Server) serve(r *http.Request, c *websocket.Conn, sess *session) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		writePump(ctx, c, sess.conn)
	}()

	left, err := s.readLoop(ctx, c, sess)
	if !left {
		s.rooms.OnTransportDisconnected(sess.kind, sess.code, sess.playerID, sess.conn)
	}
	sess.conn.close()

	// let a final queued frame (room_closed, a leave ack) reach the client
	select {
	case <-pumpDone:
	case <-time.After(writeTimeout):
	}
	middleware.LogWebSocketDisconnect(s.logger, r.RemoteAddr, r.URL.Path, err)
}

// readLoop routes inbound messages. It reports whether the client left explicitly.
func (s *Server) readLoop(ctx context.Context, c *websocket.Conn, sess *session) (bool, error) {
	log := s.logger.WithFields(logrus.Fields{"room": room.Key(sess.kind, sess.code), "player": sess.playerID})
	for {
		msgType, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return false, nil
			}
			log.Debugf("read ended: %v", err)
			return false, err
		}
		if msgType != websocket.MessageText {
			log.Warnf("received non-text message type %d. Ignoring.", msgType)
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sess.conn.sendError("invalid JSON format")
			continue
		}

		switch msg.Type {
		case "command":
			s.rooms.HandleCommand(ctx, sess.kind, sess.code, sess.playerID, msg.Command, sess.token)

		case "leave":
			if sess.spectator {
				s.rooms.LeaveSpectator(sess.kind, sess.code, sess.playerID)
			} else {
				s.rooms.HandlePlayerLeave(sess.kind, sess.code, sess.playerID)
			}
			sess.conn.enqueue(outbound{
				data:      []byte(`{"type":"left"}`),
				closeCode: websocket.StatusNormalClosure,
				reason:    "left room",
			}, "left")
			return true, nil

		case "report_win":
			if err := s.rooms.ReportWin(ctx, sess.kind, sess.code, sess.playerID); err != nil {
				log.Warnf("report_win failed: %v", err)
				sess.conn.sendError(err.Error())
			}

		case "ping":
			sess.conn.sendJSON(map[string]interface{}{"type": "pong"})

		default:
			log.Debugf("unknown message type '%s'", msg.Type)
			sess.conn.sendError("unknown message type: " + msg.Type)
		}
	}
}
