// internal/handlers/server.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jason-s-yu/gameroom/internal/game"
	"github.com/jason-s-yu/gameroom/internal/middleware"
	"github.com/jason-s-yu/gameroom/internal/room"
	"github.com/sirupsen/logrus"
)

// Server exposes the room service over HTTP and WebSocket.
type Server struct {
	rooms  *room.Service
	logger *logrus.Logger
}

func NewServer(rooms *room.Service, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{rooms: rooms, logger: logger}
}

// Register adds every room route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	logged := middleware.LogMiddleware(s.logger)

	mux.Handle("POST /rooms/create", logged(http.HandlerFunc(s.CreateRoomHandler)))
	mux.Handle("GET /rooms/exists", logged(http.HandlerFunc(s.RoomExistsHandler)))
	mux.Handle("GET /rooms/stats", logged(http.HandlerFunc(s.StatsHandler)))
	mux.Handle("GET /rooms/ws/{gameType}/{code}", logged(http.HandlerFunc(s.RoomWSHandler)))
	mux.Handle("GET /matchmaking/ws/{gameType}", logged(http.HandlerFunc(s.MatchmakingWSHandler)))
}

// Handler returns a fresh mux with every room route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

type createRoomRequest struct {
	GameType    string `json:"gameType"`
	Matchmaking bool   `json:"matchmaking"`
}

// CreateRoomHandler handles POST /rooms/create.
func (s *Server) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	kind, err := game.ParseKind(req.GameType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	code, err := s.rooms.CreateRoom(kind, req.Matchmaking)
	if errors.Is(err, room.ErrCodeSpaceExhausted) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		s.logger.Errorf("create %s room: %v", kind, err)
		http.Error(w, "failed to create room", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"code":     code,
		"roomKey":  room.Key(kind, code),
		"gameType": kind,
	})
}

// RoomExistsHandler handles GET /rooms/exists?gameType=..&code=..
func (s *Server) RoomExistsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind, err := game.ParseKind(q.Get("gameType"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	exists, matchmaking := s.rooms.RoomExistsWithMatchmaking(kind, q.Get("code"))
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists, "isMatchmaking": matchmaking})
}

// StatsHandler handles GET /rooms/stats.
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rooms.Stats())
}
