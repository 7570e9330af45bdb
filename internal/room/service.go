// internal/room/service.go
package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gameroom/internal/game"
	"github.com/jason-s-yu/gameroom/internal/metrics"
	"github.com/sirupsen/logrus"
)

var (
	// ErrRoomNotFound is returned by joins that name a room that does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrAuthFailed is returned by joins whose identity token does not verify.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrUnknownGameType is returned for game types outside the fixed set.
	ErrUnknownGameType = game.ErrUnknownGameType
	// ErrCodeSpaceExhausted is returned when CreateRoom cannot find a free code.
	ErrCodeSpaceExhausted = errors.New("could not allocate a free room code")
	// ErrMissingPlayerID is returned by joins without a player id.
	ErrMissingPlayerID = errors.New("player id is required")
	// ErrReportInFlight is returned by ReportWin while another report for the room is running.
	ErrReportInFlight = errors.New("result report already in progress")
)

const (
	DefaultGracePeriod  = 30 * time.Second
	DefaultEmptyRoomTTL = 5 * time.Minute
	// DefaultReportTimeout bounds one result report, storage round-trips included.
	DefaultReportTimeout = 10 * time.Second
)

// Close and departure reasons carried on room_closed, room_closing and player_left events.
const (
	ReasonPlayerLeft       = "player_left"
	ReasonPlayerDisconnect = "player_disconnected"
	ReasonTimeout          = "timeout"
	ReasonIdle             = "idle"
	ReasonJoinedElsewhere  = "joined_elsewhere"
	ReasonServerShutdown   = "server_shutdown"
)

// Identity is what an identity token resolves to. The zero value is an anonymous player.
type Identity struct {
	UserID   uuid.UUID
	Username string
}

// IdentityResolver verifies identity tokens presented on join and command calls.
// ResolveIdentity may consult account storage for the display name; VerifyIdentity checks the
// token alone and is used on the per-command path.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, token string) (Identity, error)
	VerifyIdentity(token string) (Identity, error)
}

// Options configures a Service. Zero values pick defaults; nil collaborators are skipped.
type Options struct {
	Logger        *logrus.Logger
	GracePeriod   time.Duration
	EmptyRoomTTL  time.Duration
	Identity      IdentityResolver
	Reporter      game.ResultReporter
	// ReportTimeout bounds each call into Reporter.
	ReportTimeout time.Duration
	Metrics       *metrics.Metrics
	// NewCode overrides the room code generator.
	NewCode       func() (string, error)
}

type joinPath int

const (
	pathCode joinPath = iota
	pathMatchmaking
)

// Service owns the room registry and every mutation of it.
type Service struct {
	log      *logrus.Entry
	identity IdentityResolver
	reporter game.ResultReporter
	metrics  *metrics.Metrics
	grace    time.Duration
	emptyTTL time.Duration
	reportTO time.Duration
	newCode  func() (string, error)

	rooms *store[*Room]
	// codePlayers and matchPlayers map a player id to the room key it joined on that path.
	codePlayers  *store[string]
	matchPlayers *store[string]
	// activeMatchmaking maps a player id to its pending or running matchmaking room key.
	activeMatchmaking *store[string]

	// matchMu serializes pairing so two seekers land in the same room.
	matchMu sync.Mutex
}

// NewService builds an empty registry.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Service{
		log:               logger.WithField("component", "room"),
		identity:          opts.Identity,
		reporter:          opts.Reporter,
		metrics:           opts.Metrics,
		grace:             opts.GracePeriod,
		emptyTTL:          opts.EmptyRoomTTL,
		reportTO:          opts.ReportTimeout,
		newCode:           opts.NewCode,
		rooms:             newStore[*Room](),
		codePlayers:       newStore[string](),
		matchPlayers:      newStore[string](),
		activeMatchmaking: newStore[string](),
	}
	if s.grace <= 0 {
		s.grace = DefaultGracePeriod
	}
	if s.emptyTTL <= 0 {
		s.emptyTTL = DefaultEmptyRoomTTL
	}
	if s.reportTO <= 0 {
		s.reportTO = DefaultReportTimeout
	}
	if s.newCode == nil {
		s.newCode = GenerateCode
	}
	return s
}

func (s *Service) index(path joinPath) *store[string] {
	if path == pathMatchmaking {
		return s.matchPlayers
	}
	return s.codePlayers
}

func knownKind(kind game.Kind) bool {
	for _, k := range game.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (s *Service) resolve(ctx context.Context, token string) (Identity, error) {
	if token == "" || s.identity == nil {
		return Identity{}, nil
	}
	ident, err := s.identity.ResolveIdentity(ctx, token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return ident, nil
}

// CreateRoom registers a fresh room for kind and returns its code. Codes are unique across all
// game types at the time of creation.
func (s *Service) CreateRoom(kind game.Kind, isMatchmaking bool) (string, error) {
	if !knownKind(kind) {
		return "", fmt.Errorf("%w: %q", ErrUnknownGameType, kind)
	}
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		code = strings.ToUpper(code)
		if s.codeInUse(code) {
			continue
		}
		// the service reports results itself so the room lock is not held across storage calls
		g, err := game.New(kind, nil)
		if err != nil {
			return "", err
		}
		r := newRoom(kind, code, isMatchmaking, g, time.Now())
		if !s.rooms.PutIfAbsent(r.Key, r) {
			continue
		}
		s.metrics.RoomCreated(string(kind), isMatchmaking)
		s.log.WithFields(logrus.Fields{"room": r.Key, "matchmaking": isMatchmaking}).Info("room created")
		return code, nil
	}
	return "", ErrCodeSpaceExhausted
}

func (s *Service) codeInUse(code string) bool {
	for _, k := range game.Kinds {
		if s.rooms.Has(Key(k, code)) {
			return true
		}
	}
	return false
}

// Room returns the live room for kind and code.
func (s *Service) Room(kind game.Kind, code string) (*Room, bool) {
	return s.rooms.Get(Key(kind, code))
}

func (s *Service) RoomExists(kind game.Kind, code string) bool {
	return s.rooms.Has(Key(kind, code))
}

// RoomExistsWithMatchmaking reports whether the room exists and, if so, whether it was created
// by matchmaking.
func (s *Service) RoomExistsWithMatchmaking(kind game.Kind, code string) (bool, bool) {
	r, ok := s.rooms.Get(Key(kind, code))
	if !ok {
		return false, false
	}
	return true, r.IsMatchmaking
}

// Join seats playerID in the room named by kind and code, or reattaches conn if the player (or
// the account behind token) already holds a seat there. A player joining a new room by code is
// first removed from any other room it joined by code.
func (s *Service) Join(ctx context.Context, kind game.Kind, code, playerID, token string, conn Connection) error {
	if conn == nil {
		panic("room: Join called with a nil connection")
	}
	if playerID == "" {
		return ErrMissingPlayerID
	}
	ident, err := s.resolve(ctx, token)
	if err != nil {
		return err
	}
	r, ok := s.rooms.Get(Key(kind, code))
	if !ok {
		return ErrRoomNotFound
	}
	s.evictElsewhere(pathCode, playerID, r.Key)

	p := &Participant{PlayerID: playerID, Username: ident.Username, UserID: ident.UserID, Conn: conn}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomNotFound
	}
	s.joinUnsafe(r, pathCode, p)
	return nil
}

// evictElsewhere removes playerID from the room it holds on path unless that room is keep.
func (s *Service) evictElsewhere(path joinPath, playerID, keep string) {
	prev, ok := s.index(path).Get(playerID)
	if !ok || prev == keep {
		return
	}
	s.leave(prev, playerID, ReasonJoinedElsewhere)
	s.index(path).CompareAndDelete(playerID, prev)
}

func (s *Service) joinUnsafe(r *Room, path joinPath, p *Participant) {
	if existing := r.findPlayerUnsafe(p.PlayerID, p.UserID); existing != nil {
		s.reconnectUnsafe(r, existing, p)
		s.index(path).Set(p.PlayerID, r.Key)
		return
	}
	if r.started || len(r.players) >= 2 {
		s.log.WithFields(logrus.Fields{"room": r.Key, "player": p.PlayerID}).Debug("room full, sending snapshot only")
		p.send(r.snapshotUnsafe())
		return
	}
	s.seatUnsafe(r, path, p)
}

func (s *Service) seatUnsafe(r *Room, path joinPath, p *Participant) {
	p.IsPlayer = true
	r.players = append(r.players, p)
	s.index(path).Set(p.PlayerID, r.Key)
	s.metrics.PlayerSeated()
	s.log.WithFields(logrus.Fields{"room": r.Key, "player": p.PlayerID, "seat": len(r.players) - 1}).Info("player joined")

	if len(r.players) == 2 && !r.started {
		s.startGameUnsafe(r)
		return
	}
	p.send(r.snapshotUnsafe())
}

func (s *Service) reconnectUnsafe(r *Room, existing, incoming *Participant) {
	existing.Conn = incoming.Conn
	if !existing.answersTo(incoming.PlayerID) {
		existing.aliases = append(existing.aliases, incoming.PlayerID)
	}
	_, wasDisconnected := r.disconnected[existing.PlayerID]
	delete(r.disconnected, existing.PlayerID)
	if r.closeAt != nil && !r.shouldCloseUnsafe() {
		r.cancelTimerUnsafe()
	}
	s.log.WithFields(logrus.Fields{"room": r.Key, "player": existing.PlayerID, "via": incoming.PlayerID}).Info("player reconnected")

	if wasDisconnected {
		r.broadcastUnsafe(game.Event{
			Type:     game.EventPlayerReconnected,
			PlayerID: existing.PlayerID,
			Username: existing.Username,
		}, existing.PlayerID)
	}
	if r.started {
		existing.send(r.seatEventUnsafe(existing))
	}
	existing.send(r.snapshotUnsafe())
}

func (s *Service) startGameUnsafe(r *Room) {
	r.started = true
	r.game.SetRoomKey(r.Key)
	r.game.AssignPlayerColors(r.players[0].Seat(), r.players[1].Seat())

	seats := make([]map[string]interface{}, 0, 2)
	for _, p := range r.players {
		p.send(r.seatEventUnsafe(p))
		seats = append(seats, map[string]interface{}{
			"playerId": p.PlayerID,
			"username": p.Username,
			"color":    r.game.PlayerColor(p.Seat()),
		})
	}
	r.broadcastUnsafe(game.Event{
		Type:    game.EventGameStarted,
		State:   r.game.State(),
		Payload: map[string]interface{}{"players": seats},
	}, "")
	s.log.WithField("room", r.Key).Info("game started")
}

// JoinMatchmaking pairs playerID with a waiting player of the same game type, creating a
// matchmaking room when nobody is waiting, and returns the room code. A player with a live
// matchmaking seat is reattached to it instead.
func (s *Service) JoinMatchmaking(ctx context.Context, kind game.Kind, playerID, token string, conn Connection) (string, error) {
	if conn == nil {
		panic("room: JoinMatchmaking called with a nil connection")
	}
	if playerID == "" {
		return "", ErrMissingPlayerID
	}
	if !knownKind(kind) {
		return "", fmt.Errorf("%w: %q", ErrUnknownGameType, kind)
	}
	ident, err := s.resolve(ctx, token)
	if err != nil {
		return "", err
	}
	p := &Participant{PlayerID: playerID, Username: ident.Username, UserID: ident.UserID, Conn: conn}

	if code, ok := s.resumeMatchmaking(kind, p); ok {
		return code, nil
	}
	s.ForceRemovePlayerFromAllRooms(playerID)

	s.matchMu.Lock()
	defer s.matchMu.Unlock()
	for _, r := range s.waitingRooms(kind) {
		if s.trySeatMatchmaking(r, p, false) {
			return r.Code, nil
		}
	}
	code, err := s.CreateRoom(kind, true)
	if err != nil {
		return "", err
	}
	r, ok := s.rooms.Get(Key(kind, code))
	if !ok || !s.trySeatMatchmaking(r, p, true) {
		return "", ErrRoomNotFound
	}
	return code, nil
}

func (s *Service) resumeMatchmaking(kind game.Kind, p *Participant) (string, bool) {
	key, ok := s.activeMatchmaking.Get(p.PlayerID)
	if !ok {
		return "", false
	}
	r, ok := s.rooms.Get(key)
	if !ok || r.GameType != kind {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing := r.findPlayerUnsafe(p.PlayerID, p.UserID)
	if r.closed || existing == nil {
		return "", false
	}
	p.send(game.Event{Type: game.EventMatchmakingJoined, RoomKey: r.Key, Code: r.Code})
	s.reconnectUnsafe(r, existing, p)
	return r.Code, true
}

// waitingRooms lists matchmaking rooms of kind, oldest first.
func (s *Service) waitingRooms(kind game.Kind) []*Room {
	var out []*Room
	for _, r := range s.rooms.Values() {
		if r.IsMatchmaking && r.GameType == kind {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// trySeatMatchmaking seats p in r if r is still open for pairing. A waiting room qualifies only
// with exactly one connected player; a fresh room qualifies while empty.
func (s *Service) trySeatMatchmaking(r *Room, p *Participant, fresh bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.started || len(r.players) >= 2 {
		return false
	}
	if !fresh && (len(r.players) != 1 || len(r.disconnected) > 0) {
		return false
	}
	p.send(game.Event{Type: game.EventMatchmakingJoined, RoomKey: r.Key, Code: r.Code})
	s.activeMatchmaking.Set(p.PlayerID, r.Key)
	s.seatUnsafe(r, pathMatchmaking, p)
	return true
}

// JoinAsSpectator attaches a watcher to the room. Joining again with the same id only swaps
// the connection.
func (s *Service) JoinAsSpectator(kind game.Kind, code, spectatorID, displayName string, conn Connection) error {
	if conn == nil {
		panic("room: JoinAsSpectator called with a nil connection")
	}
	if spectatorID == "" {
		return ErrMissingPlayerID
	}
	r, ok := s.rooms.Get(Key(kind, code))
	if !ok {
		return ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomNotFound
	}
	if i := r.findSpectatorUnsafe(spectatorID); i >= 0 {
		r.spectators[i].Conn = conn
		r.spectators[i].send(r.snapshotUnsafe())
		return nil
	}
	sp := &Participant{PlayerID: spectatorID, Username: displayName, Conn: conn}
	r.spectators = append(r.spectators, sp)
	r.broadcastUnsafe(game.Event{Type: game.EventSpectatorJoined, PlayerID: spectatorID, Username: displayName}, spectatorID)
	sp.send(r.snapshotUnsafe())
	s.log.WithFields(logrus.Fields{"room": r.Key, "spectator": spectatorID}).Debug("spectator joined")
	return nil
}

// LeaveSpectator detaches a watcher. Unknown rooms and ids are ignored.
func (s *Service) LeaveSpectator(kind game.Kind, code, spectatorID string) {
	r, ok := s.rooms.Get(Key(kind, code))
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s.removeSpectatorUnsafe(r, spectatorID)
}

func (s *Service) removeSpectatorUnsafe(r *Room, id string) bool {
	i := r.findSpectatorUnsafe(id)
	if i < 0 {
		return false
	}
	sp := r.spectators[i]
	r.spectators = append(r.spectators[:i], r.spectators[i+1:]...)
	r.broadcastUnsafe(game.Event{Type: game.EventSpectatorLeft, PlayerID: sp.PlayerID, Username: sp.Username}, "")
	return true
}

// HandleCommand hands command to the room's game on behalf of the acting player, resolved by
// player id and then by the account behind token. Unresolved actors are dropped silently.
func (s *Service) HandleCommand(ctx context.Context, kind game.Kind, code, playerID, command, token string) {
	r, ok := s.rooms.Get(Key(kind, code))
	if !ok {
		return
	}
	var userID uuid.UUID
	if token != "" && s.identity != nil {
		if ident, err := s.identity.VerifyIdentity(token); err == nil {
			userID = ident.UserID
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	p := r.findPlayerUnsafe(playerID, userID)
	if p == nil {
		s.log.WithFields(logrus.Fields{"room": r.Key, "player": playerID}).Debug("dropping command from non-participant")
		return
	}
	start := time.Now()
	r.game.HandleCommand(p.PlayerID, command, r, p.Seat())
	s.metrics.ObserveCommand(string(r.GameType), time.Since(start))
}

// OnTransportDisconnected routes a dropped connection to the spectator or player path. conn,
// when non-nil, must be the connection the participant currently holds; a close from a socket
// that was already replaced by a reconnect is ignored.
func (s *Service) OnTransportDisconnected(kind game.Kind, code, playerID string, conn Connection) {
	r, ok := s.rooms.Get(Key(kind, code))
	if !ok {
		return
	}
	r.mu.Lock()
	if i := r.findSpectatorUnsafe(playerID); i >= 0 && r.findPlayerUnsafe(playerID, uuid.Nil) == nil {
		if conn == nil || r.spectators[i].Conn == conn {
			s.removeSpectatorUnsafe(r, playerID)
		}
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	s.HandlePlayerDisconnect(kind, code, playerID, conn)
}

// HandlePlayerDisconnect marks the player disconnected and (re)starts the room's close timer.
// The seat is kept so the player can reconnect within the grace period.
func (s *Service) HandlePlayerDisconnect(kind game.Kind, code, playerID string, conn Connection) {
	r, ok := s.rooms.Get(Key(kind, code))
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	p := r.findPlayerUnsafe(playerID, uuid.Nil)
	if p == nil || (conn != nil && p.Conn != conn) {
		return
	}
	if _, already := r.disconnected[p.PlayerID]; already {
		return
	}
	r.disconnected[p.PlayerID] = p

	deadline := s.startTimerUnsafe(r, ReasonPlayerDisconnect)
	r.broadcastUnsafe(game.Event{
		Type:     game.EventPlayerDisconnected,
		PlayerID: p.PlayerID,
		Username: p.Username,
		Deadline: &deadline,
	}, "")
	s.log.WithFields(logrus.Fields{"room": r.Key, "player": p.PlayerID, "deadline": deadline}).Info("player disconnected")
}

// HandlePlayerLeave removes the player for good. An emptied room or a matchmaking room closes
// at once; otherwise the remaining player gets the grace period before the room closes.
func (s *Service) HandlePlayerLeave(kind game.Kind, code, playerID string) {
	s.leave(Key(kind, code), playerID, ReasonPlayerLeft)
}

func (s *Service) leave(key, playerID, reason string) {
	r, ok := s.rooms.Get(key)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	p := r.findPlayerUnsafe(playerID, uuid.Nil)
	if p == nil {
		s.removeSpectatorUnsafe(r, playerID)
		return
	}
	r.removePlayerUnsafe(p)
	s.unindex(p, r.Key)
	s.metrics.PlayerUnseated()
	s.log.WithFields(logrus.Fields{"room": r.Key, "player": p.PlayerID, "reason": reason}).Info("player left")

	if len(r.players) == 0 || r.IsMatchmaking {
		s.closeUnsafe(r, reason, p.PlayerID)
		return
	}
	r.broadcastUnsafe(game.Event{
		Type:     game.EventPlayerLeft,
		PlayerID: p.PlayerID,
		Username: p.Username,
		Reason:   reason,
	}, "")
	if r.shouldCloseUnsafe() {
		s.startTimerUnsafe(r, reason)
	}
}

// unindex drops p's shortcut entries that still point at key.
func (s *Service) unindex(p *Participant, key string) {
	for _, id := range p.ids() {
		s.codePlayers.CompareAndDelete(id, key)
		s.matchPlayers.CompareAndDelete(id, key)
		s.activeMatchmaking.CompareAndDelete(id, key)
	}
}

// ForceRemovePlayerFromAllRooms takes playerID out of every room reachable from the shortcut
// maps and clears its entries whether or not a room still references it.
func (s *Service) ForceRemovePlayerFromAllRooms(playerID string) {
	for _, idx := range []*store[string]{s.codePlayers, s.matchPlayers, s.activeMatchmaking} {
		if key, ok := idx.LoadAndDelete(playerID); ok {
			s.leave(key, playerID, ReasonJoinedElsewhere)
		}
	}
}

// StartRoomTimer (re)starts the close timer of the room under key and returns the deadline.
func (s *Service) StartRoomTimer(key, reason string) (time.Time, bool) {
	r, ok := s.rooms.Get(key)
	if !ok {
		return time.Time{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return time.Time{}, false
	}
	return s.startTimerUnsafe(r, reason), true
}

// startTimerUnsafe cancels any pending close timer before installing a new one, so a room never
// has two live timers. A timer that fires after being replaced does nothing.
func (s *Service) startTimerUnsafe(r *Room, reason string) time.Time {
	r.cancelTimerUnsafe()
	deadline := time.Now().Add(s.grace)

	var timer *time.Timer
	timer = time.AfterFunc(s.grace, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed || r.closeTimer != timer {
			s.log.WithField("room", r.Key).Debug("stale close timer fired, ignoring")
			return
		}
		r.closeTimer = nil
		if !r.shouldCloseUnsafe() {
			r.closeAt = nil
			return
		}
		s.closeUnsafe(r, ReasonTimeout, "")
	})
	r.closeTimer = timer
	r.closeAt = &deadline

	r.broadcastUnsafe(game.Event{Type: game.EventRoomClosing, Reason: reason, Deadline: &deadline}, "")
	return deadline
}

// CloseRoomAndKickAllPlayers closes the room under key, notifying everyone but excludePlayerID,
// and scrubs the shortcut maps. It reports whether a room was closed.
func (s *Service) CloseRoomAndKickAllPlayers(key, reason, excludePlayerID string) bool {
	r, ok := s.rooms.Get(key)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	s.closeUnsafe(r, reason, excludePlayerID)
	return true
}

func (s *Service) closeUnsafe(r *Room, reason, exclude string) {
	s.rooms.CompareAndDelete(r.Key, r)
	r.closed = true
	r.cancelTimerUnsafe()

	r.broadcastUnsafe(game.Event{Type: game.EventRoomClosed, Reason: reason}, exclude)
	for _, p := range r.players {
		s.unindex(p, r.Key)
	}
	s.metrics.RoomClosed(string(r.GameType), reason, len(r.players))
	s.log.WithFields(logrus.Fields{"room": r.Key, "reason": reason}).Info("room closed")
}

// CheckAndCloseRoomIfNeeded closes the room under key when its close deadline has passed and the
// reason for it still holds, or when it has sat empty past the idle limit. A deadline whose
// reason no longer holds is cleared.
func (s *Service) CheckAndCloseRoomIfNeeded(key string, now time.Time) bool {
	r, ok := s.rooms.Get(key)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if r.closeAt != nil && !now.Before(*r.closeAt) {
		if r.shouldCloseUnsafe() {
			s.closeUnsafe(r, ReasonTimeout, "")
			return true
		}
		r.cancelTimerUnsafe()
	}
	if len(r.players) == 0 && len(r.spectators) == 0 && now.Sub(r.CreatedAt) >= s.emptyTTL {
		s.closeUnsafe(r, ReasonIdle, "")
		return true
	}
	return false
}

// CleanupExpiredRooms sweeps every room with CheckAndCloseRoomIfNeeded and returns how many it
// closed.
func (s *Service) CleanupExpiredRooms(now time.Time) int {
	closed := 0
	for _, r := range s.rooms.Values() {
		if s.CheckAndCloseRoomIfNeeded(r.Key, now) {
			closed++
		}
	}
	return closed
}

// ReportWin reports the result of the player's finished game. Missing rooms and players are
// ignored; reporting failures are returned and may be retried. The reporter runs outside the
// room lock, bounded by the report timeout, and at most one report per room is in flight.
func (s *Service) ReportWin(ctx context.Context, kind game.Kind, code, playerID string) error {
	r, ok := s.rooms.Get(Key(kind, code))
	if !ok {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	p := r.findPlayerUnsafe(playerID, uuid.Nil)
	if p == nil {
		r.mu.Unlock()
		return nil
	}
	seatID := p.PlayerID
	res, due, err := r.game.PendingResult(seatID)
	if err != nil || !due {
		r.mu.Unlock()
		return err
	}
	if r.reporting {
		r.mu.Unlock()
		return ErrReportInFlight
	}
	r.reporting = true
	r.mu.Unlock()

	err = s.reportResult(ctx, res)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.reporting = false
	if err != nil {
		return fmt.Errorf("report %s result for room %s: %w", kind, r.Key, err)
	}
	if !r.closed && r.game.ConfirmResult(res.MatchID, seatID, r) {
		s.log.WithFields(logrus.Fields{"room": r.Key, "match": res.MatchID}).Info("match result reported")
	}
	return nil
}

func (s *Service) reportResult(ctx context.Context, res game.MatchResult) error {
	if s.reporter == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.reportTO)
	defer cancel()
	return s.reporter.ReportResult(ctx, res)
}

// Stats summarizes the registry.
type Stats struct {
	Rooms       int               `json:"rooms"`
	Matchmaking int               `json:"matchmaking"`
	Started     int               `json:"started"`
	Players     int               `json:"players"`
	Spectators  int               `json:"spectators"`
	ByGameType  map[game.Kind]int `json:"byGameType"`
}

func (s *Service) Stats() Stats {
	st := Stats{ByGameType: make(map[game.Kind]int, len(game.Kinds))}
	for _, k := range game.Kinds {
		st.ByGameType[k] = 0
	}
	for _, r := range s.rooms.Values() {
		r.mu.Lock()
		if !r.closed {
			st.Rooms++
			st.ByGameType[r.GameType]++
			st.Players += len(r.players)
			st.Spectators += len(r.spectators)
			if r.IsMatchmaking {
				st.Matchmaking++
			}
			if r.started {
				st.Started++
			}
		}
		r.mu.Unlock()
	}
	return st
}

// Shutdown closes every room with reason server_shutdown.
func (s *Service) Shutdown() {
	for _, r := range s.rooms.Values() {
		s.CloseRoomAndKickAllPlayers(r.Key, ReasonServerShutdown, "")
	}
	s.log.Info("room service stopped")
}
