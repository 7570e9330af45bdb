// internal/room/room.go
package room

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gameroom/internal/game"
)

// Connection is the outbound half of a participant's transport. Send must not block.
type Connection interface {
	Send(ev game.Event)
}

// Participant is a player or spectator occupying a room slot.
type Participant struct {
	PlayerID string
	Username string
	// UserID is the owning account, uuid.Nil for anonymous play.
	UserID   uuid.UUID
	IsPlayer bool
	Conn     Connection

	// aliases are other player ids the same account reconnected under.
	aliases []string
}

// Seat is the identity the game sees for this participant.
func (p *Participant) Seat() game.Seat {
	return game.Seat{PlayerID: p.PlayerID, UserID: p.UserID, Username: p.Username}
}

func (p *Participant) answersTo(playerID string) bool {
	if p.PlayerID == playerID {
		return true
	}
	for _, a := range p.aliases {
		if a == playerID {
			return true
		}
	}
	return false
}

func (p *Participant) ids() []string {
	return append([]string{p.PlayerID}, p.aliases...)
}

func (p *Participant) send(ev game.Event) {
	if p.Conn != nil {
		p.Conn.Send(ev)
	}
}

// Room holds one game instance and everyone attached to it. mu guards the rosters and the game
// together; methods suffixed Unsafe assume it is held.
type Room struct {
	Key           string
	Code          string
	GameType      game.Kind
	IsMatchmaking bool
	CreatedAt     time.Time

	mu           sync.Mutex
	game         game.Game
	players      []*Participant
	spectators   []*Participant
	disconnected map[string]*Participant
	started      bool
	closed       bool
	// reporting is set while a result report runs outside mu.
	reporting    bool
	closeAt      *time.Time
	closeTimer   *time.Timer
}

func newRoom(kind game.Kind, code string, isMatchmaking bool, g game.Game, now time.Time) *Room {
	if g == nil {
		panic("room: newRoom called with a nil game")
	}
	return &Room{
		Key:           Key(kind, code),
		Code:          code,
		GameType:      kind,
		IsMatchmaking: isMatchmaking,
		CreatedAt:     now,
		game:          g,
		players:       make([]*Participant, 0, 2),
		spectators:    make([]*Participant, 0),
		disconnected:  make(map[string]*Participant),
	}
}

// Broadcast delivers ev to every connected player and spectator. It is the game.Broadcaster the
// room hands its game and assumes the lock is held.
func (r *Room) Broadcast(ev game.Event) {
	r.broadcastUnsafe(ev, "")
}

func (r *Room) broadcastUnsafe(ev game.Event, exclude string) {
	if ev.RoomKey == "" {
		ev.RoomKey = r.Key
	}
	if ev.Code == "" {
		ev.Code = r.Code
	}
	for _, p := range r.players {
		if _, gone := r.disconnected[p.PlayerID]; gone || (exclude != "" && p.answersTo(exclude)) {
			continue
		}
		p.send(ev)
	}
	for _, sp := range r.spectators {
		if exclude != "" && sp.PlayerID == exclude {
			continue
		}
		sp.send(ev)
	}
}

// findPlayerUnsafe resolves a seated player by id (including reconnect aliases) and then by
// owning account.
func (r *Room) findPlayerUnsafe(playerID string, userID uuid.UUID) *Participant {
	if playerID != "" {
		for _, p := range r.players {
			if p.answersTo(playerID) {
				return p
			}
		}
	}
	if userID != uuid.Nil {
		for _, p := range r.players {
			if p.UserID == userID {
				return p
			}
		}
	}
	return nil
}

func (r *Room) findSpectatorUnsafe(id string) int {
	for i, sp := range r.spectators {
		if sp.PlayerID == id {
			return i
		}
	}
	return -1
}

func (r *Room) removePlayerUnsafe(target *Participant) {
	for i, p := range r.players {
		if p == target {
			r.players = append(r.players[:i], r.players[i+1:]...)
			break
		}
	}
	delete(r.disconnected, target.PlayerID)
}

// shouldCloseUnsafe reports whether a pending close is still warranted: someone is still
// disconnected, or a started game has lost a player for good.
func (r *Room) shouldCloseUnsafe() bool {
	return len(r.disconnected) > 0 || (r.started && len(r.players) < 2)
}

func (r *Room) cancelTimerUnsafe() {
	if r.closeTimer != nil {
		r.closeTimer.Stop()
		r.closeTimer = nil
	}
	r.closeAt = nil
}

// snapshotUnsafe is the state event sent to a single caller on join.
func (r *Room) snapshotUnsafe() game.Event {
	names := make([]string, 0, len(r.players))
	for _, p := range r.players {
		names = append(names, p.PlayerID)
	}
	return game.Event{
		Type:    game.EventGameState,
		RoomKey: r.Key,
		Code:    r.Code,
		State:   r.game.State(),
		Payload: map[string]interface{}{
			"started":     r.started,
			"players":     names,
			"matchmaking": r.IsMatchmaking,
		},
	}
}

// seatEventUnsafe tells p which color it plays.
func (r *Room) seatEventUnsafe(p *Participant) game.Event {
	return game.Event{
		Type:     game.EventSeatAssigned,
		RoomKey:  r.Key,
		Code:     r.Code,
		PlayerID: p.PlayerID,
		Username: p.Username,
		Color:    r.game.PlayerColor(p.Seat()),
		State:    r.game.State(),
	}
}

// Players returns the seated players in join order.
func (r *Room) Players() []game.Seat {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]game.Seat, len(r.players))
	for i, p := range r.players {
		out[i] = p.Seat()
	}
	return out
}

// Spectators returns the spectator ids.
func (r *Room) Spectators() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.spectators))
	for i, sp := range r.spectators {
		out[i] = sp.PlayerID
	}
	return out
}

// Disconnected returns the ids of players whose transport dropped without leaving.
func (r *Room) Disconnected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.disconnected))
	for id := range r.disconnected {
		out = append(out, id)
	}
	return out
}

func (r *Room) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// CloseTime returns the pending close deadline, if any.
func (r *Room) CloseTime() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closeAt == nil {
		return time.Time{}, false
	}
	return *r.closeAt, true
}

// PlayerColor returns the color p plays in this room.
func (r *Room) PlayerColor(p game.Seat) game.Color {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.game.PlayerColor(p)
}

// State returns the game's public snapshot.
func (r *Room) State() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.game.State()
}
