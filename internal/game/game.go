// internal/game/game.go
package game

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind identifies one of the fixed game variants a room can host.
type Kind string

const (
	KindDuelChoice Kind = "duel-choice"
	KindGridDrop   Kind = "grid-drop"
	KindMemoryPair Kind = "memory-pair"
)

// Kinds lists every supported game variant.
var Kinds = []Kind{KindDuelChoice, KindGridDrop, KindMemoryPair}

var (
	// ErrUnknownGameType is returned when a game type string does not name a variant.
	ErrUnknownGameType = errors.New("unknown game type")
	// ErrNotAPlayer is returned when a seat-only operation is attempted by someone without a seat.
	ErrNotAPlayer = errors.New("participant is not a seated player")
	// ErrGameInProgress is returned by ReportWin while the game has no result yet.
	ErrGameInProgress = errors.New("game has not finished")
)

// ParseKind converts a client-supplied game type into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindDuelChoice, KindGridDrop, KindMemoryPair:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownGameType, s)
}

// Color is the play-side a seat is bound to for the lifetime of a room.
type Color string

// NoColor is returned for participants who hold no seat.
const NoColor Color = ""

// Seat identifies a participant to a game. PlayerID is the client-supplied id that is stable
// across reconnects; UserID is the owning account and is uuid.Nil for anonymous play.
type Seat struct {
	PlayerID string    `json:"playerId"`
	UserID   uuid.UUID `json:"userId,omitempty"`
	Username string    `json:"username,omitempty"`
}

// Matches reports whether s refers to the same participant as other, first by player id and
// then by owning account.
func (s Seat) Matches(other Seat) bool {
	if s.PlayerID != "" && s.PlayerID == other.PlayerID {
		return true
	}
	return s.UserID != uuid.Nil && s.UserID == other.UserID
}

// Broadcaster receives events a game wants delivered to everyone in its room.
// Implementations must not block and must not call back into the game.
type Broadcaster interface {
	Broadcast(ev Event)
}

// MatchResult is handed to a ResultReporter once a finished game is reported. MatchID is
// stable for the finished game, so a retried report carries the same id.
type MatchResult struct {
	MatchID uuid.UUID `json:"matchId"`
	RoomKey string    `json:"roomKey"`
	Kind    Kind      `json:"gameType"`
	Winner  Seat      `json:"winner"`
	Loser   Seat      `json:"loser"`
	Draw    bool      `json:"draw"`
}

// ResultReporter pushes finished match results to rating and history storage.
type ResultReporter interface {
	ReportResult(ctx context.Context, res MatchResult) error
}

// Game is the state-machine contract shared by all variants. The set of variants is closed:
// only types in this package satisfy it.
//
// Callers serialize access; games do no locking of their own.
type Game interface {
	Kind() Kind
	SetRoomKey(key string)
	AssignPlayerColors(a, b Seat)
	PlayerColor(p Seat) Color
	HandleCommand(playerID, command string, out Broadcaster, actor Seat)
	State() any
	ReportWin(ctx context.Context, playerID string, out Broadcaster) error
	// PendingResult builds the finished result for playerID without reporting it. due is false
	// once the result has been confirmed.
	PendingResult(playerID string) (res MatchResult, due bool, err error)
	// ConfirmResult marks the result with matchID as reported and broadcasts result_reported.
	// It returns false if that result was already confirmed or reset away.
	ConfirmResult(matchID uuid.UUID, playerID string, out Broadcaster) bool

	sealed()
}

// New builds a fresh game of the given kind. reporter may be nil, in which case ReportWin only
// broadcasts.
func New(kind Kind, reporter ResultReporter) (Game, error) {
	switch kind {
	case KindDuelChoice:
		return NewDuelChoice(reporter), nil
	case KindGridDrop:
		return NewGridDrop(reporter), nil
	case KindMemoryPair:
		return NewMemoryPair(reporter, nil), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownGameType, kind)
}

// parseCommand splits command text into an upper-cased verb and its arguments.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToUpper(fields[0]), fields[1:]
}
