// internal/game/seats.go
package game

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// seating holds the seat/color binding and the bookkeeping every two-player variant shares:
// the room key it reports under, pending reset votes, and the finished game's result state.
type seating struct {
	colors   [2]Color
	seats    [2]Seat
	assigned bool
	roomKey  string

	resetVotes [2]bool
	// matchID names the finished game until a reset; resultColor is its winning color.
	matchID     uuid.UUID
	resultColor Color
	reported    bool
}

func newSeating(first, second Color) seating {
	return seating{colors: [2]Color{first, second}}
}

func (s *seating) SetRoomKey(key string) { s.roomKey = key }

// AssignPlayerColors binds a to the first color and b to the second. Only the first call has
// any effect.
func (s *seating) AssignPlayerColors(a, b Seat) {
	if s.assigned {
		return
	}
	s.seats = [2]Seat{a, b}
	s.assigned = true
}

// PlayerColor returns the color bound to p, or NoColor.
func (s *seating) PlayerColor(p Seat) Color {
	if i := s.indexOf(p); i >= 0 {
		return s.colors[i]
	}
	return NoColor
}

// indexOf resolves a participant to a seat index, preferring a player id match over an
// owning-account match. Returns -1 when p holds no seat.
func (s *seating) indexOf(p Seat) int {
	if !s.assigned {
		return -1
	}
	if p.PlayerID != "" {
		for i, seat := range s.seats {
			if seat.PlayerID == p.PlayerID {
				return i
			}
		}
	}
	for i, seat := range s.seats {
		if seat.Matches(Seat{UserID: p.UserID}) {
			return i
		}
	}
	return -1
}

// actorIndex resolves the acting participant of a command: the player id first, then the
// actor record the room resolved.
func (s *seating) actorIndex(playerID string, actor Seat) int {
	if i := s.indexOf(Seat{PlayerID: playerID}); i >= 0 {
		return i
	}
	return s.indexOf(actor)
}

func (s *seating) colorIndex(c Color) int {
	for i, col := range s.colors {
		if col == c {
			return i
		}
	}
	return -1
}

// voteReset records a reset vote for seat idx and reports whether both seats have now voted.
// A completed vote clears the ballot.
func (s *seating) voteReset(idx int) bool {
	s.resetVotes[idx] = true
	if s.resetVotes[0] && s.resetVotes[1] {
		s.resetVotes = [2]bool{}
		s.reported = false
		s.matchID = uuid.Nil
		s.resultColor = NoColor
		return true
	}
	return false
}

func (s *seating) pendingVotes() []Color {
	var out []Color
	for i, v := range s.resetVotes {
		if v {
			out = append(out, s.colors[i])
		}
	}
	return out
}

// pending builds the finished result for playerID. The match id is fixed the first time a result
// is built and survives failed reports, so retries carry the same id. due is false once the
// result has been confirmed.
func (s *seating) pending(kind Kind, playerID string, over bool, winner Color) (res MatchResult, due bool, err error) {
	if s.indexOf(Seat{PlayerID: playerID}) < 0 {
		return MatchResult{}, false, ErrNotAPlayer
	}
	if !over {
		return MatchResult{}, false, ErrGameInProgress
	}
	if s.reported {
		return MatchResult{}, false, nil
	}
	if s.matchID == uuid.Nil {
		s.matchID = uuid.New()
	}

	res = MatchResult{MatchID: s.matchID, RoomKey: s.roomKey, Kind: kind, Winner: s.seats[0], Loser: s.seats[1]}
	s.resultColor = NoColor
	if wi := s.colorIndex(winner); wi >= 0 {
		res.Winner, res.Loser = s.seats[wi], s.seats[1-wi]
		s.resultColor = winner
	} else {
		res.Draw = true
	}
	return res, true, nil
}

// ConfirmResult marks the result identified by matchID as reported and announces it. It returns false
// when that result is no longer current, either already confirmed or replaced by a reset.
func (s *seating) ConfirmResult(matchID uuid.UUID, playerID string, out Broadcaster) bool {
	if s.reported || matchID == uuid.Nil || matchID != s.matchID {
		return false
	}
	s.reported = true

	out.Broadcast(Event{
		Type:     EventResultReported,
		RoomKey:  s.roomKey,
		PlayerID: playerID,
		Color:    s.resultColor,
		Payload:  map[string]interface{}{"draw": s.resultColor == NoColor, "matchId": matchID.String()},
	})
	return true
}

// report pushes the finished result through reporter and confirms it. Subsequent calls after a
// successful report are no-ops; a failed report may be retried under the same match id.
func (s *seating) report(ctx context.Context, kind Kind, playerID string, over bool, winner Color, reporter ResultReporter, out Broadcaster) error {
	res, due, err := s.pending(kind, playerID, over, winner)
	if err != nil || !due {
		return err
	}
	if reporter != nil {
		if err := reporter.ReportResult(ctx, res); err != nil {
			return fmt.Errorf("report %s result for room %s: %w", kind, s.roomKey, err)
		}
	}
	s.ConfirmResult(res.MatchID, playerID, out)
	return nil
}
