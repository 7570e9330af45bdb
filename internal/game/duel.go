// internal/game/duel.go
package game

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Choice is a single rock-paper-scissors throw.
type Choice string

const (
	ChoiceNone     Choice = ""
	ChoiceRock     Choice = "rock"
	ChoicePaper    Choice = "paper"
	ChoiceScissors Choice = "scissors"
)

// beats maps a choice to the choice it defeats.
var beats = map[Choice]Choice{
	ChoiceRock:     ChoiceScissors,
	ChoicePaper:    ChoiceRock,
	ChoiceScissors: ChoicePaper,
}

// DuelPhase is the state of a duel-choice match.
type DuelPhase string

const (
	PhaseAwaitingChoices DuelPhase = "awaiting_choices"
	PhaseRoundResolved   DuelPhase = "round_resolved"
	PhaseMatchOver       DuelPhase = "match_over"
)

const (
	// DuelWinsNeeded is the number of round wins that ends a match.
	DuelWinsNeeded = 3
	// DuelMaxRounds caps the match length.
	DuelMaxRounds = 5
)

const (
	DuelColorA Color = "blue"
	DuelColorB Color = "orange"
)

// RoundResult records one resolved round.
type RoundResult struct {
	Round   int              `json:"round"`
	Choices map[Color]Choice `json:"choices"`
	Winner  Color            `json:"winner,omitempty"`
}

// DuelChoiceState is the public snapshot of a duel-choice match. Pending choices are only
// reported as made / not made.
type DuelChoiceState struct {
	Phase        DuelPhase      `json:"phase"`
	Round        int            `json:"round"`
	RoundsPlayed int            `json:"roundsPlayed"`
	Wins         map[Color]int  `json:"wins"`
	Chosen       map[Color]bool `json:"chosen"`
	LastRound    *RoundResult   `json:"lastRound,omitempty"`
	MatchWinner  Color          `json:"matchWinner,omitempty"`
	IsDraw       bool           `json:"isDraw"`
	ResetVotes   []Color        `json:"resetVotes,omitempty"`
}

// DuelChoice is a best-of-five rock-paper-scissors match: first to three round wins, or the
// higher win count after five rounds.
type DuelChoice struct {
	seating
	reporter ResultReporter

	phase        DuelPhase
	choices      [2]Choice
	wins         [2]int
	roundsPlayed int
	history      []RoundResult
	matchWinner  Color
	draw         bool
}

// NewDuelChoice returns a match awaiting the first round's choices.
func NewDuelChoice(reporter ResultReporter) *DuelChoice {
	return &DuelChoice{
		seating:  newSeating(DuelColorA, DuelColorB),
		reporter: reporter,
		phase:    PhaseAwaitingChoices,
	}
}

func (g *DuelChoice) Kind() Kind { return KindDuelChoice }
func (g *DuelChoice) sealed()    {}

// HandleCommand applies ROCK/PAPER/SCISSORS (optionally prefixed by CHOOSE) or RESET.
func (g *DuelChoice) HandleCommand(playerID, command string, out Broadcaster, actor Seat) {
	idx := g.actorIndex(playerID, actor)
	if idx < 0 {
		return
	}
	verb, args := parseCommand(command)
	if verb == "CHOOSE" && len(args) > 0 {
		verb, _ = parseCommand(args[0])
	}
	switch verb {
	case "ROCK", "PAPER", "SCISSORS":
		g.choose(idx, Choice(strings.ToLower(verb)), out)
	case "RESET":
		if g.voteReset(idx) {
			g.reset()
			out.Broadcast(Event{Type: EventGameReset, RoomKey: g.roomKey, State: g.snapshot()})
			return
		}
		out.Broadcast(Event{Type: EventResetPending, RoomKey: g.roomKey, Color: g.colors[idx], State: g.snapshot()})
	default:
		log.Debugf("duel-choice %s: ignoring command %q from %s", g.roomKey, command, playerID)
	}
}

// choose records a choice for seat idx. A second choice in the same round and any choice after
// the match is over are ignored. Returns true when the choice was accepted.
func (g *DuelChoice) choose(idx int, c Choice, out Broadcaster) bool {
	if g.phase == PhaseMatchOver || g.choices[idx] != ChoiceNone {
		return false
	}
	if g.phase == PhaseRoundResolved {
		g.phase = PhaseAwaitingChoices
	}
	g.choices[idx] = c

	if g.choices[0] == ChoiceNone || g.choices[1] == ChoiceNone {
		out.Broadcast(Event{Type: EventGameState, RoomKey: g.roomKey, State: g.snapshot()})
		return true
	}

	g.resolveRound()
	if g.phase == PhaseMatchOver {
		out.Broadcast(Event{Type: EventGameOver, RoomKey: g.roomKey, Color: g.matchWinner, State: g.snapshot()})
	} else {
		out.Broadcast(Event{Type: EventRoundResolved, RoomKey: g.roomKey, State: g.snapshot()})
	}
	return true
}

func (g *DuelChoice) resolveRound() {
	a, b := g.choices[0], g.choices[1]
	g.roundsPlayed++
	res := RoundResult{
		Round:   g.roundsPlayed,
		Choices: map[Color]Choice{g.colors[0]: a, g.colors[1]: b},
	}
	switch {
	case beats[a] == b:
		g.wins[0]++
		res.Winner = g.colors[0]
	case beats[b] == a:
		g.wins[1]++
		res.Winner = g.colors[1]
	}
	g.history = append(g.history, res)
	g.choices = [2]Choice{}
	g.phase = PhaseRoundResolved

	switch {
	case g.wins[0] >= DuelWinsNeeded:
		g.finish(g.colors[0])
	case g.wins[1] >= DuelWinsNeeded:
		g.finish(g.colors[1])
	case g.roundsPlayed >= DuelMaxRounds:
		switch {
		case g.wins[0] > g.wins[1]:
			g.finish(g.colors[0])
		case g.wins[1] > g.wins[0]:
			g.finish(g.colors[1])
		default:
			g.finish(NoColor)
		}
	}
}

func (g *DuelChoice) finish(winner Color) {
	g.phase = PhaseMatchOver
	g.matchWinner = winner
	g.draw = winner == NoColor
}

func (g *DuelChoice) reset() {
	g.phase = PhaseAwaitingChoices
	g.choices = [2]Choice{}
	g.wins = [2]int{}
	g.roundsPlayed = 0
	g.history = nil
	g.matchWinner = NoColor
	g.draw = false
}

// State returns a snapshot safe to serialize.
func (g *DuelChoice) State() any { return g.snapshot() }

func (g *DuelChoice) snapshot() DuelChoiceState {
	st := DuelChoiceState{
		Phase:        g.phase,
		Round:        g.roundsPlayed + 1,
		RoundsPlayed: g.roundsPlayed,
		Wins:         map[Color]int{g.colors[0]: g.wins[0], g.colors[1]: g.wins[1]},
		Chosen: map[Color]bool{
			g.colors[0]: g.choices[0] != ChoiceNone,
			g.colors[1]: g.choices[1] != ChoiceNone,
		},
		MatchWinner: g.matchWinner,
		IsDraw:      g.draw,
		ResetVotes:  g.pendingVotes(),
	}
	if g.phase == PhaseMatchOver {
		st.Round = g.roundsPlayed
	}
	if n := len(g.history); n > 0 {
		last := g.history[n-1]
		choices := make(map[Color]Choice, len(last.Choices))
		for k, v := range last.Choices {
			choices[k] = v
		}
		last.Choices = choices
		st.LastRound = &last
	}
	return st
}

// PendingResult returns the finished result for playerID without reporting it.
func (g *DuelChoice) PendingResult(playerID string) (MatchResult, bool, error) {
	return g.pending(g.Kind(), playerID, g.phase == PhaseMatchOver, g.matchWinner)
}

// ReportWin reports the finished match result on behalf of playerID.
func (g *DuelChoice) ReportWin(ctx context.Context, playerID string, out Broadcaster) error {
	return g.report(ctx, g.Kind(), playerID, g.phase == PhaseMatchOver, g.matchWinner, g.reporter, out)
}
