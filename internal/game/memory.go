// internal/game/memory.go
package game

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	MemoryPairs = 9
	MemoryCards = MemoryPairs * 2
)

const (
	MemoryColorA Color = "green"
	MemoryColorB Color = "purple"
)

// hiddenSymbol is reported for cards that are face down.
const hiddenSymbol = -1

// MemoryCard is one card as seen by clients.
type MemoryCard struct {
	Index   int  `json:"index"`
	Symbol  int  `json:"symbol"`
	FaceUp  bool `json:"faceUp"`
	Matched bool `json:"matched"`
}

// PairReveal describes the last completed pair of flips, so clients can show a mismatched pair
// before it is turned back over.
type PairReveal struct {
	First   int   `json:"first"`
	Second  int   `json:"second"`
	Symbols []int `json:"symbols"`
	Matched bool  `json:"matched"`
	Color   Color `json:"color"`
}

// MemoryPairState is the public snapshot of a memory-pair game.
type MemoryPairState struct {
	Cards        []MemoryCard  `json:"cards"`
	Flipped      []int         `json:"flipped"`
	Scores       map[Color]int `json:"scores"`
	CurrentColor Color         `json:"currentColor"`
	Winner       Color         `json:"winner,omitempty"`
	IsDraw       bool          `json:"isDraw"`
	GameOver     bool          `json:"gameOver"`
	LastPair     *PairReveal   `json:"lastPair,omitempty"`
	ResetVotes   []Color       `json:"resetVotes,omitempty"`
}

type memoryCard struct {
	symbol  int
	faceUp  bool
	matched bool
}

// MemoryPair is a pair-matching game over 18 face-down cards. A turn is two flips by the
// current color; a match scores and keeps the turn, a mismatch turns both back over and passes.
type MemoryPair struct {
	seating
	reporter ResultReporter
	rng      *rand.Rand

	cards    [MemoryCards]memoryCard
	first    int
	current  Color
	scores   [2]int
	matched  int
	over     bool
	winner   Color
	lastPair *PairReveal
}

// NewMemoryPair deals a shuffled board. A nil rng uses a time-seeded source.
func NewMemoryPair(reporter ResultReporter, rng *rand.Rand) *MemoryPair {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	g := &MemoryPair{
		seating:  newSeating(MemoryColorA, MemoryColorB),
		reporter: reporter,
		rng:      rng,
	}
	g.deal()
	return g
}

func (g *MemoryPair) Kind() Kind { return KindMemoryPair }
func (g *MemoryPair) sealed()    {}

func (g *MemoryPair) deal() {
	symbols := make([]int, 0, MemoryCards)
	for s := 0; s < MemoryPairs; s++ {
		symbols = append(symbols, s, s)
	}
	g.rng.Shuffle(len(symbols), func(i, j int) {
		symbols[i], symbols[j] = symbols[j], symbols[i]
	})
	g.layout(symbols)
}

// layout resets the board to the given symbols in order.
func (g *MemoryPair) layout(symbols []int) {
	for i := range g.cards {
		g.cards[i] = memoryCard{symbol: symbols[i]}
	}
	g.first = -1
	g.current = g.colors[0]
	g.scores = [2]int{}
	g.matched = 0
	g.over = false
	g.winner = NoColor
	g.lastPair = nil
}

// Flip turns card over for color. It returns false when it is not color's turn, the index is
// out of range, the card is already face up or matched, or the game is over.
func (g *MemoryPair) Flip(card int, color Color) bool {
	if g.over || color != g.current || card < 0 || card >= MemoryCards {
		return false
	}
	c := &g.cards[card]
	if c.faceUp || c.matched {
		return false
	}
	c.faceUp = true

	if g.first < 0 {
		g.first = card
		return true
	}

	first := &g.cards[g.first]
	seat := g.colorIndex(color)
	reveal := &PairReveal{
		First:   g.first,
		Second:  card,
		Symbols: []int{first.symbol, c.symbol},
		Color:   color,
	}
	if first.symbol == c.symbol {
		first.matched, c.matched = true, true
		g.scores[seat]++
		g.matched++
		reveal.Matched = true
	} else {
		first.faceUp, c.faceUp = false, false
		g.current = g.colors[1-seat]
	}
	g.first = -1
	g.lastPair = reveal

	if g.matched == MemoryPairs {
		g.over = true
		switch {
		case g.scores[0] > g.scores[1]:
			g.winner = g.colors[0]
		case g.scores[1] > g.scores[0]:
			g.winner = g.colors[1]
		}
	}
	return true
}

// HandleCommand applies "FLIP <index>", a bare index, or RESET.
func (g *MemoryPair) HandleCommand(playerID, command string, out Broadcaster, actor Seat) {
	idx := g.actorIndex(playerID, actor)
	if idx < 0 {
		return
	}
	verb, args := parseCommand(command)
	switch verb {
	case "RESET":
		if g.voteReset(idx) {
			g.deal()
			out.Broadcast(Event{Type: EventGameReset, RoomKey: g.roomKey, State: g.snapshot()})
			return
		}
		out.Broadcast(Event{Type: EventResetPending, RoomKey: g.roomKey, Color: g.colors[idx], State: g.snapshot()})
		return
	case "FLIP":
		if len(args) == 0 {
			return
		}
		verb = args[0]
	}

	card, err := strconv.Atoi(verb)
	if err != nil {
		log.Debugf("memory-pair %s: ignoring command %q from %s", g.roomKey, command, playerID)
		return
	}
	if !g.Flip(card, g.colors[idx]) {
		return
	}
	if g.over {
		out.Broadcast(Event{Type: EventGameOver, RoomKey: g.roomKey, Color: g.winner, State: g.snapshot()})
		return
	}
	out.Broadcast(Event{Type: EventGameState, RoomKey: g.roomKey, State: g.snapshot()})
}

// State returns a snapshot safe to serialize. Face-down symbols are hidden.
func (g *MemoryPair) State() any { return g.snapshot() }

func (g *MemoryPair) snapshot() MemoryPairState {
	st := MemoryPairState{
		Cards:        make([]MemoryCard, MemoryCards),
		Flipped:      []int{},
		Scores:       map[Color]int{g.colors[0]: g.scores[0], g.colors[1]: g.scores[1]},
		CurrentColor: g.current,
		Winner:       g.winner,
		IsDraw:       g.over && g.winner == NoColor,
		GameOver:     g.over,
		ResetVotes:   g.pendingVotes(),
	}
	for i, c := range g.cards {
		mc := MemoryCard{Index: i, Symbol: hiddenSymbol, FaceUp: c.faceUp, Matched: c.matched}
		if c.faceUp || c.matched {
			mc.Symbol = c.symbol
		}
		st.Cards[i] = mc
	}
	if g.first >= 0 {
		st.Flipped = append(st.Flipped, g.first)
	}
	if g.lastPair != nil {
		lp := *g.lastPair
		lp.Symbols = append([]int(nil), g.lastPair.Symbols...)
		st.LastPair = &lp
	}
	return st
}

// PendingResult returns the finished result for playerID without reporting it.
func (g *MemoryPair) PendingResult(playerID string) (MatchResult, bool, error) {
	return g.pending(g.Kind(), playerID, g.over, g.winner)
}

// ReportWin reports the finished game result on behalf of playerID.
func (g *MemoryPair) ReportWin(ctx context.Context, playerID string, out Broadcaster) error {
	return g.report(ctx, g.Kind(), playerID, g.over, g.winner, g.reporter, out)
}
