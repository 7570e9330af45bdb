// internal/game/griddrop.go
package game

import (
	"context"
	"strconv"

	log "github.com/sirupsen/logrus"
)

const (
	GridRows = 6
	GridCols = 7
	// GridRun is the number of same-colored cells in a line that wins.
	GridRun = 4
)

const (
	GridColorA Color = "red"
	GridColorB Color = "yellow"
)

// GridDropState is the public snapshot of a grid-drop game. Board[0] is the top row.
type GridDropState struct {
	Board        [GridRows][GridCols]Color `json:"board"`
	CurrentColor Color                     `json:"currentColor"`
	WinnerColor  Color                     `json:"winnerColor,omitempty"`
	IsDraw       bool                      `json:"isDraw"`
	Moves        int                       `json:"moves"`
	LastMove     *GridMove                 `json:"lastMove,omitempty"`
	ResetVotes   []Color                   `json:"resetVotes,omitempty"`
}

// GridMove is the cell a piece landed in.
type GridMove struct {
	Row   int   `json:"row"`
	Col   int   `json:"col"`
	Color Color `json:"color"`
}

// GridDrop is a connect-four game on a 6x7 board with bottom gravity.
type GridDrop struct {
	seating
	reporter ResultReporter

	board    [GridRows][GridCols]Color
	current  Color
	winner   Color
	draw     bool
	moves    int
	lastMove *GridMove
}

// NewGridDrop returns an empty board with the first color to move.
func NewGridDrop(reporter ResultReporter) *GridDrop {
	return &GridDrop{
		seating:  newSeating(GridColorA, GridColorB),
		reporter: reporter,
		current:  GridColorA,
	}
}

func (g *GridDrop) Kind() Kind { return KindGridDrop }
func (g *GridDrop) sealed()    {}

// IsValidMove reports whether a piece can be dropped into col.
func (g *GridDrop) IsValidMove(col int) bool {
	return col >= 0 && col < GridCols && g.board[0][col] == NoColor
}

// ApplyMove drops a piece of color into col. It returns false without touching the board when
// the column is invalid, it is not color's turn, or the game is already decided.
func (g *GridDrop) ApplyMove(col int, color Color) bool {
	if g.finished() || color != g.current || !g.IsValidMove(col) {
		return false
	}

	row := GridRows - 1
	for g.board[row][col] != NoColor {
		row--
	}
	g.board[row][col] = color
	g.moves++
	g.lastMove = &GridMove{Row: row, Col: col, Color: color}

	switch {
	case g.winsFrom(row, col):
		g.winner = color
	case g.moves == GridRows*GridCols:
		g.draw = true
	default:
		g.current = g.other(color)
	}
	return true
}

func (g *GridDrop) finished() bool { return g.winner != NoColor || g.draw }

func (g *GridDrop) other(c Color) Color {
	if c == g.colors[0] {
		return g.colors[1]
	}
	return g.colors[0]
}

// winsFrom checks every line through (row, col) for a run of GridRun.
func (g *GridDrop) winsFrom(row, col int) bool {
	color := g.board[row][col]
	directions := [4][2]int{{0, 1}, {1, 0}, {1, 1}, {1, -1}}
	for _, d := range directions {
		run := 1 + g.count(row, col, d[0], d[1], color) + g.count(row, col, -d[0], -d[1], color)
		if run >= GridRun {
			return true
		}
	}
	return false
}

func (g *GridDrop) count(row, col, dr, dc int, color Color) int {
	n := 0
	for r, c := row+dr, col+dc; r >= 0 && r < GridRows && c >= 0 && c < GridCols; r, c = r+dr, c+dc {
		if g.board[r][c] != color {
			break
		}
		n++
	}
	return n
}

// HandleCommand applies "DROP <col>", a bare column number, or RESET.
func (g *GridDrop) HandleCommand(playerID, command string, out Broadcaster, actor Seat) {
	idx := g.actorIndex(playerID, actor)
	if idx < 0 {
		return
	}
	verb, args := parseCommand(command)
	switch verb {
	case "RESET":
		if g.voteReset(idx) {
			g.reset()
			out.Broadcast(Event{Type: EventGameReset, RoomKey: g.roomKey, State: g.snapshot()})
			return
		}
		out.Broadcast(Event{Type: EventResetPending, RoomKey: g.roomKey, Color: g.colors[idx], State: g.snapshot()})
		return
	case "DROP":
		if len(args) == 0 {
			return
		}
		verb = args[0]
	}

	col, err := strconv.Atoi(verb)
	if err != nil {
		log.Debugf("grid-drop %s: ignoring command %q from %s", g.roomKey, command, playerID)
		return
	}
	if !g.ApplyMove(col, g.colors[idx]) {
		return
	}
	if g.finished() {
		out.Broadcast(Event{Type: EventGameOver, RoomKey: g.roomKey, Color: g.winner, State: g.snapshot()})
		return
	}
	out.Broadcast(Event{Type: EventGameState, RoomKey: g.roomKey, State: g.snapshot()})
}

func (g *GridDrop) reset() {
	g.board = [GridRows][GridCols]Color{}
	g.current = g.colors[0]
	g.winner = NoColor
	g.draw = false
	g.moves = 0
	g.lastMove = nil
}

// WinnerColor returns the winning color, or NoColor.
func (g *GridDrop) WinnerColor() Color { return g.winner }

// State returns a snapshot safe to serialize.
func (g *GridDrop) State() any { return g.snapshot() }

func (g *GridDrop) snapshot() GridDropState {
	st := GridDropState{
		Board:        g.board,
		CurrentColor: g.current,
		WinnerColor:  g.winner,
		IsDraw:       g.draw,
		Moves:        g.moves,
		ResetVotes:   g.pendingVotes(),
	}
	if g.lastMove != nil {
		m := *g.lastMove
		st.LastMove = &m
	}
	return st
}

// PendingResult returns the finished result for playerID without reporting it.
func (g *GridDrop) PendingResult(playerID string) (MatchResult, bool, error) {
	return g.pending(g.Kind(), playerID, g.finished(), g.winner)
}

// ReportWin reports the finished game result on behalf of playerID.
func (g *GridDrop) ReportWin(ctx context.Context, playerID string, out Broadcaster) error {
	return g.report(ctx, g.Kind(), playerID, g.finished(), g.winner, g.reporter, out)
}
