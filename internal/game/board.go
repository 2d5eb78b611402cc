package game

import (
	"errors"
	"fmt"
	"strings"
)

// Board wire form: rows joined by RowSep, cells by CellSep.
const (
	RowSep  = "--"
	CellSep = "|"
)

var ErrMalformedBoard = errors.New("game: malformed board")

// Cell is one board square as encoded by the server.
type Cell uint8

const (
	Empty Cell = iota
	X
	O
)

func (c Cell) String() string {
	switch c {
	case X:
		return "X"
	case O:
		return "O"
	default:
		return " "
	}
}

// Board is a square grid indexed [row][col].
type Board struct {
	cells [][]Cell
}

// NewBoard returns an empty size×size board.
func NewBoard(size int) Board {
	cells := make([][]Cell, size)
	for i := range cells {
		cells[i] = make([]Cell, size)
	}
	return Board{cells: cells}
}

// ParseBoard decodes the server's board string, e.g. "1|0|0--0|2|0--0|0|0".
func ParseBoard(s string) (Board, error) {
	if s == "" {
		return Board{}, fmt.Errorf("%w: empty", ErrMalformedBoard)
	}
	rows := strings.Split(s, RowSep)
	cells := make([][]Cell, len(rows))
	for r, row := range rows {
		fields := strings.Split(row, CellSep)
		if len(fields) != len(rows) {
			return Board{}, fmt.Errorf("%w: row %d has %d cells, want %d", ErrMalformedBoard, r, len(fields), len(rows))
		}
		cells[r] = make([]Cell, len(fields))
		for c, f := range fields {
			switch f {
			case "0":
				cells[r][c] = Empty
			case "1":
				cells[r][c] = X
			case "2":
				cells[r][c] = O
			default:
				return Board{}, fmt.Errorf("%w: cell (%d,%d) = %q", ErrMalformedBoard, r, c, f)
			}
		}
	}
	return Board{cells: cells}, nil
}

// Size is the side length.
func (b Board) Size() int { return len(b.cells) }

// At returns the cell at row x, column y.
func (b Board) At(x, y int) Cell {
	if !b.InBounds(x, y) {
		return Empty
	}
	return b.cells[x][y]
}

func (b Board) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < len(b.cells) && y < len(b.cells)
}

// Clone returns a deep copy.
func (b Board) Clone() Board {
	cells := make([][]Cell, len(b.cells))
	for i, row := range b.cells {
		cells[i] = append([]Cell(nil), row...)
	}
	return Board{cells: cells}
}

// String encodes the board in wire form.
func (b Board) String() string {
	var sb strings.Builder
	for r, row := range b.cells {
		if r > 0 {
			sb.WriteString(RowSep)
		}
		for c, cell := range row {
			if c > 0 {
				sb.WriteString(CellSep)
			}
			sb.WriteByte('0' + byte(cell))
		}
	}
	return sb.String()
}

// Render draws the board as text with row and column indices.
func (b Board) Render() string {
	var sb strings.Builder
	sb.WriteString("  ")
	for c := range b.cells {
		fmt.Fprintf(&sb, " %d", c)
	}
	sb.WriteByte('\n')
	for r, row := range b.cells {
		fmt.Fprintf(&sb, "%2d", r)
		for _, cell := range row {
			sb.WriteByte(' ')
			if cell == Empty {
				sb.WriteByte('.')
			} else {
				sb.WriteString(cell.String())
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
