package rl

import "fmt"

const (
	DefaultRows = 3
	DefaultCols = 2
)

// ActionSpace is the discrete placement space: Rows x Cols cells addressed
// either as (row, col) or as a flat index in [0, Cells()).
// A recommendation over K cards makes K independent single-cell choices;
// cells may collide, collision handling is the consumer's concern.
type ActionSpace struct {
	Rows int
	Cols int
}

func NewActionSpace(rows, cols int) (ActionSpace, error) {
	if rows < 1 || cols < 1 {
		return ActionSpace{}, fmt.Errorf("invalid grid %dx%d: both dimensions must be >= 1", rows, cols)
	}
	return ActionSpace{Rows: rows, Cols: cols}, nil
}

func (s ActionSpace) Cells() int { return s.Rows * s.Cols }

func (s ActionSpace) Decode(flat int) (row, col int, err error) {
	if flat < 0 || flat >= s.Cells() {
		return 0, 0, fmt.Errorf("flat index %d out of range [0,%d)", flat, s.Cells())
	}
	return flat / s.Cols, flat % s.Cols, nil
}

func (s ActionSpace) Encode(row, col int) (int, error) {
	if row < 0 || row >= s.Rows || col < 0 || col >= s.Cols {
		return 0, fmt.Errorf("cell (%d,%d) out of %dx%d grid", row, col, s.Rows, s.Cols)
	}
	return row*s.Cols + col, nil
}

// Grid is an occupancy matrix over the action space. Callers currently pass
// a zeroed grid to every prediction; the parameter exists so incremental
// placement can be layered on later.
type Grid [][]int

func NewGrid(rows, cols int) Grid {
	g := make(Grid, rows)
	for r := range g {
		g[r] = make([]int, cols)
	}
	return g
}
