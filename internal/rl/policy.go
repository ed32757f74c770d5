package rl

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/untold/layout-service/internal/domain"
)

// Policy maps an encoded state plus an ordered card selection to one grid
// cell per card. Implementations must be pure: no I/O, no mutation of the
// state vector or the passed grid, safe for concurrent use. Two cards may
// land in the same cell; the consuming UI resolves visual conflicts.
type Policy interface {
	PredictPlacement(state []float64, cardIDs []uuid.UUID, grid Grid) (domain.PlacementMap, error)
}

// RoundRobinPolicy walks the grid cell by cell. It is the fallback when no
// trained checkpoint is configured, and the deterministic double for tests.
type RoundRobinPolicy struct {
	space ActionSpace
}

func NewRoundRobinPolicy(space ActionSpace) *RoundRobinPolicy {
	return &RoundRobinPolicy{space: space}
}

func (p *RoundRobinPolicy) PredictPlacement(state []float64, cardIDs []uuid.UUID, grid Grid) (domain.PlacementMap, error) {
	out := make(domain.PlacementMap, len(cardIDs))
	for i, id := range cardIDs {
		row, col, err := p.space.Decode(i % p.space.Cells())
		if err != nil {
			return nil, err
		}
		out[id] = domain.Placement{Row: row, Col: col, OrderIndex: i}
	}
	return out, nil
}

// LinearPolicy scores every cell as a linear function of the state vector
// plus one positional feature (the card's rank in the selection), and takes
// the argmax. It is the serving-side stand-in for the trained model: the
// trainer exports its policy head as a weight matrix and this evaluates it.
type LinearPolicy struct {
	space   ActionSpace
	weights [][]float64 // (StateDim+1) x Cells; last row weighs the positional feature

	// Score penalty for cells already occupied in the caller-provided grid.
	// Only pre-occupied cells count; cards placed within the same call may
	// still collide.
	occupiedPenalty float64
}

type checkpoint struct {
	Rows    int         `json:"rows"`
	Cols    int         `json:"cols"`
	Weights [][]float64 `json:"weights"`
}

func NewLinearPolicy(space ActionSpace, weights [][]float64) (*LinearPolicy, error) {
	if len(weights) != StateDim+1 {
		return nil, fmt.Errorf("weight matrix has %d rows, want %d", len(weights), StateDim+1)
	}
	for i, row := range weights {
		if len(row) != space.Cells() {
			return nil, fmt.Errorf("weight row %d has %d cols, want %d", i, len(row), space.Cells())
		}
	}
	return &LinearPolicy{space: space, weights: weights, occupiedPenalty: 1.0}, nil
}

// LoadLinearPolicy reads an exported checkpoint and validates it against the
// serving action space.
func LoadLinearPolicy(space ActionSpace, path string) (*LinearPolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	if cp.Rows != space.Rows || cp.Cols != space.Cols {
		return nil, fmt.Errorf("checkpoint grid %dx%d does not match serving grid %dx%d",
			cp.Rows, cp.Cols, space.Rows, space.Cols)
	}
	return NewLinearPolicy(space, cp.Weights)
}

func (p *LinearPolicy) PredictPlacement(state []float64, cardIDs []uuid.UUID, grid Grid) (domain.PlacementMap, error) {
	if len(state) != StateDim {
		return nil, fmt.Errorf("state vector has length %d, want %d", len(state), StateDim)
	}

	out := make(domain.PlacementMap, len(cardIDs))
	for i, id := range cardIDs {
		pos := float64(i) / float64(MaxCards)

		best, bestScore := 0, 0.0
		for cell := 0; cell < p.space.Cells(); cell++ {
			score := p.weights[StateDim][cell] * pos
			for f, v := range state {
				score += p.weights[f][cell] * v
			}
			row, col, _ := p.space.Decode(cell)
			if len(grid) > row && len(grid[row]) > col && grid[row][col] != 0 {
				score -= p.occupiedPenalty
			}
			// Strict > keeps ties on the lowest index: deterministic.
			if cell == 0 || score > bestScore {
				best, bestScore = cell, score
			}
		}

		row, col, err := p.space.Decode(best)
		if err != nil {
			return nil, err
		}
		out[id] = domain.Placement{Row: row, Col: col, OrderIndex: i}
	}
	return out, nil
}
