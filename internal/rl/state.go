package rl

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/untold/layout-service/internal/domain"
)

// State layout: a profile block followed by MaxCards fixed-width card blocks.
// Selections shorter than MaxCards are padded with zero sentinel blocks;
// longer ones are truncated from the tail, preserving caller order. The
// vector length never depends on the number of cards, and identical input
// always produces bit-identical output (logged recommendations must be
// reproducible).
const (
	MaxCards = 10

	ProfileFeatureDim = 2
	CardFeatureDim    = numSources + 1 + 2 // source one-hot + category + has-image/has-text
	StateDim          = ProfileFeatureDim + MaxCards*CardFeatureDim

	// Neutral substitutes for a first-time user with no profile row.
	neutralSatisfaction = 0.5
	neutralDiaries      = 0.0

	// TotalDiaries saturates here; beyond it the signal is flat.
	diariesScale = 100.0
)

// Fixed enumerations. Unknown values map to the trailing "other" slot so a
// new category in the cards table cannot shift existing feature positions.
var (
	sourceOrder = []domain.CardSource{
		domain.SourceDiaryEntry,
		domain.SourceChromeLog,
		domain.SourceUserWidget,
	}
	categoryOrder = []string{"food", "travel", "emotion", "daily", "hobby"}
)

const (
	numSources    = 4 // len(sourceOrder) + other
	numCategories = 6 // len(categoryOrder) + other
)

type StateEncoder struct {
	log zerolog.Logger
}

func NewStateEncoder(log zerolog.Logger) *StateEncoder {
	return &StateEncoder{log: log.With().Str("component", "state_encoder").Logger()}
}

// Encode turns a profile plus an ordered card selection into the fixed-length
// state vector. A nil profile gets neutral defaults. Malformed cards are
// skipped with a diagnostic; only a selection with no usable card at all is
// an error.
func (e *StateEncoder) Encode(profile *domain.UserProfile, cards []domain.Card) ([]float64, error) {
	usable := make([]domain.Card, 0, len(cards))
	for _, c := range cards {
		if c.ID == uuid.Nil || c.Source == "" {
			e.log.Warn().
				Str("card_id", c.ID.String()).
				Str("source", string(c.Source)).
				Msg("skipping malformed card")
			continue
		}
		usable = append(usable, c)
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("%w: no usable cards in selection of %d", domain.ErrEncodingFailure, len(cards))
	}
	if len(usable) > MaxCards {
		usable = usable[:MaxCards]
	}

	state := make([]float64, StateDim)
	if profile != nil {
		state[0] = profile.AverageSatisfaction
		state[1] = normalizeDiaries(profile.TotalDiaries)
	} else {
		state[0] = neutralSatisfaction
		state[1] = neutralDiaries
	}

	for i, c := range usable {
		off := ProfileFeatureDim + i*CardFeatureDim
		state[off+sourceIndex(c.Source)] = 1.0
		state[off+numSources] = float64(categoryIndex(c.Category)) / float64(numCategories-1)
		if c.HasImage() {
			state[off+numSources+1] = 1.0
		}
		if c.HasText() {
			state[off+numSources+2] = 1.0
		}
	}
	// Remaining blocks stay zero: the neutral pad sentinel.

	return state, nil
}

func normalizeDiaries(n int) float64 {
	if n <= 0 {
		return 0
	}
	v := float64(n) / diariesScale
	if v > 1 {
		return 1
	}
	return v
}

func sourceIndex(s domain.CardSource) int {
	for i, known := range sourceOrder {
		if s == known {
			return i
		}
	}
	return numSources - 1
}

func categoryIndex(cat string) int {
	for i, known := range categoryOrder {
		if cat == known {
			return i
		}
	}
	return numCategories - 1
}
