package rl

import (
	"fmt"

	"github.com/untold/layout-service/internal/domain"
)

// Reward constants, bounded to [-1, +1]. The mapping is total over the
// feedback enumeration; anything else is an error so a typo in a client
// cannot silently pollute the training signal.
const (
	rewardSave       = 1.0
	rewardRegenerate = -0.5
	rewardDelete     = -1.0
)

// RewardModel converts feedback events into scalar rewards. Pure and
// deterministic: the value is always recomputable from the stored details.
type RewardModel struct{}

func NewRewardModel() *RewardModel { return &RewardModel{} }

func (m *RewardModel) Reward(kind domain.FeedbackKind, details domain.FeedbackDetails) (float64, error) {
	switch kind {
	case domain.FeedbackSave:
		return rewardSave, nil
	case domain.FeedbackRegenerate:
		return rewardRegenerate, nil
	case domain.FeedbackDelete:
		return rewardDelete, nil
	case domain.FeedbackModify:
		return modifyReward(details), nil
	default:
		return 0, fmt.Errorf("%w: %q", domain.ErrUnrecognizedFeedback, kind)
	}
}

// modifyReward scales with the structural distance between the generated and
// the user-edited layout: an untouched layout is worth as much as a save, a
// fully rearranged one as little as a delete. Only (row, col) changes count
// as moves; a card missing from the final layout counts as moved.
func modifyReward(d domain.FeedbackDetails) float64 {
	if len(d.OriginalLayout) == 0 {
		return rewardSave
	}

	moved := 0
	for id, orig := range d.OriginalLayout {
		fin, ok := d.FinalLayout[id]
		if !ok || fin.Row != orig.Row || fin.Col != orig.Col {
			moved++
		}
	}

	frac := float64(moved) / float64(len(d.OriginalLayout))
	r := 1.0 - 2.0*frac
	if r < -1 {
		r = -1
	}
	return r
}
