package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/untold/layout-service/internal/audit"
	"github.com/untold/layout-service/internal/domain"
	"github.com/untold/layout-service/internal/rl"
)

// LayoutService orchestrates one recommendation or feedback request at a
// time: all collaborators are read-only or append-only after construction,
// so concurrent calls never share mutable state. UpdateFinalLayout races are
// last-write-wins by design.
type LayoutService struct {
	profiles domain.ProfileStore
	cards    domain.CardStore
	layouts  domain.LayoutLogStore
	rewards  domain.RewardLogStore

	cache     domain.ProfileCache   // optional
	publisher domain.RewardPublisher // optional

	encoder *rl.StateEncoder
	policy  rl.Policy
	reward  *rl.RewardModel
	space   rl.ActionSpace

	audit      *audit.Logger // optional
	log        zerolog.Logger
	profileTTL time.Duration
}

type Deps struct {
	Profiles domain.ProfileStore
	Cards    domain.CardStore
	Layouts  domain.LayoutLogStore
	Rewards  domain.RewardLogStore

	Cache     domain.ProfileCache
	Publisher domain.RewardPublisher

	Encoder *rl.StateEncoder
	Policy  rl.Policy
	Reward  *rl.RewardModel
	Space   rl.ActionSpace

	Audit      *audit.Logger
	Log        zerolog.Logger
	ProfileTTL time.Duration
}

func NewLayoutService(d Deps) *LayoutService {
	if d.Profiles == nil || d.Cards == nil || d.Layouts == nil || d.Rewards == nil {
		panic("service.NewLayoutService: nil store")
	}
	if d.Encoder == nil || d.Policy == nil || d.Reward == nil {
		panic("service.NewLayoutService: nil rl component")
	}
	if d.ProfileTTL <= 0 {
		d.ProfileTTL = 10 * time.Minute
	}
	return &LayoutService{
		profiles:   d.Profiles,
		cards:      d.Cards,
		layouts:    d.Layouts,
		rewards:    d.Rewards,
		cache:      d.Cache,
		publisher:  d.Publisher,
		encoder:    d.Encoder,
		policy:     d.Policy,
		reward:     d.Reward,
		space:      d.Space,
		audit:      d.Audit,
		log:        d.Log,
		profileTTL: d.ProfileTTL,
	}
}

// Recommend generates and persists exactly one layout for the selection.
// Retries create new independent records; there is no dedup by card set.
func (s *LayoutService) Recommend(ctx context.Context, userID uuid.UUID, selectedCardIDs []uuid.UUID) (uuid.UUID, domain.PlacementMap, error) {
	if len(selectedCardIDs) == 0 {
		return uuid.Nil, nil, domain.ErrCardsNotFound
	}

	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			// Hard stop: a recommendation with zero profile signal is
			// considered unreliable.
			return uuid.Nil, nil, err
		}
		return uuid.Nil, nil, fmt.Errorf("%w: load profile: %v", domain.ErrPersistence, err)
	}

	found, err := s.cards.GetCards(ctx, selectedCardIDs)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: load cards: %v", domain.ErrPersistence, err)
	}

	// Keep caller order; ids with no card record are dropped.
	cards := make([]domain.Card, 0, len(selectedCardIDs))
	orderedIDs := make([]uuid.UUID, 0, len(selectedCardIDs))
	for _, id := range selectedCardIDs {
		if c, ok := found[id]; ok {
			cards = append(cards, c)
			orderedIDs = append(orderedIDs, id)
		}
	}
	if len(cards) == 0 {
		return uuid.Nil, nil, domain.ErrCardsNotFound
	}

	state, err := s.encoder.Encode(&profile, cards)
	if err != nil {
		return uuid.Nil, nil, err
	}

	grid := rl.NewGrid(s.space.Rows, s.space.Cols)
	placement, err := s.policy.PredictPlacement(state, orderedIDs, grid)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("predict placement: %w", err)
	}

	// Fully formed before it becomes visible; the single insert is the
	// commit point.
	rec := domain.LayoutRecord{
		ID:              uuid.New(),
		UserID:          userID,
		SelectedCardIDs: selectedCardIDs,
		GeneratedLayout: placement,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.layouts.CreateLayout(ctx, rec); err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: create layout log: %v", domain.ErrPersistence, err)
	}

	if s.audit != nil {
		s.audit.LayoutRecommended(ctx, rec.ID, userID, len(placement))
	}
	return rec.ID, placement, nil
}

// HandleFeedback computes and appends the reward, then finalizes the layout
// for modify feedback. The reward write is the learning-relevant artifact:
// once it is durable, a failing finalize step degrades to a warning so
// feedback is never lost to a stale layout reference.
func (s *LayoutService) HandleFeedback(ctx context.Context, userID, layoutID uuid.UUID, kind domain.FeedbackKind, details domain.FeedbackDetails) error {
	value, err := s.reward.Reward(kind, details)
	if err != nil {
		return err // nothing written
	}

	rec := domain.RewardRecord{
		ID:           uuid.New(),
		LayoutID:     layoutID,
		UserID:       userID,
		FeedbackKind: kind,
		RewardValue:  value,
		Details:      details,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.rewards.AppendReward(ctx, rec); err != nil {
		return fmt.Errorf("%w: append reward log: %v", domain.ErrPersistence, err)
	}
	if s.audit != nil {
		s.audit.FeedbackReceived(ctx, layoutID, userID, kind, value)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishReward(ctx, rec); err != nil {
			s.log.Warn().Err(err).
				Str("reward_id", rec.ID.String()).
				Msg("reward event publish failed (continuing)")
		}
	}

	if kind == domain.FeedbackModify && len(details.FinalLayout) > 0 {
		if err := s.layouts.UpdateFinalLayout(ctx, layoutID, details.FinalLayout); err != nil {
			if s.audit != nil {
				if errors.Is(err, domain.ErrLayoutNotFound) {
					s.audit.FinalizeSkipped(ctx, layoutID, "layout record not found")
				} else {
					s.audit.FinalizeSkipped(ctx, layoutID, err.Error())
				}
			}
			return nil
		}
		if s.audit != nil {
			s.audit.FinalLayoutUpdated(ctx, layoutID, userID)
		}
	}
	return nil
}

// GetLayout reads a stored layout record back (diary view).
func (s *LayoutService) GetLayout(ctx context.Context, layoutID uuid.UUID) (domain.LayoutRecord, error) {
	rec, err := s.layouts.GetLayout(ctx, layoutID)
	if err != nil {
		if errors.Is(err, domain.ErrLayoutNotFound) {
			return domain.LayoutRecord{}, err
		}
		return domain.LayoutRecord{}, fmt.Errorf("%w: get layout: %v", domain.ErrPersistence, err)
	}
	return rec, nil
}

func (s *LayoutService) loadProfile(ctx context.Context, userID uuid.UUID) (domain.UserProfile, error) {
	if s.cache != nil {
		p, err := s.cache.GetProfile(ctx, userID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, domain.ErrCacheMiss) {
			// ignore redis errors
			s.log.Debug().Err(err).Msg("profile cache read failed")
		}
	}

	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return domain.UserProfile{}, err
	}

	if s.cache != nil {
		if err := s.cache.SetProfile(ctx, p, s.profileTTL); err != nil {
			s.log.Debug().Err(err).Msg("profile cache write failed")
		}
	}
	return p, nil
}
