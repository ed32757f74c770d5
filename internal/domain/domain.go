package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type CardSource string

const (
	SourceDiaryEntry CardSource = "diary_entry"
	SourceChromeLog  CardSource = "chrome_log"
	SourceUserWidget CardSource = "user_widget"
)

type FeedbackKind string

const (
	FeedbackSave       FeedbackKind = "save"
	FeedbackModify     FeedbackKind = "modify"
	FeedbackRegenerate FeedbackKind = "regenerate"
	FeedbackDelete     FeedbackKind = "delete"
)

var (
	ErrProfileNotFound = errors.New("user profile not found")
	ErrCardsNotFound   = errors.New("no cards found for selection")
	ErrLayoutNotFound  = errors.New("layout record not found")

	ErrUnrecognizedFeedback = errors.New("unrecognized feedback kind")
	ErrEncodingFailure      = errors.New("state encoding failed")
	ErrPersistence          = errors.New("persistence failure")

	ErrCacheMiss = errors.New("cache miss")
)

type UserProfile struct {
	ID                  uuid.UUID `json:"id"`
	AverageSatisfaction float64   `json:"average_satisfaction"`
	TotalDiaries        int       `json:"total_diaries"`
}

// Card is immutable once created; only its placement inside a layout is
// ever written by this service.
type Card struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Source    CardSource `json:"source"`
	Category  string     `json:"category"`
	Content   *string    `json:"content,omitempty"`
	ImageURL  *string    `json:"image_url,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (c Card) HasText() bool  { return c.Content != nil && *c.Content != "" }
func (c Card) HasImage() bool { return c.ImageURL != nil && *c.ImageURL != "" }

// Placement is one cell assignment. OrderIndex is the tie-break rank for
// cards sharing a cell; it equals the card's position in the selection.
type Placement struct {
	Row        int `json:"row"`
	Col        int `json:"col"`
	OrderIndex int `json:"order_index"`
}

type PlacementMap map[uuid.UUID]Placement

// LayoutRecord lifecycle: created once per recommendation, mutated at most
// by setting FinalLayout (overwrite, never merge), never deleted here.
type LayoutRecord struct {
	ID              uuid.UUID    `json:"id"`
	UserID          uuid.UUID    `json:"user_id"`
	SelectedCardIDs []uuid.UUID  `json:"selected_card_ids"`
	GeneratedLayout PlacementMap `json:"generated_layout"`
	FinalLayout     PlacementMap `json:"final_layout,omitempty"` // nil until the user edits
	CreatedAt       time.Time    `json:"created_at"`
}

// FeedbackDetails must carry enough to recompute the reward later
// (before/after placement for a modify event).
type FeedbackDetails struct {
	OriginalLayout PlacementMap `json:"original_layout,omitempty"`
	FinalLayout    PlacementMap `json:"final_layout,omitempty"`
	Note           string       `json:"note,omitempty"`
}

// RewardRecord is append-only: the immutable audit trail the trainer reads.
type RewardRecord struct {
	ID           uuid.UUID       `json:"id"`
	LayoutID     uuid.UUID       `json:"layout_id"`
	UserID       uuid.UUID       `json:"user_id"`
	FeedbackKind FeedbackKind    `json:"feedback_type"`
	RewardValue  float64         `json:"reward_value"`
	Details      FeedbackDetails `json:"details"`
	CreatedAt    time.Time       `json:"created_at"`
}

type ProfileStore interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (UserProfile, error)
}

// CardStore returns details keyed by card id; ids with no record are simply
// absent from the result, not an error.
type CardStore interface {
	GetCards(ctx context.Context, cardIDs []uuid.UUID) (map[uuid.UUID]Card, error)
}

type LayoutLogStore interface {
	CreateLayout(ctx context.Context, rec LayoutRecord) error
	UpdateFinalLayout(ctx context.Context, layoutID uuid.UUID, final PlacementMap) error
	GetLayout(ctx context.Context, layoutID uuid.UUID) (LayoutRecord, error)
}

type RewardLogStore interface {
	AppendReward(ctx context.Context, rec RewardRecord) error
}

type ProfileCache interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (UserProfile, error)
	SetProfile(ctx context.Context, profile UserProfile, ttl time.Duration) error

	AllowRequest(ctx context.Context, ip string, limit int, window time.Duration) (bool, error)
}

// RewardPublisher feeds reward events to the offline training pipeline.
type RewardPublisher interface {
	PublishReward(ctx context.Context, rec RewardRecord) error
}
