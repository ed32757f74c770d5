package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/untold/layout-service/internal/domain"
	appCtx "github.com/untold/layout-service/internal/pkg/context"
)

// Logger provides structured audit logging for business events
type Logger struct {
	log zerolog.Logger
}

// New creates a new audit logger
func New(log zerolog.Logger) *Logger {
	return &Logger{
		log: log.With().Bool("audit", true).Logger(),
	}
}

// LayoutRecommended logs a freshly generated recommendation
func (l *Logger) LayoutRecommended(ctx context.Context, layoutID, userID uuid.UUID, cardCount int) {
	l.log.Info().
		Str("action", "layout_recommended").
		Str("layout_id", layoutID.String()).
		Str("user_id", userID.String()).
		Int("card_count", cardCount).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Layout recommended")
}

// FeedbackReceived logs a reward-producing feedback event
func (l *Logger) FeedbackReceived(ctx context.Context, layoutID, userID uuid.UUID, kind domain.FeedbackKind, reward float64) {
	l.log.Info().
		Str("action", "feedback_received").
		Str("layout_id", layoutID.String()).
		Str("user_id", userID.String()).
		Str("feedback_type", string(kind)).
		Float64("reward_value", reward).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Feedback received")
}

// FinalLayoutUpdated logs a user-edited layout being finalized
func (l *Logger) FinalLayoutUpdated(ctx context.Context, layoutID, userID uuid.UUID) {
	l.log.Info().
		Str("action", "final_layout_updated").
		Str("layout_id", layoutID.String()).
		Str("user_id", userID.String()).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Final layout updated")
}

// FinalizeSkipped logs a finalize step that degraded to a no-op; the reward
// record is already durable at this point, so this is a warning, not a failure
func (l *Logger) FinalizeSkipped(ctx context.Context, layoutID uuid.UUID, reason string) {
	l.log.Warn().
		Str("action", "finalize_skipped").
		Str("layout_id", layoutID.String()).
		Str("reason", reason).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Finalize step skipped")
}
