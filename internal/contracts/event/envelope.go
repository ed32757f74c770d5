package event

import "time"

// DomainEventEnvelope is the canonical envelope published to the training
// pipeline. Consumers tolerate unknown fields.
type DomainEventEnvelope[T any] struct {
	Version    int       `json:"version"`
	Producer   string    `json:"producer"`
	TraceID    string    `json:"trace_id,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    T         `json:"payload"`
}

// RewardLoggedPayload mirrors the reward_logs row the trainer will replay;
// details stay in the row, the event only carries the pointer to it.
type RewardLoggedPayload struct {
	RewardID     string  `json:"reward_id"`
	LayoutID     string  `json:"layout_id"`
	UserID       string  `json:"user_id"`
	FeedbackType string  `json:"feedback_type"`
	RewardValue  float64 `json:"reward_value"`
}
