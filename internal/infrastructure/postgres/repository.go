package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/untold/layout-service/internal/domain"
)

// Repository implements the profile, card, layout-log and reward-log store
// contracts on the shared postgres schema (users, cards, layout_logs,
// reward_logs). Layouts and feedback details are stored as jsonb so the
// reward stays recomputable from the row alone.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetProfile(ctx context.Context, userID uuid.UUID) (domain.UserProfile, error) {
	var p domain.UserProfile
	err := r.pool.QueryRow(ctx, `
		SELECT id, COALESCE(average_satisfaction, 0.5), COALESCE(total_diaries, 0)
		FROM users
		WHERE id = $1
	`, userID).Scan(&p.ID, &p.AverageSatisfaction, &p.TotalDiaries)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserProfile{}, domain.ErrProfileNotFound
		}
		return domain.UserProfile{}, err
	}
	return p, nil
}

func (r *Repository) GetCards(ctx context.Context, cardIDs []uuid.UUID) (map[uuid.UUID]domain.Card, error) {
	if len(cardIDs) == 0 {
		return map[uuid.UUID]domain.Card{}, nil
	}

	ids := make([]string, len(cardIDs))
	for i, id := range cardIDs {
		ids[i] = id.String()
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, source, category, content, image_url, created_at
		FROM cards
		WHERE id = ANY($1::uuid[])
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]domain.Card, len(cardIDs))
	for rows.Next() {
		var c domain.Card
		if err := rows.Scan(&c.ID, &c.UserID, &c.Source, &c.Category, &c.Content, &c.ImageURL, &c.CreatedAt); err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

func (r *Repository) CreateLayout(ctx context.Context, rec domain.LayoutRecord) error {
	gen, err := json.Marshal(rec.GeneratedLayout)
	if err != nil {
		return fmt.Errorf("marshal generated layout: %w", err)
	}

	ids := make([]string, len(rec.SelectedCardIDs))
	for i, id := range rec.SelectedCardIDs {
		ids[i] = id.String()
	}

	// Single insert: the record is either fully visible or not at all.
	_, err = r.pool.Exec(ctx, `
		INSERT INTO layout_logs (id, user_id, selected_card_ids, generated_layout, final_layout, created_at)
		VALUES ($1, $2, $3::uuid[], $4, NULL, $5)
	`, rec.ID, rec.UserID, ids, gen, rec.CreatedAt)
	return err
}

// UpdateFinalLayout overwrites, never merges; concurrent updates are
// last-write-wins.
func (r *Repository) UpdateFinalLayout(ctx context.Context, layoutID uuid.UUID, final domain.PlacementMap) error {
	fin, err := json.Marshal(final)
	if err != nil {
		return fmt.Errorf("marshal final layout: %w", err)
	}

	ct, err := r.pool.Exec(ctx, `
		UPDATE layout_logs
		SET final_layout = $2
		WHERE id = $1
	`, layoutID, fin)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrLayoutNotFound
	}
	return nil
}

func (r *Repository) GetLayout(ctx context.Context, layoutID uuid.UUID) (domain.LayoutRecord, error) {
	var (
		rec    domain.LayoutRecord
		rawIDs []string
		genRaw []byte
		finRaw []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, selected_card_ids::text[], generated_layout, final_layout, created_at
		FROM layout_logs
		WHERE id = $1
	`, layoutID).Scan(&rec.ID, &rec.UserID, &rawIDs, &genRaw, &finRaw, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LayoutRecord{}, domain.ErrLayoutNotFound
		}
		return domain.LayoutRecord{}, err
	}

	rec.SelectedCardIDs = make([]uuid.UUID, 0, len(rawIDs))
	for _, s := range rawIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return domain.LayoutRecord{}, fmt.Errorf("corrupt card id %q in layout %s: %w", s, layoutID, err)
		}
		rec.SelectedCardIDs = append(rec.SelectedCardIDs, id)
	}

	if err := json.Unmarshal(genRaw, &rec.GeneratedLayout); err != nil {
		return domain.LayoutRecord{}, fmt.Errorf("unmarshal generated layout: %w", err)
	}
	if len(finRaw) > 0 {
		if err := json.Unmarshal(finRaw, &rec.FinalLayout); err != nil {
			return domain.LayoutRecord{}, fmt.Errorf("unmarshal final layout: %w", err)
		}
	}
	return rec, nil
}

// AppendReward is insert-only; reward rows are never updated or deleted.
func (r *Repository) AppendReward(ctx context.Context, rec domain.RewardRecord) error {
	det, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO reward_logs (id, layout_id, user_id, feedback_type, reward_value, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.LayoutID, rec.UserID, string(rec.FeedbackKind), rec.RewardValue, det, rec.CreatedAt)
	return err
}
