package rest

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/untold/layout-service/internal/domain"
	appCtx "github.com/untold/layout-service/internal/pkg/context"
	"github.com/untold/layout-service/internal/service"
	"github.com/untold/layout-service/internal/transport/rest/response"
)

type Handler struct {
	svc *service.LayoutService
}

func NewHandler(svc *service.LayoutService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RecommendLayout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SelectedCardIDs []string `json:"selected_card_ids"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if len(req.SelectedCardIDs) == 0 {
		fail(w, r, http.StatusBadRequest, "request.invalid", "selected_card_ids is required", map[string]string{
			"selected_card_ids": "must be a non-empty list of card uuids",
		})
		return
	}

	cardIDs := make([]uuid.UUID, 0, len(req.SelectedCardIDs))
	for _, s := range req.SelectedCardIDs {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			fail(w, r, http.StatusBadRequest, "request.invalid", "invalid card id", map[string]string{
				"selected_card_ids": "every entry must be a valid uuid",
			})
			return
		}
		cardIDs = append(cardIDs, id)
	}

	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	layoutID, placement, err := h.svc.Recommend(r.Context(), auth.UserID, cardIDs)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, map[string]any{
		"layout_id": layoutID,
		"placement": placement,
	})
}

func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LayoutID     string                 `json:"layout_id"`
		FeedbackType string                 `json:"feedback_type"`
		Details      domain.FeedbackDetails `json:"details"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}

	layoutID, err := uuid.Parse(strings.TrimSpace(req.LayoutID))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid layout_id", map[string]string{
			"layout_id": "must be a valid uuid",
		})
		return
	}
	if strings.TrimSpace(req.FeedbackType) == "" {
		fail(w, r, http.StatusBadRequest, "request.invalid", "feedback_type is required", nil)
		return
	}

	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	kind := domain.FeedbackKind(strings.TrimSpace(req.FeedbackType))
	if err := h.svc.HandleFeedback(r.Context(), auth.UserID, layoutID, kind, req.Details); err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, map[string]string{
		"msg": "feedback logged",
	})
}

func (h *Handler) GetLayout(w http.ResponseWriter, r *http.Request) {
	layoutID, err := uuid.Parse(chi.URLParam(r, "layoutID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid layoutID", map[string]string{
			"layout_id": "must be a valid uuid",
		})
		return
	}

	if _, ok := GetAuth(r.Context()); !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	rec, err := h.svc.GetLayout(r.Context(), layoutID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, map[string]any{
		"layout_id":         rec.ID,
		"user_id":           rec.UserID,
		"selected_card_ids": rec.SelectedCardIDs,
		"generated_layout":  rec.GeneratedLayout,
		"final_layout":      rec.FinalLayout,
		"created_at":        rec.CreatedAt,
	})
}

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrProfileNotFound):
		fail(w, r, http.StatusNotFound, "profile.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrCardsNotFound):
		fail(w, r, http.StatusNotFound, "cards.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrLayoutNotFound):
		fail(w, r, http.StatusNotFound, "layout.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrUnrecognizedFeedback):
		fail(w, r, http.StatusBadRequest, "feedback.unrecognized", err.Error(), nil)
	case errors.Is(err, domain.ErrEncodingFailure):
		fail(w, r, http.StatusUnprocessableEntity, "state.encoding_failed", err.Error(), nil)
	default:
		// Do not leak internal details.
		fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	reqID := appCtx.GetRequestID(r.Context())
	if reqID == "" {
		reqID = "no-request-id"
	}
	response.Fail(w, status, code, message, meta, reqID)
}
