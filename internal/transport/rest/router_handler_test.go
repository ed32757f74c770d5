package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/untold/layout-service/internal/domain"
	"github.com/untold/layout-service/internal/rl"
	"github.com/untold/layout-service/internal/security"
	"github.com/untold/layout-service/internal/service"
	"github.com/untold/layout-service/internal/transport/rest/response"
)

type fakeVerifier struct {
	claims security.TokenClaims
	err    error
}

func (f fakeVerifier) VerifyAccessToken(token string) (security.TokenClaims, error) {
	return f.claims, f.err
}

type fakeCache struct {
	allow    bool
	profiles map[uuid.UUID]domain.UserProfile
}

func newFakeCache() *fakeCache {
	return &fakeCache{allow: true, profiles: map[uuid.UUID]domain.UserProfile{}}
}

func (c *fakeCache) GetProfile(ctx context.Context, userID uuid.UUID) (domain.UserProfile, error) {
	p, ok := c.profiles[userID]
	if !ok {
		return domain.UserProfile{}, domain.ErrCacheMiss
	}
	return p, nil
}

func (c *fakeCache) SetProfile(ctx context.Context, profile domain.UserProfile, ttl time.Duration) error {
	c.profiles[profile.ID] = profile
	return nil
}

func (c *fakeCache) AllowRequest(ctx context.Context, ip string, limit int, window time.Duration) (bool, error) {
	return c.allow, nil
}

type fakeRepo struct {
	getProfileFn  func(ctx context.Context, userID uuid.UUID) (domain.UserProfile, error)
	getCardsFn    func(ctx context.Context, cardIDs []uuid.UUID) (map[uuid.UUID]domain.Card, error)
	createFn      func(ctx context.Context, rec domain.LayoutRecord) error
	updateFinalFn func(ctx context.Context, layoutID uuid.UUID, final domain.PlacementMap) error
	getLayoutFn   func(ctx context.Context, layoutID uuid.UUID) (domain.LayoutRecord, error)
	appendFn      func(ctx context.Context, rec domain.RewardRecord) error
}

func (r *fakeRepo) GetProfile(ctx context.Context, userID uuid.UUID) (domain.UserProfile, error) {
	if r.getProfileFn == nil {
		return domain.UserProfile{}, errors.New("not implemented")
	}
	return r.getProfileFn(ctx, userID)
}

func (r *fakeRepo) GetCards(ctx context.Context, cardIDs []uuid.UUID) (map[uuid.UUID]domain.Card, error) {
	if r.getCardsFn == nil {
		return nil, errors.New("not implemented")
	}
	return r.getCardsFn(ctx, cardIDs)
}

func (r *fakeRepo) CreateLayout(ctx context.Context, rec domain.LayoutRecord) error {
	if r.createFn == nil {
		return errors.New("not implemented")
	}
	return r.createFn(ctx, rec)
}

func (r *fakeRepo) UpdateFinalLayout(ctx context.Context, layoutID uuid.UUID, final domain.PlacementMap) error {
	if r.updateFinalFn == nil {
		return errors.New("not implemented")
	}
	return r.updateFinalFn(ctx, layoutID, final)
}

func (r *fakeRepo) GetLayout(ctx context.Context, layoutID uuid.UUID) (domain.LayoutRecord, error) {
	if r.getLayoutFn == nil {
		return domain.LayoutRecord{}, errors.New("not implemented")
	}
	return r.getLayoutFn(ctx, layoutID)
}

func (r *fakeRepo) AppendReward(ctx context.Context, rec domain.RewardRecord) error {
	if r.appendFn == nil {
		return errors.New("not implemented")
	}
	return r.appendFn(ctx, rec)
}

func newTestRouter(t *testing.T, repo *fakeRepo, cache *fakeCache, claims security.TokenClaims) http.Handler {
	t.Helper()
	space, err := rl.NewActionSpace(rl.DefaultRows, rl.DefaultCols)
	require.NoError(t, err)

	svc := service.NewLayoutService(service.Deps{
		Profiles: repo,
		Cards:    repo,
		Layouts:  repo,
		Rewards:  repo,
		Cache:    cache,
		Encoder:  rl.NewStateEncoder(zerolog.Nop()),
		Policy:   rl.NewRoundRobinPolicy(space),
		Reward:   rl.NewRewardModel(),
		Space:    space,
		Log:      zerolog.Nop(),
	})
	return NewRouter(RouterDeps{
		Cache:     cache,
		Handler:   NewHandler(svc),
		Verifier:  fakeVerifier{claims: claims},
		JWTIssuer: claims.Issuer,
	})
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) response.ErrorBody {
	t.Helper()
	var errBody response.ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errBody))
	return errBody
}

func userClaims(uid uuid.UUID) security.TokenClaims {
	return security.TokenClaims{UserID: uid.String(), Issuer: "auth-service"}
}

func TestNewRouter_PanicsOnNilDeps(t *testing.T) {
	cache := newFakeCache()
	r := newTestRouter(t, &fakeRepo{}, cache, userClaims(uuid.New()))
	_ = r

	require.Panics(t, func() {
		_ = NewRouter(RouterDeps{Cache: nil, Handler: &Handler{}, Verifier: fakeVerifier{}})
	})
	require.Panics(t, func() {
		_ = NewRouter(RouterDeps{Cache: cache, Handler: nil, Verifier: fakeVerifier{}})
	})
	require.Panics(t, func() {
		_ = NewRouter(RouterDeps{Cache: cache, Handler: &Handler{}, Verifier: nil})
	})
}

func TestRouter_Health_NoAuth(t *testing.T) {
	r := newTestRouter(t, &fakeRepo{}, newFakeCache(), userClaims(uuid.New()))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRouter_MissingToken_401(t *testing.T) {
	r := newTestRouter(t, &fakeRepo{}, newFakeCache(), userClaims(uuid.New()))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/diary/recommend-layout", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouter_BadToken_401(t *testing.T) {
	space, err := rl.NewActionSpace(rl.DefaultRows, rl.DefaultCols)
	require.NoError(t, err)
	cache := newFakeCache()
	svc := service.NewLayoutService(service.Deps{
		Profiles: &fakeRepo{}, Cards: &fakeRepo{}, Layouts: &fakeRepo{}, Rewards: &fakeRepo{},
		Encoder: rl.NewStateEncoder(zerolog.Nop()),
		Policy:  rl.NewRoundRobinPolicy(space),
		Reward:  rl.NewRewardModel(),
		Space:   space,
	})
	r := NewRouter(RouterDeps{
		Cache:    cache,
		Handler:  NewHandler(svc),
		Verifier: fakeVerifier{err: security.ErrTokenInvalid},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/diary/feedback", bytes.NewBufferString(`{}`))
	req.Header.Set("Authorization", "Bearer nope")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouter_RateLimited_429(t *testing.T) {
	cache := newFakeCache()
	cache.allow = false
	r := newTestRouter(t, &fakeRepo{}, cache, userClaims(uuid.New()))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestRouter_Recommend_InvalidJSON_400(t *testing.T) {
	uid := uuid.New()
	r := newTestRouter(t, &fakeRepo{}, newFakeCache(), userClaims(uid))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/diary/recommend-layout", bytes.NewBufferString("{bad"))
	req.Header.Set("Authorization", "Bearer ok")
	req.Header.Set("X-Request-Id", "rid-1")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "request.invalid", errBody.Error.Code)
	require.Equal(t, "rid-1", errBody.Error.RequestID)
}

func TestRouter_Recommend_EmptySelection_400(t *testing.T) {
	uid := uuid.New()
	r := newTestRouter(t, &fakeRepo{}, newFakeCache(), userClaims(uid))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/diary/recommend-layout",
		bytes.NewBufferString(`{"selected_card_ids":[]}`))
	req.Header.Set("Authorization", "Bearer ok")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "request.invalid", errBody.Error.Code)
}

func TestRouter_Recommend_BadCardID_400(t *testing.T) {
	uid := uuid.New()
	r := newTestRouter(t, &fakeRepo{}, newFakeCache(), userClaims(uid))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/diary/recommend-layout",
		bytes.NewBufferString(`{"selected_card_ids":["not-a-uuid"]}`))
	req.Header.Set("Authorization", "Bearer ok")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_Recommend_Success_200(t *testing.T) {
	uid := uuid.New()
	cardA, cardB := uuid.New(), uuid.New()

	repo := &fakeRepo{
		getProfileFn: func(ctx context.Context, userID uuid.UUID) (domain.UserProfile, error) {
			require.Equal(t, uid, userID)
			return domain.UserProfile{ID: uid, AverageSatisfaction: 0.5, TotalDiaries: 4}, nil
		},
		getCardsFn: func(ctx context.Context, cardIDs []uuid.UUID) (map[uuid.UUID]domain.Card, error) {
			return map[uuid.UUID]domain.Card{
				cardA: {ID: cardA, UserID: uid, Source: domain.SourceDiaryEntry, Category: "food"},
				cardB: {ID: cardB, UserID: uid, Source: domain.SourceUserWidget, Category: "hobby"},
			}, nil
		},
		createFn: func(ctx context.Context, rec domain.LayoutRecord) error {
			require.Equal(t, uid, rec.UserID)
			require.Len(t, rec.GeneratedLayout, 2)
			return nil
		},
	}
	r := newTestRouter(t, repo, newFakeCache(), userClaims(uid))

	body := fmt.Sprintf(`{"selected_card_ids":["%s","%s"]}`, cardA, cardB)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/diary/recommend-layout", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer ok")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var env struct {
		Data struct {
			LayoutID  uuid.UUID                     `json:"layout_id"`
			Placement map[uuid.UUID]domain.Placement `json:"placement"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.NotEqual(t, uuid.Nil, env.Data.LayoutID)
	require.Len(t, env.Data.Placement, 2)
	require.Equal(t, domain.Placement{Row: 0, Col: 0, OrderIndex: 0}, env.Data.Placement[cardA])
	require.Equal(t, domain.Placement{Row: 0, Col: 1, OrderIndex: 1}, env.Data.Placement[cardB])
}

func TestRouter_Recommend_ProfileNotFound_404(t *testing.T) {
	uid := uuid.New()
	repo := &fakeRepo{
		getProfileFn: func(ctx context.Context, userID uuid.UUID) (domain.UserProfile, error) {
			return domain.UserProfile{}, domain.ErrProfileNotFound
		},
	}
	r := newTestRouter(t, repo, newFakeCache(), userClaims(uid))

	body := fmt.Sprintf(`{"selected_card_ids":["%s"]}`, uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/diary/recommend-layout", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer ok")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "profile.not_found", errBody.Error.Code)
}

func TestRouter_Recommend_CardsNotFound_404(t *testing.T) {
	uid := uuid.New()
	repo := &fakeRepo{
		getProfileFn: func(ctx context.Context, userID uuid.UUID) (domain.UserProfile, error) {
			return domain.UserProfile{ID: uid}, nil
		},
		getCardsFn: func(ctx context.Context, cardIDs []uuid.UUID) (map[uuid.UUID]domain.Card, error) {
			return map[uuid.UUID]domain.Card{}, nil
		},
	}
	r := newTestRouter(t, repo, newFakeCache(), userClaims(uid))

	body := fmt.Sprintf(`{"selected_card_ids":["%s"]}`, uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/diary/recommend-layout", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer ok")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "cards.not_found", errBody.Error.Code)
}

func TestRouter_Recommend_StoreFailure_500(t *testing.T) {
	uid := uuid.New()
	repo := &fakeRepo{
		getProfileFn: func(ctx context.Context, userID uuid.UUID) (domain.UserProfile, error) {
			return domain.UserProfile{}, errors.New("pq: down")
		},
	}
	r := newTestRouter(t, repo, newFakeCache(), userClaims(uid))

	body := fmt.Sprintf(`{"selected_card_ids":["%s"]}`, uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/diary/recommend-layout", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer ok")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	errBody := decodeError(t, rr)
	// internals never leak through the envelope
	require.Equal(t, "internal", errBody.Error.Code)
	require.Equal(t, "internal error", errBody.Error.Message)
}

func TestRouter_Feedback_Save_200(t *testing.T) {
	uid := uuid.New()
	layoutID := uuid.New()

	var appended *domain.RewardRecord
	repo := &fakeRepo{
		appendFn: func(ctx context.Context, rec domain.RewardRecord) error {
			appended = &rec
			return nil
		},
	}
	r := newTestRouter(t, repo, newFakeCache(), userClaims(uid))

	body := fmt.Sprintf(`{"layout_id":"%s","feedback_type":"save"}`, layoutID)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/diary/feedback", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer ok")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, appended)
	require.Equal(t, layoutID, appended.LayoutID)
	require.Equal(t, uid, appended.UserID)
	require.Equal(t, 1.0, appended.RewardValue)
}

func TestRouter_Feedback_Modify_UpdatesFinal(t *testing.T) {
	uid := uuid.New()
	layoutID := uuid.New()
	cardID := uuid.New()

	var finalized domain.PlacementMap
	repo := &fakeRepo{
		appendFn: func(ctx context.Context, rec domain.RewardRecord) error { return nil },
		updateFinalFn: func(ctx context.Context, id uuid.UUID, final domain.PlacementMap) error {
			require.Equal(t, layoutID, id)
			finalized = final
			return nil
		},
	}
	r := newTestRouter(t, repo, newFakeCache(), userClaims(uid))

	body := fmt.Sprintf(`{
		"layout_id": "%s",
		"feedback_type": "modify",
		"details": {
			"original_layout": {"%s": {"row":0,"col":0,"order_index":0}},
			"final_layout":    {"%s": {"row":2,"col":1,"order_index":0}}
		}
	}`, layoutID, cardID, cardID)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/diary/feedback", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer ok")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, finalized, 1)
	require.Equal(t, domain.Placement{Row: 2, Col: 1, OrderIndex: 0}, finalized[cardID])
}

func TestRouter_Feedback_UnknownKind_400(t *testing.T) {
	uid := uuid.New()
	r := newTestRouter(t, &fakeRepo{}, newFakeCache(), userClaims(uid))

	body := fmt.Sprintf(`{"layout_id":"%s","feedback_type":"boost"}`, uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/diary/feedback", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer ok")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "feedback.unrecognized", errBody.Error.Code)
}

func TestRouter_Feedback_MissingType_400(t *testing.T) {
	uid := uuid.New()
	r := newTestRouter(t, &fakeRepo{}, newFakeCache(), userClaims(uid))

	body := fmt.Sprintf(`{"layout_id":"%s"}`, uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/diary/feedback", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer ok")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_GetLayout_Success_200(t *testing.T) {
	uid := uuid.New()
	layoutID := uuid.New()
	cardID := uuid.New()

	repo := &fakeRepo{
		getLayoutFn: func(ctx context.Context, id uuid.UUID) (domain.LayoutRecord, error) {
			require.Equal(t, layoutID, id)
			return domain.LayoutRecord{
				ID:              layoutID,
				UserID:          uid,
				SelectedCardIDs: []uuid.UUID{cardID},
				GeneratedLayout: domain.PlacementMap{cardID: {Row: 0, Col: 0}},
				CreatedAt:       time.Now().UTC(),
			}, nil
		},
	}
	r := newTestRouter(t, repo, newFakeCache(), userClaims(uid))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/layouts/"+layoutID.String(), nil)
	req.Header.Set("Authorization", "Bearer ok")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var env struct {
		Data struct {
			LayoutID uuid.UUID `json:"layout_id"`
			UserID   uuid.UUID `json:"user_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Equal(t, layoutID, env.Data.LayoutID)
	require.Equal(t, uid, env.Data.UserID)
}

func TestRouter_GetLayout_NotFound_404(t *testing.T) {
	uid := uuid.New()
	repo := &fakeRepo{
		getLayoutFn: func(ctx context.Context, id uuid.UUID) (domain.LayoutRecord, error) {
			return domain.LayoutRecord{}, domain.ErrLayoutNotFound
		},
	}
	r := newTestRouter(t, repo, newFakeCache(), userClaims(uid))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/layouts/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer ok")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "layout.not_found", errBody.Error.Code)
}

func TestRouter_GetLayout_BadID_400(t *testing.T) {
	uid := uuid.New()
	r := newTestRouter(t, &fakeRepo{}, newFakeCache(), userClaims(uid))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/layouts/not-a-uuid", nil)
	req.Header.Set("Authorization", "Bearer ok")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_SecurityHeaders(t *testing.T) {
	r := newTestRouter(t, &fakeRepo{}, newFakeCache(), userClaims(uuid.New()))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
}
