package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/countrybattle/backend/internal/battle"
	"github.com/countrybattle/backend/internal/repository"
)

const historyLimit = 20

// Store is the read side of the persistence gateway.
type Store interface {
	History(ctx context.Context, limit int) ([]repository.BattleRecord, error)
	BattleByID(ctx context.Context, id uuid.UUID) (*repository.BattleDetail, error)
	Leaderboard(ctx context.Context) ([]repository.CountryStats, error)
}

// ManualScoreRequest adds points to a country by hand.
type ManualScoreRequest struct {
	Country string `json:"country"`
	Points  int    `json:"points"`
	Gift    string `json:"gift,omitempty"`
}

// StartBattleRequest starts or resets the active battle. All fields are
// optional; configured defaults fill the gaps.
type StartBattleRequest struct {
	CreatorUsername string   `json:"creator_username"`
	Countries       []string `json:"countries"`
	DurationSeconds int      `json:"duration_seconds"`
}

// MessageResponse is the generic success envelope.
type MessageResponse struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the admin surface and the battle read side.
type Handler struct {
	battles *battle.Manager
	store   Store

	// appCtx outlives any single request; battles started from a reset
	// must keep ticking after the request finishes.
	appCtx context.Context
}

// NewHandler creates the HTTP handler set.
func NewHandler(appCtx context.Context, battles *battle.Manager, store Store) *Handler {
	return &Handler{battles: battles, store: store, appCtx: appCtx}
}

// RegisterRoutes attaches all endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /manual-score", h.handleManualScore)
	mux.HandleFunc("POST /reset", h.handleReset)
	mux.HandleFunc("GET /active-battle", h.handleActiveBattle)
	mux.HandleFunc("GET /history", h.handleHistory)
	mux.HandleFunc("GET /battle/{id}", h.handleBattleByID)
	mux.HandleFunc("GET /leaderboard", h.handleLeaderboard)
}

func (h *Handler) handleManualScore(w http.ResponseWriter, r *http.Request) {
	var req ManualScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	_, err := h.battles.AddScore(req.Country, req.Points)
	switch {
	case errors.Is(err, battle.ErrNoActiveBattle):
		writeError(w, http.StatusNotFound, "no active battle running")
		return
	case errors.Is(err, battle.ErrUnknownCountry):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("country %q not in current battle", req.Country))
		return
	case errors.Is(err, battle.ErrBattleFinished):
		writeError(w, http.StatusConflict, "battle already finished")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to update score")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Message: "Score updated",
		Detail:  fmt.Sprintf("%+d pts -> %s", req.Points, req.Country),
	})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	req := StartBattleRequest{CreatorUsername: "admin"}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.CreatorUsername == "" {
			req.CreatorUsername = "admin"
		}
	}

	b, err := h.battles.Start(h.appCtx, req.CreatorUsername, req.Countries,
		time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		if errors.Is(err, battle.ErrInvalidRoster) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("failed to start battle")
		writeError(w, http.StatusInternalServerError, "failed to start battle")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Message: "Battle reset",
		Detail:  fmt.Sprintf("new battle %s started with %v", b.ID, b.Countries),
	})
}

func (h *Handler) handleActiveBattle(w http.ResponseWriter, r *http.Request) {
	type activeResponse struct {
		Active bool          `json:"active"`
		Battle *battle.State `json:"battle"`
	}

	b := h.battles.Active()
	if b == nil {
		writeJSON(w, http.StatusOK, activeResponse{Active: false})
		return
	}
	st := b.Snapshot()
	writeJSON(w, http.StatusOK, activeResponse{Active: true, Battle: &st})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	battles, err := h.store.History(r.Context(), historyLimit)
	if err != nil {
		log.Error().Err(err).Msg("failed to load history")
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, battles)
}

func (h *Handler) handleBattleByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid battle id")
		return
	}

	detail, err := h.store.BattleByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "battle not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("battle_id", id.String()).Msg("failed to load battle")
		writeError(w, http.StatusInternalServerError, "failed to load battle")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Leaderboard(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to load leaderboard")
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
