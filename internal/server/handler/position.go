package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// PositionReader defines the store methods that the position handler requires.
type PositionReader interface {
	GetByID(ctx context.Context, id string) (domain.Position, error)
	ListRecent(ctx context.Context, engine string, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves persisted simulated positions.
type PositionHandler struct {
	positions PositionReader
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given store and logger.
func NewPositionHandler(positions PositionReader, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger.With(slog.String("handler", "positions")),
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns recent positions, optionally for one engine.
// GET /api/positions?engine=profile&limit=50&since=2025-10-09T00:00:00Z
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since/until must be RFC 3339")
		return
	}
	engine := queryLower(r, "engine")

	positions, err := h.positions.ListRecent(r.Context(), engine, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("engine", engine),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	if positions == nil {
		positions = []domain.Position{}
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns one position.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pos, err := h.positions.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get position failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
