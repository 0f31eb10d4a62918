package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/recall0/recall/internal/race"
)

// QueryService answers questions over a user's personal records. It is
// satisfied by *race.Engine.
type QueryService interface {
	Query(ctx context.Context, req race.Request) (*race.Answer, error)
	QueryWithHistory(ctx context.Context, req race.Request, history []race.Message) (*race.Answer, error)
	QueryByDataType(ctx context.Context, req race.Request, dataType string) (*race.Answer, error)
	QueryByActivity(ctx context.Context, req race.Request, activity string) (*race.Answer, error)
	QueryCircleContext(ctx context.Context, req race.CircleRequest) (*race.Answer, error)
}

type queryHandler struct {
	svc    QueryService
	logger *slog.Logger
}

func newQueryHandler(svc QueryService, logger *slog.Logger) *queryHandler {
	return &queryHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers the query endpoints.
func (h *queryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.handleQuery)
	mux.HandleFunc("POST /api/query/history", h.handleQueryWithHistory)
	mux.HandleFunc("POST /api/query/scoped", h.handleScopedQuery)
	mux.HandleFunc("POST /api/circles/query", h.handleCircleQuery)
}

type queryRequest struct {
	UserID   string `json:"userId"`
	Query    string `json:"query"`
	Timezone string `json:"timezone,omitempty"`
}

func (r queryRequest) toEngine() race.Request {
	return race.Request{UserID: r.UserID, Query: r.Query, Timezone: r.Timezone}
}

type historyQueryRequest struct {
	queryRequest
	History []race.Message `json:"history,omitempty"`
}

// scopedQueryRequest narrows a query to one record type or one activity.
// Exactly one of DataType and Activity must be set.
type scopedQueryRequest struct {
	queryRequest
	DataType string `json:"dataType,omitempty"`
	Activity string `json:"activity,omitempty"`
}

type circleQueryRequest struct {
	CircleID string `json:"circleId"`
	CallerID string `json:"callerId"`
	Query    string `json:"query"`
	Timezone string `json:"timezone,omitempty"`
}

func (h *queryHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !h.decode(w, r, &req) {
		return
	}

	answer, err := h.svc.Query(r.Context(), req.toEngine())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer, h.logger)
}

func (h *queryHandler) handleQueryWithHistory(w http.ResponseWriter, r *http.Request) {
	var req historyQueryRequest
	if !h.decode(w, r, &req) {
		return
	}

	answer, err := h.svc.QueryWithHistory(r.Context(), req.toEngine(), req.History)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer, h.logger)
}

func (h *queryHandler) handleScopedQuery(w http.ResponseWriter, r *http.Request) {
	var req scopedQueryRequest
	if !h.decode(w, r, &req) {
		return
	}

	var (
		answer *race.Answer
		err    error
	)
	switch {
	case req.DataType != "" && req.Activity != "":
		writeError(w, http.StatusBadRequest, "invalid_request",
			"dataType and activity are mutually exclusive", h.logger)
		return
	case req.DataType != "":
		answer, err = h.svc.QueryByDataType(r.Context(), req.toEngine(), req.DataType)
	case req.Activity != "":
		answer, err = h.svc.QueryByActivity(r.Context(), req.toEngine(), req.Activity)
	default:
		writeError(w, http.StatusBadRequest, "invalid_request",
			"one of dataType or activity is required", h.logger)
		return
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer, h.logger)
}

func (h *queryHandler) handleCircleQuery(w http.ResponseWriter, r *http.Request) {
	var req circleQueryRequest
	if !h.decode(w, r, &req) {
		return
	}

	answer, err := h.svc.QueryCircleContext(r.Context(), race.CircleRequest{
		CircleID: req.CircleID,
		CallerID: req.CallerID,
		Query:    req.Query,
		Timezone: req.Timezone,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer, h.logger)
}

func (h *queryHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "malformed request body", h.logger)
		return false
	}
	return true
}

// writeEngineError maps engine sentinels to HTTP statuses. Upstream
// failures surface as 502 so callers can tell them from our own faults.
func (h *queryHandler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, race.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
	case errors.Is(err, race.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "unauthorized", "not a member of this circle", h.logger)
	case errors.Is(err, race.ErrEmbedding), errors.Is(err, race.ErrRetrieval), errors.Is(err, race.ErrGeneration):
		h.logger.Error("query failed upstream", "error", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "query could not be completed", h.logger)
	default:
		h.logger.Error("query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
	}
}
