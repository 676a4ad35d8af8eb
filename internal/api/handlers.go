// Package api exposes HTTP handlers for the training-load service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/trainload/internal/auth"
	"example.com/trainload/internal/domain"
	"example.com/trainload/internal/ingest"
	"example.com/trainload/internal/persistence"
)

type batchIngestor interface {
	IngestBatch(ctx context.Context, tenantID, userID string, activities []domain.NormalizedActivity) (ingest.BatchResult, error)
}

// Handler coordinates HTTP requests with the domain service and the
// ingestion pipeline.
type Handler struct {
	service  *domain.Service
	pipeline batchIngestor
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, pipeline batchIngestor) *Handler {
	return &Handler{service: service, pipeline: pipeline}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/workouts", h.workouts)
	mux.HandleFunc("/v1/workouts/", h.workoutByID)
	mux.HandleFunc("/v1/metrics/daily", h.dailySeries)
	mux.HandleFunc("/v1/metrics/daily/", h.metricsByDate)
	mux.HandleFunc("/v1/calibration/profiles", h.profiles)
	mux.HandleFunc("/v1/data", h.data)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) workouts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.ingestBatch(w, r)
	case http.MethodGet:
		h.listWorkouts(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) workoutByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/workouts/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing workout id")
		return
	}

	if rest == "review" {
		h.reviewQueue(w, r)
		return
	}

	id, action, _ := strings.Cut(rest, "/")
	switch {
	case action == "" && r.Method == http.MethodGet:
		h.getWorkout(w, r, id)
	case action == "confirm" && r.Method == http.MethodPost:
		h.confirmStress(w, r, id)
	case action == "correct" && r.Method == http.MethodPost:
		h.correctStress(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeWorkoutsWrite)
	if !ok {
		return
	}

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	activities := make([]domain.NormalizedActivity, 0, len(req.Activities))
	for _, a := range req.Activities {
		activities = append(activities, a.toDomain())
	}

	result, err := h.pipeline.IngestBatch(r.Context(), claims.TenantID, req.UserID, activities)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{
		Created:     result.Created,
		Merged:      result.Merged,
		Replayed:    result.Replayed,
		Skipped:     result.Skipped,
		NeedsReview: result.NeedsReview,
	})
}

func (h *Handler) listWorkouts(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeWorkoutsRead, auth.ScopeWorkoutsWrite)
	if !ok {
		return
	}

	query := domain.RecordQuery{Category: domain.Category(r.URL.Query().Get("category"))}
	var err error
	if query.From, err = parseDateParam(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid from date")
		return
	}
	if query.To, err = parseDateParam(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid to date")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	records, next, err := h.service.Records(r.Context(), claims.TenantID, query, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]WorkoutView, 0, len(records))
	for _, record := range records {
		items = append(items, toWorkoutView(record))
	}
	writeJSON(w, http.StatusOK, ListWorkoutsResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) reviewQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeWorkoutsRead, auth.ScopeWorkoutsWrite)
	if !ok {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := h.service.ReviewQueue(r.Context(), claims.TenantID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]WorkoutView, 0, len(records))
	for _, record := range records {
		items = append(items, toWorkoutView(record))
	}
	writeJSON(w, http.StatusOK, ListWorkoutsResponse{Items: items})
}

func (h *Handler) getWorkout(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeWorkoutsRead, auth.ScopeWorkoutsWrite)
	if !ok {
		return
	}

	record, err := h.service.Record(r.Context(), claims.TenantID, id)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "workout not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toWorkoutView(*record))
}

func (h *Handler) confirmStress(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeWorkoutsWrite)
	if !ok {
		return
	}

	record, err := h.service.ConfirmStress(r.Context(), claims.TenantID, id)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "workout not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toWorkoutView(*record))
}

func (h *Handler) correctStress(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeWorkoutsWrite)
	if !ok {
		return
	}

	var req CorrectStressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	record, err := h.service.CorrectStress(r.Context(), claims.TenantID, id, req.Stress)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRecordNotFound):
			writeError(w, http.StatusNotFound, "not_found", "workout not found")
		case errors.Is(err, domain.ErrInvalidCorrection):
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, toWorkoutView(*record))
}

func (h *Handler) dailySeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeMetricsRead)
	if !ok {
		return
	}

	from, err := parseDateParam(r, "from")
	if err != nil || from.IsZero() {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing or invalid from date")
		return
	}
	to, err := parseDateParam(r, "to")
	if err != nil || to.IsZero() {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing or invalid to date")
		return
	}

	entries, err := h.service.DailySeries(r.Context(), claims.TenantID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]DailyMetricsView, 0, len(entries))
	for _, entry := range entries {
		items = append(items, toDailyMetricsView(entry))
	}
	writeJSON(w, http.StatusOK, DailySeriesResponse{Items: items})
}

func (h *Handler) metricsByDate(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/metrics/daily/")
	rawDate, action, _ := strings.Cut(rest, "/")
	if action != "anchor" || r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeCalibrationWrite)
	if !ok {
		return
	}

	date, err := time.Parse("2006-01-02", rawDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid date")
		return
	}

	var req AnchorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	entry, err := h.service.AnchorDay(r.Context(), claims.TenantID, date, req.CTL, req.ATL)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCorrection) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toDailyMetricsView(*entry))
}

func (h *Handler) profiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeMetricsRead, auth.ScopeCalibrationWrite)
	if !ok {
		return
	}

	profiles, err := h.service.ScalingProfiles(r.Context(), claims.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]ScalingProfileView, 0, len(profiles))
	for _, profile := range profiles {
		items = append(items, toScalingProfileView(profile))
	}
	writeJSON(w, http.StatusOK, ProfilesResponse{Items: items})
}

func (h *Handler) data(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeWorkoutsWrite)
	if !ok {
		return
	}

	if err := h.service.ResetData(r.Context(), claims.TenantID); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return nil, false
}

func parseDateParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", raw)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
