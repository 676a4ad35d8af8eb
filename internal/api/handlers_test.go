package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"example.com/trainload/internal/auth"
	"example.com/trainload/internal/calibration"
	"example.com/trainload/internal/domain"
	"example.com/trainload/internal/ingest"
	"example.com/trainload/internal/matching"
	"example.com/trainload/internal/persistence/memory"
)

var handlerNow = time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	store := memory.NewStore()
	clock := func() time.Time { return handlerNow }
	calibrator := calibration.NewEngine(calibration.DefaultConfig(), store.Calibration(), clock)
	recomputer := ingest.NewRecomputer(store, store.Metrics(), clock)
	service := domain.NewService(domain.DefaultServiceConfig(), store, store.Metrics(), calibrator, recomputer, clock)

	seq := 0
	newID := func() string {
		seq++
		return fmt.Sprintf("rec-%d", seq)
	}
	pipeline := ingest.NewPipeline(matching.NewEngine(matching.DefaultConfig()), store, recomputer, zap.NewNop().Sugar(), clock, newID)
	return NewHandler(service, pipeline)
}

func doRequest(t *testing.T, h *Handler, method, path string, body interface{}, scopes ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if scopes != nil {
		scopeSet := make(map[string]struct{}, len(scopes))
		for _, scope := range scopes {
			scopeSet[scope] = struct{}{}
		}
		claims := &auth.Claims{Subject: "user-1", TenantID: "tenant-1", Scopes: scopeSet}
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func ingestBody(activities ...map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"user_id": "user-1", "activities": activities}
}

func rideActivity(externalID string, start time.Time) map[string]interface{} {
	return map[string]interface{}{
		"source":            "device-sync",
		"external_id":       externalID,
		"title":             "Morning Ride",
		"category":          "ride",
		"start_date":        start.Format(time.RFC3339),
		"duration_seconds":  3600,
		"distance_meters":   30000.0,
		"calculated_stress": 80.0,
	}
}

func TestIngestEndpointCreatesWorkouts(t *testing.T) {
	h := newTestHandler(t)
	start := time.Date(2025, time.June, 3, 9, 0, 0, 0, time.UTC)

	rec := doRequest(t, h, http.MethodPost, "/v1/workouts", ingestBody(rideActivity("dev-1", start)), auth.ScopeWorkoutsWrite)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var result IngestResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	require.Equal(t, 1, result.Created)

	rec = doRequest(t, h, http.MethodGet, "/v1/workouts", nil, auth.ScopeWorkoutsRead)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListWorkoutsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Items, 1)
	require.Equal(t, "tenant-1", list.Items[0].TenantID)
	require.Equal(t, 80.0, list.Items[0].Stress)
}

func TestIngestEndpointValidatesBody(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/v1/workouts", map[string]interface{}{"activities": []interface{}{}}, auth.ScopeWorkoutsWrite)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/workouts", bytes.NewReader([]byte("{not json")))
	claims := &auth.Claims{Subject: "user-1", TenantID: "tenant-1", Scopes: map[string]struct{}{auth.ScopeWorkoutsWrite: {}}}
	req = req.WithContext(auth.WithClaims(req.Context(), claims))
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	out := httptest.NewRecorder()
	mux.ServeHTTP(out, req)
	require.Equal(t, http.StatusBadRequest, out.Code)
}

func TestIngestEndpointEnforcesScopes(t *testing.T) {
	h := newTestHandler(t)
	start := time.Date(2025, time.June, 3, 9, 0, 0, 0, time.UTC)
	body := ingestBody(rideActivity("dev-1", start))

	rec := doRequest(t, h, http.MethodPost, "/v1/workouts", body, auth.ScopeWorkoutsRead)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/v1/workouts", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListWorkoutsPaginatesWithCursor(t *testing.T) {
	h := newTestHandler(t)
	base := time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)

	activities := make([]map[string]interface{}, 0, 3)
	for i := 0; i < 3; i++ {
		activities = append(activities, rideActivity(fmt.Sprintf("dev-%d", i), base.AddDate(0, 0, i)))
	}
	rec := doRequest(t, h, http.MethodPost, "/v1/workouts", ingestBody(activities...), auth.ScopeWorkoutsWrite)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/v1/workouts?limit=2", nil, auth.ScopeWorkoutsRead)
	require.Equal(t, http.StatusOK, rec.Code)
	var first ListWorkoutsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&first))
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)
	// Newest first.
	require.True(t, first.Items[0].StartDate.After(first.Items[1].StartDate))

	rec = doRequest(t, h, http.MethodGet, "/v1/workouts?limit=2&cursor="+url.QueryEscape(first.NextCursor), nil, auth.ScopeWorkoutsRead)
	require.Equal(t, http.StatusOK, rec.Code)
	var second ListWorkoutsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&second))
	require.Len(t, second.Items, 1)
	require.Empty(t, second.NextCursor)
}

func TestConfirmAndCorrectStress(t *testing.T) {
	h := newTestHandler(t)
	start := time.Date(2025, time.June, 3, 9, 0, 0, 0, time.UTC)
	rec := doRequest(t, h, http.MethodPost, "/v1/workouts", ingestBody(rideActivity("dev-1", start)), auth.ScopeWorkoutsWrite)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/v1/workouts", nil, auth.ScopeWorkoutsRead)
	var list ListWorkoutsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Items, 1)
	id := list.Items[0].WorkoutID

	rec = doRequest(t, h, http.MethodPost, "/v1/workouts/"+id+"/confirm", nil, auth.ScopeWorkoutsWrite)
	require.Equal(t, http.StatusOK, rec.Code)
	var confirmed WorkoutView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&confirmed))
	require.Equal(t, string(domain.VerificationConfirmed), confirmed.Verification)

	rec = doRequest(t, h, http.MethodPost, "/v1/workouts/"+id+"/correct", CorrectStressRequest{Stress: 120}, auth.ScopeWorkoutsWrite)
	require.Equal(t, http.StatusOK, rec.Code)
	var corrected WorkoutView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&corrected))
	require.Equal(t, 120.0, corrected.Stress)
	require.Equal(t, string(domain.VerificationCorrected), corrected.Verification)
	require.NotNil(t, corrected.CalculatedStress)
	require.Equal(t, 80.0, *corrected.CalculatedStress)

	rec = doRequest(t, h, http.MethodPost, "/v1/workouts/"+id+"/correct", CorrectStressRequest{Stress: -5}, auth.ScopeWorkoutsWrite)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/v1/workouts/missing/correct", CorrectStressRequest{Stress: 90}, auth.ScopeWorkoutsWrite)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReviewQueueEndpoint(t *testing.T) {
	h := newTestHandler(t)

	bare := map[string]interface{}{
		"source":      "bulk-import",
		"external_id": "imp-1",
		"category":    "strength",
		"start_date":  "2025-06-03T00:00:00Z",
	}
	rec := doRequest(t, h, http.MethodPost, "/v1/workouts", ingestBody(bare), auth.ScopeWorkoutsWrite)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/v1/workouts/review", nil, auth.ScopeWorkoutsRead)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListWorkoutsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Items, 1)
	require.True(t, list.Items[0].NeedsReview)
}

func TestAnchorAndDailySeriesEndpoints(t *testing.T) {
	h := newTestHandler(t)
	start := time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)
	rec := doRequest(t, h, http.MethodPost, "/v1/workouts", ingestBody(rideActivity("dev-1", start)), auth.ScopeWorkoutsWrite)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/v1/metrics/daily/2025-06-01/anchor", AnchorRequest{CTL: 10, ATL: 20}, auth.ScopeCalibrationWrite)
	require.Equal(t, http.StatusOK, rec.Code)
	var anchored DailyMetricsView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&anchored))
	require.True(t, anchored.Anchored)
	require.Equal(t, "2025-06-01", anchored.Date)
	require.Equal(t, -10.0, anchored.TSB)

	rec = doRequest(t, h, http.MethodPost, "/v1/metrics/daily/yesterday/anchor", AnchorRequest{CTL: 10, ATL: 20}, auth.ScopeCalibrationWrite)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/v1/metrics/daily?from=2025-06-01&to=2025-06-02", nil, auth.ScopeMetricsRead)
	require.Equal(t, http.StatusOK, rec.Code)
	var series DailySeriesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&series))
	require.NotEmpty(t, series.Items)
	require.Equal(t, "2025-06-01", series.Items[0].Date)
}

func TestDailySeriesRequiresRange(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/v1/metrics/daily", nil, auth.ScopeMetricsRead)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/v1/metrics/daily?from=2025-06-01&to=not-a-date", nil, auth.ScopeMetricsRead)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProfilesEndpoint(t *testing.T) {
	h := newTestHandler(t)
	start := time.Date(2025, time.June, 3, 9, 0, 0, 0, time.UTC)
	rec := doRequest(t, h, http.MethodPost, "/v1/workouts", ingestBody(rideActivity("dev-1", start)), auth.ScopeWorkoutsWrite)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/v1/workouts", nil, auth.ScopeWorkoutsRead)
	var list ListWorkoutsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	id := list.Items[0].WorkoutID

	rec = doRequest(t, h, http.MethodPost, "/v1/workouts/"+id+"/confirm", nil, auth.ScopeWorkoutsWrite)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/v1/calibration/profiles", nil, auth.ScopeMetricsRead)
	require.Equal(t, http.StatusOK, rec.Code)
	var profiles ProfilesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&profiles))
	require.Len(t, profiles.Items, 1)
	require.Equal(t, "ride", profiles.Items[0].Category)
	require.Equal(t, 1, profiles.Items[0].SampleCount)
}

func TestResetEndpoint(t *testing.T) {
	h := newTestHandler(t)
	start := time.Date(2025, time.June, 3, 9, 0, 0, 0, time.UTC)
	rec := doRequest(t, h, http.MethodPost, "/v1/workouts", ingestBody(rideActivity("dev-1", start)), auth.ScopeWorkoutsWrite)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, h, http.MethodDelete, "/v1/data", nil, auth.ScopeWorkoutsWrite)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/v1/workouts", nil, auth.ScopeWorkoutsRead)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListWorkoutsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Empty(t, list.Items)
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t)
	rec := doRequest(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
