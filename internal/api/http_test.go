package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/captioner/internal/retrieval"
	"github.com/kalambet/captioner/internal/schedule"
	"github.com/kalambet/captioner/internal/storage"
)

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Type
}

func TestHealth(t *testing.T) {
	deps, _, _ := testDeps()
	rec := do(t, NewHandler(deps), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSchedule_Month(t *testing.T) {
	deps, _, _ := testDeps()
	rec := do(t, NewHandler(deps), http.MethodGet, "/schedule?year=2024&month=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2024, resp.Year)
	assert.Equal(t, 2, resp.Month)
	require.Len(t, resp.Entries, 29)
	assert.Equal(t, "Write first", resp.Entries[1].Prompt)
	assert.Equal(t, "Write second", resp.Entries[3].Prompt)
	assert.True(t, resp.Entries[0].Rest)
}

func TestSchedule_DefaultsToCurrentMonth(t *testing.T) {
	deps, _, _ := testDeps()
	rec := do(t, NewHandler(deps), http.MethodGet, "/schedule", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2024, resp.Year)
	assert.Equal(t, 5, resp.Month)
	assert.Len(t, resp.Entries, 31)
}

func TestSchedule_InvalidParams(t *testing.T) {
	deps, _, _ := testDeps()
	h := NewHandler(deps)
	for _, q := range []string{"month=13", "month=0", "month=may", "year=0", "year=abc"} {
		rec := do(t, h, http.MethodGet, "/schedule?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Equal(t, "invalid_request_error", errorType(t, rec), q)
	}
}

func TestToday(t *testing.T) {
	deps, _, _ := testDeps()
	rec := do(t, NewHandler(deps), http.MethodGet, "/schedule/today", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var e schedule.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, "Write first", e.Prompt)
	assert.False(t, e.Rest)
	assert.Equal(t, 2, e.Date.Day())
}

func TestRetrieve(t *testing.T) {
	deps, r, _ := testDeps()
	rec := do(t, NewHandler(deps), http.MethodPost, "/retrieve", `{"query":"tea","top_k":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res retrieval.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "Tea first.", res.Context)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "concept", res.Documents[0].ID)
	assert.Equal(t, "tea", r.gotQuery)
	assert.Equal(t, 1, r.gotTopK)
}

func TestRetrieve_DefaultTopK(t *testing.T) {
	deps, r, _ := testDeps()
	deps.DefaultTopK = 3
	rec := do(t, NewHandler(deps), http.MethodPost, "/retrieve", `{"query":"tea"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, r.gotTopK)
}

func TestRetrieve_TopKClamped(t *testing.T) {
	deps, r, _ := testDeps()
	rec := do(t, NewHandler(deps), http.MethodPost, "/retrieve", `{"query":"tea","top_k":500}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxTopK, r.gotTopK)
}

func TestRetrieve_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantType string
	}{
		{"bad json", `{`, nil, http.StatusBadRequest, "invalid_request_error"},
		{"missing query", `{"top_k":1}`, nil, http.StatusBadRequest, "invalid_request_error"},
		{"zero top_k", `{"query":"tea","top_k":0}`, nil, http.StatusBadRequest, "invalid_request_error"},
		{"provider failure", `{"query":"tea"}`, fmt.Errorf("embedding query: %w", retrieval.ErrEmbeddingProvider), http.StatusBadGateway, "upstream_error"},
		{"other failure", `{"query":"tea"}`, errUpstream, http.StatusInternalServerError, "api_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, r, _ := testDeps()
			r.err = tt.err
			rec := do(t, NewHandler(deps), http.MethodPost, "/retrieve", tt.body)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantType, errorType(t, rec))
		})
	}
}

func TestRuns(t *testing.T) {
	deps, _, runs := testDeps()
	rec := do(t, NewHandler(deps), http.MethodGet, "/runs?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []storage.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, 1, runs.gotLimit)
}

func TestRuns_LimitHandling(t *testing.T) {
	deps, _, runs := testDeps()
	h := NewHandler(deps)

	rec := do(t, h, http.MethodGet, "/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultRuns, runs.gotLimit)

	rec = do(t, h, http.MethodGet, "/runs?limit=1000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxRunsLimit, runs.gotLimit)

	rec = do(t, h, http.MethodGet, "/runs?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRuns_EmptyIsArray(t *testing.T) {
	deps, _, runs := testDeps()
	runs.runs = nil
	rec := do(t, NewHandler(deps), http.MethodGet, "/runs", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRuns_NotConfigured(t *testing.T) {
	deps, _, _ := testDeps()
	deps.Runs = nil
	rec := do(t, NewHandler(deps), http.MethodGet, "/runs", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBearerAuth(t *testing.T) {
	deps, _, _ := testDeps()
	deps.AuthToken = "s3cret"
	h := NewHandler(deps)

	rec := do(t, h, http.MethodGet, "/schedule/today", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication_error", errorType(t, rec))

	req := httptest.NewRequest(http.MethodGet, "/schedule/today", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/schedule/today", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// health stays public
	rec = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
