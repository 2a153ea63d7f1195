package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/captioner/internal/retrieval"
	"github.com/kalambet/captioner/internal/schedule"
	"github.com/kalambet/captioner/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// NewHandler returns the REST API. /health is always public; everything else
// sits behind BearerAuth when deps.AuthToken is set.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.AuthToken))
		r.Get("/schedule", handleSchedule(deps))
		r.Get("/schedule/today", handleToday(deps))
		r.Post("/retrieve", handleRetrieve(deps))
		r.Get("/runs", handleRuns(deps))
	})
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type scheduleResponse struct {
	Year    int              `json:"year"`
	Month   int              `json:"month"`
	Entries []schedule.Entry `json:"entries"`
}

func handleSchedule(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := deps.now()
		year, month := now.Year(), int(now.Month())

		var err error
		if v := r.URL.Query().Get("year"); v != "" {
			if year, err = strconv.Atoi(v); err != nil || year < 1 || year > 9999 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid year %q", v)
				return
			}
		}
		if v := r.URL.Query().Get("month"); v != "" {
			if month, err = strconv.Atoi(v); err != nil || month < 1 || month > 12 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid month %q", v)
				return
			}
		}

		cal := schedule.Build(year, time.Month(month), deps.Prompts)
		writeJSON(w, http.StatusOK, scheduleResponse{Year: year, Month: month, Entries: cal.Entries()})
	}
}

func handleToday(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.todayEntry())
	}
}

type retrieveRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k,omitempty"`
}

func handleRetrieve(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req retrieveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		topK := deps.topK()
		if req.TopK != nil {
			topK = *req.TopK
		}
		if topK > maxTopK {
			topK = maxTopK
		}

		res, err := deps.Retriever.RetrieveContext(r.Context(), req.Query, topK)
		if err != nil {
			code, typ := retrievalStatus(err)
			if code >= 500 {
				slog.Error("retrieval failed", "error", err)
			}
			httpError(w, code, typ, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// retrievalStatus maps retrieval errors onto HTTP status codes.
func retrievalStatus(err error) (int, string) {
	switch {
	case errors.Is(err, retrieval.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, retrieval.ErrEmbeddingProvider):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func handleRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Runs == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "run history is not configured")
			return
		}
		limit := defaultRuns
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit %q", v)
				return
			}
			limit = min(n, maxRunsLimit)
		}

		runs, err := deps.Runs.RecentRuns(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing runs: %v", err)
			return
		}
		if runs == nil {
			runs = []storage.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
