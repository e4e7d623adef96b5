package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/medquest/study-hub/internal/application/command"
	"github.com/medquest/study-hub/internal/application/query"
	"github.com/medquest/study-hub/internal/domain/shared"
	"github.com/medquest/study-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"healthy": true,
			"uptime":  s.Uptime().Round(time.Second).String(),
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOGUES
// ══════════════════════════════════════════════════════════════════════════════

// handleListLevels handles GET /v1/levels.
func (s *Server) handleListLevels(w http.ResponseWriter, r *http.Request) {
	levels := s.deps.Queries.Curve().Definitions()
	writeJSONWithMeta(w, r, http.StatusOK, levels, &ResponseMeta{TotalCount: len(levels)})
}

// handleListAchievements handles GET /v1/achievements.
func (s *Server) handleListAchievements(w http.ResponseWriter, r *http.Request) {
	defs := s.deps.Queries.Catalog().All()
	writeJSONWithMeta(w, r, http.StatusOK, defs, &ResponseMeta{TotalCount: len(defs)})
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ACTIVITY
// ══════════════════════════════════════════════════════════════════════════════

// RecordActivityRequest is the body of POST /v1/users/{userID}/activities.
type RecordActivityRequest struct {
	Type    string         `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

// handleRecordActivity handles POST /v1/users/{userID}/activities.
func (s *Server) handleRecordActivity(w http.ResponseWriter, r *http.Request) {
	var req RecordActivityRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
			return
		}
		if errors.Is(err, io.EOF) {
			writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "Request body is required")
			return
		}
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "Request body must contain a single JSON object")
		return
	}

	result, err := s.deps.RecordActivity.Handle(r.Context(), command.RecordActivityCommand{
		UserID:        r.PathValue("userID"),
		Type:          req.Type,
		Context:       req.Context,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// READ MODELS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetActivities handles GET /v1/users/{userID}/activities?type=a,b&limit=n.
func (s *Server) handleGetActivities(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	var types []string
	for _, v := range r.URL.Query()["type"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}

	activities, err := s.deps.Queries.GetActivities(r.Context(), query.GetActivitiesQuery{
		UserID: r.PathValue("userID"),
		Types:  types,
		Limit:  limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, activities, &ResponseMeta{TotalCount: len(activities)})
}

// handleGetLevel handles GET /v1/users/{userID}/level.
func (s *Server) handleGetLevel(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Queries.GetLevelView(r.Context(), r.PathValue("userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

// handleGetAchievements handles GET /v1/users/{userID}/achievements.
func (s *Server) handleGetAchievements(w http.ResponseWriter, r *http.Request) {
	unlocked, err := s.deps.Queries.GetAchievements(r.Context(), r.PathValue("userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, unlocked, &ResponseMeta{TotalCount: len(unlocked)})
}

// handleGetAchievementProgress handles GET /v1/users/{userID}/achievements/progress.
func (s *Server) handleGetAchievementProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.deps.Queries.GetAchievementProgress(r.Context(), r.PathValue("userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, progress, &ResponseMeta{TotalCount: len(progress)})
}

// handleGetStats handles GET /v1/users/{userID}/stats.
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Queries.GetStats(r.Context(), r.PathValue("userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// handleGetDashboard handles GET /v1/users/{userID}/dashboard.
func (s *Server) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := s.deps.Queries.GetDashboard(r.Context(), r.PathValue("userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dash)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeError maps domain error kinds onto status codes. Unavailable is checked
// before conflict: an exhausted retry budget carries both.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	switch {
	case shared.IsUnknownActivityType(err):
		writeJSONError(w, r, http.StatusBadRequest, "unknown_activity_type", err.Error())
	case shared.IsValidation(err):
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case shared.IsNotFound(err):
		writeJSONError(w, r, http.StatusNotFound, "not_found", err.Error())
	case shared.IsUnavailable(err):
		log.Error("store unavailable", logger.String("path", r.URL.Path), logger.Err(err))
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, r, http.StatusServiceUnavailable, "store_unavailable", "Storage is temporarily unavailable, please retry")
	case shared.IsConflict(err):
		writeJSONError(w, r, http.StatusConflict, "conflict", err.Error())
	default:
		log.Error("request failed", logger.String("path", r.URL.Path), logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
	}
}
