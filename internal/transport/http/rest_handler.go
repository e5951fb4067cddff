package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"timed-quiz-service/internal/app"
	"timed-quiz-service/internal/domain"
)

const (
	maxLeaderboardLimit = 100
	dateLayout          = "2006-01-02"
)

// RESTHandler serves the read-only views: leaderboard, latest result, analytics.
type RESTHandler struct {
	service *app.QuizService
	log     logrus.FieldLogger
}

func NewRESTHandler(service *app.QuizService, log logrus.FieldLogger) *RESTHandler {
	return &RESTHandler{service: service, log: log}
}

func (h *RESTHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxLeaderboardLimit)
	}

	entries, err := h.service.Leaderboard(r.Context(), limit)
	if err != nil {
		h.log.WithError(err).Error("failed to load leaderboard")
		http.Error(w, "failed to load leaderboard", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

type resultResponse struct {
	domain.ScoreRecord
	Percentage float64 `json:"percentage"`
}

func (h *RESTHandler) LatestResult(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	record, err := h.service.LatestResult(r.Context(), userID)
	if errors.Is(err, domain.ErrScoreNotFound) {
		http.Error(w, "no score found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("user_id", userID).Error("failed to load result")
		http.Error(w, "failed to load your score", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{ScoreRecord: record, Percentage: record.Percentage()})
}

// QuestionStats accepts optional from/to dates (YYYY-MM-DD); "to" covers the whole day.
func (h *RESTHandler) QuestionStats(w http.ResponseWriter, r *http.Request) {
	from, err := parseDate(r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, "invalid from date", http.StatusBadRequest)
		return
	}
	to, err := parseDate(r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, "invalid to date", http.StatusBadRequest)
		return
	}
	if !to.IsZero() {
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		http.Error(w, "to must not be before from", http.StatusBadRequest)
		return
	}

	stats, err := h.service.QuestionStats(r.Context(), from, to)
	if err != nil {
		h.log.WithError(err).Error("failed to load question stats")
		http.Error(w, "failed to load analytics", http.StatusInternalServerError)
		return
	}
	if stats == nil {
		stats = []domain.QuestionStats{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"questions": stats})
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, raw)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
