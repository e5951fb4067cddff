package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"timed-quiz-service/internal/logging"
	"timed-quiz-service/internal/monitoring"
)

// NewRouter mounts the game socket, the read views, the question bank, health and metrics.
func NewRouter(ws *WSHandler, rest *RESTHandler, log logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(monitoring.MetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", monitoring.Handler())

	r.Get("/ws", ws.ServeWS)
	r.Get("/leaderboard", rest.Leaderboard)
	r.Get("/users/{userID}/results/latest", rest.LatestResult)
	r.Get("/analytics/questions", rest.QuestionStats)

	r.Route("/questions", func(r chi.Router) {
		r.Get("/", rest.ListQuestions)
		r.Post("/", rest.CreateQuestion)
		r.Put("/{questionID}", rest.UpdateQuestion)
		r.Delete("/{questionID}", rest.DeleteQuestion)
	})
	return r
}
