package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"quizlive/internal/app"
	"quizlive/internal/metrics"
)

// RouterDeps carries everything the HTTP surface needs.
type RouterDeps struct {
	Coordinator *app.Coordinator
	Gatherer    prometheus.Gatherer // nil disables /metrics
	RateLimiter *RateLimiter        // nil disables rate limiting
	Log         *slog.Logger
}

// NewRouter wires the REST command API, the SSE event stream, the
// websocket player channel and the operational endpoints.
func NewRouter(deps RouterDeps) http.Handler {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	api := NewAPIHandler(deps.Coordinator, deps.Log)
	sse := NewSSEHandler(deps.Coordinator, deps.Log)
	ws := NewWSHandler(deps.Coordinator, deps.Log)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/api/quizzes", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware)
		}
		r.Post("/", api.CreateQuiz)
		r.Route("/{quizID}", func(r chi.Router) {
			r.Get("/", api.GetSnapshot)
			r.Get("/leaderboard", api.GetLeaderboard)
			r.Get("/events", sse.ServeEvents)
			r.Post("/questions", api.AddQuestion)
			r.Post("/players", api.JoinPlayer)
			r.Post("/start", api.StartQuiz)
			r.Post("/advance", api.AdvanceQuestion)
			r.Post("/answers", api.SubmitAnswer)
		})
	})

	r.Get("/ws", ws.ServeWS)

	return r
}
