package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter assembles the console's HTTP surface: the REST API, the
// frame fanout websocket, health and metrics.
func NewRouter(h *Handler, hub *FrameHub) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// The websocket endpoint stays outside the timeout middleware.
	r.Get("/ws/frames", hub.ServeWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(30 * time.Second))

		r.Get("/cameras", h.GetCameras)
		r.Post("/cameras/{id}/start", h.StartCamera)
		r.Post("/cameras/{id}/stop", h.StopCamera)

		r.Get("/tracker/status", h.GetTrackerStatus)
		r.Post("/tracker/start", h.StartTracker)
		r.Post("/tracker/stop", h.StopTracker)

		r.Get("/stream", h.GetStream)
		r.Post("/stream", h.ConnectStream)
		r.Delete("/stream", h.DisconnectStream)

		r.Get("/notifications", h.ListNotifications)
		r.Delete("/notifications/{id}", h.DismissNotification)
	})

	return r
}
