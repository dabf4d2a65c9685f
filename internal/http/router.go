package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/http/middleware"
)

// Routes groups handlers. Nil handlers leave their endpoint unregistered.
type Routes struct {
	ReserveEVSE       http.HandlerFunc
	ReserveStation    http.HandlerFunc
	CancelReservation http.HandlerFunc
	RemoteStart       http.HandlerFunc
	RemoteStop        http.HandlerFunc
	ListEVSEs         http.HandlerFunc
	EVSEStatus        http.HandlerFunc
	EVSESessions      http.HandlerFunc
	Events            http.HandlerFunc
	Health            http.HandlerFunc
}

// NewRouter registers endpoints. A non-empty jwtSecret puts the management
// API behind bearer authentication; health and the event stream stay open.
func NewRouter(routes Routes, jwtSecret string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	if routes.Health != nil {
		r.Get("/healthz", routes.Health)
	}
	if routes.Events != nil {
		r.Get("/v1/events", routes.Events)
	}

	r.Route("/v1", func(r chi.Router) {
		if jwtSecret != "" {
			r.Use(middleware.AuthMiddleware(jwtSecret))
		}
		if routes.ListEVSEs != nil {
			r.Get("/evses", routes.ListEVSEs)
		}
		if routes.EVSEStatus != nil {
			r.Get("/evses/{evseID}/status", routes.EVSEStatus)
		}
		if routes.EVSESessions != nil {
			r.Get("/evses/{evseID}/sessions", routes.EVSESessions)
		}
		if routes.ReserveEVSE != nil {
			r.Post("/evses/{evseID}/reservation", routes.ReserveEVSE)
		}
		if routes.ReserveStation != nil {
			r.Post("/stations/{stationID}/reservation", routes.ReserveStation)
		}
		if routes.CancelReservation != nil {
			r.Delete("/reservations/{reservationID}", routes.CancelReservation)
		}
		if routes.RemoteStart != nil {
			r.Post("/evses/{evseID}/start", routes.RemoteStart)
		}
		if routes.RemoteStop != nil {
			r.Post("/evses/{evseID}/stop", routes.RemoteStop)
		}
	})

	return r
}
