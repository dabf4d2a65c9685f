package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/evse"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/station"
)

type reserveRequest struct {
	ReservationID    string                `json:"reservation_id,omitempty"`
	DurationSeconds  int64                 `json:"duration_seconds,omitempty"`
	ProviderID       string                `json:"provider_id,omitempty"`
	Identification   models.Identification `json:"identification"`
	ProductID        string                `json:"product_id,omitempty"`
	AuthorizedRFIDs  []string              `json:"authorized_rfids,omitempty"`
	AuthorizedEMAIDs []string              `json:"authorized_emaids,omitempty"`
}

func (r reserveRequest) toDomain() evse.ReserveRequest {
	req := evse.ReserveRequest{
		ReservationID:    models.ReservationID(r.ReservationID),
		Duration:         time.Duration(r.DurationSeconds) * time.Second,
		ProviderID:       models.ProviderID(r.ProviderID),
		Identification:   r.Identification,
		AuthorizedRFIDs:  r.AuthorizedRFIDs,
		AuthorizedEMAIDs: r.AuthorizedEMAIDs,
	}
	if r.ProductID != "" {
		req.Product = &models.ChargingProduct{ID: r.ProductID}
	}
	return req
}

type startRequest struct {
	SessionID      string                `json:"session_id,omitempty"`
	ReservationID  string                `json:"reservation_id,omitempty"`
	ProviderID     string                `json:"provider_id,omitempty"`
	Identification models.Identification `json:"identification"`
	ProductID      string                `json:"product_id,omitempty"`
}

type stopRequest struct {
	SessionID           string                `json:"session_id"`
	ProviderID          string                `json:"provider_id,omitempty"`
	Identification      models.Identification `json:"identification"`
	ReservationHandling string                `json:"reservation_handling,omitempty"`
}

type resultResponse struct {
	Result      models.ResultCode   `json:"result"`
	Reservation *models.Reservation `json:"reservation,omitempty"`
	Session     *models.Session     `json:"session,omitempty"`
}

// NewReserveEVSEHandler returns POST /v1/evses/{evseID}/reservation handler.
func NewReserveEVSEHandler(proxy *station.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		evseID := models.EVSEID(chi.URLParam(r, "evseID"))
		var body reserveRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		result := proxy.Reserve(r.Context(), evseID, body.toDomain())
		writeJSON(w, httpStatusFor(result.Code), resultResponse{
			Result:      result.Code,
			Reservation: result.Reservation,
		})
	}
}

// NewReserveStationHandler returns POST /v1/stations/{stationID}/reservation handler.
func NewReserveStationHandler(proxy *station.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stationID := models.StationID(chi.URLParam(r, "stationID"))
		if stationID != proxy.ID() {
			writeJSON(w, http.StatusNotFound, resultResponse{Result: models.ResultUnknownChargingStation})
			return
		}
		var body reserveRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		result := proxy.ReserveStation(r.Context(), body.toDomain())
		writeJSON(w, httpStatusFor(result.Code), resultResponse{
			Result:      result.Code,
			Reservation: result.Reservation,
		})
	}
}

// NewCancelReservationHandler returns DELETE /v1/reservations/{reservationID} handler.
func NewCancelReservationHandler(proxy *station.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := models.ReservationID(chi.URLParam(r, "reservationID"))
		result, err := proxy.CancelReservation(r.Context(), id, models.CancelRequested)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, httpStatusFor(result.Code), resultResponse{
			Result:      result.Code,
			Reservation: result.Reservation,
		})
	}
}

// NewRemoteStartHandler returns POST /v1/evses/{evseID}/start handler.
func NewRemoteStartHandler(proxy *station.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		evseID := models.EVSEID(chi.URLParam(r, "evseID"))
		var body startRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req := evse.StartRequest{
			SessionID:      models.SessionID(body.SessionID),
			ReservationID:  models.ReservationID(body.ReservationID),
			ProviderID:     models.ProviderID(body.ProviderID),
			Identification: body.Identification,
		}
		if body.ProductID != "" {
			req.Product = &models.ChargingProduct{ID: body.ProductID}
		}
		result := proxy.RemoteStart(r.Context(), evseID, req)
		writeJSON(w, httpStatusFor(result.Code), resultResponse{
			Result:  result.Code,
			Session: result.Session,
		})
	}
}

// NewRemoteStopHandler returns POST /v1/evses/{evseID}/stop handler.
func NewRemoteStopHandler(proxy *station.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		evseID := models.EVSEID(chi.URLParam(r, "evseID"))
		var body stopRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		result, err := proxy.RemoteStop(r.Context(), station.StopRequest{
			EVSEID:              evseID,
			SessionID:           models.SessionID(body.SessionID),
			ProviderID:          models.ProviderID(body.ProviderID),
			Identification:      body.Identification,
			ReservationHandling: body.ReservationHandling,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, httpStatusFor(result.Code), resultResponse{
			Result:  result.Code,
			Session: result.Session,
		})
	}
}
