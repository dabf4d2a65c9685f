package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/repository"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/station"
)

type evseSummary struct {
	ID          models.EVSEID       `json:"id"`
	Status      models.EVSEStatus   `json:"status"`
	Reservation *models.Reservation `json:"reservation,omitempty"`
	Session     *models.Session     `json:"session,omitempty"`
}

// NewListEVSEsHandler returns GET /v1/evses handler.
func NewListEVSEsHandler(proxy *station.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodes := proxy.EVSEs()
		summaries := make([]evseSummary, 0, len(nodes))
		for _, node := range nodes {
			summary := evseSummary{
				ID:     node.ID(),
				Status: node.Status().Value,
			}
			if res, ok := node.Reservation(); ok {
				summary.Reservation = &res
			}
			if session, ok := node.Session(); ok {
				summary.Session = &session
			}
			summaries = append(summaries, summary)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"station_id": proxy.ID(),
			"evses":      summaries,
		})
	}
}

// NewEVSEStatusHandler returns GET /v1/evses/{evseID}/status handler.
func NewEVSEStatusHandler(proxy *station.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		node, ok := proxy.EVSE(models.EVSEID(chi.URLParam(r, "evseID")))
		if !ok {
			writeJSON(w, http.StatusNotFound, resultResponse{Result: models.ResultUnknownEVSE})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"evse_id": node.ID(),
			"current": node.Status(),
			"history": node.StatusHistory(),
		})
	}
}

// NewEVSESessionsHandler returns GET /v1/evses/{evseID}/sessions handler
// backed by the session archive.
func NewEVSESessionsHandler(proxy *station.Proxy, repo *repository.SessionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		evseID := models.EVSEID(chi.URLParam(r, "evseID"))
		if _, ok := proxy.EVSE(evseID); !ok {
			writeJSON(w, http.StatusNotFound, resultResponse{Result: models.ResultUnknownEVSE})
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		sessions, err := repo.SessionsByEVSE(r.Context(), evseID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch sessions")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"evse_id":  evseID,
			"sessions": sessions,
		})
	}
}

// NewHealthHandler returns GET /healthz handler.
func NewHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
