package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// httpStatusFor maps a canonical result onto an HTTP status. Every result is
// still carried verbatim in the response body.
func httpStatusFor(code models.ResultCode) int {
	switch code {
	case models.ResultSuccess:
		return http.StatusOK
	case models.ResultAlreadyInUse, models.ResultAlreadyReserved, models.ResultReserved, models.ResultNoEVSEsAvailable:
		return http.StatusConflict
	case models.ResultUnknownEVSE, models.ResultUnknownChargingStation,
		models.ResultUnknownReservationID, models.ResultUnknownChargingReservationID,
		models.ResultInvalidSessionID:
		return http.StatusNotFound
	case models.ResultOutOfService, models.ResultOffline:
		return http.StatusServiceUnavailable
	case models.ResultTimeout, models.ResultStartTimeout:
		return http.StatusGatewayTimeout
	case models.ResultCommunicationError:
		return http.StatusBadGateway
	case models.ResultInvalidCredentials:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
