package remote

import (
	"strings"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
)

// Vendor error vocabulary, demultiplexed into the canonical result taxonomy.
// Codes not present in these tables fall through to ResultError so callers
// always get a terminal result.

// reservationCodeResult maps the errorCode of a reservation reply. The in-use
// code depends on the reservation level: at station level the backend could
// not find any free socket.
func reservationCodeResult(code string, level models.ReservationLevel) models.ResultCode {
	switch code {
	case "RESERVATION_EVSE_IN_USE":
		if level == models.LevelStation {
			return models.ResultNoEVSEsAvailable
		}
		return models.ResultAlreadyInUse
	case "LOCATION_NOT_REACHABLE":
		return models.ResultOffline
	case "LOCATION_ID_UNKNOWN":
		return models.ResultUnknownChargingStation
	default:
		return models.ResultError
	}
}

// descriptionResults maps the textual description field of 409/401 replies.
var descriptionResults = map[string]models.ResultCode{
	"EVSE is already in use!":  models.ResultAlreadyInUse,
	"EVSE is reserved!":        models.ResultReserved,
	"Missing reservation id!":  models.ResultReserved,
	"Invalid reservation id!":  models.ResultReserved,
	"EVSE is out of service!":  models.ResultOutOfService,
	"Session is invalid!":      models.ResultInvalidSessionID,
	"Session id already used!": models.ResultInvalidSessionID,
}

func descriptionResult(description string) (models.ResultCode, bool) {
	code, ok := descriptionResults[strings.TrimSpace(description)]
	return code, ok
}

// startResultCodes maps remote-start acknowledgement codes.
var startResultCodes = map[string]models.ResultCode{
	"Success":                models.ResultSuccess,
	"EVSE_AlreadyInUse":      models.ResultAlreadyInUse,
	"SessionId_AlreadyInUse": models.ResultInvalidSessionID,
	"EVSE_Unknown":           models.ResultUnknownEVSE,
	"EVSE_NotReachable":      models.ResultOffline,
	"Start_Timeout":          models.ResultStartTimeout,
}

// vendorStatuses maps status-poll values to canonical EVSE statuses.
var vendorStatuses = map[string]models.EVSEStatus{
	"AVAILABLE":      models.StatusAvailable,
	"RESERVED":       models.StatusReserved,
	"CHARGING":       models.StatusCharging,
	"OUTOFSERVICE":   models.StatusOutOfService,
	"OUT_OF_SERVICE": models.StatusOutOfService,
	"OFFLINE":        models.StatusOffline,
	"UNKNOWN":        models.StatusUnspecified,
}

func vendorStatus(value string) (models.EVSEStatus, bool) {
	st, ok := vendorStatuses[strings.ToUpper(strings.TrimSpace(value))]
	return st, ok
}
