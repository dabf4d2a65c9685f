// Package remote translates canonical fleet operations into a vendor's
// HTTP/JSON dialect and vendor replies back into canonical results. It is the
// sole boundary converting transport and parse failures into result values;
// nothing above it observes a raw transport error from a remote call.
package remote

import (
	"context"
	"time"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
)

// ProtocolClient is the backend-independent contract the station proxy talks
// to. One implementation exists per vendor dialect; Client implements the
// dialect documented in this package. Methods return an error only for caller
// misuse (missing required identifiers); every remote outcome, including
// timeouts, is a ResultCode inside the response.
type ProtocolClient interface {
	ReserveEVSE(ctx context.Context, req ReserveEVSERequest) (ReserveResponse, error)
	ReserveStation(ctx context.Context, req ReserveStationRequest) (ReserveResponse, error)
	CancelReservation(ctx context.Context, id models.ReservationID) (CancelResponse, error)
	RemoteStart(ctx context.Context, req StartRequest) (StartResponse, error)
	RemoteStop(ctx context.Context, req StopRequest) (StopResponse, error)
	GetEVSEStatus(ctx context.Context) ([]EVSEStatusRecord, error)
}

// ReserveEVSERequest reserves one concrete socket.
type ReserveEVSERequest struct {
	EVSEID           models.EVSEID
	ReservationID    models.ReservationID
	Duration         time.Duration
	ProviderID       models.ProviderID
	Identification   models.Identification
	ProductID        string
	AuthorizedRFIDs  []string
	AuthorizedEMAIDs []string
}

// ReserveStationRequest reserves one socket chosen by the backend.
type ReserveStationRequest struct {
	StationID        models.StationID
	ReservationID    models.ReservationID
	Duration         time.Duration
	ProviderID       models.ProviderID
	Identification   models.Identification
	ProductID        string
	AuthorizedRFIDs  []string
	AuthorizedEMAIDs []string
}

// ReserveResponse carries the canonical outcome of a reservation attempt.
// EVSEID is the local identifier of the reserved socket (already mapped back
// from the remote vocabulary).
type ReserveResponse struct {
	Code          models.ResultCode
	ReservationID models.ReservationID
	EVSEID        models.EVSEID
	PIN           string
	StartTime     time.Time
	Duration      time.Duration
	Detail        string
}

// CancelResponse carries the canonical outcome of a cancellation.
type CancelResponse struct {
	Code   models.ResultCode
	Detail string
}

// StartRequest starts charging on one socket.
type StartRequest struct {
	EVSEID         models.EVSEID
	SessionID      models.SessionID
	ReservationID  models.ReservationID
	ProviderID     models.ProviderID
	Identification models.Identification
	ProductID      string
}

// StartResponse carries the canonical outcome of a remote start.
type StartResponse struct {
	Code      models.ResultCode
	SessionID models.SessionID
	Detail    string
}

// StopRequest stops the running session on one socket. EMAID and SessionID
// are required by the dialect. ReservationHandling is either "close" or the
// number of seconds to keep a follow-up reservation alive.
type StopRequest struct {
	EVSEID              models.EVSEID
	SessionID           models.SessionID
	Identification      models.Identification
	ProviderID          models.ProviderID
	ReservationHandling string
}

// StopResponse carries the canonical outcome of a remote stop.
type StopResponse struct {
	Code   models.ResultCode
	Detail string
}

// EVSEStatusRecord is one entry of a status poll, keyed by the local EVSE id.
type EVSEStatusRecord struct {
	EVSEID    models.EVSEID
	Status    models.EVSEStatus
	Timestamp time.Time
}
