package models

import "time"

// Identifier types shared across the fleet core.
type (
	EVSEID        string
	StationID     string
	OperatorID    string
	ProviderID    string
	ReservationID string
	SessionID     string
)

// EVSEStatus is the canonical, backend-independent status of one socket.
type EVSEStatus string

const (
	StatusUnspecified  EVSEStatus = "Unspecified"
	StatusAvailable    EVSEStatus = "Available"
	StatusReserved     EVSEStatus = "Reserved"
	StatusCharging     EVSEStatus = "Charging"
	StatusOutOfService EVSEStatus = "OutOfService"
	StatusOffline      EVSEStatus = "Offline"
)

// ResultCode is the canonical outcome vocabulary returned by every core operation.
// Predictable failures are values of this type, never raised errors.
type ResultCode string

const (
	ResultSuccess                      ResultCode = "Success"
	ResultAlreadyInUse                 ResultCode = "AlreadyInUse"
	ResultAlreadyReserved              ResultCode = "AlreadyReserved"
	ResultReserved                     ResultCode = "Reserved"
	ResultInvalidSessionID             ResultCode = "InvalidSessionId"
	ResultUnknownChargingReservationID ResultCode = "UnknownChargingReservationId"
	ResultUnknownReservationID         ResultCode = "UnknownReservationId"
	ResultOutOfService                 ResultCode = "OutOfService"
	ResultOffline                      ResultCode = "Offline"
	ResultUnknownEVSE                  ResultCode = "UnknownEVSE"
	ResultUnknownChargingStation       ResultCode = "UnknownChargingStation"
	ResultNoEVSEsAvailable             ResultCode = "NoEVSEsAvailable"
	ResultStartTimeout                 ResultCode = "StartTimeout"
	ResultTimeout                      ResultCode = "Timeout"
	ResultCommunicationError           ResultCode = "CommunicationError"
	ResultInvalidCredentials           ResultCode = "InvalidCredentials"
	ResultError                        ResultCode = "Error"
)

// CancelReason explains why a reservation was removed.
type CancelReason string

const (
	CancelRequested  CancelReason = "Requested"
	CancelExpired    CancelReason = "Expired"
	CancelSuperseded CancelReason = "Superseded"
)

// ReservationLevel distinguishes a hold on one concrete socket from a hold
// placed at station level and realized against a chosen socket.
type ReservationLevel string

const (
	LevelEVSE    ReservationLevel = "EVSE"
	LevelStation ReservationLevel = "Station"
)

// Identification carries the requester identity presented to the backend.
type Identification struct {
	RFIDID string `json:"rfid_id,omitempty"`
	EMAID  string `json:"ema_id,omitempty"`
}

// IsEmpty reports whether no identity was presented.
func (i Identification) IsEmpty() bool {
	return i.RFIDID == "" && i.EMAID == ""
}

// ChargingProduct references the tariff/product the session or reservation runs under.
type ChargingProduct struct {
	ID string `json:"id"`
}

// Reservation is a time-boxed hold on one EVSE.
type Reservation struct {
	ID               ReservationID    `json:"id"`
	Level            ReservationLevel `json:"level"`
	EVSEID           EVSEID           `json:"evse_id"`
	StationID        StationID        `json:"station_id,omitempty"`
	StartTime        time.Time        `json:"start_time"`
	Duration         time.Duration    `json:"duration"`
	ConsumedTime     time.Duration    `json:"consumed_time"`
	ProviderID       ProviderID       `json:"provider_id,omitempty"`
	Identification   Identification   `json:"identification"`
	Product          *ChargingProduct `json:"product,omitempty"`
	PIN              string           `json:"pin,omitempty"`
	AuthorizedRFIDs  []string         `json:"authorized_rfids,omitempty"`
	AuthorizedEMAIDs []string         `json:"authorized_emaids,omitempty"`
}

// EndTime is the nominal end of the hold.
func (r Reservation) EndTime() time.Time {
	return r.StartTime.Add(r.Duration)
}

// ExpiredAt reports whether the reservation has outlived its duration plus grace at the given instant.
func (r Reservation) ExpiredAt(now time.Time, grace time.Duration) bool {
	return now.After(r.StartTime.Add(r.Duration + grace))
}

// Session is the record of an active or completed charging event on one EVSE.
type Session struct {
	ID             SessionID        `json:"id"`
	EVSEID         EVSEID           `json:"evse_id"`
	ReservationID  ReservationID    `json:"reservation_id,omitempty"`
	ProviderID     ProviderID       `json:"provider_id,omitempty"`
	Identification Identification   `json:"identification"`
	Product        *ChargingProduct `json:"product,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	EndedAt        time.Time        `json:"ended_at,omitempty"`
	EnergyKWh      float64          `json:"energy_kwh,omitempty"`
}

// Active reports whether the session has not been stopped yet.
func (s Session) Active() bool {
	return s.EndedAt.IsZero()
}
