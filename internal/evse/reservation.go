package evse

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
)

// ErrMissingReservationID signals caller misuse: the identifier is required.
var ErrMissingReservationID = errors.New("evse: reservation id is required")

// ReserveRequest asks for a time-boxed hold on the socket.
type ReserveRequest struct {
	// ReservationID, when set, refers to an existing reservation the caller
	// wants to re-issue or update. It is not the identity of a new hold.
	ReservationID models.ReservationID
	// AssignedID, when set, becomes the identity of a newly created hold
	// (e.g. the id the remote backend assigned). Empty means generate one.
	AssignedID models.ReservationID

	Level            models.ReservationLevel
	StartTime        time.Time
	Duration         time.Duration
	ProviderID       models.ProviderID
	Identification   models.Identification
	Product          *models.ChargingProduct
	PIN              string
	AuthorizedRFIDs  []string
	AuthorizedEMAIDs []string
}

// ReserveResult is the canonical outcome of a reserve call.
type ReserveResult struct {
	Code        models.ResultCode
	Reservation *models.Reservation
}

// CancelResult is the canonical outcome of a cancellation.
type CancelResult struct {
	Code        models.ResultCode
	Reservation *models.Reservation
}

// Reserve runs the reservation state machine against the current status.
// A request carrying the id of the live reservation is an idempotent
// re-issue; any other non-empty ReservationID is unknown.
func (n *Node) Reserve(req ReserveRequest) ReserveResult {
	n.mu.Lock()
	now := n.nowFn().UTC()
	cur := n.schedule.Current().Value

	if cur == models.StatusCharging || n.session != nil {
		n.mu.Unlock()
		return ReserveResult{Code: models.ResultAlreadyInUse}
	}
	if code := availabilityCode(cur); code != models.ResultSuccess {
		n.mu.Unlock()
		return ReserveResult{Code: code}
	}

	if req.ReservationID != "" {
		// "no existing reservation" is its own case, never a nil dereference.
		if n.reservation == nil || n.reservation.ID != req.ReservationID {
			n.mu.Unlock()
			return ReserveResult{Code: models.ResultUnknownChargingReservationID}
		}
		updated := *n.reservation
		if !req.StartTime.IsZero() {
			updated.StartTime = req.StartTime.UTC()
		}
		if req.Duration > 0 {
			updated.Duration = n.capDuration(req.Duration)
		}
		n.reservation = &updated
		result := updated
		n.mu.Unlock()
		return ReserveResult{Code: models.ResultSuccess, Reservation: &result}
	}

	if n.reservation != nil {
		n.mu.Unlock()
		return ReserveResult{Code: models.ResultAlreadyReserved}
	}

	res := models.Reservation{
		ID:               req.AssignedID,
		Level:            req.Level,
		EVSEID:           n.id,
		StationID:        n.stationID,
		StartTime:        req.StartTime.UTC(),
		Duration:         n.capDuration(req.Duration),
		ProviderID:       req.ProviderID,
		Identification:   req.Identification,
		Product:          req.Product,
		PIN:              req.PIN,
		AuthorizedRFIDs:  req.AuthorizedRFIDs,
		AuthorizedEMAIDs: req.AuthorizedEMAIDs,
	}
	if res.ID == "" {
		res.ID = NewReservationID(n.operatorID)
	}
	if res.Level == "" {
		res.Level = models.LevelEVSE
	}
	if req.StartTime.IsZero() {
		res.StartTime = now
	}

	n.reservation = &res
	n.applyEnforcedStatusLocked()
	result := res
	n.mu.Unlock()

	n.logger.Info("reservation created",
		zap.String("reservation_id", string(res.ID)),
		zap.Duration("duration", res.Duration))
	if n.sink != nil {
		n.sink.ReservationCreated(result)
	}
	return ReserveResult{Code: models.ResultSuccess, Reservation: &result}
}

// PrecheckReserve runs the same state checks as Reserve without mutating
// anything. Used before a remote round trip.
func (n *Node) PrecheckReserve(req ReserveRequest) models.ResultCode {
	n.mu.Lock()
	defer n.mu.Unlock()

	cur := n.schedule.Current().Value
	if cur == models.StatusCharging || n.session != nil {
		return models.ResultAlreadyInUse
	}
	if code := availabilityCode(cur); code != models.ResultSuccess {
		return code
	}
	if req.ReservationID != "" {
		if n.reservation == nil || n.reservation.ID != req.ReservationID {
			return models.ResultUnknownChargingReservationID
		}
		return models.ResultSuccess
	}
	if n.reservation != nil {
		return models.ResultAlreadyReserved
	}
	return models.ResultSuccess
}

// CancelReservation removes the live reservation. Cancelling when nothing is
// reserved succeeds; a non-matching id is unknown.
func (n *Node) CancelReservation(id models.ReservationID, reason models.CancelReason) (CancelResult, error) {
	if id == "" {
		return CancelResult{}, ErrMissingReservationID
	}

	n.mu.Lock()
	if n.reservation == nil {
		n.mu.Unlock()
		return CancelResult{Code: models.ResultSuccess}, nil
	}
	if n.reservation.ID != id {
		n.mu.Unlock()
		return CancelResult{Code: models.ResultUnknownReservationID}, nil
	}

	cancelled := n.removeReservationLocked()
	n.mu.Unlock()

	n.logger.Info("reservation cancelled",
		zap.String("reservation_id", string(cancelled.ID)),
		zap.String("reason", string(reason)))
	if n.sink != nil {
		n.sink.ReservationCancelled(cancelled, reason)
	}
	return CancelResult{Code: models.ResultSuccess, Reservation: &cancelled}, nil
}

// ExpireReservation cancels the live reservation when it has outlived its
// duration plus the given grace. Returns the cancelled reservation when a
// sweep actually expired one.
func (n *Node) ExpireReservation(now time.Time, grace time.Duration) (models.Reservation, bool) {
	n.mu.Lock()
	if n.reservation == nil || !n.reservation.ExpiredAt(now, grace) {
		n.mu.Unlock()
		return models.Reservation{}, false
	}
	cancelled := n.removeReservationLocked()
	n.mu.Unlock()

	n.logger.Info("reservation expired", zap.String("reservation_id", string(cancelled.ID)))
	if n.sink != nil {
		n.sink.ReservationCancelled(cancelled, models.CancelExpired)
	}
	return cancelled, true
}

// removeReservationLocked clears the reservation, books consumed time and
// re-applies the enforced status.
func (n *Node) removeReservationLocked() models.Reservation {
	cancelled := *n.reservation
	consumed := n.nowFn().UTC().Sub(cancelled.StartTime)
	if consumed < 0 {
		consumed = 0
	}
	if consumed > cancelled.Duration {
		consumed = cancelled.Duration
	}
	cancelled.ConsumedTime = consumed

	n.reservation = nil
	n.applyEnforcedStatusLocked()
	return cancelled
}

func (n *Node) capDuration(d time.Duration) time.Duration {
	if d <= 0 || d > n.maxReservationDuration {
		return n.maxReservationDuration
	}
	return d
}

const reservationIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewReservationID builds an operator-prefixed id with a random 25-char suffix.
func NewReservationID(operator models.OperatorID) models.ReservationID {
	buf := make([]byte, 25)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("evse: reservation id entropy: %v", err))
	}
	for i, b := range buf {
		buf[i] = reservationIDAlphabet[int(b)%len(reservationIDAlphabet)]
	}
	return models.ReservationID(fmt.Sprintf("%s*R%s", operator, buf))
}
