package evse

import (
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
)

// ErrMissingSessionID signals caller misuse: the identifier is required.
var ErrMissingSessionID = errors.New("evse: session id is required")

// StartRequest asks to begin charging on the socket.
type StartRequest struct {
	// SessionID, when set, becomes the session identity (e.g. assigned by the
	// remote backend). Empty means generate one.
	SessionID      models.SessionID
	ReservationID  models.ReservationID
	ProviderID     models.ProviderID
	Identification models.Identification
	Product        *models.ChargingProduct
}

// StartResult is the canonical outcome of a remote start.
type StartResult struct {
	Code    models.ResultCode
	Session *models.Session
}

// StopResult is the canonical outcome of a remote stop.
type StopResult struct {
	Code    models.ResultCode
	Session *models.Session
}

// StartSession creates the charging session, consuming a matching reservation.
// Starting against a reservation held by someone else yields Reserved.
func (n *Node) StartSession(req StartRequest) StartResult {
	n.mu.Lock()
	now := n.nowFn().UTC()
	cur := n.schedule.Current().Value

	if cur == models.StatusCharging || n.session != nil {
		n.mu.Unlock()
		return StartResult{Code: models.ResultAlreadyInUse}
	}
	if code := availabilityCode(cur); code != models.ResultSuccess {
		n.mu.Unlock()
		return StartResult{Code: code}
	}

	var superseded *models.Reservation
	if n.reservation != nil {
		if req.ReservationID != n.reservation.ID {
			n.mu.Unlock()
			return StartResult{Code: models.ResultReserved}
		}
		consumed := n.removeReservationLocked()
		superseded = &consumed
	}

	sess := models.Session{
		ID:             req.SessionID,
		EVSEID:         n.id,
		ReservationID:  req.ReservationID,
		ProviderID:     req.ProviderID,
		Identification: req.Identification,
		Product:        req.Product,
		StartedAt:      now,
	}
	if sess.ID == "" {
		sess.ID = models.SessionID(uuid.NewString())
	}

	n.session = &sess
	n.applyEnforcedStatusLocked()
	result := sess
	n.mu.Unlock()

	n.logger.Info("session started",
		zap.String("session_id", string(result.ID)),
		zap.String("reservation_id", string(result.ReservationID)))
	if n.sink != nil {
		if superseded != nil {
			n.sink.ReservationCancelled(*superseded, models.CancelSuperseded)
		}
		n.sink.SessionStarted(result)
	}
	return StartResult{Code: models.ResultSuccess, Session: &result}
}

// PrecheckStart runs the same state checks as StartSession without mutating
// anything. Used before a remote round trip.
func (n *Node) PrecheckStart(req StartRequest) models.ResultCode {
	n.mu.Lock()
	defer n.mu.Unlock()

	cur := n.schedule.Current().Value
	if cur == models.StatusCharging || n.session != nil {
		return models.ResultAlreadyInUse
	}
	if code := availabilityCode(cur); code != models.ResultSuccess {
		return code
	}
	if n.reservation != nil && req.ReservationID != n.reservation.ID {
		return models.ResultReserved
	}
	return models.ResultSuccess
}

// StopSession ends the live session. A stop without a live session, or with a
// foreign id, yields InvalidSessionId.
func (n *Node) StopSession(sessionID models.SessionID) (StopResult, error) {
	if sessionID == "" {
		return StopResult{}, ErrMissingSessionID
	}

	n.mu.Lock()
	if n.session == nil || n.session.ID != sessionID {
		n.mu.Unlock()
		return StopResult{Code: models.ResultInvalidSessionID}, nil
	}

	stopped := *n.session
	stopped.EndedAt = n.nowFn().UTC()
	n.session = nil
	n.applyEnforcedStatusLocked()
	n.mu.Unlock()

	n.logger.Info("session stopped", zap.String("session_id", string(stopped.ID)))
	if n.sink != nil {
		n.sink.SessionStopped(stopped)
	}
	return StopResult{Code: models.ResultSuccess, Session: &stopped}, nil
}

// HasSession reports whether the given id matches the live session. Used for
// the local validation pass before a remote stop.
func (n *Node) HasSession(sessionID models.SessionID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.session != nil && n.session.ID == sessionID
}
