package evse

import (
	"time"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
)

// EventSink observes node lifecycle events. Implementations must not call
// back into the node that raised the event.
type EventSink interface {
	StatusChanged(evseID models.EVSEID, timestamp time.Time, eventTrackingID string, previous, current models.EVSEStatus)
	ReservationCreated(reservation models.Reservation)
	ReservationCancelled(reservation models.Reservation, reason models.CancelReason)
	SessionStarted(session models.Session)
	SessionStopped(session models.Session)
}

// MultiSink fans events out to an ordered list of sinks. All sinks run.
type MultiSink []EventSink

func (m MultiSink) StatusChanged(evseID models.EVSEID, timestamp time.Time, eventTrackingID string, previous, current models.EVSEStatus) {
	for _, s := range m {
		s.StatusChanged(evseID, timestamp, eventTrackingID, previous, current)
	}
}

func (m MultiSink) ReservationCreated(reservation models.Reservation) {
	for _, s := range m {
		s.ReservationCreated(reservation)
	}
}

func (m MultiSink) ReservationCancelled(reservation models.Reservation, reason models.CancelReason) {
	for _, s := range m {
		s.ReservationCancelled(reservation, reason)
	}
}

func (m MultiSink) SessionStarted(session models.Session) {
	for _, s := range m {
		s.SessionStarted(session)
	}
}

func (m MultiSink) SessionStopped(session models.Session) {
	for _, s := range m {
		s.SessionStopped(session)
	}
}
