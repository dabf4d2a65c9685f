package ws

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/evse"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
)

var _ evse.EventSink = (*Broadcaster)(nil)

// Event types carried in the stream envelope.
const (
	EventStatusChanged        = "status_changed"
	EventReservationCreated   = "reservation_created"
	EventReservationCancelled = "reservation_cancelled"
	EventSessionStarted       = "session_started"
	EventSessionStopped       = "session_stopped"
)

// Envelope is the wire form of one stream event.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// StatusChangePayload describes one status transition.
type StatusChangePayload struct {
	EVSEID          models.EVSEID     `json:"evse_id"`
	EventTrackingID string            `json:"event_tracking_id"`
	Previous        models.EVSEStatus `json:"previous"`
	Current         models.EVSEStatus `json:"current"`
	Timestamp       time.Time         `json:"timestamp"`
}

// ReservationPayload wraps a reservation with the cancel reason when one applies.
type ReservationPayload struct {
	Reservation models.Reservation  `json:"reservation"`
	Reason      models.CancelReason `json:"reason,omitempty"`
}

// Broadcaster turns node lifecycle events into stream messages. It satisfies
// the event sink contract: it never calls back into the raising node, it only
// marshals and enqueues.
type Broadcaster struct {
	hub    *Hub
	logger *zap.Logger
	nowFn  func() time.Time
}

// NewBroadcaster builds the event broadcaster.
func NewBroadcaster(hub *Hub, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{hub: hub, logger: logger, nowFn: time.Now}
}

func (b *Broadcaster) StatusChanged(evseID models.EVSEID, timestamp time.Time, eventTrackingID string, previous, current models.EVSEStatus) {
	b.publish(EventStatusChanged, StatusChangePayload{
		EVSEID:          evseID,
		EventTrackingID: eventTrackingID,
		Previous:        previous,
		Current:         current,
		Timestamp:       timestamp,
	})
}

func (b *Broadcaster) ReservationCreated(reservation models.Reservation) {
	b.publish(EventReservationCreated, ReservationPayload{Reservation: reservation})
}

func (b *Broadcaster) ReservationCancelled(reservation models.Reservation, reason models.CancelReason) {
	b.publish(EventReservationCancelled, ReservationPayload{Reservation: reservation, Reason: reason})
}

func (b *Broadcaster) SessionStarted(session models.Session) {
	b.publish(EventSessionStarted, session)
}

func (b *Broadcaster) SessionStopped(session models.Session) {
	b.publish(EventSessionStopped, session)
}

func (b *Broadcaster) publish(eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("failed to marshal event payload", zap.String("type", eventType), zap.Error(err))
		return
	}
	msg, err := json.Marshal(Envelope{Type: eventType, Timestamp: b.nowFn().UTC(), Payload: raw})
	if err != nil {
		b.logger.Error("failed to marshal event envelope", zap.String("type", eventType), zap.Error(err))
		return
	}
	b.hub.Broadcast(msg)
}
