// Package evse implements the per-socket state machine: a status schedule plus
// the reservation and session ledgers built on top of it.
package evse

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/status"
)

// DefaultMaxReservationDuration caps a reservation's nominal duration.
const DefaultMaxReservationDuration = 15 * time.Minute

// Config describes one EVSE node.
type Config struct {
	ID                     models.EVSEID
	StationID              models.StationID
	OperatorID             models.OperatorID
	MaxReservationDuration time.Duration
	StatusListSize         int
	Sink                   EventSink
	Logger                 *zap.Logger
}

// Node is one independently chargeable socket. All operations on a node are
// serialized by its mutex; operations on different nodes run in parallel.
type Node struct {
	id         models.EVSEID
	stationID  models.StationID
	operatorID models.OperatorID

	mu          sync.Mutex
	schedule    *status.Schedule[models.EVSEStatus]
	reservation *models.Reservation
	session     *models.Session

	maxReservationDuration time.Duration
	nowFn                  func() time.Time
	sink                   EventSink
	logger                 *zap.Logger
}

// NewNode builds a node seeded OutOfService until a status is imported or set.
func NewNode(cfg Config) *Node {
	if cfg.MaxReservationDuration <= 0 {
		cfg.MaxReservationDuration = DefaultMaxReservationDuration
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	n := &Node{
		id:                     cfg.ID,
		stationID:              cfg.StationID,
		operatorID:             cfg.OperatorID,
		schedule:               status.NewSchedule(models.StatusOutOfService, cfg.StatusListSize),
		maxReservationDuration: cfg.MaxReservationDuration,
		nowFn:                  time.Now,
		sink:                   cfg.Sink,
		logger:                 cfg.Logger.With(zap.String("evse_id", string(cfg.ID))),
	}

	if n.sink != nil {
		n.schedule.Subscribe(func(ts time.Time, trackingID string, previous, current models.EVSEStatus) {
			n.sink.StatusChanged(n.id, ts, trackingID, previous, current)
		})
	}
	return n
}

// ID returns the local identifier.
func (n *Node) ID() models.EVSEID { return n.id }

// StationID returns the owning station.
func (n *Node) StationID() models.StationID { return n.stationID }

// SetClock overrides the time source. Intended for tests.
func (n *Node) SetClock(nowFn func() time.Time) {
	n.mu.Lock()
	n.nowFn = nowFn
	n.mu.Unlock()
	n.schedule.SetClock(nowFn)
}

// Status returns the current status entry.
func (n *Node) Status() status.Entry[models.EVSEStatus] {
	return n.schedule.Current()
}

// StatusHistory returns the recorded status entries, oldest first.
func (n *Node) StatusHistory() []status.Entry[models.EVSEStatus] {
	return n.schedule.Entries()
}

// SetStatus records an operator-driven status change, e.g. taking the socket
// in or out of service. Enforced states are not overridden while a reservation
// or session is live.
func (n *Node) SetStatus(st models.EVSEStatus) {
	n.mu.Lock()
	busy := n.reservation != nil || n.session != nil
	n.mu.Unlock()
	if busy && (st == models.StatusAvailable || st == models.StatusReserved || st == models.StatusCharging) {
		return
	}
	n.schedule.Insert(st)
}

// ImportStatus pushes a status observed at the remote backend into the
// schedule, keeping its original timestamp. Enforced states are not
// overridden while a reservation or session is live: a stale remote
// Available must not mask a socket the ledgers know to be busy.
func (n *Node) ImportStatus(st models.EVSEStatus, ts time.Time) {
	n.mu.Lock()
	busy := n.reservation != nil || n.session != nil
	n.mu.Unlock()
	if busy && (st == models.StatusAvailable || st == models.StatusReserved || st == models.StatusCharging) {
		return
	}
	n.schedule.InsertAt(st, ts)
}

// Reservation returns a copy of the live reservation, if any.
func (n *Node) Reservation() (models.Reservation, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.reservation == nil {
		return models.Reservation{}, false
	}
	return *n.reservation, true
}

// Session returns a copy of the live session, if any.
func (n *Node) Session() (models.Session, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil {
		return models.Session{}, false
	}
	return *n.session, true
}

// applyEnforcedStatusLocked keeps the status schedule consistent with the
// ledgers: a live session forces Charging, a live reservation forces Reserved,
// neither reverts to Available.
func (n *Node) applyEnforcedStatusLocked() {
	switch {
	case n.session != nil:
		n.schedule.Insert(models.StatusCharging)
	case n.reservation != nil:
		n.schedule.Insert(models.StatusReserved)
	default:
		n.schedule.Insert(models.StatusAvailable)
	}
}

// availabilityCode maps a non-workable current status to its canonical result.
// Returns ResultSuccess for workable states.
func availabilityCode(st models.EVSEStatus) models.ResultCode {
	switch st {
	case models.StatusOutOfService, models.StatusUnspecified:
		return models.ResultOutOfService
	case models.StatusOffline:
		return models.ResultOffline
	default:
		return models.ResultSuccess
	}
}
