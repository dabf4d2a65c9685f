package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/evse"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/redisstore"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/repository"
)

const persistTimeout = 5 * time.Second

var _ evse.EventSink = (*recorder)(nil)

// recorder persists session lifecycle events to the archive and the active
// session cache. Either collaborator may be nil. Persistence failures are
// logged and never surface to the node raising the event.
type recorder struct {
	repo   *repository.SessionRepository
	store  *redisstore.Store
	logger *zap.Logger
}

func newRecorder(repo *repository.SessionRepository, store *redisstore.Store, logger *zap.Logger) *recorder {
	return &recorder{repo: repo, store: store, logger: logger}
}

func (r *recorder) StatusChanged(models.EVSEID, time.Time, string, models.EVSEStatus, models.EVSEStatus) {
}

func (r *recorder) ReservationCreated(models.Reservation) {}

func (r *recorder) ReservationCancelled(models.Reservation, models.CancelReason) {}

func (r *recorder) SessionStarted(session models.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if r.repo != nil {
		if err := r.repo.RecordStart(ctx, session); err != nil {
			r.logger.Warn("failed to archive session start",
				zap.String("session_id", string(session.ID)), zap.Error(err))
		}
	}
	if r.store != nil {
		err := r.store.Save(ctx, redisstore.ActiveSession{
			SessionID:     session.ID,
			EVSEID:        session.EVSEID,
			ReservationID: session.ReservationID,
			ProviderID:    session.ProviderID,
			StartedAt:     session.StartedAt,
		})
		if err != nil {
			r.logger.Warn("failed to cache active session",
				zap.String("session_id", string(session.ID)), zap.Error(err))
		}
	}
}

func (r *recorder) SessionStopped(session models.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if r.repo != nil {
		if err := r.repo.RecordStop(ctx, session); err != nil {
			r.logger.Warn("failed to archive session stop",
				zap.String("session_id", string(session.ID)), zap.Error(err))
		}
	}
	if r.store != nil {
		if err := r.store.Delete(ctx, session.ID); err != nil {
			r.logger.Warn("failed to evict active session",
				zap.String("session_id", string(session.ID)), zap.Error(err))
		}
	}
}
