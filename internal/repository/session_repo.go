package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
)

// ErrSessionNotFound indicates the archive holds no row for the session id.
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository archives charging sessions.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository returns repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// RecordStart either creates a new archive row or updates an existing one by
// session id, so a restarted service replays cleanly.
func (r *SessionRepository) RecordStart(ctx context.Context, session models.Session) error {
	const query = `
		INSERT INTO charging_sessions (session_id, evse_id, reservation_id, provider_id, rfid_id, ema_id, product_id, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			evse_id = EXCLUDED.evse_id,
			reservation_id = EXCLUDED.reservation_id,
			provider_id = EXCLUDED.provider_id,
			rfid_id = EXCLUDED.rfid_id,
			ema_id = EXCLUDED.ema_id,
			product_id = EXCLUDED.product_id,
			started_at = EXCLUDED.started_at,
			updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.EVSEID,
		session.ReservationID,
		session.ProviderID,
		session.Identification.RFIDID,
		session.Identification.EMAID,
		productID(session.Product),
		session.StartedAt,
	)
	return err
}

// RecordStop finalizes the archive row for the session.
func (r *SessionRepository) RecordStop(ctx context.Context, session models.Session) error {
	const query = `
		UPDATE charging_sessions
		SET ended_at = $2,
		    energy_kwh = $3,
		    updated_at = NOW()
		WHERE session_id = $1
	`
	result, err := r.db.ExecContext(ctx, query, session.ID, session.EndedAt, session.EnergyKWh)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// SessionsByEVSE returns the last N archived sessions for one socket.
func (r *SessionRepository) SessionsByEVSE(ctx context.Context, evseID models.EVSEID, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT session_id, evse_id, reservation_id, provider_id, rfid_id, ema_id, product_id, started_at, ended_at, energy_kwh
		FROM charging_sessions
		WHERE evse_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, evseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var (
			s       models.Session
			endedAt sql.NullTime
			product sql.NullString
		)
		if err := rows.Scan(
			&s.ID,
			&s.EVSEID,
			&s.ReservationID,
			&s.ProviderID,
			&s.Identification.RFIDID,
			&s.Identification.EMAID,
			&product,
			&s.StartedAt,
			&endedAt,
			&s.EnergyKWh,
		); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			s.EndedAt = endedAt.Time
		}
		if product.Valid && product.String != "" {
			s.Product = &models.ChargingProduct{ID: product.String}
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func productID(product *models.ChargingProduct) string {
	if product == nil {
		return ""
	}
	return product.ID
}
