package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
)

// ActiveSession is the slim cache record for a running session.
type ActiveSession struct {
	SessionID     models.SessionID     `json:"session_id"`
	EVSEID        models.EVSEID        `json:"evse_id"`
	ReservationID models.ReservationID `json:"reservation_id,omitempty"`
	ProviderID    models.ProviderID    `json:"provider_id,omitempty"`
	StartedAt     time.Time            `json:"started_at"`
}

// Store manages the active session cache.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore returns redis-backed store.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) key(sessionID models.SessionID) string {
	return fmt.Sprintf("fleet:active:%s", sessionID)
}

// Save caches session.
func (s *Store) Save(ctx context.Context, session ActiveSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(session.SessionID), data, s.ttl).Err()
}

// Get returns cached session.
func (s *Store) Get(ctx context.Context, sessionID models.SessionID) (*ActiveSession, error) {
	result, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	var session ActiveSession
	if err := json.Unmarshal([]byte(result), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Delete removes cached session.
func (s *Store) Delete(ctx context.Context, sessionID models.SessionID) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}
