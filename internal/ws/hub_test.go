package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
)

func dialTestHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	logger := zap.NewNop()
	hub := NewHub(time.Minute, logger)
	server := NewServer(hub, 5*time.Second, logger)

	ts := httptest.NewServer(http.HandlerFunc(server.HandleEvents))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	// Registration happens in the upgrade handler before the pumps start.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("subscribers = %d, want 1", hub.ClientCount())
	}
	return hub, conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func TestBroadcasterDeliversStatusChange(t *testing.T) {
	hub, conn := dialTestHub(t)
	b := NewBroadcaster(hub, zap.NewNop())

	b.StatusChanged("DE*GEF*E0001*1", time.Now().UTC(), "evt-1", models.StatusAvailable, models.StatusReserved)

	env := readEnvelope(t, conn)
	if env.Type != EventStatusChanged {
		t.Fatalf("type = %s, want %s", env.Type, EventStatusChanged)
	}
	var payload StatusChangePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.EVSEID != "DE*GEF*E0001*1" || payload.Current != models.StatusReserved {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.EventTrackingID != "evt-1" {
		t.Fatalf("tracking id = %s", payload.EventTrackingID)
	}
}

func TestBroadcasterDeliversReservationLifecycle(t *testing.T) {
	hub, conn := dialTestHub(t)
	b := NewBroadcaster(hub, zap.NewNop())

	res := models.Reservation{ID: "DE*GEF*R123", EVSEID: "E1", Duration: 15 * time.Minute}
	b.ReservationCreated(res)
	b.ReservationCancelled(res, models.CancelExpired)

	created := readEnvelope(t, conn)
	if created.Type != EventReservationCreated {
		t.Fatalf("type = %s", created.Type)
	}
	cancelled := readEnvelope(t, conn)
	if cancelled.Type != EventReservationCancelled {
		t.Fatalf("type = %s", cancelled.Type)
	}
	var payload ReservationPayload
	if err := json.Unmarshal(cancelled.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Reservation.ID != "DE*GEF*R123" || payload.Reason != models.CancelExpired {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestHubDropsDisconnectedSubscribers(t *testing.T) {
	hub, conn := dialTestHub(t)

	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("subscribers = %d, want 0 after close", hub.ClientCount())
	}

	// Broadcasting with nobody listening must not block or panic.
	hub.Broadcast([]byte(`{"type":"noop"}`))
}
