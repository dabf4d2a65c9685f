package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/http/handlers"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/station"
)

func newTestRouter(t *testing.T, jwtSecret string) (http.Handler, *station.Proxy) {
	t.Helper()
	proxy := station.NewProxy(station.Config{ID: "DE*GEF*S0001", OperatorID: "DE*GEF"})
	node, err := proxy.CreateEVSE("DE*GEF*E0001*1")
	if err != nil {
		t.Fatal(err)
	}
	node.SetStatus(models.StatusAvailable)

	router := NewRouter(Routes{
		ReserveEVSE:       handlers.NewReserveEVSEHandler(proxy),
		ReserveStation:    handlers.NewReserveStationHandler(proxy),
		CancelReservation: handlers.NewCancelReservationHandler(proxy),
		RemoteStart:       handlers.NewRemoteStartHandler(proxy),
		RemoteStop:        handlers.NewRemoteStopHandler(proxy),
		ListEVSEs:         handlers.NewListEVSEsHandler(proxy),
		EVSEStatus:        handlers.NewEVSEStatusHandler(proxy),
		Health:            handlers.NewHealthHandler(),
	}, jwtSecret)
	return router, proxy
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func resultCode(t *testing.T, rec *httptest.ResponseRecorder) models.ResultCode {
	t.Helper()
	var code models.ResultCode
	raw, ok := decodeResult(t, rec)["result"]
	if !ok {
		t.Fatalf("no result in body %q", rec.Body.String())
	}
	if err := json.Unmarshal(raw, &code); err != nil {
		t.Fatal(err)
	}
	return code
}

func TestReservationLifecycleOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t, "")

	rec := doJSON(t, router, http.MethodPost, "/v1/evses/DE*GEF*E0001*1/reservation",
		map[string]any{"duration_seconds": 900})
	if rec.Code != http.StatusOK {
		t.Fatalf("reserve status = %d body %s", rec.Code, rec.Body.String())
	}
	if code := resultCode(t, rec); code != models.ResultSuccess {
		t.Fatalf("reserve result = %s", code)
	}
	var reservation models.Reservation
	if err := json.Unmarshal(decodeResult(t, rec)["reservation"], &reservation); err != nil {
		t.Fatal(err)
	}

	// Second attempt without the handle conflicts.
	rec = doJSON(t, router, http.MethodPost, "/v1/evses/DE*GEF*E0001*1/reservation",
		map[string]any{"duration_seconds": 900})
	if rec.Code != http.StatusConflict {
		t.Fatalf("conflicting reserve status = %d", rec.Code)
	}
	if code := resultCode(t, rec); code != models.ResultAlreadyReserved {
		t.Fatalf("conflicting reserve result = %s", code)
	}

	rec = doJSON(t, router, http.MethodDelete, "/v1/reservations/"+string(reservation.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", rec.Code)
	}

	// Cancel of nothing still succeeds.
	rec = doJSON(t, router, http.MethodDelete, "/v1/reservations/"+string(reservation.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("repeated cancel status = %d", rec.Code)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t, "")

	rec := doJSON(t, router, http.MethodPost, "/v1/evses/DE*GEF*E0001*1/start",
		map[string]any{"identification": map[string]string{"ema_id": "DE-GDF-C1-X"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d body %s", rec.Code, rec.Body.String())
	}
	var session models.Session
	if err := json.Unmarshal(decodeResult(t, rec)["session"], &session); err != nil {
		t.Fatal(err)
	}
	if session.ID == "" {
		t.Fatal("no session id assigned")
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/evses/DE*GEF*E0001*1/stop",
		map[string]any{"session_id": string(session.ID)})
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/evses/DE*GEF*E0001*1/stop",
		map[string]any{"session_id": string(session.ID)})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("stale stop status = %d", rec.Code)
	}
	if code := resultCode(t, rec); code != models.ResultInvalidSessionID {
		t.Fatalf("stale stop result = %s", code)
	}
}

func TestUnknownEVSEOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t, "")

	rec := doJSON(t, router, http.MethodPost, "/v1/evses/ghost/reservation", map[string]any{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := resultCode(t, rec); code != models.ResultUnknownEVSE {
		t.Fatalf("result = %s", code)
	}
}

func TestStationReservationOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t, "")

	rec := doJSON(t, router, http.MethodPost, "/v1/stations/DE*GEF*S0001/reservation",
		map[string]any{"duration_seconds": 600})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/stations/other/reservation", map[string]any{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("wrong station status = %d", rec.Code)
	}
	if code := resultCode(t, rec); code != models.ResultUnknownChargingStation {
		t.Fatalf("wrong station result = %s", code)
	}
}

func TestListAndStatusEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, "")

	rec := doJSON(t, router, http.MethodGet, "/v1/evses", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/evses/DE*GEF*E0001*1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", rec.Code)
	}
	body := decodeResult(t, rec)
	var history []json.RawMessage
	if err := json.Unmarshal(body["history"], &history); err != nil {
		t.Fatal(err)
	}
	// Seeded OutOfService plus the Available transition.
	if len(history) < 2 {
		t.Fatalf("history length = %d, want >= 2", len(history))
	}
}

func TestJWTGuardsManagementAPI(t *testing.T) {
	const secret = "test-secret"
	router, _ := newTestRouter(t, secret)

	rec := doJSON(t, router, http.MethodGet, "/v1/evses", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rec.Code)
	}

	// Health stays open.
	rec = doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/evses", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	authed := httptest.NewRecorder()
	router.ServeHTTP(authed, req)
	if authed.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d body %s", authed.Code, authed.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/evses", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	bad := httptest.NewRecorder()
	router.ServeHTTP(bad, req)
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", bad.Code)
	}
}
