package station

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/evse"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/remote"
)

// fakeBackend is a scriptable ProtocolClient.
type fakeBackend struct {
	mu              sync.Mutex
	reserveResp     remote.ReserveResponse
	stationResp     remote.ReserveResponse
	cancelResp      remote.CancelResponse
	startResp       remote.StartResponse
	stopResp        remote.StopResponse
	statusRecords   []remote.EVSEStatusRecord
	statusErr       error
	cancelledIDs    []models.ReservationID
	reserveRequests []remote.ReserveEVSERequest
	// onReserve runs after a reserve call is accepted, outside the lock, so
	// tests can interleave local activity with the backend round trip.
	onReserve func()
}

func (f *fakeBackend) ReserveEVSE(_ context.Context, req remote.ReserveEVSERequest) (remote.ReserveResponse, error) {
	f.mu.Lock()
	f.reserveRequests = append(f.reserveRequests, req)
	resp := f.reserveResp
	hook := f.onReserve
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return resp, nil
}

func (f *fakeBackend) ReserveStation(context.Context, remote.ReserveStationRequest) (remote.ReserveResponse, error) {
	f.mu.Lock()
	resp := f.stationResp
	hook := f.onReserve
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return resp, nil
}

func (f *fakeBackend) CancelReservation(_ context.Context, id models.ReservationID) (remote.CancelResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledIDs = append(f.cancelledIDs, id)
	return f.cancelResp, nil
}

func (f *fakeBackend) RemoteStart(context.Context, remote.StartRequest) (remote.StartResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startResp, nil
}

func (f *fakeBackend) RemoteStop(context.Context, remote.StopRequest) (remote.StopResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopResp, nil
}

func (f *fakeBackend) GetEVSEStatus(context.Context) ([]remote.EVSEStatusRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusRecords, f.statusErr
}

func newLocalProxy(t *testing.T, evseIDs ...models.EVSEID) *Proxy {
	t.Helper()
	p := NewProxy(Config{ID: "DE*GEF*S0001", OperatorID: "DE*GEF"})
	for _, id := range evseIDs {
		node, err := p.CreateEVSE(id)
		if err != nil {
			t.Fatalf("CreateEVSE(%s): %v", id, err)
		}
		node.SetStatus(models.StatusAvailable)
	}
	return p
}

func TestDuplicateInsertIsError(t *testing.T) {
	var swallowed []error
	p := NewProxy(Config{
		ID:      "DE*GEF*S0001",
		OnError: func(err error) { swallowed = append(swallowed, err) },
	})

	if _, err := p.CreateEVSE("E1"); err != nil {
		t.Fatal(err)
	}
	_, err := p.CreateEVSE("E1")
	if !errors.Is(err, ErrDuplicateEVSE) {
		t.Fatalf("err = %v, want ErrDuplicateEVSE", err)
	}
	if len(swallowed) != 1 {
		t.Fatalf("error callback invocations = %d, want 1", len(swallowed))
	}
}

func TestAdmissionVoting(t *testing.T) {
	p := NewProxy(Config{ID: "DE*GEF*S0001"})

	var votes []models.EVSEID
	p.AddAdmissionPolicy(func(_ time.Time, _ models.StationID, candidate models.EVSEID) error {
		votes = append(votes, candidate)
		return nil
	})
	p.AddAdmissionPolicy(func(_ time.Time, _ models.StationID, candidate models.EVSEID) error {
		if candidate == "E-forbidden" {
			return errors.New("not on this station")
		}
		return nil
	})

	var added []models.EVSEID
	p.OnEVSEAdded(func(_ time.Time, node *evse.Node) {
		added = append(added, node.ID())
	})

	if _, err := p.CreateEVSE("E-ok"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.CreateEVSE("E-forbidden"); err == nil {
		t.Fatal("vetoed candidate must not be added")
	}

	if _, ok := p.EVSE("E-forbidden"); ok {
		t.Fatal("vetoed candidate in registry")
	}
	if len(added) != 1 || added[0] != "E-ok" {
		t.Fatalf("added notifications = %v, want [E-ok]", added)
	}
	if len(votes) != 2 {
		t.Fatalf("first policy votes = %d, want 2", len(votes))
	}
}

func TestLocalHappyPathReserveStartStop(t *testing.T) {
	p := newLocalProxy(t, "E1")
	ctx := context.Background()

	reserve := p.Reserve(ctx, "E1", evse.ReserveRequest{Duration: 15 * time.Minute})
	if reserve.Code != models.ResultSuccess {
		t.Fatalf("Reserve = %s", reserve.Code)
	}
	node, _ := p.EVSE("E1")
	if node.Status().Value != models.StatusReserved {
		t.Fatalf("status = %s, want Reserved", node.Status().Value)
	}

	start := p.RemoteStart(ctx, "E1", evse.StartRequest{ReservationID: reserve.Reservation.ID})
	if start.Code != models.ResultSuccess {
		t.Fatalf("RemoteStart = %s", start.Code)
	}
	if node.Status().Value != models.StatusCharging {
		t.Fatalf("status = %s, want Charging", node.Status().Value)
	}

	stop, err := p.RemoteStop(ctx, StopRequest{EVSEID: "E1", SessionID: start.Session.ID})
	if err != nil || stop.Code != models.ResultSuccess {
		t.Fatalf("RemoteStop = %s, err %v", stop.Code, err)
	}
	if node.Status().Value != models.StatusAvailable {
		t.Fatalf("status = %s, want Available", node.Status().Value)
	}
	if _, ok := node.Session(); ok {
		t.Fatal("session not cleared")
	}
}

func TestUnknownEVSE(t *testing.T) {
	p := newLocalProxy(t)
	if got := p.Reserve(context.Background(), "ghost", evse.ReserveRequest{}).Code; got != models.ResultUnknownEVSE {
		t.Fatalf("Reserve = %s, want UnknownEVSE", got)
	}
	if got := p.RemoteStart(context.Background(), "ghost", evse.StartRequest{}).Code; got != models.ResultUnknownEVSE {
		t.Fatalf("RemoteStart = %s, want UnknownEVSE", got)
	}
}

func TestStationLevelReservationPicksAvailableEVSE(t *testing.T) {
	p := newLocalProxy(t, "E1", "E2")
	ctx := context.Background()

	first := p.ReserveStation(ctx, evse.ReserveRequest{Duration: time.Minute})
	if first.Code != models.ResultSuccess || first.Reservation.EVSEID != "E1" {
		t.Fatalf("first station reserve = %+v", first)
	}
	if first.Reservation.Level != models.LevelStation {
		t.Fatalf("level = %s, want Station", first.Reservation.Level)
	}

	second := p.ReserveStation(ctx, evse.ReserveRequest{Duration: time.Minute})
	if second.Code != models.ResultSuccess || second.Reservation.EVSEID != "E2" {
		t.Fatalf("second station reserve = %+v", second)
	}

	third := p.ReserveStation(ctx, evse.ReserveRequest{Duration: time.Minute})
	if third.Code != models.ResultNoEVSEsAvailable {
		t.Fatalf("third station reserve = %s, want NoEVSEsAvailable", third.Code)
	}
}

func TestCancelReservationIdempotentAcrossStation(t *testing.T) {
	p := newLocalProxy(t, "E1")
	ctx := context.Background()

	res := p.Reserve(ctx, "E1", evse.ReserveRequest{Duration: time.Minute}).Reservation

	first, err := p.CancelReservation(ctx, res.ID, models.CancelRequested)
	if err != nil || first.Code != models.ResultSuccess {
		t.Fatalf("first cancel = %s, err %v", first.Code, err)
	}
	second, err := p.CancelReservation(ctx, res.ID, models.CancelRequested)
	if err != nil || second.Code != models.ResultSuccess {
		t.Fatalf("second cancel = %s, err %v", second.Code, err)
	}
}

func TestExpirySweep(t *testing.T) {
	backend := &fakeBackend{
		reserveResp: remote.ReserveResponse{Code: models.ResultSuccess, ReservationID: "RES-REMOTE-1"},
		cancelResp:  remote.CancelResponse{Code: models.ResultSuccess},
	}
	p := NewProxy(Config{
		ID:                         "DE*GEF*S0001",
		OperatorID:                 "DE*GEF",
		Remote:                     backend,
		ReservationSelfCancelAfter: 10 * time.Second,
	})
	node, err := p.CreateEVSE("E1")
	if err != nil {
		t.Fatal(err)
	}
	node.SetStatus(models.StatusAvailable)

	base := time.Now().UTC()
	p.SetClock(func() time.Time { return base })
	node.SetClock(func() time.Time { return base })

	reserve := p.Reserve(context.Background(), "E1", evse.ReserveRequest{Duration: time.Second})
	if reserve.Code != models.ResultSuccess {
		t.Fatalf("Reserve = %s", reserve.Code)
	}

	// Within duration+grace nothing expires.
	p.RunSelfCheck(context.Background())
	if _, ok := node.Reservation(); !ok {
		t.Fatal("reservation expired too early")
	}

	p.SetClock(func() time.Time { return base.Add(12 * time.Second) })
	p.RunSelfCheck(context.Background())

	if _, ok := node.Reservation(); ok {
		t.Fatal("reservation survived the sweep")
	}
	if node.Status().Value != models.StatusAvailable {
		t.Fatalf("status = %s, want Available after expiry", node.Status().Value)
	}
	if len(backend.cancelledIDs) != 1 || backend.cancelledIDs[0] != "RES-REMOTE-1" {
		t.Fatalf("backend cancellations = %v", backend.cancelledIDs)
	}
}

func TestSelfCheckImportsRemoteStatus(t *testing.T) {
	backend := &fakeBackend{
		statusRecords: []remote.EVSEStatusRecord{
			{EVSEID: "E1", Status: models.StatusOutOfService, Timestamp: time.Now().UTC()},
			{EVSEID: "E-unknown", Status: models.StatusAvailable, Timestamp: time.Now().UTC()},
		},
	}
	p := NewProxy(Config{ID: "DE*GEF*S0001", Remote: backend})
	node, _ := p.CreateEVSE("E1")
	node.SetStatus(models.StatusAvailable)

	p.RunSelfCheck(context.Background())

	if node.Status().Value != models.StatusOutOfService {
		t.Fatalf("status = %s, want imported OutOfService", node.Status().Value)
	}
}

func TestRemoteBackedReserveAdoptsBackendReply(t *testing.T) {
	backend := &fakeBackend{
		reserveResp: remote.ReserveResponse{
			Code:          models.ResultSuccess,
			ReservationID: "RES-REMOTE-7",
			PIN:           "4711",
			Duration:      10 * time.Minute,
		},
	}
	p := NewProxy(Config{ID: "DE*GEF*S0001", OperatorID: "DE*GEF", Remote: backend})
	node, _ := p.CreateEVSE("E1")
	node.SetStatus(models.StatusAvailable)

	result := p.Reserve(context.Background(), "E1", evse.ReserveRequest{Duration: 15 * time.Minute})
	if result.Code != models.ResultSuccess {
		t.Fatalf("Reserve = %s", result.Code)
	}
	if result.Reservation.ID != "RES-REMOTE-7" {
		t.Fatalf("reservation id = %s, want backend-assigned", result.Reservation.ID)
	}
	if result.Reservation.PIN != "4711" || result.Reservation.Duration != 10*time.Minute {
		t.Fatalf("reservation = %+v", result.Reservation)
	}
}

func TestRemoteFailureLeavesLocalStateUntouched(t *testing.T) {
	backend := &fakeBackend{
		reserveResp: remote.ReserveResponse{Code: models.ResultTimeout},
		startResp:   remote.StartResponse{Code: models.ResultTimeout},
	}
	p := NewProxy(Config{ID: "DE*GEF*S0001", OperatorID: "DE*GEF", Remote: backend})
	node, _ := p.CreateEVSE("E1")
	node.SetStatus(models.StatusAvailable)

	if got := p.Reserve(context.Background(), "E1", evse.ReserveRequest{}).Code; got != models.ResultTimeout {
		t.Fatalf("Reserve = %s, want Timeout", got)
	}
	if _, ok := node.Reservation(); ok {
		t.Fatal("failed remote reserve left a local reservation")
	}

	if got := p.RemoteStart(context.Background(), "E1", evse.StartRequest{}).Code; got != models.ResultTimeout {
		t.Fatalf("RemoteStart = %s, want Timeout", got)
	}
	if _, ok := node.Session(); ok {
		t.Fatal("failed remote start left a local session")
	}
	if node.Status().Value != models.StatusAvailable {
		t.Fatalf("status = %s, want Available", node.Status().Value)
	}
}

func TestRemoteStopConsultsLocalLedgerFirst(t *testing.T) {
	backend := &fakeBackend{stopResp: remote.StopResponse{Code: models.ResultSuccess}}
	p := NewProxy(Config{ID: "DE*GEF*S0001", OperatorID: "DE*GEF", Remote: backend})
	node, _ := p.CreateEVSE("E1")
	node.SetStatus(models.StatusAvailable)

	result, err := p.RemoteStop(context.Background(), StopRequest{
		EVSEID:         "E1",
		SessionID:      "never-started",
		Identification: models.Identification{EMAID: "DE-GDF-C1-X"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Code != models.ResultInvalidSessionID {
		t.Fatalf("stop = %s, want InvalidSessionId", result.Code)
	}
}

func TestConcurrentRegistryAccess(t *testing.T) {
	p := newLocalProxy(t, "E1", "E2", "E3")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				for _, node := range p.EVSEs() {
					_ = node.Status()
				}
				_, _ = p.EVSE("E2")
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			p.RunSelfCheck(context.Background())
		}
	}()
	wg.Wait()
}

func TestUncommittedBackendHoldIsReleased(t *testing.T) {
	backend := &fakeBackend{
		reserveResp: remote.ReserveResponse{Code: models.ResultSuccess, ReservationID: "RES-REMOTE-9"},
		cancelResp:  remote.CancelResponse{Code: models.ResultSuccess},
	}
	p := NewProxy(Config{ID: "DE*GEF*S0001", OperatorID: "DE*GEF", Remote: backend})
	node, _ := p.CreateEVSE("E1")
	node.SetStatus(models.StatusAvailable)

	// A competing local reservation lands between precheck and commit.
	backend.onReserve = func() {
		if got := node.Reserve(evse.ReserveRequest{Duration: time.Minute}).Code; got != models.ResultSuccess {
			t.Errorf("competing reserve = %s", got)
		}
	}

	result := p.Reserve(context.Background(), "E1", evse.ReserveRequest{Duration: time.Minute})
	if result.Code != models.ResultAlreadyReserved {
		t.Fatalf("Reserve = %s, want AlreadyReserved", result.Code)
	}
	if len(backend.cancelledIDs) != 1 || backend.cancelledIDs[0] != "RES-REMOTE-9" {
		t.Fatalf("backend cancellations = %v, want the uncommitted hold released", backend.cancelledIDs)
	}
}

func TestStationHoldOnUnregisteredSocketIsReleased(t *testing.T) {
	backend := &fakeBackend{
		stationResp: remote.ReserveResponse{
			Code:          models.ResultSuccess,
			ReservationID: "RES-REMOTE-10",
			EVSEID:        "E-ghost",
		},
		cancelResp: remote.CancelResponse{Code: models.ResultSuccess},
	}
	p := NewProxy(Config{ID: "DE*GEF*S0001", OperatorID: "DE*GEF", Remote: backend})
	node, _ := p.CreateEVSE("E1")
	node.SetStatus(models.StatusAvailable)

	result := p.ReserveStation(context.Background(), evse.ReserveRequest{Duration: time.Minute})
	if result.Code != models.ResultUnknownEVSE {
		t.Fatalf("ReserveStation = %s, want UnknownEVSE", result.Code)
	}
	if len(backend.cancelledIDs) != 1 || backend.cancelledIDs[0] != "RES-REMOTE-10" {
		t.Fatalf("backend cancellations = %v, want the stray hold released", backend.cancelledIDs)
	}
}

type fakeAuthListSource struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeAuthListSource) GetAuthList(context.Context, string) (*remote.AuthList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &remote.AuthList{}, f.err
}

func (f *fakeAuthListSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSelfCheckRefreshesWhitelist(t *testing.T) {
	source := &fakeAuthListSource{}
	p := NewProxy(Config{ID: "DE*GEF*S0001", Whitelist: source})

	p.RunSelfCheck(context.Background())
	if source.callCount() != 1 {
		t.Fatalf("whitelist refreshes = %d, want 1", source.callCount())
	}

	// A failing refresh is logged, never fatal.
	source.err = errors.New("backend down")
	p.RunSelfCheck(context.Background())
	if source.callCount() != 2 {
		t.Fatalf("whitelist refreshes = %d, want 2", source.callCount())
	}
}
