// Package station implements the station proxy: the EVSE registry, admission
// control, the periodic self-check sweep and the dispatch of reservation and
// session operations to local nodes and the remote backend.
package station

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/evse"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/idmap"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/remote"
)

// Defaults for the maintenance loop and reservation bounds.
const (
	DefaultSelfCheckEvery  = 15 * time.Second
	DefaultSelfCancelAfter = 10 * time.Second
)

// AuthListSource exposes the backend's identity whitelist. Fetching it also
// refreshes the cache the protocol client's not-found fallback consults.
type AuthListSource interface {
	GetAuthList(ctx context.Context, listID string) (*remote.AuthList, error)
}

// Config describes one station proxy.
type Config struct {
	ID         models.StationID
	OperatorID models.OperatorID

	SelfCheckEvery             time.Duration
	ReservationSelfCancelAfter time.Duration
	MaxReservationDuration     time.Duration
	StatusListSize             int

	// Remote, when set, makes the station remote-backed: every operation is
	// brokered through the protocol client before local state is touched.
	Remote remote.ProtocolClient
	// Whitelist, when set, is refreshed on every self-check tick so the
	// protocol client's 404 fallback works against a warm cache.
	Whitelist AuthListSource
	IDs       *idmap.Map
	Sink      evse.EventSink
	// OnError additionally receives registry errors such as duplicate
	// inserts, letting callers swallow them instead of failing hard.
	OnError func(error)
	Logger  *zap.Logger
}

// Proxy owns the EVSE registry and brokers all station-level operations.
type Proxy struct {
	id         models.StationID
	operatorID models.OperatorID

	mu        sync.RWMutex
	nodes     map[models.EVSEID]*evse.Node
	nodeOrder []models.EVSEID

	admission []AdmissionPolicy
	onAdded   []func(timestamp time.Time, node *evse.Node)

	remote    remote.ProtocolClient
	whitelist AuthListSource
	ids       *idmap.Map
	sink      evse.EventSink
	onError   func(error)
	logger    *zap.Logger

	selfCheckEvery         time.Duration
	selfCancelAfter        time.Duration
	maxReservationDuration time.Duration
	statusListSize         int

	cron  *cron.Cron
	nowFn func() time.Time
}

// NewProxy builds a station proxy. The self-check loop is not started until
// StartSelfCheck is called.
func NewProxy(cfg Config) *Proxy {
	if cfg.SelfCheckEvery <= 0 {
		cfg.SelfCheckEvery = DefaultSelfCheckEvery
	}
	if cfg.ReservationSelfCancelAfter <= 0 {
		cfg.ReservationSelfCancelAfter = DefaultSelfCancelAfter
	}
	if cfg.MaxReservationDuration <= 0 {
		cfg.MaxReservationDuration = evse.DefaultMaxReservationDuration
	}
	if cfg.IDs == nil {
		cfg.IDs = idmap.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Proxy{
		id:                     cfg.ID,
		operatorID:             cfg.OperatorID,
		nodes:                  make(map[models.EVSEID]*evse.Node),
		remote:                 cfg.Remote,
		whitelist:              cfg.Whitelist,
		ids:                    cfg.IDs,
		sink:                   cfg.Sink,
		onError:                cfg.OnError,
		logger:                 cfg.Logger.With(zap.String("station_id", string(cfg.ID))),
		selfCheckEvery:         cfg.SelfCheckEvery,
		selfCancelAfter:        cfg.ReservationSelfCancelAfter,
		maxReservationDuration: cfg.MaxReservationDuration,
		statusListSize:         cfg.StatusListSize,
		nowFn:                  time.Now,
	}
}

// ID returns the station identifier.
func (p *Proxy) ID() models.StationID { return p.id }

// IdentifierMap returns the local↔remote id table.
func (p *Proxy) IdentifierMap() *idmap.Map { return p.ids }

// SetClock overrides the time source. Intended for tests.
func (p *Proxy) SetClock(nowFn func() time.Time) {
	p.mu.Lock()
	p.nowFn = nowFn
	p.mu.Unlock()
}

// Reserve places a hold on one concrete socket.
func (p *Proxy) Reserve(ctx context.Context, evseID models.EVSEID, req evse.ReserveRequest) evse.ReserveResult {
	node, ok := p.EVSE(evseID)
	if !ok {
		return evse.ReserveResult{Code: models.ResultUnknownEVSE}
	}
	req.Level = models.LevelEVSE

	if p.remote == nil {
		return node.Reserve(req)
	}

	if code := node.PrecheckReserve(req); code != models.ResultSuccess {
		return evse.ReserveResult{Code: code}
	}

	resp, err := p.remote.ReserveEVSE(ctx, remote.ReserveEVSERequest{
		EVSEID:           evseID,
		ReservationID:    req.ReservationID,
		Duration:         req.Duration,
		ProviderID:       req.ProviderID,
		Identification:   req.Identification,
		ProductID:        productID(req.Product),
		AuthorizedRFIDs:  req.AuthorizedRFIDs,
		AuthorizedEMAIDs: req.AuthorizedEMAIDs,
	})
	if err != nil {
		p.fail(err)
		return evse.ReserveResult{Code: models.ResultError}
	}
	if resp.Code != models.ResultSuccess {
		return evse.ReserveResult{Code: resp.Code}
	}
	result := node.Reserve(p.mergeRemoteReservation(req, resp))
	if result.Code != models.ResultSuccess {
		p.releaseRemoteHold(ctx, resp.ReservationID)
	}
	return result
}

// ReserveStation places a hold on one socket chosen either by the remote
// backend or, for local stations, by registry order.
func (p *Proxy) ReserveStation(ctx context.Context, req evse.ReserveRequest) evse.ReserveResult {
	req.Level = models.LevelStation

	if p.remote == nil {
		node := p.firstAvailable()
		if node == nil {
			return evse.ReserveResult{Code: models.ResultNoEVSEsAvailable}
		}
		return node.Reserve(req)
	}

	resp, err := p.remote.ReserveStation(ctx, remote.ReserveStationRequest{
		StationID:        p.id,
		ReservationID:    req.ReservationID,
		Duration:         req.Duration,
		ProviderID:       req.ProviderID,
		Identification:   req.Identification,
		ProductID:        productID(req.Product),
		AuthorizedRFIDs:  req.AuthorizedRFIDs,
		AuthorizedEMAIDs: req.AuthorizedEMAIDs,
	})
	if err != nil {
		p.fail(err)
		return evse.ReserveResult{Code: models.ResultError}
	}
	if resp.Code != models.ResultSuccess {
		return evse.ReserveResult{Code: resp.Code}
	}

	node, ok := p.EVSE(resp.EVSEID)
	if !ok {
		if resp.EVSEID != "" {
			p.logger.Warn("backend reserved an unregistered socket",
				zap.String("evse_id", string(resp.EVSEID)))
			p.releaseRemoteHold(ctx, resp.ReservationID)
			return evse.ReserveResult{Code: models.ResultUnknownEVSE}
		}
		node = p.firstAvailable()
		if node == nil {
			p.releaseRemoteHold(ctx, resp.ReservationID)
			return evse.ReserveResult{Code: models.ResultNoEVSEsAvailable}
		}
	}
	result := node.Reserve(p.mergeRemoteReservation(req, resp))
	if result.Code != models.ResultSuccess {
		p.releaseRemoteHold(ctx, resp.ReservationID)
	}
	return result
}

// releaseRemoteHold cancels a backend hold that could not be committed
// locally, so the two sides do not drift apart. Best effort.
func (p *Proxy) releaseRemoteHold(ctx context.Context, id models.ReservationID) {
	if p.remote == nil || id == "" {
		return
	}
	if resp, err := p.remote.CancelReservation(ctx, id); err != nil {
		p.logger.Warn("failed to release uncommitted backend hold",
			zap.String("reservation_id", string(id)), zap.Error(err))
	} else if resp.Code != models.ResultSuccess && resp.Code != models.ResultUnknownReservationID {
		p.logger.Warn("backend refused to release uncommitted hold",
			zap.String("reservation_id", string(id)),
			zap.String("result", string(resp.Code)))
	}
}

// mergeRemoteReservation folds the backend's reply into the local commit.
func (p *Proxy) mergeRemoteReservation(req evse.ReserveRequest, resp remote.ReserveResponse) evse.ReserveRequest {
	req.AssignedID = resp.ReservationID
	if !resp.StartTime.IsZero() {
		req.StartTime = resp.StartTime
	}
	if resp.Duration > 0 {
		req.Duration = resp.Duration
	}
	if resp.PIN != "" {
		req.PIN = resp.PIN
	}
	return req
}

// CancelReservation removes the named reservation wherever it lives.
// Cancelling an id no socket holds succeeds: cancel-of-nothing is not an error.
func (p *Proxy) CancelReservation(ctx context.Context, id models.ReservationID, reason models.CancelReason) (evse.CancelResult, error) {
	if id == "" {
		return evse.CancelResult{}, evse.ErrMissingReservationID
	}

	node := p.findReservation(id)
	if node == nil {
		return evse.CancelResult{Code: models.ResultSuccess}, nil
	}

	if p.remote != nil {
		resp, err := p.remote.CancelReservation(ctx, id)
		if err != nil {
			return evse.CancelResult{}, err
		}
		// A backend that no longer knows the reservation must not block the
		// local cleanup.
		if resp.Code != models.ResultSuccess && resp.Code != models.ResultUnknownReservationID {
			return evse.CancelResult{Code: resp.Code}, nil
		}
	}
	return node.CancelReservation(id, reason)
}

// RemoteStart begins a charging session on one socket.
func (p *Proxy) RemoteStart(ctx context.Context, evseID models.EVSEID, req evse.StartRequest) evse.StartResult {
	node, ok := p.EVSE(evseID)
	if !ok {
		return evse.StartResult{Code: models.ResultUnknownEVSE}
	}

	if p.remote == nil {
		return node.StartSession(req)
	}

	if code := node.PrecheckStart(req); code != models.ResultSuccess {
		return evse.StartResult{Code: code}
	}

	resp, err := p.remote.RemoteStart(ctx, remote.StartRequest{
		EVSEID:         evseID,
		SessionID:      req.SessionID,
		ReservationID:  req.ReservationID,
		ProviderID:     req.ProviderID,
		Identification: req.Identification,
		ProductID:      productID(req.Product),
	})
	if err != nil {
		p.fail(err)
		return evse.StartResult{Code: models.ResultError}
	}
	if resp.Code != models.ResultSuccess {
		return evse.StartResult{Code: resp.Code}
	}
	if resp.SessionID != "" {
		req.SessionID = resp.SessionID
	}
	return node.StartSession(req)
}

// StopRequest ends a charging session on one socket.
type StopRequest struct {
	EVSEID              models.EVSEID
	SessionID           models.SessionID
	Identification      models.Identification
	ProviderID          models.ProviderID
	ReservationHandling string
}

// RemoteStop ends the named session. The local ledger is consulted first so a
// stale session id never reaches the backend.
func (p *Proxy) RemoteStop(ctx context.Context, req StopRequest) (evse.StopResult, error) {
	if req.SessionID == "" {
		return evse.StopResult{}, evse.ErrMissingSessionID
	}
	node, ok := p.EVSE(req.EVSEID)
	if !ok {
		return evse.StopResult{Code: models.ResultUnknownEVSE}, nil
	}
	if !node.HasSession(req.SessionID) {
		return evse.StopResult{Code: models.ResultInvalidSessionID}, nil
	}

	if p.remote != nil {
		resp, err := p.remote.RemoteStop(ctx, remote.StopRequest{
			EVSEID:              req.EVSEID,
			SessionID:           req.SessionID,
			Identification:      req.Identification,
			ProviderID:          req.ProviderID,
			ReservationHandling: req.ReservationHandling,
		})
		if err != nil {
			return evse.StopResult{}, err
		}
		if resp.Code != models.ResultSuccess {
			return evse.StopResult{Code: resp.Code}, nil
		}
	}
	return node.StopSession(req.SessionID)
}

// findReservation returns the node holding the given reservation, if any.
func (p *Proxy) findReservation(id models.ReservationID) *evse.Node {
	for _, node := range p.EVSEs() {
		if res, ok := node.Reservation(); ok && res.ID == id {
			return node
		}
	}
	return nil
}

// firstAvailable returns the first registered socket whose status is Available.
func (p *Proxy) firstAvailable() *evse.Node {
	for _, node := range p.EVSEs() {
		if node.Status().Value == models.StatusAvailable {
			if _, reserved := node.Reservation(); !reserved {
				return node
			}
		}
	}
	return nil
}

func (p *Proxy) fail(err error) {
	p.logger.Error("station operation failed", zap.Error(err))
	if p.onError != nil {
		p.onError(err)
	}
}

func productID(product *models.ChargingProduct) string {
	if product == nil {
		return ""
	}
	return product.ID
}
