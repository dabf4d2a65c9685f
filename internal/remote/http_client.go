package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/idmap"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
)

// Default per-operation timeouts. The station-level default bounds every call
// that has no tighter limit.
const (
	DefaultRequestTimeout = 180 * time.Second
	DefaultReserveTimeout = 120 * time.Second
	DefaultStartTimeout   = 120 * time.Second
	DefaultStopTimeout    = 120 * time.Second
	DefaultStatusTimeout  = 60 * time.Second
)

// Input validation errors; these indicate caller misuse, not remote behavior.
var (
	ErrMissingEVSEID    = errors.New("remote: evse id is required")
	ErrMissingStationID = errors.New("remote: station id is required")
	ErrMissingSessionID = errors.New("remote: session id is required")
	ErrMissingEMAID     = errors.New("remote: eMAId is required")
)

// ClientConfig configures the vendor HTTP client.
type ClientConfig struct {
	BaseURL  string
	Username string
	Password string

	// RemoteStationID is the backend's identifier of this station.
	RemoteStationID string
	// EVSEIDPrefix filters status polls down to this station's sockets.
	EVSEIDPrefix string
	// WhitelistID is the auth list consulted by the 404 fallback.
	WhitelistID string

	RequestTimeout time.Duration
	ReserveTimeout time.Duration
	StartTimeout   time.Duration
	StopTimeout    time.Duration
	StatusTimeout  time.Duration
}

// Client implements ProtocolClient for the documented HTTP/JSON dialect.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	ids    *idmap.Map
	logger *zap.Logger

	wlMu      sync.RWMutex
	whitelist map[string]struct{}
}

// NewClient builds the vendor client. The idmap translates local socket ids
// to the backend's vocabulary on the way out and back on the way in.
func NewClient(cfg ClientConfig, ids *idmap.Map, logger *zap.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ReserveTimeout <= 0 {
		cfg.ReserveTimeout = DefaultReserveTimeout
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = DefaultStatusTimeout
	}
	if ids == nil {
		ids = idmap.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:       cfg,
		http:      &http.Client{Timeout: cfg.RequestTimeout},
		ids:       ids,
		logger:    logger.Named("remote"),
		whitelist: make(map[string]struct{}),
	}
}

// Wire shapes of the vendor dialect.

type authorizedIDsBody struct {
	RFIDIDs []string `json:"RFIDIds,omitempty"`
	EMAIDs  []string `json:"eMAIds,omitempty"`
}

type reserveBody struct {
	Duration          int64              `json:"Duration,omitempty"`
	ChargingProductID string             `json:"ChargingProductId,omitempty"`
	ReservationID     string             `json:"ReservationId,omitempty"`
	ProviderID        string             `json:"ProviderId,omitempty"`
	EMAID             string             `json:"eMAId,omitempty"`
	AuthorizedIDs     *authorizedIDsBody `json:"AuthorizedIds,omitempty"`
}

type startBody struct {
	ChargingProductID string `json:"ChargingProductId,omitempty"`
	ReservationID     string `json:"ReservationId,omitempty"`
	SessionID         string `json:"SessionId,omitempty"`
	ProviderID        string `json:"ProviderId,omitempty"`
	EMAID             string `json:"eMAId,omitempty"`
}

type stopBody struct {
	EMAID               string `json:"eMAId"`
	SessionID           string `json:"SessionId"`
	ReservationHandling string `json:"ReservationHandling,omitempty"`
	ProviderID          string `json:"ProviderId,omitempty"`
}

type vendorReply struct {
	EVSEID        string      `json:"evseId"`
	PIN           json.Number `json:"pin"`
	ReservationID string      `json:"ReservationId"`
	SessionID     string      `json:"SessionId"`
	StartTime     string      `json:"StartTime"`
	Duration      int64       `json:"Duration"`
	State         string      `json:"State"`
	ErrorCode     string      `json:"errorCode"`
	Code          string      `json:"code"`
	Description   string      `json:"description"`
}

func (r vendorReply) errorField() string {
	if r.ErrorCode != "" {
		return r.ErrorCode
	}
	return r.Code
}

// ReserveEVSE reserves one socket at the backend.
func (c *Client) ReserveEVSE(ctx context.Context, req ReserveEVSERequest) (ReserveResponse, error) {
	if req.EVSEID == "" {
		return ReserveResponse{}, ErrMissingEVSEID
	}

	remoteID := c.ids.MapOutgoing(req.EVSEID)
	path := fmt.Sprintf("/EVSEs/%s/Reservation", url.PathEscape(string(remoteID)))
	status, raw, failure := c.do(ctx, http.MethodPost, path, c.reserveBodyFor(req.ReservationID, req.Duration, req.ProviderID, req.Identification, req.ProductID, req.AuthorizedRFIDs, req.AuthorizedEMAIDs), c.cfg.ReserveTimeout)
	if failure != "" {
		return ReserveResponse{Code: failure}, nil
	}
	return c.decodeReserve(status, raw, models.LevelEVSE, req.Identification), nil
}

// ReserveStation reserves one socket chosen by the backend.
func (c *Client) ReserveStation(ctx context.Context, req ReserveStationRequest) (ReserveResponse, error) {
	stationID := string(req.StationID)
	if stationID == "" {
		stationID = c.cfg.RemoteStationID
	}
	if stationID == "" {
		return ReserveResponse{}, ErrMissingStationID
	}

	path := fmt.Sprintf("/ChargingStations/%s/Reservation", url.PathEscape(stationID))
	status, raw, failure := c.do(ctx, http.MethodPost, path, c.reserveBodyFor(req.ReservationID, req.Duration, req.ProviderID, req.Identification, req.ProductID, req.AuthorizedRFIDs, req.AuthorizedEMAIDs), c.cfg.ReserveTimeout)
	if failure != "" {
		return ReserveResponse{Code: failure}, nil
	}
	return c.decodeReserve(status, raw, models.LevelStation, req.Identification), nil
}

func (c *Client) reserveBodyFor(reservationID models.ReservationID, duration time.Duration, provider models.ProviderID, ident models.Identification, productID string, rfids, emaids []string) reserveBody {
	body := reserveBody{
		Duration:          int64(duration / time.Second),
		ChargingProductID: productID,
		ReservationID:     string(reservationID),
		ProviderID:        string(provider),
		EMAID:             ident.EMAID,
	}
	if len(rfids) > 0 || len(emaids) > 0 {
		body.AuthorizedIDs = &authorizedIDsBody{RFIDIDs: rfids, EMAIDs: emaids}
	}
	return body
}

func (c *Client) decodeReserve(status int, raw []byte, level models.ReservationLevel, ident models.Identification) ReserveResponse {
	switch status {
	case http.StatusOK:
		var reply vendorReply
		if err := json.Unmarshal(raw, &reply); err != nil {
			c.logParseFailure("reservation", raw, err)
			return ReserveResponse{Code: models.ResultError, Detail: "unparseable reservation reply"}
		}
		code := reply.errorField()
		if code == "" || code == "SUCCESS" || code == "SUCCESS_UPDATED" {
			resp := ReserveResponse{
				Code:          models.ResultSuccess,
				ReservationID: models.ReservationID(reply.ReservationID),
				EVSEID:        c.ids.MapIncoming(models.EVSEID(reply.EVSEID)),
				PIN:           reply.PIN.String(),
				Duration:      time.Duration(reply.Duration) * time.Second,
			}
			if ts, err := time.Parse(time.RFC3339, reply.StartTime); err == nil {
				resp.StartTime = ts
			}
			return resp
		}
		return ReserveResponse{Code: reservationCodeResult(code, level), Detail: code}

	case http.StatusConflict, http.StatusUnauthorized:
		return ReserveResponse{Code: c.decodeConflict(raw, level), Detail: strings.TrimSpace(string(raw))}

	case http.StatusNotFound:
		return ReserveResponse{Code: c.notFoundFallback(ident)}

	default:
		return ReserveResponse{Code: models.ResultError, Detail: fmt.Sprintf("http %d", status)}
	}
}

// decodeConflict demultiplexes 409/401 bodies by description, falling back to
// the errorCode table when the body carries one.
func (c *Client) decodeConflict(raw []byte, level models.ReservationLevel) models.ResultCode {
	var reply vendorReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		c.logParseFailure("conflict", raw, err)
		return models.ResultError
	}
	if code, ok := descriptionResult(reply.Description); ok {
		return code
	}
	if code := reply.errorField(); code != "" {
		return reservationCodeResult(code, level)
	}
	return models.ResultError
}

// notFoundFallback implements the 404 whitelist check: an identity missing
// from the cached remote whitelist means the credentials were rejected.
func (c *Client) notFoundFallback(ident models.Identification) models.ResultCode {
	if !c.whitelisted(ident) {
		return models.ResultInvalidCredentials
	}
	return models.ResultError
}

// CancelReservation deletes the reservation at the backend.
func (c *Client) CancelReservation(ctx context.Context, id models.ReservationID) (CancelResponse, error) {
	if id == "" {
		return CancelResponse{}, errors.New("remote: reservation id is required")
	}

	path := fmt.Sprintf("/Reservations/%s", url.PathEscape(string(id)))
	status, raw, failure := c.do(ctx, http.MethodDelete, path, nil, c.cfg.RequestTimeout)
	if failure != "" {
		return CancelResponse{Code: failure}, nil
	}

	switch status {
	case http.StatusOK, http.StatusNoContent:
		return CancelResponse{Code: models.ResultSuccess}, nil
	case http.StatusNotFound:
		return CancelResponse{Code: models.ResultUnknownReservationID}, nil
	case http.StatusConflict, http.StatusUnauthorized:
		return CancelResponse{Code: c.decodeConflict(raw, models.LevelEVSE), Detail: strings.TrimSpace(string(raw))}, nil
	default:
		return CancelResponse{Code: models.ResultError, Detail: fmt.Sprintf("http %d", status)}, nil
	}
}

// RemoteStart asks the backend to start charging.
func (c *Client) RemoteStart(ctx context.Context, req StartRequest) (StartResponse, error) {
	if req.EVSEID == "" {
		return StartResponse{}, ErrMissingEVSEID
	}

	remoteID := c.ids.MapOutgoing(req.EVSEID)
	path := fmt.Sprintf("/EVSEs/%s/RemoteStart", url.PathEscape(string(remoteID)))
	body := startBody{
		ChargingProductID: req.ProductID,
		ReservationID:     string(req.ReservationID),
		SessionID:         string(req.SessionID),
		ProviderID:        string(req.ProviderID),
		EMAID:             req.Identification.EMAID,
	}
	status, raw, failure := c.do(ctx, http.MethodPost, path, body, c.cfg.StartTimeout)
	if failure != "" {
		return StartResponse{Code: failure}, nil
	}

	switch status {
	case http.StatusOK, http.StatusCreated:
		var reply vendorReply
		if err := json.Unmarshal(raw, &reply); err != nil {
			c.logParseFailure("remote start", raw, err)
			return StartResponse{Code: models.ResultError, Detail: "unparseable start reply"}, nil
		}
		if ack := reply.errorField(); ack != "" && ack != "SUCCESS" {
			if code, ok := startResultCodes[ack]; ok {
				return StartResponse{Code: code, Detail: ack}, nil
			}
			return StartResponse{Code: models.ResultError, Detail: ack}, nil
		}
		return StartResponse{Code: models.ResultSuccess, SessionID: models.SessionID(reply.SessionID)}, nil

	case http.StatusConflict, http.StatusUnauthorized:
		return StartResponse{Code: c.decodeConflict(raw, models.LevelEVSE), Detail: strings.TrimSpace(string(raw))}, nil

	case http.StatusNotFound:
		return StartResponse{Code: c.notFoundFallback(req.Identification)}, nil

	default:
		return StartResponse{Code: models.ResultError, Detail: fmt.Sprintf("http %d", status)}, nil
	}
}

// RemoteStop asks the backend to end the running session.
func (c *Client) RemoteStop(ctx context.Context, req StopRequest) (StopResponse, error) {
	if req.EVSEID == "" {
		return StopResponse{}, ErrMissingEVSEID
	}
	if req.SessionID == "" {
		return StopResponse{}, ErrMissingSessionID
	}
	if req.Identification.EMAID == "" {
		return StopResponse{}, ErrMissingEMAID
	}

	remoteID := c.ids.MapOutgoing(req.EVSEID)
	path := fmt.Sprintf("/EVSEs/%s/RemoteStop", url.PathEscape(string(remoteID)))
	handling := req.ReservationHandling
	if handling == "" {
		handling = "close"
	}
	body := stopBody{
		EMAID:               req.Identification.EMAID,
		SessionID:           string(req.SessionID),
		ReservationHandling: handling,
		ProviderID:          string(req.ProviderID),
	}
	status, raw, failure := c.do(ctx, http.MethodPost, path, body, c.cfg.StopTimeout)
	if failure != "" {
		return StopResponse{Code: failure}, nil
	}

	switch status {
	case http.StatusOK, http.StatusNoContent:
		return StopResponse{Code: models.ResultSuccess}, nil
	case http.StatusConflict, http.StatusUnauthorized:
		return StopResponse{Code: c.decodeConflict(raw, models.LevelEVSE), Detail: strings.TrimSpace(string(raw))}, nil
	case http.StatusNotFound:
		return StopResponse{Code: c.notFoundFallback(req.Identification)}, nil
	default:
		return StopResponse{Code: models.ResultError, Detail: fmt.Sprintf("http %d", status)}, nil
	}
}

// GetEVSEStatus polls the backend's status snapshot. Only entries whose remote
// id carries this station's prefix are retained; unparseable entries are
// skipped, not fatal.
func (c *Client) GetEVSEStatus(ctx context.Context) ([]EVSEStatusRecord, error) {
	status, raw, failure := c.do(ctx, http.MethodGet, "/EVSEStatus", nil, c.cfg.StatusTimeout)
	if failure != "" {
		return nil, fmt.Errorf("remote: status poll failed: %s", failure)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("remote: status poll http %d", status)
	}

	var payload map[string]map[string]string
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.logParseFailure("status poll", raw, err)
		return nil, fmt.Errorf("remote: status poll: %w", err)
	}

	records := make([]EVSEStatusRecord, 0, len(payload))
	for remoteID, entry := range payload {
		if c.cfg.EVSEIDPrefix != "" && !strings.HasPrefix(remoteID, c.cfg.EVSEIDPrefix) {
			continue
		}
		for tsStr, stStr := range entry {
			ts, err := time.Parse(time.RFC3339, tsStr)
			if err != nil {
				c.logger.Debug("skipping status entry with bad timestamp",
					zap.String("remote_evse_id", remoteID), zap.String("timestamp", tsStr))
				continue
			}
			st, ok := vendorStatus(stStr)
			if !ok {
				c.logger.Debug("skipping status entry with unknown status",
					zap.String("remote_evse_id", remoteID), zap.String("status", stStr))
				continue
			}
			records = append(records, EVSEStatusRecord{
				EVSEID:    c.ids.MapIncoming(models.EVSEID(remoteID)),
				Status:    st,
				Timestamp: ts,
			})
		}
	}
	return records, nil
}

// do performs one HTTP exchange. A non-empty ResultCode means no usable
// response was obtained; the body is returned raw for demultiplexing.
func (c *Client) do(ctx context.Context, method, path string, body any, timeout time.Duration) (int, []byte, models.ResultCode) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.logger.Error("request encode failed", zap.String("path", path), zap.Error(err))
			return 0, nil, models.ResultError
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		c.logger.Error("request build failed", zap.String("path", path), zap.Error(err))
		return 0, nil, models.ResultError
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		code := transportFailure(err)
		c.logger.Warn("remote call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("result", string(code)),
			zap.Error(err))
		return 0, nil, code
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn("remote body read failed", zap.String("path", path), zap.Error(err))
		return 0, nil, models.ResultCommunicationError
	}
	return resp.StatusCode, raw, ""
}

// transportFailure classifies a failed exchange. Cancelled and elapsed calls
// both resolve to Timeout so callers always see a terminal result.
func transportFailure(err error) models.ResultCode {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.ResultTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ResultTimeout
	}
	return models.ResultCommunicationError
}

func (c *Client) logParseFailure(what string, raw []byte, err error) {
	c.logger.Warn("unparseable "+what+" reply",
		zap.ByteString("body", raw),
		zap.Error(err))
}
