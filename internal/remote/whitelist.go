package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
)

// Auth list entry types and statuses of the vendor dialect.
const (
	AuthTypeRFID  = "RFID"
	AuthTypeEMAID = "eMAId"

	AuthStatusActive   = "active"
	AuthStatusInactive = "inactive"
)

// AuthListEntry is one identification on a remote whitelist.
type AuthListEntry struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Status string `json:"status"`
}

// AuthList is a remote whitelist snapshot.
type AuthList struct {
	ID      string
	Entries []AuthListEntry
}

type authListPayload struct {
	Identifications []AuthListEntry `json:"Identifications"`
}

type authListDetailReply struct {
	Detail map[string]string `json:"detail"`
}

// GetAuthList fetches a whitelist and refreshes the local cache used by the
// 404 credential fallback.
func (c *Client) GetAuthList(ctx context.Context, listID string) (*AuthList, error) {
	if listID == "" {
		listID = c.cfg.WhitelistID
	}
	if listID == "" {
		return nil, errors.New("remote: auth list id is required")
	}

	status, raw, failure := c.do(ctx, http.MethodGet, "/AuthLists/"+url.PathEscape(listID), nil, c.cfg.RequestTimeout)
	if failure != "" {
		return nil, fmt.Errorf("remote: auth list fetch failed: %s", failure)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("remote: auth list fetch http %d", status)
	}

	var payload authListPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.logParseFailure("auth list", raw, err)
		return nil, fmt.Errorf("remote: auth list: %w", err)
	}

	c.wlMu.Lock()
	c.whitelist = make(map[string]struct{}, len(payload.Identifications))
	for _, entry := range payload.Identifications {
		if strings.EqualFold(entry.Status, AuthStatusActive) {
			c.whitelist[entry.ID] = struct{}{}
		}
	}
	c.wlMu.Unlock()

	return &AuthList{ID: listID, Entries: payload.Identifications}, nil
}

// AddAuthListEntries registers identifications on a whitelist. The returned
// map holds the backend's per-id outcome (CREATED, EXISTED_UPDATED, ...).
func (c *Client) AddAuthListEntries(ctx context.Context, listID string, entries []AuthListEntry) (map[string]string, error) {
	return c.mutateAuthList(ctx, http.MethodPost, listID, entries)
}

// RemoveAuthListEntries removes identifications from a whitelist.
func (c *Client) RemoveAuthListEntries(ctx context.Context, listID string, entries []AuthListEntry) (map[string]string, error) {
	return c.mutateAuthList(ctx, http.MethodDelete, listID, entries)
}

func (c *Client) mutateAuthList(ctx context.Context, method, listID string, entries []AuthListEntry) (map[string]string, error) {
	if listID == "" {
		listID = c.cfg.WhitelistID
	}
	if listID == "" {
		return nil, errors.New("remote: auth list id is required")
	}
	if len(entries) == 0 {
		return map[string]string{}, nil
	}

	status, raw, failure := c.do(ctx, method, "/AuthLists/"+url.PathEscape(listID), authListPayload{Identifications: entries}, c.cfg.RequestTimeout)
	if failure != "" {
		return nil, fmt.Errorf("remote: auth list update failed: %s", failure)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("remote: auth list update http %d", status)
	}

	var reply authListDetailReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		c.logParseFailure("auth list update", raw, err)
		return nil, fmt.Errorf("remote: auth list update: %w", err)
	}
	return reply.Detail, nil
}

// whitelisted reports whether either presented identity is in the cached
// whitelist.
func (c *Client) whitelisted(ident models.Identification) bool {
	c.wlMu.RLock()
	defer c.wlMu.RUnlock()
	if ident.RFIDID != "" {
		if _, ok := c.whitelist[ident.RFIDID]; ok {
			return true
		}
	}
	if ident.EMAID != "" {
		if _, ok := c.whitelist[ident.EMAID]; ok {
			return true
		}
	}
	return false
}
