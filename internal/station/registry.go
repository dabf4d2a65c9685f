package station

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/evse"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
)

// ErrDuplicateEVSE is returned when a socket id is already registered.
var ErrDuplicateEVSE = errors.New("station: evse already registered")

// AdmissionPolicy votes on whether a candidate socket may join the registry.
// Returning a non-nil error is a veto carrying the reason. All policies must
// approve before the socket is added; only then does the added notification
// fire. That keeps admission an explicit two-phase call, free of side effects
// in the voting phase.
type AdmissionPolicy func(timestamp time.Time, station models.StationID, candidate models.EVSEID) error

// AddAdmissionPolicy registers a voter. Policies run in registration order
// and are combined with logical AND.
func (p *Proxy) AddAdmissionPolicy(policy AdmissionPolicy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.admission = append(p.admission, policy)
}

// OnEVSEAdded registers a callback fired after a socket was admitted and added.
func (p *Proxy) OnEVSEAdded(fn func(timestamp time.Time, node *evse.Node)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onAdded = append(p.onAdded, fn)
}

// CreateEVSE builds a node with the station's defaults and registers it.
func (p *Proxy) CreateEVSE(id models.EVSEID) (*evse.Node, error) {
	if id == "" {
		return nil, errors.New("station: evse id is required")
	}
	node := evse.NewNode(evse.Config{
		ID:                     id,
		StationID:              p.id,
		OperatorID:             p.operatorID,
		MaxReservationDuration: p.maxReservationDuration,
		StatusListSize:         p.statusListSize,
		Sink:                   p.sink,
		Logger:                 p.logger,
	})
	if err := p.AddEVSE(node); err != nil {
		return nil, err
	}
	return node, nil
}

// AddEVSE admits and registers a node. A duplicate id is an error; when an
// error callback is configured it also receives the error so callers may
// swallow it.
func (p *Proxy) AddEVSE(node *evse.Node) error {
	now := p.now()

	p.mu.RLock()
	policies := make([]AdmissionPolicy, len(p.admission))
	copy(policies, p.admission)
	p.mu.RUnlock()

	// Phase one: voting. No state changes until every policy approved.
	for _, policy := range policies {
		if err := policy(now, p.id, node.ID()); err != nil {
			err = fmt.Errorf("station: admission denied for %s: %w", node.ID(), err)
			p.fail(err)
			return err
		}
	}

	// Phase two: insert and notify.
	p.mu.Lock()
	if _, exists := p.nodes[node.ID()]; exists {
		p.mu.Unlock()
		err := fmt.Errorf("%w: %s", ErrDuplicateEVSE, node.ID())
		p.fail(err)
		return err
	}
	p.nodes[node.ID()] = node
	p.nodeOrder = append(p.nodeOrder, node.ID())
	added := make([]func(time.Time, *evse.Node), len(p.onAdded))
	copy(added, p.onAdded)
	p.mu.Unlock()

	p.logger.Info("evse registered", zap.String("evse_id", string(node.ID())))
	for _, fn := range added {
		fn(now, node)
	}
	return nil
}

// RemoveEVSE drops a socket from the registry.
func (p *Proxy) RemoveEVSE(id models.EVSEID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.nodes[id]; !ok {
		return false
	}
	delete(p.nodes, id)
	for i, existing := range p.nodeOrder {
		if existing == id {
			p.nodeOrder = append(p.nodeOrder[:i], p.nodeOrder[i+1:]...)
			break
		}
	}
	return true
}

// EVSE looks up one socket.
func (p *Proxy) EVSE(id models.EVSEID) (*evse.Node, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	node, ok := p.nodes[id]
	return node, ok
}

// EVSEs returns a snapshot of all sockets in registration order, safe to
// iterate while the registry changes.
func (p *Proxy) EVSEs() []*evse.Node {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*evse.Node, 0, len(p.nodeOrder))
	for _, id := range p.nodeOrder {
		if node, ok := p.nodes[id]; ok {
			out = append(out, node)
		}
	}
	return out
}

func (p *Proxy) now() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nowFn().UTC()
}
