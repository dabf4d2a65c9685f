package station

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
)

// StartSelfCheck launches the periodic maintenance loop: expire stale
// reservations and, for remote-backed stations, refresh the identity
// whitelist and import the backend's status snapshot. A tick that finds the
// previous tick still running is skipped entirely, never queued.
func (p *Proxy) StartSelfCheck() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return nil
	}

	logger := cronLogger{p.logger.Named("selfcheck")}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", p.selfCheckEvery), func() {
		p.RunSelfCheck(context.Background())
	}); err != nil {
		return fmt.Errorf("station: schedule self-check: %w", err)
	}
	c.Start()
	p.cron = c
	return nil
}

// StopSelfCheck stops the loop, waiting for a running tick to finish.
func (p *Proxy) StopSelfCheck() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// RunSelfCheck performs one maintenance pass. Exposed so operators and tests
// can force a sweep outside the schedule.
func (p *Proxy) RunSelfCheck(ctx context.Context) {
	now := p.now()

	for _, node := range p.EVSEs() {
		expired, ok := node.ExpireReservation(now, p.selfCancelAfter)
		if !ok {
			continue
		}
		if p.remote != nil {
			// Best effort: the backend runs its own expiry as well.
			if resp, err := p.remote.CancelReservation(ctx, expired.ID); err != nil {
				p.logger.Warn("remote cancel of expired reservation failed", zap.Error(err))
			} else if resp.Code != models.ResultSuccess && resp.Code != models.ResultUnknownReservationID {
				p.logger.Warn("remote cancel of expired reservation rejected",
					zap.String("reservation_id", string(expired.ID)),
					zap.String("result", string(resp.Code)))
			}
		}
	}

	if p.whitelist != nil {
		if _, err := p.whitelist.GetAuthList(ctx, ""); err != nil {
			p.logger.Warn("whitelist refresh failed", zap.Error(err))
		}
	}

	if p.remote == nil {
		return
	}
	records, err := p.remote.GetEVSEStatus(ctx)
	if err != nil {
		p.logger.Warn("status import failed", zap.Error(err))
		return
	}
	for _, record := range records {
		node, ok := p.EVSE(record.EVSEID)
		if !ok {
			continue
		}
		node.ImportStatus(record.Status, record.Timestamp)
	}
}

// cronLogger adapts zap to the cron logging contract.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
