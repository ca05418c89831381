package lobby

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/unixthat/beer-project/internal/protocol"
)

// StartHousekeeping schedules the registry/queue sweep on l.cfg.HousekeepingInterval
// (default 10s) and returns the cron.Cron so callers can inspect or stop it
// directly; it stops itself when ctx is cancelled regardless. Scheduled with
// robfig/cron rather than a bare ticker, per the domain-stack write-up: the
// teacher schedules its backup jobs the same way, and the lobby keeps that
// idiom for its own periodic cleanup.
func (l *Lobby) StartHousekeeping(ctx context.Context) *cron.Cron {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", l.cfg.HousekeepingInterval)
	if _, err := c.AddFunc(spec, l.sweep); err != nil {
		l.logger.Error("scheduling housekeeping", "error", err)
		return c
	}
	c.Start()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return c
}

// sweep cancels reconnect registrations that outlived their reconnect
// window by a wide margin — a session that crashed mid-wait without calling
// Cancel — and probes the live spectator queue so Broadcast's own eviction
// logic drops any transport that died silently between game events.
func (l *Lobby) sweep() {
	staleAfter := l.cfg.ReconnectTimeout * 3
	for _, token := range l.registry.StaleTokens(staleAfter) {
		l.logger.Warn("housekeeping: cancelling stale reconnect registration", "token", token)
		l.registry.Cancel(token)
	}

	l.mu.Lock()
	spectators := l.spectators
	matchRunning := l.matchRunning
	l.mu.Unlock()
	if matchRunning {
		spectators.Broadcast(protocol.FrameGame, protocol.NewInfo("keepalive"))
	}
}
