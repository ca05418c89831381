package lobby

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// statsInterval is the package default; Config.StatsInterval overrides it.
const statsInterval = 15 * time.Second

// StartStatsReporter logs host resource usage alongside lobby occupancy on
// l.cfg.StatsInterval (default 15s), re-homing the teacher's agent-side host
// monitor onto the match server (SPEC_FULL §11, the domain stack write-up).
func (l *Lobby) StartStatsReporter(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.logStats()
		}
	}
}

func (l *Lobby) logStats() {
	var cpuPct float64
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		cpuPct = pcts[0]
	}

	var memPct float64
	if vm, err := mem.VirtualMemory(); err == nil {
		memPct = vm.UsedPercent
	}

	var load1 float64
	if avg, err := load.Avg(); err == nil {
		load1 = avg.Load1
	}

	l.mu.Lock()
	waiting := len(l.waiting)
	spectators := l.spectators.Len()
	matchRunning := l.matchRunning
	l.mu.Unlock()

	l.logger.Info("lobby stats",
		"cpu_pct", cpuPct,
		"mem_pct", memPct,
		"load1", load1,
		"waiting", waiting,
		"spectators", spectators,
		"match_running", matchRunning,
	)
}
