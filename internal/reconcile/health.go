package reconcile

import (
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/lukelocksmith/timemonitor/internal/ws"
	"github.com/shirou/gopsutil/v3/process"
)

// upstreamHealth tracks consecutive failure counts for the upstream API.
// A roster failure aborts a whole cycle, so repeated ones mean the engine
// is blind; per-worker timer failures only degrade that worker's view.
// Fields are protected by mu because the poll loop writes them while the
// HTTP health handler reads them.
type upstreamHealth struct {
	mu             sync.Mutex
	rosterFailures int
	lastRosterErr  string
	lastRosterAt   time.Time
	workerFailures map[string]int
	lastWorkerErr  string
	lastWorkerAt   time.Time
}

func newUpstreamHealth() *upstreamHealth {
	return &upstreamHealth{
		workerFailures: make(map[string]int),
	}
}

func (h *upstreamHealth) recordRosterSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rosterFailures = 0
	h.lastRosterErr = ""
}

func (h *upstreamHealth) recordRosterFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rosterFailures++
	h.lastRosterErr = err.Error()
	h.lastRosterAt = time.Now()
}

func (h *upstreamHealth) recordWorkerSuccess(workerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.workerFailures, workerID)
}

func (h *upstreamHealth) recordWorkerFailure(workerID string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workerFailures[workerID]++
	h.lastWorkerErr = err.Error()
	h.lastWorkerAt = time.Now()
}

// report builds the upstream portion of a health report under the lock.
func (h *upstreamHealth) report(threshold int) ws.HealthReport {
	h.mu.Lock()
	defer h.mu.Unlock()

	var degraded []string
	for id, failures := range h.workerFailures {
		if failures >= threshold {
			degraded = append(degraded, id)
		}
	}
	sort.Strings(degraded)

	status := ws.StatusHealthy
	if len(degraded) > 0 {
		status = ws.StatusDegraded
	}
	if h.rosterFailures >= threshold {
		status = ws.StatusFailed
	}

	lastErr := h.lastWorkerErr
	if h.lastRosterErr != "" && (lastErr == "" || h.lastRosterAt.After(h.lastWorkerAt)) {
		lastErr = h.lastRosterErr
	}

	return ws.HealthReport{
		Status:          status,
		RosterFailures:  h.rosterFailures,
		DegradedWorkers: degraded,
		LastError:       lastErr,
	}
}

func (r *Reconciler) healthThreshold() int {
	if t := r.cfg.Reconcile.HealthFailureThreshold; t > 0 {
		return t
	}
	return 3
}

// Health implements ws.HealthSource for the /api/health endpoint.
func (r *Reconciler) Health() ws.HealthReport {
	rep := r.health.report(r.healthThreshold())
	rep.ActiveSessions = r.cache.Len()
	rep.Observers = r.pub.ClientCount()
	rep.Process = processStats()
	rep.Timestamp = time.Now()
	return rep
}

func processStats() ws.ProcessStats {
	stats := ws.ProcessStats{
		PID:        int32(os.Getpid()),
		Goroutines: runtime.NumGoroutine(),
	}
	proc, err := process.NewProcess(stats.PID)
	if err != nil {
		return stats
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	return stats
}
