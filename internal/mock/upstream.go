// Package mock provides a scripted upstream so the engine can run
// end-to-end without API credentials. Timers toggle on fixed per-worker
// schedules derived from the wall clock, so restarts observe a consistent
// world.
package mock

import (
	"context"
	"fmt"
	"time"

	"github.com/lukelocksmith/timemonitor/internal/clickup"
)

type profile struct {
	worker clickup.Worker
	taskID string
	task   string
	// work/rest shape the on/off cycle for this worker's timer.
	work time.Duration
	rest time.Duration
}

// Upstream implements clickup.Client against a fixed synthetic team.
type Upstream struct {
	profiles []profile
	now      func() time.Time
}

func NewUpstream() *Upstream {
	return &Upstream{
		profiles: []profile{
			{
				worker: clickup.Worker{ID: "9001", Username: "mock-ana", Email: "ana@mock.local", Color: "#e74c3c"},
				taskID: "mk001", task: "Refine onboarding flow",
				work: 4 * time.Minute, rest: 90 * time.Second,
			},
			{
				worker: clickup.Worker{ID: "9002", Username: "mock-boris", Email: "boris@mock.local", Color: "#2ecc71"},
				taskID: "mk002", task: "Migrate billing exports",
				work: 7 * time.Minute, rest: 3 * time.Minute,
			},
			{
				worker: clickup.Worker{ID: "9003", Username: "mock-carla", Email: "carla@mock.local", Color: "#3498db"},
				taskID: "mk003", task: "Ship dashboard filters",
				work: 2 * time.Minute, rest: 2 * time.Minute,
			},
		},
		now: time.Now,
	}
}

func (u *Upstream) FetchTrackableWorkers(ctx context.Context) ([]clickup.Worker, error) {
	workers := make([]clickup.Worker, len(u.profiles))
	for i, p := range u.profiles {
		workers[i] = p.worker
	}
	return workers, nil
}

func (u *Upstream) FetchCurrentTimer(ctx context.Context, workerID string) (*clickup.CurrentTimer, error) {
	for _, p := range u.profiles {
		if p.worker.ID.String() != workerID {
			continue
		}
		start, running := p.phase(u.now())
		if !running {
			return nil, nil
		}
		w := p.worker
		return &clickup.CurrentTimer{
			ID:       clickup.FlexString(fmt.Sprintf("%s-%d", p.taskID, start.Unix())),
			Task:     &clickup.TimerTask{ID: clickup.FlexString(p.taskID), Name: p.task},
			User:     &w,
			Start:    clickup.FlexString(fmt.Sprintf("%d", start.UnixMilli())),
			Duration: -start.UnixMilli(),
		}, nil
	}
	return nil, nil
}

func (u *Upstream) FetchTask(ctx context.Context, taskID string) (*clickup.Task, error) {
	for _, p := range u.profiles {
		if p.taskID == taskID {
			return &clickup.Task{
				ID:     clickup.FlexString(p.taskID),
				Name:   p.task,
				Status: "in progress",
				URL:    clickup.TaskURL(p.taskID),
				List:   clickup.NamedRef{ID: "ml1", Name: "Mock Sprint"},
				Folder: clickup.NamedRef{ID: "mf1", Name: "Mock Folder"},
				Space:  clickup.NamedRef{ID: "ms1", Name: "Mock Space"},
			}, nil
		}
	}
	return nil, nil
}

// FetchTimeEntriesPage serves one page of synthetic history: yesterday's
// completed cycles for every worker. Enough to exercise backfill without
// pretending to be a real archive.
func (u *Upstream) FetchTimeEntriesPage(ctx context.Context, page int) ([]clickup.TimeEntry, error) {
	if page > 0 {
		return nil, nil
	}
	base := u.now().Add(-24 * time.Hour).Truncate(time.Hour)
	var entries []clickup.TimeEntry
	for i, p := range u.profiles {
		start := base.Add(time.Duration(i) * time.Hour)
		end := start.Add(p.work)
		w := p.worker
		entries = append(entries, clickup.TimeEntry{
			ID:       clickup.FlexString(fmt.Sprintf("hist-%s-%d", p.taskID, start.Unix())),
			Task:     &clickup.TimerTask{ID: clickup.FlexString(p.taskID), Name: p.task},
			User:     &w,
			Start:    clickup.FlexString(fmt.Sprintf("%d", start.UnixMilli())),
			End:      clickup.FlexString(fmt.Sprintf("%d", end.UnixMilli())),
			Duration: clickup.FlexString(fmt.Sprintf("%d", p.work.Milliseconds())),
		})
	}
	return entries, nil
}

// phase maps the wall clock onto the worker's work/rest cycle. Returns the
// start of the current work span and whether a timer is running right now.
func (p profile) phase(now time.Time) (time.Time, bool) {
	cycle := p.work + p.rest
	offset := time.Duration(now.UnixNano()) % cycle
	cycleStart := now.Add(-offset)
	if offset < p.work {
		return cycleStart, true
	}
	return time.Time{}, false
}
