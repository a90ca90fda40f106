package clickup

import (
	"context"
	"encoding/json"
)

// Client is the upstream task-management API surface the reconciler
// depends on. Implementations must be safe for use from a single
// goroutine per call site; the poll loop issues calls sequentially.
type Client interface {
	// FetchTask returns task metadata, or nil when the task is unknown
	// upstream (deleted tasks still referenced by old timers).
	FetchTask(ctx context.Context, taskID string) (*Task, error)

	// FetchTrackableWorkers returns the roster of workers whose timers
	// should be polled.
	FetchTrackableWorkers(ctx context.Context) ([]Worker, error)

	// FetchCurrentTimer returns the worker's running timer, or nil when
	// no timer is running.
	FetchCurrentTimer(ctx context.Context, workerID string) (*CurrentTimer, error)

	// FetchTimeEntriesPage returns one page of historical time entries
	// for backfill. An empty slice marks the end of the data.
	FetchTimeEntriesPage(ctx context.Context, page int) ([]TimeEntry, error)
}

type NamedRef struct {
	ID   FlexString `json:"id"`
	Name string     `json:"name"`
}

type Task struct {
	ID     FlexString `json:"id"`
	Name   string     `json:"name"`
	Status string     `json:"status"`
	URL    string     `json:"url"`
	List   NamedRef   `json:"list"`
	Folder NamedRef   `json:"folder"`
	Space  NamedRef   `json:"space"`
}

type Worker struct {
	ID        FlexString `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email,omitempty"`
	Color     string     `json:"color,omitempty"`
	AvatarURL string     `json:"profilePicture,omitempty"`
}

// TimerTask is the reduced task shape embedded in timer payloads.
type TimerTask struct {
	ID   FlexString `json:"id"`
	Name string     `json:"name"`
	URL  string     `json:"url"`
}

// CurrentTimer is the poll-channel payload for one worker. The upstream
// encodes a running timer as a negative duration (the negated start
// epoch); a non-negative duration means the timer is not running.
type CurrentTimer struct {
	ID       FlexString `json:"id"`
	Task     *TimerTask `json:"task"`
	User     *Worker    `json:"user"`
	Start    FlexString `json:"start"`
	Duration int64      `json:"duration"`
}

// TimeEntry is one historical entry from the paged backfill endpoint.
type TimeEntry struct {
	ID       FlexString `json:"id"`
	Task     *TimerTask `json:"task"`
	User     *Worker    `json:"user"`
	Start    FlexString `json:"start"`
	End      FlexString `json:"end"`
	Duration FlexString `json:"duration"`
}

// WebhookPayload is the inbound push-channel shape, accepted as-is.
type WebhookPayload struct {
	Event        string        `json:"event"`
	TaskID       FlexString    `json:"task_id"`
	HistoryItems []HistoryItem `json:"history_items"`
}

type HistoryItem struct {
	User   *Worker   `json:"user"`
	Before *Interval `json:"before"`
	After  *Interval `json:"after"`
}

// Interval is a webhook history sub-record: a time-tracking span with
// epoch-millisecond bounds and a reported duration.
type Interval struct {
	ID    FlexString `json:"id"`
	Start FlexString `json:"start"`
	End   FlexString `json:"end"`
	Time  FlexString `json:"time"`
}

// FlexString tolerates upstream fields that arrive as either a JSON
// string or a bare number; both decode to their string form.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string {
	return string(f)
}
