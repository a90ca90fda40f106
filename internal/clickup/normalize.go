package clickup

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/lukelocksmith/timemonitor/internal/session"
)

// SyntheticTaskName is the fallback display name when a payload carries no
// task metadata.
func SyntheticTaskName(taskID string) string {
	return "Task " + taskID
}

// TaskURL constructs the task's web URL from its ID.
func TaskURL(taskID string) string {
	return "https://app.clickup.com/t/" + taskID
}

// ParseTimestamp converts an upstream timestamp into a time.Time.
// Upstream timestamps are epoch milliseconds in varying string/number
// encodings; some payloads carry ISO strings instead. Best effort:
// epoch millis, then strict ISO, then ISO with an injected UTC suffix,
// and finally the fallback. Substituting the fallback loses precision
// but never loses the event.
func ParseTimestamp(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	if ms, ok := parseMillis(raw); ok {
		return time.UnixMilli(ms)
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	// Permissive fallback: a timestamp without zone information.
	if t, err := time.Parse(time.RFC3339, raw+"Z"); err == nil {
		return t
	}
	return fallback
}

func parseMillis(raw string) (int64, bool) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NormalizeTimer converts a poll-channel current-timer payload into a
// canonical active record. Returns nil when the payload lacks a session,
// task, or user identifier, or when the timer is not actually running
// (non-negative duration).
func NormalizeTimer(t *CurrentTimer, now time.Time) *session.Record {
	if t == nil || t.ID == "" || t.Task == nil || t.Task.ID == "" || t.User == nil || t.User.ID == "" {
		return nil
	}
	if t.Duration >= 0 {
		return nil
	}

	taskID := t.Task.ID.String()
	taskName := t.Task.Name
	if taskName == "" {
		taskName = SyntheticTaskName(taskID)
	}
	taskURL := t.Task.URL
	if taskURL == "" {
		taskURL = TaskURL(taskID)
	}

	return &session.Record{
		SessionID: t.ID.String(),
		TaskID:    taskID,
		TaskName:  taskName,
		TaskURL:   taskURL,
		UserID:    t.User.ID.String(),
		UserName:  t.User.Username,
		StartTime: ParseTimestamp(t.Start.String(), now),
	}
}

// NormalizeWebhook converts a push-channel payload into a canonical record
// plus its event class. The classification compares the history item's
// before/after sub-records:
//
//	no before, after already complete  -> Stopped (historical entry)
//	no before, after still open        -> Started
//	before open, after closed          -> Stopped
//	any other before present           -> Updated
//
// Returns ok=false when the payload lacks the minimum key fields
// (session, task, user identifiers); the caller drops the event.
func NormalizeWebhook(raw []byte, now time.Time) (*session.Record, session.EventType, bool) {
	var payload WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, 0, false
	}
	if len(payload.HistoryItems) == 0 {
		return nil, 0, false
	}
	item := payload.HistoryItems[0]

	interval := item.After
	if interval == nil {
		interval = item.Before
	}
	if interval == nil {
		return nil, 0, false
	}

	sessionID := interval.ID.String()
	taskID := payload.TaskID.String()
	if sessionID == "" || taskID == "" || item.User == nil || item.User.ID == "" {
		return nil, 0, false
	}

	start := ParseTimestamp(interval.Start.String(), now)
	closed := intervalClosed(interval)

	rec := &session.Record{
		SessionID: sessionID,
		TaskID:    taskID,
		TaskName:  SyntheticTaskName(taskID),
		TaskURL:   TaskURL(taskID),
		UserID:    item.User.ID.String(),
		UserName:  item.User.Username,
		StartTime: start,
	}
	if closed {
		end := ParseTimestamp(interval.End.String(), now)
		if end.Before(start) {
			end = start
		}
		rec.EndTime = &end
		rec.DurationMS = intervalDuration(interval, start, end)
	}

	var evType session.EventType
	switch {
	case item.Before == nil && closed:
		evType = session.Stopped
	case item.Before == nil:
		evType = session.Started
	case !intervalClosed(item.Before) && closed:
		evType = session.Stopped
	default:
		evType = session.Updated
	}
	return rec, evType, true
}

// intervalClosed reports whether the interval represents a finished span:
// an end value present and distinct from the start. A missing end on a
// payload that otherwise signals completion is treated as still-active.
func intervalClosed(iv *Interval) bool {
	if iv == nil || iv.End == "" {
		return false
	}
	return iv.End != iv.Start
}

func intervalDuration(iv *Interval, start, end time.Time) int64 {
	if ms, ok := parseMillis(iv.Time.String()); ok && ms >= 0 {
		return ms
	}
	d := end.Sub(start).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}

// NormalizeTimeEntry converts a historical backfill entry into a stopped
// canonical record. Returns nil when key identifiers are missing.
func NormalizeTimeEntry(e *TimeEntry, now time.Time) *session.Record {
	if e == nil || e.ID == "" || e.Task == nil || e.Task.ID == "" || e.User == nil || e.User.ID == "" {
		return nil
	}
	taskID := e.Task.ID.String()
	taskName := e.Task.Name
	if taskName == "" {
		taskName = SyntheticTaskName(taskID)
	}
	taskURL := e.Task.URL
	if taskURL == "" {
		taskURL = TaskURL(taskID)
	}

	start := ParseTimestamp(e.Start.String(), now)
	end := ParseTimestamp(e.End.String(), now)
	if end.Before(start) {
		end = start
	}
	dur, ok := parseMillis(e.Duration.String())
	if !ok || dur < 0 {
		dur = end.Sub(start).Milliseconds()
	}

	return &session.Record{
		SessionID:  e.ID.String(),
		TaskID:     taskID,
		TaskName:   taskName,
		TaskURL:    taskURL,
		UserID:     e.User.ID.String(),
		UserName:   e.User.Username,
		StartTime:  start,
		EndTime:    &end,
		DurationMS: dur,
	}
}

// ApplyTask copies task metadata onto a record, replacing synthesized
// fallbacks with real names and denormalized location labels.
func ApplyTask(rec *session.Record, task *Task) {
	if task == nil {
		return
	}
	if task.Name != "" {
		rec.TaskName = task.Name
	}
	if task.URL != "" {
		rec.TaskURL = task.URL
	}
	rec.ListName = task.List.Name
	rec.FolderName = task.Folder.Name
	rec.SpaceName = task.Space.Name
}
