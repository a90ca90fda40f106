package clickup

import (
	"testing"
	"time"

	"github.com/lukelocksmith/timemonitor/internal/session"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParseTimestamp(t *testing.T) {
	epoch := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"epoch millis", "1772355600000", time.UnixMilli(1772355600000)},
		{"negative epoch", "-1000", time.UnixMilli(-1000)},
		{"rfc3339", "2026-03-01T09:00:00Z", epoch},
		{"rfc3339 nano", "2026-03-01T09:00:00.500Z", epoch.Add(500 * time.Millisecond)},
		{"missing zone gets utc suffix", "2026-03-01T09:00:00", epoch},
		{"empty falls back", "", testNow},
		{"garbage falls back", "not a time", testNow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTimestamp(tt.raw, testNow)
			if !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func runningTimer() *CurrentTimer {
	return &CurrentTimer{
		ID:       "sess-1",
		Task:     &TimerTask{ID: "task-1", Name: "Write report", URL: "https://app.clickup.com/t/task-1"},
		User:     &Worker{ID: "7", Username: "alice"},
		Start:    "1772355600000",
		Duration: -1772355600000,
	}
}

func TestNormalizeTimer(t *testing.T) {
	rec := NormalizeTimer(runningTimer(), testNow)
	if rec == nil {
		t.Fatal("NormalizeTimer returned nil for a running timer")
	}
	if rec.SessionID != "sess-1" || rec.TaskID != "task-1" || rec.UserID != "7" {
		t.Errorf("unexpected identifiers: %+v", rec)
	}
	if !rec.Active() {
		t.Error("normalized running timer is not active")
	}
	if !rec.StartTime.Equal(time.UnixMilli(1772355600000)) {
		t.Errorf("StartTime = %s", rec.StartTime)
	}
}

func TestNormalizeTimerNotRunning(t *testing.T) {
	timer := runningTimer()
	timer.Duration = 4500 // non-negative means not currently running
	if rec := NormalizeTimer(timer, testNow); rec != nil {
		t.Errorf("NormalizeTimer returned %+v for a stopped timer", rec)
	}
}

func TestNormalizeTimerMissingKeys(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CurrentTimer)
	}{
		{"nil timer", nil},
		{"no session id", func(c *CurrentTimer) { c.ID = "" }},
		{"no task", func(c *CurrentTimer) { c.Task = nil }},
		{"no task id", func(c *CurrentTimer) { c.Task.ID = "" }},
		{"no user", func(c *CurrentTimer) { c.User = nil }},
		{"no user id", func(c *CurrentTimer) { c.User.ID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var timer *CurrentTimer
			if tt.mutate != nil {
				timer = runningTimer()
				tt.mutate(timer)
			}
			if rec := NormalizeTimer(timer, testNow); rec != nil {
				t.Errorf("NormalizeTimer = %+v, want nil", rec)
			}
		})
	}
}

func TestNormalizeTimerSynthesizesTaskMetadata(t *testing.T) {
	timer := runningTimer()
	timer.Task.Name = ""
	timer.Task.URL = ""
	rec := NormalizeTimer(timer, testNow)
	if rec.TaskName != "Task task-1" {
		t.Errorf("TaskName = %q, want synthesized fallback", rec.TaskName)
	}
	if rec.TaskURL != "https://app.clickup.com/t/task-1" {
		t.Errorf("TaskURL = %q, want constructed URL", rec.TaskURL)
	}
}

func TestNormalizeWebhookClassification(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantType session.EventType
		wantOpen bool
	}{
		{
			// Case (b): no before, after still open.
			name: "started",
			payload: `{"event":"taskTimeTrackedUpdated","task_id":"task-1","history_items":[
				{"user":{"id":7,"username":"alice"},
				 "after":{"id":"sess-1","start":"1772355600000"}}]}`,
			wantType: session.Started,
			wantOpen: true,
		},
		{
			// End equal to start also means still open.
			name: "started with end equal start",
			payload: `{"event":"taskTimeTrackedUpdated","task_id":"task-1","history_items":[
				{"user":{"id":7},
				 "after":{"id":"sess-1","start":"1772355600000","end":"1772355600000"}}]}`,
			wantType: session.Started,
			wantOpen: true,
		},
		{
			// Case (a): no before, after already complete.
			name: "historical entry persists as stopped",
			payload: `{"event":"taskTimeTrackedNew","task_id":"task-1","history_items":[
				{"user":{"id":7},
				 "after":{"id":"sess-1","start":"1772355600000","end":"1772359200000","time":"3600000"}}]}`,
			wantType: session.Stopped,
		},
		{
			// Case (c): before open, after closed.
			name: "stop transition",
			payload: `{"event":"taskTimeTrackedUpdated","task_id":"task-1","history_items":[
				{"user":{"id":7},
				 "before":{"id":"sess-1","start":"1772355600000"},
				 "after":{"id":"sess-1","start":"1772355600000","end":"1772359200000","time":"3600000"}}]}`,
			wantType: session.Stopped,
		},
		{
			// Case (c): edit on an already-closed session.
			name: "edit of closed session",
			payload: `{"event":"taskTimeTrackedUpdated","task_id":"task-1","history_items":[
				{"user":{"id":7},
				 "before":{"id":"sess-1","start":"1772355600000","end":"1772359200000"},
				 "after":{"id":"sess-1","start":"1772355600000","end":"1772362800000","time":"7200000"}}]}`,
			wantType: session.Updated,
		},
		{
			// Case (c): edit while still running.
			name: "edit of open session",
			payload: `{"event":"taskTimeTrackedUpdated","task_id":"task-1","history_items":[
				{"user":{"id":7},
				 "before":{"id":"sess-1","start":"1772355600000"},
				 "after":{"id":"sess-1","start":"1772355000000"}}]}`,
			wantType: session.Updated,
			wantOpen: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, evType, ok := NormalizeWebhook([]byte(tt.payload), testNow)
			if !ok {
				t.Fatal("NormalizeWebhook returned ok=false")
			}
			if evType != tt.wantType {
				t.Errorf("event type = %s, want %s", evType, tt.wantType)
			}
			if rec.Active() != tt.wantOpen {
				t.Errorf("Active() = %v, want %v", rec.Active(), tt.wantOpen)
			}
			if rec.SessionID != "sess-1" || rec.UserID != "7" || rec.TaskID != "task-1" {
				t.Errorf("unexpected identifiers: %+v", rec)
			}
		})
	}
}

func TestNormalizeWebhookDuration(t *testing.T) {
	payload := `{"event":"taskTimeTrackedUpdated","task_id":"task-1","history_items":[
		{"user":{"id":7},
		 "before":{"id":"sess-1","start":"1772355600000"},
		 "after":{"id":"sess-1","start":"1772355600000","end":"1772359200000"}}]}`
	rec, _, ok := NormalizeWebhook([]byte(payload), testNow)
	if !ok {
		t.Fatal("ok=false")
	}
	// No reported "time": duration computed from the interval bounds.
	if rec.DurationMS != 3600000 {
		t.Errorf("DurationMS = %d, want 3600000", rec.DurationMS)
	}
}

func TestNormalizeWebhookRejectsMissingKeys(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{{{`},
		{"no history items", `{"event":"x","task_id":"t1","history_items":[]}`},
		{"no intervals", `{"event":"x","task_id":"t1","history_items":[{"user":{"id":7}}]}`},
		{"no session id", `{"event":"x","task_id":"t1","history_items":[{"user":{"id":7},"after":{"start":"1"}}]}`},
		{"no task id", `{"event":"x","history_items":[{"user":{"id":7},"after":{"id":"s1","start":"1"}}]}`},
		{"no user", `{"event":"x","task_id":"t1","history_items":[{"after":{"id":"s1","start":"1"}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, ok := NormalizeWebhook([]byte(tt.payload), testNow); ok {
				t.Error("NormalizeWebhook accepted a payload missing key fields")
			}
		})
	}
}

func TestNormalizeWebhookEndBeforeStart(t *testing.T) {
	payload := `{"event":"x","task_id":"t1","history_items":[
		{"user":{"id":7},
		 "before":{"id":"s1","start":"1772359200000"},
		 "after":{"id":"s1","start":"1772359200000","end":"1772355600000"}}]}`
	rec, _, ok := NormalizeWebhook([]byte(payload), testNow)
	if !ok {
		t.Fatal("ok=false")
	}
	if rec.EndTime == nil {
		t.Fatal("EndTime not set")
	}
	if rec.EndTime.Before(rec.StartTime) {
		t.Error("EndTime precedes StartTime after normalization")
	}
}

func TestNormalizeTimeEntry(t *testing.T) {
	e := &TimeEntry{
		ID:       "sess-9",
		Task:     &TimerTask{ID: "task-2", Name: "Review PR"},
		User:     &Worker{ID: "8", Username: "bob"},
		Start:    "1772355600000",
		End:      "1772359200000",
		Duration: "3600000",
	}
	rec := NormalizeTimeEntry(e, testNow)
	if rec == nil {
		t.Fatal("NormalizeTimeEntry returned nil")
	}
	if rec.Active() {
		t.Error("historical entry normalized as active")
	}
	if rec.DurationMS != 3600000 {
		t.Errorf("DurationMS = %d", rec.DurationMS)
	}

	if NormalizeTimeEntry(&TimeEntry{ID: "x"}, testNow) != nil {
		t.Error("entry without task/user accepted")
	}
}

func TestApplyTask(t *testing.T) {
	rec := &session.Record{TaskID: "task-1", TaskName: "Task task-1", TaskURL: TaskURL("task-1")}
	ApplyTask(rec, &Task{
		ID:     "task-1",
		Name:   "Write report",
		URL:    "https://app.clickup.com/t/real",
		List:   NamedRef{Name: "Sprint 12"},
		Folder: NamedRef{Name: "Q1"},
		Space:  NamedRef{Name: "Engineering"},
	})
	if rec.TaskName != "Write report" || rec.ListName != "Sprint 12" || rec.SpaceName != "Engineering" {
		t.Errorf("ApplyTask result: %+v", rec)
	}

	// nil task leaves the synthesized fallbacks untouched.
	rec2 := &session.Record{TaskName: "Task t"}
	ApplyTask(rec2, nil)
	if rec2.TaskName != "Task t" {
		t.Error("ApplyTask(nil) modified the record")
	}
}
