package session

import "time"

// Record is the canonical session shape shared by both ingestion paths.
// A nil EndTime means the session is currently active. DurationMS is
// authoritative only once EndTime is set.
type Record struct {
	SessionID  string     `json:"sessionId"`
	TaskID     string     `json:"taskId"`
	TaskName   string     `json:"taskName"`
	TaskURL    string     `json:"taskUrl,omitempty"`
	UserID     string     `json:"userId"`
	UserName   string     `json:"userName,omitempty"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	DurationMS int64      `json:"durationMs"`
	ListName   string     `json:"listName,omitempty"`
	FolderName string     `json:"folderName,omitempty"`
	SpaceName  string     `json:"spaceName,omitempty"`
	CreatedAt  time.Time  `json:"createdAt,omitempty"`
}

func (r *Record) Active() bool {
	return r.EndTime == nil
}

// Clone returns a deep copy of the Record, duplicating pointer fields so
// the copy can be mutated independently of the original.
func (r *Record) Clone() *Record {
	c := *r
	if r.EndTime != nil {
		t := *r.EndTime
		c.EndTime = &t
	}
	return &c
}
