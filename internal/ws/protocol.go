package ws

import (
	"time"

	"github.com/lukelocksmith/timemonitor/internal/session"
)

type MessageType string

const (
	MsgSnapshot       MessageType = "snapshot"
	MsgSessionStarted MessageType = "session_started"
	MsgSessionStopped MessageType = "session_stopped"
	MsgSessionUpdated MessageType = "session_updated"
	MsgError          MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Sessions []*session.Record `json:"sessions"`
}

type SessionEventPayload struct {
	Session *session.Record `json:"session"`
}

func messageTypeFor(t session.EventType) MessageType {
	switch t {
	case session.Started:
		return MsgSessionStarted
	case session.Stopped:
		return MsgSessionStopped
	default:
		return MsgSessionUpdated
	}
}

type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
)

// HealthReport is the /api/health response: upstream fetch health plus
// self process diagnostics.
type HealthReport struct {
	Status          HealthStatus `json:"status"`
	RosterFailures  int          `json:"rosterFailures"`
	DegradedWorkers []string     `json:"degradedWorkers,omitempty"`
	LastError       string       `json:"lastError,omitempty"`
	ActiveSessions  int          `json:"activeSessions"`
	Observers       int          `json:"observers"`
	Process         ProcessStats `json:"process"`
	Timestamp       time.Time    `json:"timestamp"`
}

type ProcessStats struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes"`
	Goroutines int     `json:"goroutines"`
}
