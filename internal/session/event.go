package session

import "encoding/json"

// EventType classifies session lifecycle transitions.
type EventType int

const (
	Started EventType = iota // session first observed active
	Stopped                  // session finalized with an end time
	Updated                  // metadata/time edit, no lifecycle transition
)

var eventNames = map[EventType]string{
	Started: "started",
	Stopped: "stopped",
	Updated: "updated",
}

var eventFromName = map[string]EventType{
	"started": Started,
	"stopped": Stopped,
	"updated": Updated,
}

func (e EventType) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return "unknown"
}

func (e EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

func (e *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := eventFromName[s]; ok {
		*e = v
	}
	return nil
}

// Event carries a session record snapshot to observers.
type Event struct {
	Type   EventType
	Record *Record // snapshot (safe to retain)
}
