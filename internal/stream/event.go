package stream

import (
	"time"

	"github.com/Shashankc-probeplus/essl-agent-backend/internal/terminal"
)

// EventType distinguishes backfilled punches from live ones.
type EventType string

// Event types carried in the envelope.
const (
	// EventHistorical marks a punch recovered during initial sync.
	EventHistorical EventType = "historical"

	// EventRealtime marks a punch captured live.
	EventRealtime EventType = "realtime"
)

// Envelope is the wire format posted to the central server for every
// attendance event.
type Envelope struct {
	DeviceID  string    `json:"device_id"`
	EventType EventType `json:"event_type"`
	EventData EventData `json:"event_data"`

	// Timestamp is when the agent emitted the envelope, epoch seconds.
	Timestamp int64 `json:"timestamp"`
}

// EventData is the punch payload inside an envelope. All times travel as
// Unix epochs so the receiver never parses device-local formats.
type EventData struct {
	UserID     string `json:"user_id"`
	Timestamp  int64  `json:"timestamp"`
	Status     int    `json:"status"`
	Punch      int    `json:"punch"`
	UID        int    `json:"uid"`
	CapturedAt int64  `json:"captured_at"`
}

// newEnvelope wraps a punch for transmission.
func newEnvelope(deviceID string, kind EventType, rec terminal.AttendanceRecord) Envelope {
	now := time.Now().Unix()
	return Envelope{
		DeviceID:  deviceID,
		EventType: kind,
		EventData: EventData{
			UserID:     rec.UserID,
			Timestamp:  rec.Timestamp.UTC().Unix(),
			Status:     rec.Status,
			Punch:      rec.Punch,
			UID:        rec.UID,
			CapturedAt: now,
		},
		Timestamp: now,
	}
}

// EventSink receives every captured envelope in addition to the central
// server delivery. Implementations must not block: a slow sink delays
// capture. Used for the local MQTT mirror and the operator WebSocket feed.
type EventSink interface {
	PublishEvent(env Envelope)
}

// MultiSink fans an envelope out to several sinks.
type MultiSink []EventSink

// PublishEvent forwards the envelope to every sink in order.
func (m MultiSink) PublishEvent(env Envelope) {
	for _, s := range m {
		s.PublishEvent(env)
	}
}
