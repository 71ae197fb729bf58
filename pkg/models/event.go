package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// EventType identifies the transition or operational fact an event carries.
type EventType string

// Discovery event types emitted by the agent's diff engine.
const (
	EventNewDevice  EventType = "NEW_DEVICE"
	EventIPChanged  EventType = "IP_CHANGED"
	EventMACChanged EventType = "MAC_CHANGED"
	EventDeviceGone EventType = "DEVICE_GONE"
)

// Operational event types. These double as wire MessageType values.
const (
	EventHeartbeat EventType = "HEARTBEAT"
	EventError     EventType = "ERROR"
	EventAck       EventType = "ACK"
	EventGeneric   EventType = "EVENT"
)

// IsDiscovery reports whether t is one of the four discovery event types.
func (t EventType) IsDiscovery() bool {
	switch t {
	case EventNewDevice, EventIPChanged, EventMACChanged, EventDeviceGone:
		return true
	}
	return false
}

// MessageType is the "type" discriminator of a message on the bus.
type MessageType string

const (
	MessageDetection MessageType = "DETECTION"
	MessageHeartbeat MessageType = MessageType(EventHeartbeat)
	MessageEvent     MessageType = MessageType(EventGeneric)
	MessageError     MessageType = MessageType(EventError)
	MessageAck       MessageType = MessageType(EventAck)
)

// IsTelemetry reports whether t is stored as a telemetry record.
func (t MessageType) IsTelemetry() bool {
	switch t {
	case MessageHeartbeat, MessageEvent, MessageError, MessageAck:
		return true
	}
	return false
}

// DefaultConfidence returns the fixed confidence score for an event type.
func DefaultConfidence(t EventType) float64 {
	switch t {
	case EventNewDevice:
		return 0.95
	case EventIPChanged, EventMACChanged:
		return 0.90
	case EventDeviceGone:
		return 0.70
	default:
		return 0.60
	}
}

// Features holds the type-specific fields of a detection.
type Features struct {
	EventType  EventType `json:"event_type"`
	MAC        string    `json:"mac,omitempty"`
	IP         string    `json:"ip,omitempty"`
	PrevIP     string    `json:"prev_ip,omitempty"`
	PrevMAC    string    `json:"prev_mac,omitempty"`
	LastSeenMS int64     `json:"last_seen_ms,omitempty"`
}

// Detection is a discovery event produced by one diff cycle, before it is
// wrapped into a Message for transmission.
type Detection struct {
	Features
	Confidence float64 `json:"confidence"`
}

// NewDetection builds a Detection with the default confidence for its type.
func NewDetection(f Features) Detection {
	return Detection{Features: f, Confidence: DefaultConfidence(f.EventType)}
}

// String renders the detection for logs.
func (d Detection) String() string {
	switch d.EventType {
	case EventIPChanged:
		return fmt.Sprintf("%s mac=%s %s->%s", d.EventType, d.MAC, d.PrevIP, d.IP)
	case EventMACChanged:
		return fmt.Sprintf("%s ip=%s %s->%s", d.EventType, d.IP, d.PrevMAC, d.MAC)
	default:
		return fmt.Sprintf("%s mac=%s ip=%s", d.EventType, d.MAC, d.IP)
	}
}

// Message is the UTF-8 JSON record exchanged over the messaging bus.
// Detections populate TaskID, Round, Confidence and Features; telemetry
// populates Msg, Event, Summary or Error depending on Type.
type Message struct {
	Type       MessageType `json:"type"`
	EventID    string      `json:"event_id,omitempty"`
	RobotID    string      `json:"robot_id"`
	TS         int64       `json:"ts"`
	TaskID     string      `json:"task_id,omitempty"`
	Round      int         `json:"round,omitempty"`
	Confidence *float64    `json:"confidence,omitempty"`
	Features   *Features   `json:"features,omitempty"`
	Msg        string      `json:"msg,omitempty"`
	Event      EventType   `json:"event,omitempty"`
	Summary    *Features   `json:"summary,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// UnmarshalJSON accepts ts as any JSON number. Fractional milliseconds
// are truncated; non-numeric values are an error.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	aux := struct {
		*plain
		TS json.Number `json:"ts"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	ts, err := parseMillis(aux.TS)
	if err != nil {
		return err
	}
	m.TS = ts
	return nil
}

func parseMillis(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	if v, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= math.MaxInt64 {
		return 0, fmt.Errorf("invalid ts %q", n)
	}
	return int64(f), nil
}

// TaskID derives the daily task bucket for t, e.g. "NET-20260115".
func TaskID(t time.Time) string {
	return "NET-" + t.Format("20060102")
}

// DetectionTopic returns the per-task detection topic for a robot.
func DetectionTopic(prefix, taskID, robotID string) string {
	return prefix + "/detections/" + taskID + "/" + robotID
}

// TelemetryTopic returns the per-robot telemetry topic.
func TelemetryTopic(prefix, robotID string) string {
	return prefix + "/telemetry/" + robotID
}
