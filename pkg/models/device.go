package models

import "time"

// DevicePresence is the authoritative presence row for one MAC address.
// Online/offline is never stored; see DeviceStatus.
type DevicePresence struct {
	MAC         string `json:"mac"`
	FirstSeenTS int64  `json:"first_seen_ts"`
	LastSeenTS  int64  `json:"last_seen_ts"`
	LastIP      string `json:"last_ip,omitempty"`
	SeenCount   int64  `json:"seen_count"`
}

// LastSeen returns LastSeenTS as a time.Time.
func (d DevicePresence) LastSeen() time.Time { return time.UnixMilli(d.LastSeenTS) }

// DeviceStatus is a DevicePresence with the online flag derived at read time.
type DeviceStatus struct {
	DevicePresence
	Online bool `json:"online"`
}

// StatusAt derives the online flag for d relative to now.
func (d DevicePresence) StatusAt(now time.Time, threshold time.Duration) DeviceStatus {
	return DeviceStatus{
		DevicePresence: d,
		Online:         now.Sub(d.LastSeen()) <= threshold,
	}
}

// DetectionRecord is one row of the append-only detections log.
// IP and MAC are empty when the originating event omitted them.
type DetectionRecord struct {
	ID         int64     `json:"id"`
	TSMillis   int64     `json:"ts_ms"`
	RobotID    string    `json:"robot_id"`
	EventType  EventType `json:"event_type"`
	MAC        string    `json:"mac,omitempty"`
	IP         string    `json:"ip,omitempty"`
	Confidence float64   `json:"confidence"`
	TaskID     string    `json:"task_id"`
	RawPayload string    `json:"raw_payload"`
}

// TelemetryRecord is one row of the append-only telemetry log.
type TelemetryRecord struct {
	ID         int64       `json:"id"`
	TSMillis   int64       `json:"ts_ms"`
	RobotID    string      `json:"robot_id"`
	Type       MessageType `json:"type"`
	RawPayload string      `json:"raw_payload"`
}
