package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDefaultConfidence(t *testing.T) {
	tests := []struct {
		event EventType
		want  float64
	}{
		{EventNewDevice, 0.95},
		{EventIPChanged, 0.90},
		{EventMACChanged, 0.90},
		{EventDeviceGone, 0.70},
		{EventHeartbeat, 0.60},
		{EventType("SOMETHING_ELSE"), 0.60},
	}
	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			if got := DefaultConfidence(tt.event); got != tt.want {
				t.Errorf("DefaultConfidence(%s) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestEventType_IsDiscovery(t *testing.T) {
	for _, e := range []EventType{EventNewDevice, EventIPChanged, EventMACChanged, EventDeviceGone} {
		if !e.IsDiscovery() {
			t.Errorf("%s should be a discovery event", e)
		}
	}
	for _, e := range []EventType{EventHeartbeat, EventError, EventAck, EventGeneric, ""} {
		if e.IsDiscovery() {
			t.Errorf("%q should not be a discovery event", e)
		}
	}
}

func TestMessageType_IsTelemetry(t *testing.T) {
	for _, m := range []MessageType{MessageHeartbeat, MessageEvent, MessageError, MessageAck} {
		if !m.IsTelemetry() {
			t.Errorf("%s should be telemetry", m)
		}
	}
	for _, m := range []MessageType{MessageDetection, "STATUS", ""} {
		if m.IsTelemetry() {
			t.Errorf("%q should not be telemetry", m)
		}
	}
}

func TestTaskIDAndTopics(t *testing.T) {
	ts := time.Date(2026, time.January, 5, 23, 59, 0, 0, time.Local)
	task := TaskID(ts)
	if task != "NET-20260105" {
		t.Fatalf("TaskID = %q, want %q", task, "NET-20260105")
	}
	if got := DetectionTopic("swarm", task, "rover-1"); got != "swarm/detections/NET-20260105/rover-1" {
		t.Errorf("DetectionTopic = %q", got)
	}
	if got := TelemetryTopic("swarm", "rover-1"); got != "swarm/telemetry/rover-1" {
		t.Errorf("TelemetryTopic = %q", got)
	}
}

// The manager only relies on these field names; keep them stable.
func TestMessage_WireShape(t *testing.T) {
	d := NewDetection(Features{EventType: EventIPChanged, MAC: "aa:bb:cc:dd:ee:ff", PrevIP: "10.0.0.5", IP: "10.0.0.9"})
	conf := d.Confidence
	msg := Message{
		Type:       MessageDetection,
		EventID:    "e1",
		RobotID:    "rover-1",
		TS:         1_760_000_000_000,
		TaskID:     "NET-20251009",
		Round:      1,
		Confidence: &conf,
		Features:   &d.Features,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"type", "robot_id", "ts", "task_id", "round", "confidence", "features"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing %q in %s", key, b)
		}
	}
	for _, key := range []string{"msg", "event", "summary", "error"} {
		if _, ok := raw[key]; ok {
			t.Errorf("unexpected %q in detection %s", key, b)
		}
	}
	feats := raw["features"].(map[string]any)
	if feats["event_type"] != "IP_CHANGED" || feats["prev_ip"] != "10.0.0.5" || feats["ip"] != "10.0.0.9" {
		t.Errorf("features = %v", feats)
	}
	if _, ok := feats["prev_mac"]; ok {
		t.Errorf("prev_mac should be omitted: %v", feats)
	}
}

func TestMessage_UnmarshalTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    int64
		wantErr bool
	}{
		{"integer", `{"type":"DETECTION","ts":1760000000000}`, 1_760_000_000_000, false},
		{"float", `{"type":"DETECTION","ts":1760000000000.0}`, 1_760_000_000_000, false},
		{"fraction truncated", `{"type":"DETECTION","ts":1760000000000.9}`, 1_760_000_000_000, false},
		{"exponent", `{"type":"DETECTION","ts":1.76e12}`, 1_760_000_000_000, false},
		{"missing", `{"type":"DETECTION"}`, 0, false},
		{"not a number", `{"type":"DETECTION","ts":"yesterday"}`, 0, true},
		{"out of range", `{"type":"DETECTION","ts":1e300}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Message
			err := json.Unmarshal([]byte(tt.payload), &m)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got ts=%d", m.TS)
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if m.TS != tt.want {
				t.Errorf("TS = %d, want %d", m.TS, tt.want)
			}
			if m.Type != MessageDetection {
				t.Errorf("Type = %q", m.Type)
			}
		})
	}
}

func TestDetection_String(t *testing.T) {
	tests := []struct {
		f    Features
		want string
	}{
		{Features{EventType: EventNewDevice, MAC: "m1", IP: "1.1.1.1"}, "NEW_DEVICE mac=m1 ip=1.1.1.1"},
		{Features{EventType: EventIPChanged, MAC: "m1", PrevIP: "a", IP: "b"}, "IP_CHANGED mac=m1 a->b"},
		{Features{EventType: EventMACChanged, IP: "1.1.1.1", PrevMAC: "m1", MAC: "m2"}, "MAC_CHANGED ip=1.1.1.1 m1->m2"},
	}
	for _, tt := range tests {
		if got := NewDetection(tt.f).String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestDevicePresence_StatusAt(t *testing.T) {
	p := DevicePresence{MAC: "m", FirstSeenTS: 0, LastSeenTS: 1_000_000}
	last := time.UnixMilli(1_000_000)

	if !p.StatusAt(last.Add(120*time.Second), 120*time.Second).Online {
		t.Error("exactly at the threshold should be online")
	}
	if p.StatusAt(last.Add(121*time.Second), 120*time.Second).Online {
		t.Error("past the threshold should be offline")
	}
}
