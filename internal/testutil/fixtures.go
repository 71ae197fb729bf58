package testutil

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/swarmnet/internal/neighbor"
	"github.com/HerbHall/swarmnet/pkg/models"
)

// Base is a fixed reference instant for deterministic tests.
var Base = time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC)

// NewDetectionMessage returns a DETECTION message with sensible defaults,
// suitable for test fixtures. Override individual fields with options.
func NewDetectionMessage(eventType models.EventType, opts ...func(*models.Message)) models.Message {
	conf := models.DefaultConfidence(eventType)
	m := models.Message{
		Type:       models.MessageDetection,
		EventID:    uuid.New().String(),
		RobotID:    "robot-test",
		TS:         Base.UnixMilli(),
		TaskID:     models.TaskID(Base),
		Round:      1,
		Confidence: &conf,
		Features: &models.Features{
			EventType: eventType,
			MAC:       "aa:bb:cc:dd:ee:ff",
			IP:        "10.0.0.5",
		},
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// NewTelemetryMessage returns an operational message of type t.
func NewTelemetryMessage(t models.MessageType, opts ...func(*models.Message)) models.Message {
	m := models.Message{
		Type:    t,
		EventID: uuid.New().String(),
		RobotID: "robot-test",
		TS:      Base.UnixMilli(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// WithMAC sets the detection's MAC.
func WithMAC(mac string) func(*models.Message) {
	return func(m *models.Message) { m.Features.MAC = mac }
}

// WithIP sets the detection's IP.
func WithIP(ip string) func(*models.Message) {
	return func(m *models.Message) { m.Features.IP = ip }
}

// WithPrevIP sets the detection's previous IP.
func WithPrevIP(ip string) func(*models.Message) {
	return func(m *models.Message) { m.Features.PrevIP = ip }
}

// WithTS sets the message timestamp.
func WithTS(t time.Time) func(*models.Message) {
	return func(m *models.Message) { m.TS = t.UnixMilli() }
}

// WithRobot sets the sending robot.
func WithRobot(id string) func(*models.Message) {
	return func(m *models.Message) { m.RobotID = id }
}

// Payload marshals m as it would travel on the bus.
func Payload(m models.Message) []byte {
	b, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return b
}

// Observation builds a neighbor observation from mac, ip pairs.
func Observation(pairs ...string) neighbor.Observation {
	if len(pairs)%2 != 0 {
		panic("testutil.Observation: odd number of arguments")
	}
	obs := make(neighbor.Observation, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		obs[pairs[i]] = pairs[i+1]
	}
	return obs
}
