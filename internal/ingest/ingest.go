// Package ingest classifies messages from the bus and records them in the
// presence store.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/HerbHall/swarmnet/pkg/models"
)

var messages = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "swarm_ingest_messages_total",
		Help: "Messages received from the bus by type and outcome.",
	},
	[]string{"type", "outcome"},
)

func init() {
	prometheus.MustRegister(messages)
}

// Store is the subset of store.PresenceStore the ingestor writes to.
type Store interface {
	RecordDetection(ctx context.Context, rec *models.DetectionRecord) (bool, error)
	AppendTelemetry(ctx context.Context, rec *models.TelemetryRecord) error
}

// Ingestor turns raw bus payloads into durable records. It is safe for
// concurrent use as long as its Store is.
type Ingestor struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates an Ingestor writing to s.
func New(s Store, logger *zap.Logger) *Ingestor {
	return &Ingestor{store: s, logger: logger, now: time.Now}
}

// Handle processes one message. Malformed payloads and unknown types are
// dropped and return nil. A storage failure is returned so the caller can
// withhold the acknowledgement.
func (in *Ingestor) Handle(ctx context.Context, topic string, payload []byte) error {
	var msg models.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		messages.WithLabelValues("", "malformed").Inc()
		in.logger.Debug("dropping malformed message",
			zap.String("topic", topic),
			zap.Int("bytes", len(payload)),
			zap.Error(err),
		)
		return nil
	}
	if msg.TS == 0 {
		msg.TS = in.now().UnixMilli()
	}

	switch {
	case msg.Type == models.MessageDetection:
		return in.detection(ctx, topic, &msg, payload)
	case msg.Type.IsTelemetry():
		return in.telemetry(ctx, topic, &msg, payload)
	default:
		messages.WithLabelValues(string(msg.Type), "ignored").Inc()
		in.logger.Debug("ignoring message",
			zap.String("topic", topic),
			zap.String("type", string(msg.Type)),
		)
		return nil
	}
}

func (in *Ingestor) detection(ctx context.Context, topic string, msg *models.Message, payload []byte) error {
	rec := &models.DetectionRecord{
		TSMillis:   msg.TS,
		RobotID:    msg.RobotID,
		TaskID:     msg.TaskID,
		RawPayload: string(payload),
	}
	if msg.Features != nil {
		rec.EventType = msg.Features.EventType
		rec.MAC = msg.Features.MAC
		rec.IP = msg.Features.IP
	}
	if msg.Confidence != nil {
		rec.Confidence = *msg.Confidence
	}

	upserted, err := in.store.RecordDetection(ctx, rec)
	if err != nil {
		messages.WithLabelValues(string(msg.Type), "error").Inc()
		in.logger.Error("failed to record detection",
			zap.String("topic", topic),
			zap.String("robot_id", rec.RobotID),
			zap.String("event_type", string(rec.EventType)),
			zap.String("mac", rec.MAC),
			zap.Error(err),
		)
		return fmt.Errorf("record detection: %w", err)
	}

	messages.WithLabelValues(string(msg.Type), "stored").Inc()
	in.logger.Debug("detection recorded",
		zap.Int64("id", rec.ID),
		zap.String("robot_id", rec.RobotID),
		zap.String("event_type", string(rec.EventType)),
		zap.String("mac", rec.MAC),
		zap.String("ip", rec.IP),
		zap.Bool("presence", upserted),
	)
	return nil
}

func (in *Ingestor) telemetry(ctx context.Context, topic string, msg *models.Message, payload []byte) error {
	rec := &models.TelemetryRecord{
		TSMillis:   msg.TS,
		RobotID:    msg.RobotID,
		Type:       msg.Type,
		RawPayload: string(payload),
	}
	if err := in.store.AppendTelemetry(ctx, rec); err != nil {
		messages.WithLabelValues(string(msg.Type), "error").Inc()
		in.logger.Error("failed to record telemetry",
			zap.String("topic", topic),
			zap.String("robot_id", rec.RobotID),
			zap.String("type", string(rec.Type)),
			zap.Error(err),
		)
		return fmt.Errorf("append telemetry: %w", err)
	}

	messages.WithLabelValues(string(msg.Type), "stored").Inc()
	if msg.Type == models.MessageError {
		in.logger.Warn("agent reported error",
			zap.String("robot_id", msg.RobotID),
			zap.String("error", msg.Error),
		)
	}
	return nil
}
