package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/swarmnet/internal/neighbor"
	"github.com/HerbHall/swarmnet/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxErrorLen = 200

// Publisher sends one message to the bus. mqtt.Channel satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg *models.Message) error
}

// Scanner produces one merged neighbor observation. neighbor.Scanner
// satisfies it.
type Scanner interface {
	Scan(ctx context.Context) (neighbor.Observation, error)
}

// Runner drives the scan, diff and publish cycle.
type Runner struct {
	cfg         Config
	robotID     string
	topicPrefix string
	scanner     Scanner
	engine      *Engine
	pub         Publisher
	outbox      *outbox
	logger      *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// NewRunner creates a Runner with an empty known-device table.
func NewRunner(cfg Config, robotID, topicPrefix string, scanner Scanner, pub Publisher, logger *zap.Logger) *Runner {
	cfg = cfg.withDefaults()
	return &Runner{
		cfg:         cfg,
		robotID:     robotID,
		topicPrefix: topicPrefix,
		scanner:     scanner,
		engine:      NewEngine(cfg.DepartureTimeout),
		pub:         pub,
		outbox:      newOutbox(cfg.OutboxSize),
		logger:      logger,
		now:         time.Now,
		sleep:       sleepCtx,
		newID:       uuid.NewString,
	}
}

// Engine exposes the known-device table for inspection.
func (r *Runner) Engine() *Engine { return r.engine }

// Run announces the agent and then scans until ctx is cancelled. Cycle
// errors are reported and never end the loop.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("discovery started",
		zap.String("robot_id", r.robotID),
		zap.Duration("scan_interval", r.cfg.ScanInterval),
		zap.Duration("departure_timeout", r.cfg.DepartureTimeout),
	)

	r.telemetry(ctx, &models.Message{Type: models.MessageHeartbeat, Msg: "agent-start"})

	for {
		if ctx.Err() != nil {
			return nil
		}

		wait := r.cfg.ScanInterval
		if err := r.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("scan cycle failed", zap.Error(err))
			r.telemetry(ctx, &models.Message{Type: models.MessageError, Error: truncate(err.Error(), maxErrorLen)})
			wait = r.cfg.ErrorBackoff
		}

		if err := r.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// Cycle runs one scan: flush the outbox, read the neighbor table, diff it,
// and publish every resulting event. It returns once all publishes are
// done.
func (r *Runner) Cycle(ctx context.Context) error {
	if err := r.flushOutbox(ctx); err != nil {
		r.logger.Warn("outbox flush stopped", zap.Int("pending", r.outbox.len()), zap.Error(err))
	}

	obs, err := r.scanner.Scan(ctx)
	if err != nil {
		scans.WithLabelValues("error").Inc()
		return fmt.Errorf("scan neighbor table: %w", err)
	}
	scans.WithLabelValues("ok").Inc()

	now := r.now()
	detections := r.engine.Diff(obs, now)
	knownDevices.Set(float64(r.engine.Len()))

	var errs []error
	for _, d := range detections {
		events.WithLabelValues(string(d.EventType)).Inc()
		r.logger.Info("discovery event", zap.Stringer("event", d))
		if err := r.publishDetection(ctx, d, now); err != nil {
			errs = append(errs, err)
		}
	}
	outboxPending.Set(float64(r.outbox.len()))

	if len(errs) > 0 {
		return fmt.Errorf("publish %d of %d events: %w", len(errs), len(detections), errors.Join(errs...))
	}
	return nil
}

// publishDetection sends d on the detection topic and, if that succeeded,
// a summary on the telemetry topic. A failed detection goes to the outbox.
func (r *Runner) publishDetection(ctx context.Context, d models.Detection, now time.Time) error {
	taskID := models.TaskID(now)
	features := d.Features
	conf := d.Confidence
	msg := &models.Message{
		Type:       models.MessageDetection,
		EventID:    r.newID(),
		RobotID:    r.robotID,
		TS:         now.UnixMilli(),
		TaskID:     taskID,
		Round:      1,
		Confidence: &conf,
		Features:   &features,
	}
	topic := models.DetectionTopic(r.topicPrefix, taskID, r.robotID)

	if err := r.pub.Publish(ctx, topic, msg); err != nil {
		r.enqueue(pending{topic: topic, msg: msg})
		return fmt.Errorf("%s: %w", d.EventType, err)
	}

	summary := d.Features
	r.telemetry(ctx, &models.Message{Type: models.MessageEvent, Event: d.EventType, Summary: &summary})
	return nil
}

func (r *Runner) enqueue(p pending) {
	if old := r.outbox.push(p); old != nil {
		r.logger.Warn("outbox full; dropping oldest detection",
			zap.String("event_id", old.msg.EventID),
			zap.String("topic", old.topic),
		)
	}
}

// flushOutbox re-publishes queued detections oldest first and stops at the
// first failure so order is kept.
func (r *Runner) flushOutbox(ctx context.Context) error {
	defer func() { outboxPending.Set(float64(r.outbox.len())) }()
	for {
		p, ok := r.outbox.peek()
		if !ok {
			return nil
		}
		if err := r.pub.Publish(ctx, p.topic, p.msg); err != nil {
			return err
		}
		r.outbox.pop()
		r.logger.Debug("outbox detection delivered", zap.String("event_id", p.msg.EventID))
	}
}

// telemetry fills the envelope of msg and sends it on the robot's telemetry
// topic. Telemetry is best effort.
func (r *Runner) telemetry(ctx context.Context, msg *models.Message) {
	msg.EventID = r.newID()
	msg.RobotID = r.robotID
	msg.TS = r.now().UnixMilli()
	if err := r.pub.Publish(ctx, models.TelemetryTopic(r.topicPrefix, r.robotID), msg); err != nil {
		r.logger.Warn("telemetry not sent",
			zap.String("type", string(msg.Type)),
			zap.Error(err),
		)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
