package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HerbHall/swarmnet/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by a Conn whose session has gone away.
var ErrNotConnected = errors.New("not connected to broker")

// State is the connection state of a Channel.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// Conn is one established broker session.
type Conn interface {
	Publish(topic string, payload []byte) error
	Close()
}

// Dialer opens a new broker session.
type Dialer func(ctx context.Context) (Conn, error)

// Channel is the agent's only path to the bus. It owns exactly one Conn,
// reconnects with a fixed backoff for as long as it takes, and retries a
// failed publish once on a fresh session.
type Channel struct {
	dial        Dialer
	backoff     time.Duration
	robotID     string
	topicPrefix string
	logger      *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex // guards conn; held across reconnects
	conn  Conn
	state atomic.Int32
}

// NewChannel creates a disconnected Channel. Call Connect or just Publish;
// either establishes the session on demand.
func NewChannel(dial Dialer, cfg Config, robotID string, logger *zap.Logger) *Channel {
	backoff := cfg.ReconnectBackoff
	if backoff <= 0 {
		backoff = DefaultConfig().ReconnectBackoff
	}
	return &Channel{
		dial:        dial,
		backoff:     backoff,
		robotID:     robotID,
		topicPrefix: cfg.TopicPrefix,
		logger:      logger,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// State returns the current connection state without blocking.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Connected reports whether the channel currently holds a live session.
func (c *Channel) Connected() bool {
	return c.State() == StateConnected
}

// Connect blocks until a session is established or ctx is cancelled.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	return c.connectLocked(ctx)
}

// Publish sends msg on topic. If the send fails the session is torn down,
// re-established, and the send retried exactly once.
func (c *Channel) Publish(ctx context.Context, topic string, msg *models.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return err
		}
	}

	err = c.conn.Publish(topic, payload)
	if err == nil {
		publishes.WithLabelValues("ok").Inc()
		return nil
	}

	publishes.WithLabelValues("retry").Inc()
	c.logger.Warn("publish failed; reconnecting",
		zap.String("topic", topic),
		zap.Error(err),
	)
	c.dropLocked()
	if err := c.connectLocked(ctx); err != nil {
		return fmt.Errorf("reconnect for %s: %w", topic, err)
	}

	if err := c.conn.Publish(topic, payload); err != nil {
		publishes.WithLabelValues("failed").Inc()
		c.dropLocked()
		return fmt.Errorf("publish %s after reconnect: %w", topic, err)
	}
	publishes.WithLabelValues("ok").Inc()
	return nil
}

// Close ends the current session, if any.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
}

// connectLocked is the Disconnected -> Connecting -> Connected loop. It only
// returns early when ctx is cancelled. Must be called with c.mu held.
func (c *Channel) connectLocked(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			c.setState(StateDisconnected)
			return err
		}

		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err == nil {
			connectAttempts.WithLabelValues("ok").Inc()
			c.conn = conn
			c.setState(StateConnected)
			c.logger.Info("connected to broker", zap.Int("attempt", attempt))
			c.announceLocked()
			return nil
		}

		connectAttempts.WithLabelValues("failed").Inc()
		c.setState(StateDisconnected)
		c.logger.Warn("broker connect failed; retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", c.backoff),
			zap.Error(err),
		)
		if err := c.sleep(ctx, c.backoff); err != nil {
			return err
		}
	}
}

// announceLocked sends the best-effort "connected" heartbeat. Failure is
// dropped.
func (c *Channel) announceLocked() {
	msg := models.Message{
		Type:    models.MessageHeartbeat,
		EventID: uuid.NewString(),
		RobotID: c.robotID,
		TS:      c.now().UnixMilli(),
		Msg:     "connected",
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := c.conn.Publish(models.TelemetryTopic(c.topicPrefix, c.robotID), payload); err != nil {
		c.logger.Debug("connect heartbeat not sent", zap.Error(err))
	}
}

func (c *Channel) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.setState(StateDisconnected)
}

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
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
