package mqtt

import (
	"context"
	"errors"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Handler processes one inbound message. A non-nil error means the
// message was not durably handled and must not be acknowledged.
type Handler func(ctx context.Context, topic string, payload []byte) error

// Subscriber is the manager's side of the bus: it subscribes to the
// configured filter and hands every message to a Handler.
type Subscriber struct {
	cfg     Config
	handler Handler
	onFatal func(error)
	logger  *zap.Logger

	mu     sync.RWMutex
	client pahomqtt.Client
	ctx    context.Context
}

// NewSubscriber creates a Subscriber. onFatal is invoked once per handler
// failure; the caller decides whether that ends the process.
func NewSubscriber(cfg Config, handler Handler, onFatal func(error), logger *zap.Logger) *Subscriber {
	if onFatal == nil {
		onFatal = func(error) {}
	}
	return &Subscriber{
		cfg:     cfg,
		handler: handler,
		onFatal: onFatal,
		logger:  logger,
		ctx:     context.Background(),
	}
}

// Start connects to the broker. Paho keeps retrying in the background and
// re-subscribes on every successful connect.
func (s *Subscriber) Start(ctx context.Context) error {
	if s.cfg.BrokerURL == "" {
		return errors.New("mqtt broker_url is not configured")
	}

	backoff := s.cfg.ReconnectBackoff
	if backoff <= 0 {
		backoff = DefaultConfig().ReconnectBackoff
	}
	opts := clientOptions(s.cfg).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(backoff).
		SetMaxReconnectInterval(backoff).
		SetOrderMatters(false).
		SetAutoAckDisabled(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			s.logger.Warn("mqtt connection lost", zap.Error(err))
		})

	client := pahomqtt.NewClient(opts)

	s.mu.Lock()
	s.client = client
	s.ctx = ctx
	s.mu.Unlock()

	token := client.Connect()
	switch err := waitToken(ctx, token, s.cfg.Timeout); {
	case errors.Is(err, ErrTimeout):
		s.logger.Warn("mqtt connection timed out; will keep retrying in background",
			zap.String("broker_url", s.cfg.BrokerURL),
		)
	case err != nil:
		return err
	}
	return nil
}

// Stop disconnects from the broker.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Disconnect(250)
		s.logger.Info("mqtt subscriber disconnected")
		s.client = nil
	}
}

// Connected reports whether the subscriber holds a live session.
func (s *Subscriber) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil && s.client.IsConnectionOpen()
}

func (s *Subscriber) onConnect(client pahomqtt.Client) {
	filter := s.cfg.Filter()
	token := client.Subscribe(filter, s.cfg.QoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		s.mu.RLock()
		ctx := s.ctx
		s.mu.RUnlock()
		s.handle(ctx, msg)
	})
	if err := waitToken(context.Background(), token, s.cfg.Timeout); err != nil {
		s.logger.Error("mqtt subscribe failed", zap.String("filter", filter), zap.Error(err))
		return
	}
	s.logger.Info("mqtt subscribed",
		zap.String("broker_url", s.cfg.BrokerURL),
		zap.String("filter", filter),
	)
}

// handle runs the handler and acknowledges only on success. A failed
// message stays unacknowledged so the broker can redeliver it.
func (s *Subscriber) handle(ctx context.Context, msg pahomqtt.Message) {
	if err := s.handler(ctx, msg.Topic(), msg.Payload()); err != nil {
		received.WithLabelValues("failed").Inc()
		s.onFatal(err)
		return
	}
	received.WithLabelValues("handled").Inc()
	msg.Ack()
}
