package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ErrTimeout is returned when the broker does not complete an operation
// within Config.Timeout.
var ErrTimeout = errors.New("mqtt operation timed out")

// clientOptions builds the paho options common to publisher and subscriber.
func clientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetCleanSession(cfg.CleanSession).
		SetConnectTimeout(cfg.Timeout)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password) //nolint:gosec // G101: config field
	}
	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// NewPahoDialer returns a Dialer that opens one paho session per call.
// Paho's own reconnect is disabled; Channel owns the retry loop.
func NewPahoDialer(cfg Config, logger *zap.Logger) Dialer {
	return func(ctx context.Context) (Conn, error) {
		opts := clientOptions(cfg).
			SetAutoReconnect(false).
			SetConnectRetry(false).
			SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
				logger.Warn("mqtt connection lost", zap.Error(err))
			})

		client := pahomqtt.NewClient(opts)
		if err := waitToken(ctx, client.Connect(), cfg.Timeout); err != nil {
			client.Disconnect(0)
			return nil, fmt.Errorf("connect %s: %w", cfg.BrokerURL, err)
		}
		return &pahoConn{client: client, cfg: cfg}, nil
	}
}

type pahoConn struct {
	client pahomqtt.Client
	cfg    Config
}

func (c *pahoConn) Publish(topic string, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, c.cfg.QoS, c.cfg.Retain, payload)
	return waitToken(context.Background(), token, c.cfg.Timeout)
}

func (c *pahoConn) Close() {
	c.client.Disconnect(250)
}

// waitToken blocks until token completes, ctx is done, or timeout elapses.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
