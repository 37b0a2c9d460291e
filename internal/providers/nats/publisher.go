package nats

import (
	"context"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/dgaz9/screenly/internal/adapter"
	"github.com/dgaz9/screenly/internal/domain"
	"github.com/dgaz9/screenly/internal/logger"
	"github.com/dgaz9/screenly/internal/messaging"
)

// Config holds the configuration for the core NATS connection
type Config struct {
	URL            string
	Subject        string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
}

type publisher struct {
	nc      adapter.NatsConn
	subject string
}

// NewPublisher creates a viewer-command publisher on core NATS.
// RetryOnFailedConnect lets the publisher come up while the broker is
// away, so a missing renderer never blocks the catalog API. Commands sent
// in the meantime sit in the client's reconnect buffer.
func NewPublisher(cfg Config, connector adapter.NatsConnector) (messaging.Publisher, error) {
	opts := []natsgo.Option{
		natsgo.Name(cfg.ConnectionName),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.RetryOnFailedConnect(true),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Warn("Disconnected from NATS", zap.Error(err))
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		natsgo.ClosedHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, err := connector.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &publisher{nc: nc, subject: cfg.Subject}, nil
}

// Send relays one control command with no delivery guarantee
func (p *publisher) Send(ctx context.Context, command domain.ControlCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	logger.Debug("Publishing control command",
		zap.String("subject", p.subject),
		zap.String("command", command.String()),
	)

	if err := p.nc.Publish(p.subject, []byte(command.String())); err != nil {
		return fmt.Errorf("failed to publish command: %w", err)
	}

	// Control commands are latency-sensitive, so push past the client buffer
	// right away instead of waiting for the periodic flush.
	if err := p.nc.Flush(); err != nil {
		return fmt.Errorf("failed to flush command: %w", err)
	}
	return nil
}

// Connected reports whether the broker link is currently up
func (p *publisher) Connected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

// Close drains buffered commands and closes the connection
func (p *publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		logger.Warn("failed to drain NATS connection", zap.Error(err))
		p.nc.Close()
	}
}
