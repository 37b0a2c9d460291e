package adapter

import (
	"github.com/nats-io/nats.go"
)

// NatsConn defines an interface for core NATS connection operations to enable mocking
type NatsConn interface {
	// Publish publishes data on the subject with no delivery guarantee
	Publish(subject string, data []byte) error

	// Flush forces any buffered publishes onto the wire
	Flush() error

	// IsConnected reports whether the connection is currently established
	IsConnected() bool

	// Drain flushes pending messages and closes the connection
	Drain() error

	// Close tears down the connection immediately
	Close()
}

// NatsConnector defines an interface for creating core NATS connections
type NatsConnector interface {
	Connect(url string, options ...nats.Option) (NatsConn, error)
}

// RealNatsConnector implements NatsConnector using the standard nats package
type RealNatsConnector struct{}

// NewNatsConnector creates a new real NATS connector
func NewNatsConnector() NatsConnector {
	return &RealNatsConnector{}
}

func (n *RealNatsConnector) Connect(url string, options ...nats.Option) (NatsConn, error) {
	return nats.Connect(url, options...)
}
