package messaging

import (
	"context"

	"github.com/dgaz9/screenly/internal/domain"
)

// Publisher relays playback control commands to the rendering process.
// Delivery is fire-and-forget: commands are never acknowledged, and a
// command sent while no renderer is listening is simply gone.
type Publisher interface {
	// Send relays one control command
	Send(ctx context.Context, command domain.ControlCommand) error
	// Connected reports whether the broker link is currently up
	Connected() bool
	// Close drains buffered commands and closes the connection
	Close()
}
