package sink

import (
	"context"
	"time"
)

// Sink is an independent consumer of Samples responsible for one transport or
// persistence target. Connect returns the sink's inbound queue and starts the
// background consumer; Shutdown drains the queue with a bounded timeout and
// releases the underlying resource.
type Sink interface {
	Connect(ctx context.Context) (*Queue, error)
	Shutdown(ctx context.Context) error
	Driver() string
}

// HeaderWriter is implemented by sinks that take a descriptive header block
// before the data stream starts.
type HeaderWriter interface {
	WriteHeader(lines []string) error
}

// Config holds the per-driver sink parameters from the measurement
// configuration.
type Config struct {
	Driver string

	// file
	Filename    string
	Version     string
	Description string

	// mqtt
	Hosts             []string
	Username          string
	Password          string
	Workers           int
	ReconnectInterval time.Duration

	// sqlite
	Database     string
	BatchSize    int
	BatchTimeout time.Duration

	DrainTimeout time.Duration
}
