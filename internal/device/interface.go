package device

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/PatrickBaus/data-logger/internal/event"
)

// Device is the capability set the sampling loop needs from an instrument.
// Implementations own their transport (TCP, serial) and command set; the
// sampler only ever talks to this interface.
type Device interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error
	// Disconnect tears the connection down. Safe to call when not connected.
	Disconnect() error
	// Initialize runs the device-specific setup commands once after connect.
	Initialize(ctx context.Context) error
	// Read performs one poll and returns zero or more measurement events.
	// Errors are classified via IsRecoverable / IsConnectionError.
	Read(ctx context.Context) ([]event.DataEvent, error)
	// PostRead runs the device-specific follow-up commands after a round.
	PostRead(ctx context.Context) error
	// LogHeader returns a static descriptive line for the file header, or an
	// empty string if the device contributes none. Called once at startup.
	LogHeader(ctx context.Context) (string, error)
	// ID queries the instrument identification string.
	ID(ctx context.Context) (string, error)

	UUID() uuid.UUID
	Name() string
	BaseTopic() string
	// ColumnNames returns one name per value produced by Read, in sid order.
	ColumnNames() []string
}

// Config holds the per-driver connection parameters from the measurement
// configuration.
type Config struct {
	Driver string
	Name   string
	UUID   uuid.UUID

	// Ethernet transport
	Host string
	Port int

	// Serial transport
	Tty      string
	Baudrate int

	Timeout          time.Duration
	BaseTopic        string
	ColumnNames      []string
	InitialCommands  []string
	PostReadCommands []string

	// scpi_scanner: zero-based channel indices to cycle through per round
	Channels []int

	// simulation: starting value of the random walk
	InitialValue float64
}
