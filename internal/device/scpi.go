package device

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/PatrickBaus/data-logger/internal/errors"
	"github.com/PatrickBaus/data-logger/internal/event"
	"github.com/PatrickBaus/data-logger/internal/logger"
)

const (
	defaultSCPIPort    = 5025
	defaultSCPITimeout = 10 * time.Second
	commandTimeout     = time.Second
)

// scpiDevice reads a single value per round from an SCPI instrument over a
// raw TCP socket. This covers bench multimeters like the Keysight 34470A or
// the Keithley DMM6500, which answer `READ?` with one decimal number.
type scpiDevice struct {
	cfg    Config
	log    logger.Logger
	conn   net.Conn
	reader *bufio.Reader
}

func newSCPIDevice(cfg Config, log logger.Logger) (Device, error) {
	if cfg.Host == "" {
		return nil, errors.New().WithMessage(ErrInvalidConfig, "scpi driver requires a host")
	}
	if cfg.Port == 0 {
		cfg.Port = defaultSCPIPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSCPITimeout
	}
	if len(cfg.ColumnNames) == 0 {
		cfg.ColumnNames = []string{cfg.Name}
	}

	return &scpiDevice{cfg: cfg, log: log.With(cfg.Name)}, nil
}

func (d *scpiDevice) Connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: d.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.addr())
	if err != nil {
		return errors.New().Wrap(ErrConnectionFailed, err)
	}

	d.conn = conn
	d.reader = bufio.NewReader(conn)
	d.log.Debug().Str("address", d.addr()).Msg("Device connected")

	return nil
}

func (d *scpiDevice) Disconnect() error {
	if d.conn == nil {
		return nil
	}

	err := d.conn.Close()
	d.conn = nil
	d.reader = nil
	if err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

func (d *scpiDevice) Initialize(ctx context.Context) error {
	id, err := d.ID(ctx)
	if err != nil {
		return err
	}
	d.log.Info().Str("id", id).Msg("Initializing device")

	return d.batchRun(ctx, d.cfg.InitialCommands)
}

func (d *scpiDevice) Read(ctx context.Context) ([]event.DataEvent, error) {
	data, err := d.query(ctx, "READ?", d.cfg.Timeout)
	if err != nil {
		return nil, err
	}

	value, err := decimal.NewFromString(data)
	if err != nil {
		return nil, errors.New().WithData(ErrInvalidData, data)
	}

	return []event.DataEvent{
		event.New(d.cfg.UUID, 0, d.cfg.BaseTopic, event.DecimalValue(value), ""),
	}, nil
}

func (d *scpiDevice) PostRead(ctx context.Context) error {
	return d.batchRun(ctx, d.cfg.PostReadCommands)
}

func (d *scpiDevice) LogHeader(ctx context.Context) (string, error) {
	id, err := d.ID(ctx)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s: %s", d.cfg.Name, id), nil
}

func (d *scpiDevice) ID(ctx context.Context) (string, error) {
	return d.query(ctx, "*IDN?", d.cfg.Timeout)
}

func (d *scpiDevice) UUID() uuid.UUID {
	return d.cfg.UUID
}

func (d *scpiDevice) Name() string {
	return d.cfg.Name
}

func (d *scpiDevice) BaseTopic() string {
	return d.cfg.BaseTopic
}

func (d *scpiDevice) ColumnNames() []string {
	return d.cfg.ColumnNames
}

func (d *scpiDevice) addr() string {
	return fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port)
}

// batchRun executes commands in order, each with its own short deadline.
func (d *scpiDevice) batchRun(ctx context.Context, commands []string) error {
	for _, cmd := range commands {
		if err := d.write(ctx, cmd, commandTimeout); err != nil {
			return err
		}
	}

	return nil
}

func (d *scpiDevice) write(ctx context.Context, cmd string, timeout time.Duration) error {
	if d.conn == nil {
		return errors.New().New(ErrNotConnected)
	}

	if err := d.conn.SetDeadline(ioDeadline(ctx, timeout)); err != nil {
		return errors.New().Wrap(ErrConnectionLost, err)
	}
	if _, err := d.conn.Write([]byte(cmd + "\n")); err != nil {
		return classifyIOError(err)
	}

	return nil
}

func (d *scpiDevice) query(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	if err := d.write(ctx, cmd, timeout); err != nil {
		return "", err
	}

	line, err := d.reader.ReadString('\n')
	if err != nil {
		return "", classifyIOError(err)
	}

	return strings.TrimSpace(line), nil
}

// ioDeadline picks the earlier of the context deadline and now+timeout.
func ioDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		return ctxDeadline
	}

	return deadline
}

// classifyIOError maps socket errors onto the device error taxonomy: an I/O
// timeout is recoverable, everything else means the connection is gone.
func classifyIOError(err error) error {
	errFactory := errors.New()

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errFactory.Wrap(ErrReadTimeout, err)
	}

	return errFactory.Wrap(ErrConnectionLost, err)
}

// scpiScanner multiplexes one instrument over a relay scanner card, reading
// every configured channel per round. Modelled after the Keithley 2002 with
// a model 2001-SCAN card.
type scpiScanner struct {
	scpiDevice
	channels []int
}

func newSCPIScanner(cfg Config, log logger.Logger) (Device, error) {
	if len(cfg.Channels) == 0 {
		return nil, errors.New().WithMessage(ErrInvalidConfig, "scpi_scanner driver requires at least one channel")
	}
	if len(cfg.ColumnNames) == 0 {
		for _, channel := range cfg.Channels {
			cfg.ColumnNames = append(cfg.ColumnNames, fmt.Sprintf("%s CH%d", cfg.Name, channel+1))
		}
	}

	dev, err := newSCPIDevice(cfg, log)
	if err != nil {
		return nil, err
	}

	return &scpiScanner{scpiDevice: *dev.(*scpiDevice), channels: cfg.Channels}, nil
}

func (d *scpiScanner) Read(ctx context.Context) ([]event.DataEvent, error) {
	events := make([]event.DataEvent, 0, len(d.channels))
	for _, channel := range d.channels {
		ev, err := d.readChannel(ctx, channel)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	return events, nil
}

func (d *scpiScanner) readChannel(ctx context.Context, channel int) (event.DataEvent, error) {
	if err := d.write(ctx, fmt.Sprintf(":rout:clos (@%d)", channel+1), commandTimeout); err != nil {
		return event.DataEvent{}, err
	}

	data, err := d.query(ctx, ":data:fresh?", d.cfg.Timeout)
	if err != nil {
		return event.DataEvent{}, err
	}

	value, err := decimal.NewFromString(data)
	if err != nil {
		return event.DataEvent{}, errors.New().WithData(ErrInvalidData, data)
	}

	topic := fmt.Sprintf("%s/channel%d", d.cfg.BaseTopic, channel+1)

	return event.New(d.cfg.UUID, channel, topic, event.DecimalValue(value), "V"), nil
}
