// Package daemon owns the process lifecycle: it connects devices and sinks,
// writes the file header, runs the sampling loop and coordinates graceful
// shutdown. A lost device connection restarts the whole sampling session,
// because mid-command device state cannot be trusted to resume.
package daemon

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/PatrickBaus/data-logger/internal/device"
	"github.com/PatrickBaus/data-logger/internal/errors"
	"github.com/PatrickBaus/data-logger/internal/logger"
	"github.com/PatrickBaus/data-logger/internal/sampler"
	"github.com/PatrickBaus/data-logger/internal/sink"
)

const headerTimestampFormat = time.RFC3339

type Daemon struct {
	registry *device.Registry
	sinks    []sink.Sink
	interval time.Duration
	log      logger.Logger
}

func New(registry *device.Registry, sinks []sink.Sink, interval time.Duration, log logger.Logger) *Daemon {
	return &Daemon{
		registry: registry,
		sinks:    sinks,
		interval: interval,
		log:      log.With("daemon"),
	}
}

// Run executes sampling sessions until the context is cancelled. A device
// connection error tears the session down and starts a new one; devices are
// expected to reconnect on the next Connect call.
func (d *Daemon) Run(ctx context.Context) error {
	for {
		err := d.runSession(ctx)
		switch {
		case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			d.log.Info().Msg("Logging daemon shut down.")
			return nil
		case device.IsConnectionError(err):
			d.log.ErrorWithCode(errors.New().Wrap(errors.CodeOf(err), err)).
				Msg("Connection error. Reconnecting.")
		default:
			return err
		}
	}
}

// runSession brings up all sinks and devices, writes the header and runs the
// sampling loop until it fails or the context is cancelled. Teardown always
// runs and is bounded by each sink's drain timeout.
func (d *Daemon) runSession(ctx context.Context) error {
	queues := make([]*sink.Queue, 0, len(d.sinks))
	connected := make([]sink.Sink, 0, len(d.sinks))
	defer func() {
		d.disconnectDevices()
		d.shutdownSinks(connected)
	}()

	for _, s := range d.sinks {
		queue, err := s.Connect(ctx)
		if err != nil {
			return err
		}
		connected = append(connected, s)
		queues = append(queues, queue)
	}

	if err := d.connectDevices(ctx); err != nil {
		return err
	}

	header, err := d.buildHeader(ctx)
	if err != nil {
		return err
	}
	for _, s := range connected {
		if hw, ok := s.(sink.HeaderWriter); ok {
			if err := hw.WriteHeader(header); err != nil {
				return err
			}
		}
	}

	fanout := sink.NewFanout(queues...)

	return sampler.New(d.registry, d.interval, d.log).Run(ctx, fanout.Publish)
}

// connectDevices connects and initializes every device concurrently and
// fails on the first error, like the devices were brought up one by one.
func (d *Daemon) connectDevices(ctx context.Context) error {
	d.log.Info().Msg("Initializing devices")

	devices := d.registry.Devices()
	errs := make([]error, len(devices))

	var wg sync.WaitGroup
	for i, dev := range devices {
		wg.Add(1)
		go func(i int, dev device.Device) {
			defer wg.Done()
			if err := dev.Connect(ctx); err != nil {
				errs[i] = err
				return
			}
			errs[i] = dev.Initialize(ctx)
		}(i, dev)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	d.log.Info().Msg("Devices initialized successfully.")

	return nil
}

func (d *Daemon) disconnectDevices() {
	d.log.Debug().Msg("Disconnecting devices.")
	for _, dev := range d.registry.Devices() {
		if err := dev.Disconnect(); err != nil {
			d.log.Error().
				Str("device", dev.Name()).
				Err(err).
				Msg("Error during shutdown of the device")
		}
	}
}

func (d *Daemon) shutdownSinks(connected []sink.Sink) {
	for _, s := range connected {
		if err := s.Shutdown(context.Background()); err != nil {
			d.log.Error().
				Str("sink", s.Driver()).
				Err(err).
				Msg("Error during shutdown of the sink")
		}
	}
}

// buildHeader assembles the descriptive header block: one line per device
// that contributes one, the start timestamp and the column names.
func (d *Daemon) buildHeader(ctx context.Context) ([]string, error) {
	d.log.Debug().Msg("Creating file header")

	var lines []string
	for _, dev := range d.registry.Devices() {
		header, err := dev.LogHeader(ctx)
		if err != nil {
			return nil, err
		}
		if header != "" {
			lines = append(lines, "# "+header)
		}
	}

	start := time.Now().UTC().Truncate(time.Second)
	lines = append(lines, "# Log started at UTC: "+start.Format(headerTimestampFormat))

	columns := append([]string{"Date"}, d.registry.ColumnNames()...)
	lines = append(lines, "# "+strings.Join(columns, ","))

	return lines, nil
}
