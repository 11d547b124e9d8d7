// Package sampler drives the poll rounds: one concurrent read per device,
// paced by the configured interval, flattened into Samples.
package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/PatrickBaus/data-logger/internal/device"
	"github.com/PatrickBaus/data-logger/internal/errors"
	"github.com/PatrickBaus/data-logger/internal/event"
	"github.com/PatrickBaus/data-logger/internal/logger"
)

type Sampler struct {
	registry *device.Registry
	interval time.Duration
	log      logger.Logger
}

func New(registry *device.Registry, interval time.Duration, log logger.Logger) *Sampler {
	return &Sampler{
		registry: registry,
		interval: interval,
		log:      log.With("sampler"),
	}
}

type readResult struct {
	events []event.DataEvent
	err    error
}

// Run polls all registered devices until ctx is cancelled or a device
// connection fails. Every complete round is passed to emit as one Sample;
// rounds with a recoverable failure are logged and skipped. Connection
// errors are returned to the caller, which owns the reconnect policy.
func (s *Sampler) Run(ctx context.Context, emit func(event.Sample)) error {
	s.log.Info().Msg("Reading data from devices")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		results := s.readRound(ctx)
		if err := ctx.Err(); err != nil {
			// A cancelled round emits nothing, not even a partial Sample.
			return err
		}

		sample, ok, err := s.classify(results)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		emit(sample)
		s.postRead(ctx)
	}
}

// readRound launches one read per device plus the round timer and waits for
// all of them. The round therefore lasts max(slowest read, interval).
func (s *Sampler) readRound(ctx context.Context) []readResult {
	devices := s.registry.Devices()
	results := make([]readResult, len(devices))

	var wg sync.WaitGroup
	for i, dev := range devices {
		wg.Add(1)
		go func(i int, dev device.Device) {
			defer wg.Done()
			events, err := dev.Read(ctx)
			results[i] = readResult{events: events, err: err}
		}(i, dev)
	}

	if s.interval > 0 {
		timer := time.NewTimer(s.interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	wg.Wait()

	return results
}

// classify inspects every device result of one round. It returns the
// flattened Sample if all reads succeeded, ok=false for a recoverable round
// failure, and an error for an unrecoverable one.
func (s *Sampler) classify(results []readResult) (event.Sample, bool, error) {
	devices := s.registry.Devices()

	done := true
	for i, res := range results {
		if res.err == nil {
			continue
		}
		done = false
		if device.IsRecoverable(res.err) {
			s.log.Error().
				Str("device", devices[i].Name()).
				Err(res.err).
				Msg("Error during read. Retrying.")
		}
	}
	if done {
		var events []event.DataEvent
		for _, res := range results {
			events = append(events, res.events...)
		}

		return event.Sample{Timestamp: time.Now().UTC(), Events: events}, true, nil
	}

	for _, res := range results {
		if res.err != nil && !device.IsRecoverable(res.err) {
			return event.Sample{}, false, errors.New().Wrap(errors.CodeOf(res.err), res.err)
		}
	}

	return event.Sample{}, false, nil
}

// postRead runs every device's follow-up hook and joins them before the next
// round starts, so no two rounds overlap on the same device. Failures are
// logged, never fatal.
func (s *Sampler) postRead(ctx context.Context) {
	var wg sync.WaitGroup
	for _, dev := range s.registry.Devices() {
		wg.Add(1)
		go func(dev device.Device) {
			defer wg.Done()
			if err := dev.PostRead(ctx); err != nil {
				s.log.Error().
					Str("device", dev.Name()).
					Err(err).
					Msg("Error during post-read hook")
			}
		}(dev)
	}
	wg.Wait()
}
