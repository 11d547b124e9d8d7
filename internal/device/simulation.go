package device

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/PatrickBaus/data-logger/internal/errors"
	"github.com/PatrickBaus/data-logger/internal/event"
	"github.com/PatrickBaus/data-logger/internal/logger"
)

// simulation is an in-memory device producing a random walk. It is used for
// dry runs of a measurement setup before the instruments are wired up.
type simulation struct {
	cfg       Config
	log       logger.Logger
	rng       *rand.Rand
	values    []float64
	connected bool
}

func newSimulation(cfg Config, log logger.Logger) (Device, error) {
	if len(cfg.ColumnNames) == 0 {
		cfg.ColumnNames = []string{cfg.Name}
	}

	values := make([]float64, len(cfg.ColumnNames))
	for i := range values {
		values[i] = cfg.InitialValue
	}

	return &simulation{
		cfg:    cfg,
		log:    log.With(cfg.Name),
		rng:    rand.New(rand.NewSource(int64(len(cfg.Name)))),
		values: values,
	}, nil
}

func (d *simulation) Connect(_ context.Context) error {
	d.connected = true
	d.log.Debug().Msg("Device connected")

	return nil
}

func (d *simulation) Disconnect() error {
	d.connected = false
	return nil
}

func (d *simulation) Initialize(_ context.Context) error {
	return nil
}

func (d *simulation) Read(ctx context.Context) ([]event.DataEvent, error) {
	if !d.connected {
		return nil, errors.New().New(ErrNotConnected)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.New().Wrap(errors.ErrCancelled, err)
	}

	events := make([]event.DataEvent, 0, len(d.values))
	for i := range d.values {
		d.values[i] += (d.rng.Float64() - 0.5) / 100
		topic := d.cfg.BaseTopic
		if len(d.values) > 1 {
			topic = fmt.Sprintf("%s/channel%d", d.cfg.BaseTopic, i+1)
		}
		events = append(events, event.New(d.cfg.UUID, i, topic, event.NumberValue(d.values[i]), ""))
	}

	return events, nil
}

func (d *simulation) PostRead(_ context.Context) error {
	return nil
}

func (d *simulation) LogHeader(_ context.Context) (string, error) {
	return fmt.Sprintf("%s: simulated random walk around %g", d.cfg.Name, d.cfg.InitialValue), nil
}

func (d *simulation) ID(_ context.Context) (string, error) {
	return "SIMULATION," + d.cfg.Name, nil
}

func (d *simulation) UUID() uuid.UUID {
	return d.cfg.UUID
}

func (d *simulation) Name() string {
	return d.cfg.Name
}

func (d *simulation) BaseTopic() string {
	return d.cfg.BaseTopic
}

func (d *simulation) ColumnNames() []string {
	return d.cfg.ColumnNames
}
