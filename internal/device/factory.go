package device

import (
	"github.com/PatrickBaus/data-logger/internal/errors"
	"github.com/PatrickBaus/data-logger/internal/logger"
)

// Builder constructs a device from its configuration.
type Builder func(cfg Config, log logger.Logger) (Device, error)

// Factory resolves driver names to device builders. The driver set is fixed
// once at construction.
type Factory struct {
	builders map[string]Builder
}

func NewFactory() *Factory {
	f := &Factory{builders: make(map[string]Builder)}
	f.Register("scpi", newSCPIDevice)
	f.Register("scpi_scanner", newSCPIScanner)
	f.Register("simulation", newSimulation)

	return f
}

func (f *Factory) Register(driver string, builder Builder) {
	f.builders[driver] = builder
}

func (f *Factory) Has(driver string) bool {
	_, ok := f.builders[driver]
	return ok
}

func (f *Factory) New(cfg Config, log logger.Logger) (Device, error) {
	builder, ok := f.builders[cfg.Driver]
	if !ok {
		return nil, errors.New().WithData(ErrUnknownDriver, cfg.Driver)
	}

	return builder(cfg, log)
}
