package sink

import (
	"github.com/PatrickBaus/data-logger/internal/errors"
	"github.com/PatrickBaus/data-logger/internal/logger"
)

// Builder constructs a sink from its configuration.
type Builder func(cfg Config, log logger.Logger) (Sink, error)

// Factory resolves sink driver names to builders.
type Factory struct {
	builders map[string]Builder
}

func NewFactory() *Factory {
	f := &Factory{builders: make(map[string]Builder)}
	f.Register("file", func(cfg Config, log logger.Logger) (Sink, error) {
		return NewFileSink(cfg, log)
	})
	f.Register("mqtt", func(cfg Config, log logger.Logger) (Sink, error) {
		return NewBrokerSink(cfg, log)
	})
	f.Register("sqlite", func(cfg Config, log logger.Logger) (Sink, error) {
		return NewArchiveSink(cfg, log)
	})

	return f
}

func (f *Factory) Register(driver string, builder Builder) {
	f.builders[driver] = builder
}

func (f *Factory) Has(driver string) bool {
	_, ok := f.builders[driver]
	return ok
}

func (f *Factory) New(cfg Config, log logger.Logger) (Sink, error) {
	builder, ok := f.builders[cfg.Driver]
	if !ok {
		return nil, errors.New().WithData(ErrUnknownDriver, cfg.Driver)
	}

	return builder(cfg, log)
}
