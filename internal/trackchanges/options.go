package trackchanges

import (
	"log/slog"
	"time"
)

type options struct {
	ids    IDSource
	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Engine or Interceptor.
type Option func(*options)

// WithIDSource replaces the default timestamp+random marker ids.
func WithIDSource(ids IDSource) Option {
	return func(o *options) {
		if ids != nil {
			o.ids = ids
		}
	}
}

// WithClock sets the clock used for marker timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		ids:    RandomIDs{},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
