package flint

import (
	"github.com/sirupsen/logrus"

	"flint/internal/store"
)

type Option interface {
	apply(*store.Config)
}

type optionFunc func(*store.Config)

func (f optionFunc) apply(cfg *store.Config) {
	f(cfg)
}

// WithLogger routes the store's structured events to the given logger
// instead of the logrus standard logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return optionFunc(func(cfg *store.Config) {
		cfg.Logger = logger
	})
}
