package rounds

import (
	"go.uber.org/zap"

	"github.com/replivm/canstate/policy"
	"github.com/replivm/canstate/service/event"
)

type Option func(*Driver)

// WithStates sets the canister state resolver.
func WithStates(states States) Option {
	return func(d *Driver) {
		d.states = states
	}
}

// WithInterpreter sets the execution engine.
func WithInterpreter(interpreter Interpreter) Option {
	return func(d *Driver) {
		d.interpreter = interpreter
	}
}

// WithPricer sets the charging policy.
func WithPricer(pricer policy.Pricer) Option {
	return func(d *Driver) {
		if pricer != nil {
			d.pricer = pricer
		}
	}
}

// WithEvents sets the event service slices publish to.
func WithEvents(events *event.Service) Option {
	return func(d *Driver) {
		d.events = events
	}
}

// WithLogger sets the driver logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithConfig sets the slice configuration.
func WithConfig(config Config) Option {
	return func(d *Driver) {
		d.config = config
	}
}
