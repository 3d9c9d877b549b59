package canstate

import (
	"go.uber.org/zap"

	"github.com/replivm/canstate/model"
	"github.com/replivm/canstate/policy"
	"github.com/replivm/canstate/runtime/canister"
	"github.com/replivm/canstate/service/dao"
	"github.com/replivm/canstate/service/event"
	"github.com/replivm/canstate/service/messaging"
	"github.com/replivm/canstate/service/meta"
	"github.com/replivm/canstate/service/rounds"
)

type Option func(s *Service)

// WithConfig sets the service configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		if config != nil {
			s.config = config
		}
	}
}

// WithStateDAO sets the snapshot persistence backend.
func WithStateDAO(stateDAO dao.Service[model.CanisterID, canister.Snapshot]) Option {
	return func(s *Service) {
		s.stateDAO = stateDAO
	}
}

// WithQueue sets the induction queue.
func WithQueue(queue messaging.Queue[Envelope]) Option {
	return func(s *Service) {
		s.queue = queue
	}
}

// WithEventService sets the event service lifecycle events publish to.
func WithEventService(events *event.Service) Option {
	return func(s *Service) {
		s.events = events
	}
}

// WithPricer sets the charging policy.
func WithPricer(pricer policy.Pricer) Option {
	return func(s *Service) {
		s.pricer = pricer
	}
}

// WithInterpreter sets the execution engine the round driver delegates to.
func WithInterpreter(interpreter rounds.Interpreter) Option {
	return func(s *Service) {
		s.interpreter = interpreter
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetaService sets the config loader.
func WithMetaService(metaService *meta.Service) Option {
	return func(s *Service) {
		s.metaService = metaService
	}
}
