package event

import (
	"github.com/replivm/canstate/service/messaging/memory"
)

type Option func(s *Service)

// WithNewQueueConfig sets the per-queue configuration factory.
func WithNewQueueConfig(newConfig func(name string) memory.Config) Option {
	return func(s *Service) {
		s.newQueueConfig = newConfig
	}
}
