package canstate

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/replivm/canstate/service/meta"
	"github.com/replivm/canstate/service/rounds"
)

// Config is the serialisable service configuration. It can be populated from
// JSON or YAML; the zero value inherits package defaults.
type Config struct {
	Canister CanisterConfig `json:"canister" yaml:"canister"`
	Rounds   RoundsConfig   `json:"rounds" yaml:"rounds"`
}

// CanisterConfig bounds every provisioned canister.
type CanisterConfig struct {
	// ReservedCyclesLimit caps the reserved balance; zero disables
	// reservations.
	ReservedCyclesLimit uint64 `json:"reservedCyclesLimit" yaml:"reservedCyclesLimit"`

	// HistoryRetention bounds the retained change log; non-positive keeps
	// everything.
	HistoryRetention int `json:"historyRetention" yaml:"historyRetention"`
}

// RoundsConfig bounds execution slices.
type RoundsConfig struct {
	MaxTasksPerSlice int    `json:"maxTasksPerSlice" yaml:"maxTasksPerSlice"`
	DefaultBudget    uint64 `json:"defaultBudget" yaml:"defaultBudget"`
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() *Config {
	roundsDefaults := rounds.DefaultConfig()
	return &Config{
		Canister: CanisterConfig{
			HistoryRetention: 20,
		},
		Rounds: RoundsConfig{
			MaxTasksPerSlice: roundsDefaults.MaxTasksPerSlice,
			DefaultBudget:    roundsDefaults.DefaultBudget,
		},
	}
}

// Validate returns an error describing invalid settings, or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Rounds.MaxTasksPerSlice <= 0 {
		return fmt.Errorf("rounds.maxTasksPerSlice must be > 0")
	}
	if c.Rounds.DefaultBudget == 0 {
		return fmt.Errorf("rounds.defaultBudget must be > 0")
	}
	return nil
}

// LoadConfig reads a YAML config document through the meta service, with
// ${env.KEY} expressions expanded. Omitted fields keep their defaults.
func LoadConfig(ctx context.Context, metaService *meta.Service, location string) (*Config, error) {
	if metaService == nil {
		metaService = meta.New(nil, "")
	}
	data, err := metaService.OpenURL(ctx, location)
	if err != nil {
		return nil, err
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("config: failed to decode %s: %w", location, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
