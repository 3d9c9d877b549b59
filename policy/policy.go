// Package policy defines the pricing surface the round driver charges
// through. The state components enforce conservation and bounds only; how
// much an operation costs is supplied by the embedding system, which keeps
// the pricing schedule a deployment concern rather than a state concern.
package policy

import (
	"context"

	"github.com/replivm/canstate/model/cycles"
)

// Pricer quotes cycle costs for the chargeable operations of a round. All
// quotes must be deterministic functions of their arguments: replicas call
// the pricer with identical inputs and must charge identical amounts.
type Pricer interface {
	// InductionCost is charged when an ingress message is accepted into
	// the task pipeline.
	InductionCost(payloadSize int) cycles.Cycles

	// ExecutionCost converts executed instructions into cycles.
	ExecutionCost(instructions uint64) cycles.Cycles

	// TransmissionCost is the prepaid maximum for delivering an outbound
	// response of the given size.
	TransmissionCost(payloadSize int) cycles.Cycles

	// CreationCost is the one-time fee charged when a canister is
	// provisioned.
	CreationCost() cycles.Cycles
}

// Static is a fixed-rate pricer. The zero value charges nothing, which is
// the default for embedders that meter externally.
type Static struct {
	// PerInductionByte is charged per payload byte on induction.
	PerInductionByte uint64
	// PerInstruction is charged per executed instruction.
	PerInstruction uint64
	// PerTransmissionByte is the prepaid rate per outbound payload byte.
	PerTransmissionByte uint64
	// CreationFee is the one-time canister provisioning fee.
	CreationFee uint64
}

var _ Pricer = (*Static)(nil)

func (s *Static) InductionCost(payloadSize int) cycles.Cycles {
	return scale(s.PerInductionByte, uint64(payloadSize))
}

func (s *Static) ExecutionCost(instructions uint64) cycles.Cycles {
	return scale(s.PerInstruction, instructions)
}

func (s *Static) TransmissionCost(payloadSize int) cycles.Cycles {
	return scale(s.PerTransmissionByte, uint64(payloadSize))
}

func (s *Static) CreationCost() cycles.Cycles {
	return cycles.New(s.CreationFee)
}

// scale multiplies without wrapping at 64 bits.
func scale(rate, units uint64) cycles.Cycles {
	if rate == 0 || units == 0 {
		return cycles.Zero()
	}
	product, err := cycles.New(rate).Mul(units)
	if err != nil {
		// A rate schedule that overflows 128 bits is a configuration
		// error; clamp rather than charge garbage.
		return cycles.Max()
	}
	return product
}

type ctxKeyT struct{}

var ctxKey ctxKeyT

// WithPricer embeds the pricer in ctx.
func WithPricer(ctx context.Context, p Pricer) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey, p)
}

// FromContext extracts the pricer from ctx. A missing pricer yields the
// free-of-charge default.
func FromContext(ctx context.Context) Pricer {
	if ctx == nil {
		return &Static{}
	}
	if v, ok := ctx.Value(ctxKey).(Pricer); ok && v != nil {
		return v
	}
	return &Static{}
}
