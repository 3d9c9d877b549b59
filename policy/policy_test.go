package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/replivm/canstate/model/cycles"
)

func TestStatic_Quotes(t *testing.T) {
	pricer := &Static{
		PerInductionByte:    2,
		PerInstruction:      1,
		PerTransmissionByte: 3,
		CreationFee:         100,
	}

	assert.True(t, pricer.InductionCost(10).Equal(cycles.New(20)))
	assert.True(t, pricer.ExecutionCost(700).Equal(cycles.New(700)))
	assert.True(t, pricer.TransmissionCost(4).Equal(cycles.New(12)))
	assert.True(t, pricer.CreationCost().Equal(cycles.New(100)))
}

func TestStatic_ZeroValueChargesNothing(t *testing.T) {
	pricer := &Static{}
	assert.True(t, pricer.InductionCost(1024).IsZero())
	assert.True(t, pricer.ExecutionCost(1<<40).IsZero())
	assert.True(t, pricer.TransmissionCost(1024).IsZero())
}

func TestFromContext(t *testing.T) {
	pricer := &Static{PerInstruction: 5}
	ctx := WithPricer(context.Background(), pricer)
	assert.Same(t, pricer, FromContext(ctx))

	free := FromContext(context.Background())
	assert.True(t, free.ExecutionCost(100).IsZero())
}
