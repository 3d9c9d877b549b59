package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replivm/canstate/model"
)

func TestQueue_PublishConsumeAck(t *testing.T) {
	q := NewQueue[model.Message](DefaultConfig())
	ctx := context.Background()

	in := model.NewSystemTaskMessage(model.SystemTaskHeartbeat)
	require.NoError(t, q.Publish(ctx, &in))
	assert.Equal(t, 1, q.Size())

	msg, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, *msg.T())
	require.NoError(t, msg.Ack())
	assert.Error(t, msg.Ack(), "double ack is rejected")
}

func TestQueue_NackRequeues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	cfg.RetryDelay = time.Millisecond
	q := NewQueue[model.Message](cfg)
	ctx := context.Background()

	in := model.NewSystemTaskMessage(model.SystemTaskGlobalTimer)
	require.NoError(t, q.Publish(ctx, &in))

	msg, err := q.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, msg.Nack(errors.New("transient")))

	redelivered, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, *redelivered.T())

	// Retries exhausted: the message moves to the dead-letter list.
	require.NoError(t, redelivered.Nack(errors.New("again")))
	assert.Eventually(t, func() bool { return q.DLQSize() == 1 }, time.Second, 5*time.Millisecond)
}

func TestQueue_ConsumeHonoursContext(t *testing.T) {
	q := NewQueue[model.Message](DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := q.Consume(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
