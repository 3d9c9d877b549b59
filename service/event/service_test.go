package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replivm/canstate/model"
)

type expiryNotice struct {
	CallbackID model.CallbackID `json:"callbackId"`
}

func TestService_TypedPublishAndListen(t *testing.T) {
	svc := New()

	var mu sync.Mutex
	var got []*Event[expiryNotice]
	done := make(chan struct{})
	SetListenerOf[expiryNotice](svc, func(e *Event[expiryNotice]) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		close(done)
	})

	publisher := PublisherOf[expiryNotice](svc)
	err := publisher.Publish(context.Background(), NewEvent(&Context{
		CanisterID: "canister-1",
		EventType:  TypeCallbackExpired,
		CallbackID: 7,
	}, expiryNotice{CallbackID: 7}))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not receive event")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, TypeCallbackExpired, got[0].Context.EventType)
	assert.Equal(t, model.CallbackID(7), got[0].Data.CallbackID)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestService_TypedPublisherMirrorsUntypedStream(t *testing.T) {
	svc := New()

	anyDone := make(chan *Event[any], 1)
	svc.SetListener(func(e *Event[any]) {
		select {
		case anyDone <- e:
		default:
		}
	})

	publisher := PublisherOf[expiryNotice](svc)
	err := publisher.Publish(context.Background(), NewEvent(&Context{
		CanisterID: "canister-1",
		EventType:  TypeCallbackExpired,
	}, expiryNotice{CallbackID: 3}))
	require.NoError(t, err)

	select {
	case e := <-anyDone:
		assert.Equal(t, TypeCallbackExpired, e.Context.EventType)
	case <-time.After(2 * time.Second):
		t.Fatal("untyped listener did not receive mirrored event")
	}
}

func TestService_PublisherOfReturnsSameInstance(t *testing.T) {
	svc := New()
	first := PublisherOf[expiryNotice](svc)
	second := PublisherOf[expiryNotice](svc)
	assert.Same(t, first, second)
}
