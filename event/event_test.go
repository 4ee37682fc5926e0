package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_EmitInvokesRegisteredHandlers(t *testing.T) {
	b := New()
	var got []string
	b.On(Message, func(payload interface{}) {
		got = append(got, "first")
	})
	b.On(Message, func(payload interface{}) {
		got = append(got, "second")
	})

	b.Emit(Message, &MessageEvent{Source: "+1"})
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestBus_EmitPassesPayload(t *testing.T) {
	b := New()
	var received *MessageEvent
	b.On(Message, func(payload interface{}) {
		received = payload.(*MessageEvent)
	})

	b.Emit(Message, &MessageEvent{Source: "+15551234567", Timestamp: 42})
	assert.Equal(t, "+15551234567", received.Source)
	assert.Equal(t, int64(42), received.Timestamp)
}

func TestBus_OffRemovesHandlers(t *testing.T) {
	b := New()
	called := false
	b.On(Error, func(payload interface{}) { called = true })
	b.Off(Error)

	b.Emit(Error, &ErrorEvent{})
	assert.False(t, called)
}

func TestBus_EmitWithNoHandlersIsNoop(t *testing.T) {
	b := New()
	assert.NotPanics(t, func() {
		b.Emit(Group, &GroupEvent{})
	})
}
