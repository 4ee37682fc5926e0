package content

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagex/relay-receiver/attachment"
	"github.com/sagex/relay-receiver/event"
	"github.com/sagex/relay-receiver/group"
	"github.com/sagex/relay-receiver/internal/logger"
	"github.com/sagex/relay-receiver/ratchet"
	"github.com/sagex/relay-receiver/store"
	"github.com/sagex/relay-receiver/wire"
)

type fakeFetcher struct {
	data map[uint64][]byte
}

func (f *fakeFetcher) FetchAttachment(ctx context.Context, id uint64) ([]byte, error) {
	return f.data[id], nil
}

func newDispatcher(self Identity, fetcher attachment.Fetcher) (*Dispatcher, *event.Bus, *store.RosterStore) {
	roster := store.NewRosterStore()
	blocked := store.NewBlockedStore()
	sessions := ratchet.NewMemoryStore()
	reconciler := group.New(roster, sessions, func(addr ratchet.Address) ratchet.SessionCipher {
		return ratchet.NewPendingAEADSessionCipher(nil)
	}, self.Number, logger.NewDefaultLogger())
	bus := event.New()
	return New(self, reconciler, roster, blocked, fetcher, bus, logger.NewDefaultLogger()), bus, roster
}

func TestDispatch_DataMessage_EmitsMessageEvent(t *testing.T) {
	d, bus, _ := newDispatcher(Identity{Number: "+1self", DeviceID: 1}, &fakeFetcher{})

	var got *event.MessageEvent
	bus.On(event.Message, func(payload interface{}) {
		got = payload.(*event.MessageEvent)
	})

	body := "hello"
	env := &wire.Envelope{Source: "+1sender", SourceDevice: 1, Timestamp: 100}
	dm := &wire.DataMessage{Body: &body}

	err := d.Dispatch(context.Background(), env, &wire.Content{DataMessage: dm})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "+1sender", got.Source)
	assert.Equal(t, "hello", *got.Message.Body)
}

func TestDispatch_DataMessage_EndSessionClearsAndTearsDown(t *testing.T) {
	d, bus, _ := newDispatcher(Identity{Number: "+1self", DeviceID: 1}, &fakeFetcher{})

	var got *event.MessageEvent
	bus.On(event.Message, func(payload interface{}) {
		got = payload.(*event.MessageEvent)
	})

	body := "ignored"
	env := &wire.Envelope{Source: "+1sender", SourceDevice: 1}
	dm := &wire.DataMessage{Flags: wire.FlagEndSession, Body: &body}

	err := d.Dispatch(context.Background(), env, &wire.Content{DataMessage: dm})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.Message.Body)
}

func TestDispatch_DataMessage_UnknownFlags(t *testing.T) {
	d, _, _ := newDispatcher(Identity{Number: "+1self", DeviceID: 1}, &fakeFetcher{})

	env := &wire.Envelope{Source: "+1sender", SourceDevice: 1}
	dm := &wire.DataMessage{Flags: 0x4000}

	err := d.Dispatch(context.Background(), env, &wire.Content{DataMessage: dm})
	assert.ErrorIs(t, err, ErrUnknownFlags)
}

func TestDispatch_DataMessage_WithGroup_Reconciles(t *testing.T) {
	d, bus, roster := newDispatcher(Identity{Number: "+1self", DeviceID: 1}, &fakeFetcher{})
	bus.On(event.Message, func(payload interface{}) {})

	env := &wire.Envelope{Source: "A", SourceDevice: 1}
	dm := &wire.DataMessage{
		Body: strPtr("hi"),
		Group: &wire.GroupContext{
			ID:      []byte("g1"),
			Type:    wire.GroupUpdate,
			Members: []string{"A", "B"},
		},
	}

	err := d.Dispatch(context.Background(), env, &wire.Content{DataMessage: dm})
	require.NoError(t, err)

	g, ok := roster.Get([]byte("g1"))
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"A", "B"}, g.Members)
}

func TestDispatch_DataMessage_WithGroup_EmitsGroupEventWithAdded(t *testing.T) {
	d, bus, roster := newDispatcher(Identity{Number: "+1self", DeviceID: 1}, &fakeFetcher{})
	bus.On(event.Message, func(payload interface{}) {})
	roster.Put(&store.Group{ID: []byte("g1"), Members: []string{"A"}})

	var got *event.GroupEvent
	bus.On(event.Group, func(payload interface{}) {
		got = payload.(*event.GroupEvent)
	})

	env := &wire.Envelope{Source: "A", SourceDevice: 1}
	dm := &wire.DataMessage{
		Group: &wire.GroupContext{
			ID:      []byte("g1"),
			Type:    wire.GroupUpdate,
			Members: []string{"A", "B", "C"},
		},
	}

	err := d.Dispatch(context.Background(), env, &wire.Content{DataMessage: dm})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.ElementsMatch(t, []string{"B", "C"}, got.Added)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, got.Members)
}

func TestDispatch_DataMessage_FetchesAttachments(t *testing.T) {
	key := make([]byte, 64)
	ciphertext, err := attachment.Encrypt(key, []byte("payload"))
	require.NoError(t, err)

	fetcher := &fakeFetcher{data: map[uint64][]byte{9: ciphertext}}
	d, bus, _ := newDispatcher(Identity{Number: "+1self", DeviceID: 1}, fetcher)
	bus.On(event.Message, func(payload interface{}) {})

	env := &wire.Envelope{Source: "A", SourceDevice: 1}
	dm := &wire.DataMessage{
		Attachments: []*wire.AttachmentPointer{{ID: 9, Key: key}},
	}

	err = d.Dispatch(context.Background(), env, &wire.Content{DataMessage: dm})
	require.NoError(t, err)
	assert.Equal(t, "payload", string(dm.Attachments[0].Data))
}

func TestDispatch_SyncMessage_InvalidSource(t *testing.T) {
	d, _, _ := newDispatcher(Identity{Number: "+1self", DeviceID: 1}, &fakeFetcher{})

	env := &wire.Envelope{Source: "+1other", SourceDevice: 2}
	err := d.Dispatch(context.Background(), env, &wire.Content{SyncMessage: &wire.SyncMessage{Request: &wire.SyncRequest{}}})
	assert.ErrorIs(t, err, ErrInvalidSyncSource)
}

func TestDispatch_SyncMessage_SelfDevice(t *testing.T) {
	d, _, _ := newDispatcher(Identity{Number: "+1self", DeviceID: 1}, &fakeFetcher{})

	env := &wire.Envelope{Source: "+1self", SourceDevice: 1}
	err := d.Dispatch(context.Background(), env, &wire.Content{SyncMessage: &wire.SyncMessage{Request: &wire.SyncRequest{}}})
	assert.ErrorIs(t, err, ErrSelfDeviceSync)
}

func TestDispatch_SyncMessage_Read(t *testing.T) {
	d, bus, _ := newDispatcher(Identity{Number: "+1self", DeviceID: 1}, &fakeFetcher{})

	var got []*event.ReadEvent
	bus.On(event.Read, func(payload interface{}) {
		got = append(got, payload.(*event.ReadEvent))
	})

	env := &wire.Envelope{Source: "+1self", SourceDevice: 2}
	sm := &wire.SyncMessage{Read: []*wire.SyncRead{{Sender: "A", Timestamp: 1}, {Sender: "B", Timestamp: 2}}}

	err := d.Dispatch(context.Background(), env, &wire.Content{SyncMessage: sm})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Sender)
}

func TestDispatch_SyncMessage_Blocked(t *testing.T) {
	d, _, _ := newDispatcher(Identity{Number: "+1self", DeviceID: 1}, &fakeFetcher{})

	env := &wire.Envelope{Source: "+1self", SourceDevice: 2}
	sm := &wire.SyncMessage{Blocked: &wire.SyncBlocked{Numbers: []string{"A", "B"}}}

	err := d.Dispatch(context.Background(), env, &wire.Content{SyncMessage: sm})
	require.NoError(t, err)
	assert.True(t, d.blocked.IsBlocked("A"))
	assert.False(t, d.blocked.IsBlocked("C"))
}

func TestDispatch_SyncMessage_Empty(t *testing.T) {
	d, _, _ := newDispatcher(Identity{Number: "+1self", DeviceID: 1}, &fakeFetcher{})

	env := &wire.Envelope{Source: "+1self", SourceDevice: 2}
	err := d.Dispatch(context.Background(), env, &wire.Content{SyncMessage: &wire.SyncMessage{}})
	assert.ErrorIs(t, err, wire.ErrEmptySyncMessage)
}

func TestDispatch_EmptyContent(t *testing.T) {
	d, _, _ := newDispatcher(Identity{Number: "+1self", DeviceID: 1}, &fakeFetcher{})

	env := &wire.Envelope{Source: "+1self", SourceDevice: 2}
	err := d.Dispatch(context.Background(), env, &wire.Content{})
	assert.ErrorIs(t, err, wire.ErrEmptyContent)
}

func strPtr(s string) *string { return &s }
