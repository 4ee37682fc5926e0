package receiver

import (
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagex/relay-receiver/content"
	"github.com/sagex/relay-receiver/decrypt"
	"github.com/sagex/relay-receiver/event"
	"github.com/sagex/relay-receiver/group"
	"github.com/sagex/relay-receiver/httpapi"
	"github.com/sagex/relay-receiver/internal/logger"
	"github.com/sagex/relay-receiver/ratchet"
	"github.com/sagex/relay-receiver/signalingkey"
	"github.com/sagex/relay-receiver/store"
	"github.com/sagex/relay-receiver/transport"
	"github.com/sagex/relay-receiver/wire"
)

// relayConn is the test double's handle on the one accepted connection,
// letting a test push REQUEST frames and read back RESPONSE frames.
type relayConn struct {
	conn *websocket.Conn
}

func (r *relayConn) sendMessagesRequest(t *testing.T, body []byte) wire.ResponseFrame {
	t.Helper()
	frame := wire.Frame{
		Type: wire.FrameRequest,
		Request: &wire.RequestFrame{
			ID:   1,
			Verb: "PUT",
			Path: "/messages",
			Body: body,
		},
	}
	data, err := wire.EncodeFrame(&frame)
	require.NoError(t, err)
	require.NoError(t, r.conn.WriteMessage(websocket.BinaryMessage, data))

	_, data, err = r.conn.ReadMessage()
	require.NoError(t, err)
	resp, err := wire.DecodeFrame(data)
	require.NoError(t, err)
	require.Equal(t, wire.FrameResponse, resp.Type)
	return *resp.Response
}

// newRelayServer starts a websocket server accepting exactly one
// connection and handing it to accepted.
func newRelayServer(t *testing.T) (*httptest.Server, string, chan *relayConn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	accepted := make(chan *relayConn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		accepted <- &relayConn{conn: conn}
		// Drain anything further (e.g. keepalive pings) until the test
		// closes the connection.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL, accepted
}

func newSignalingKey(t *testing.T) *signalingkey.Key {
	t.Helper()
	raw := make([]byte, 52)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	key, err := signalingkey.ParseKey(raw)
	require.NoError(t, err)
	return key
}

func padded(plaintext []byte) []byte {
	return append(append([]byte{}, plaintext...), 0x80)
}

type fixture struct {
	r         *Receiver
	bus       *event.Bus
	sessions  *ratchet.MemoryStore
	blocked   *store.BlockedStore
	signaling *signalingkey.Key
	relayURL  string
	accepted  chan *relayConn
	srv       *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewDefaultLogger()

	srv, wsURL, accepted := newRelayServer(t)

	sessions := ratchet.NewMemoryStore()
	roster := store.NewRosterStore()
	blocked := store.NewBlockedStore()
	self := content.Identity{Number: "+1self", DeviceID: 1}

	reconciler := group.New(roster, sessions, func(addr ratchet.Address) ratchet.SessionCipher {
		return ratchet.NewPendingAEADSessionCipher(nil)
	}, self.Number, log)

	bus := event.New()
	decr := decrypt.New(sessions, log)
	disp := content.New(self, reconciler, roster, blocked, &httpapi.Client{}, bus, log)
	httpClient := httpapi.New("http://unused.invalid", self.Number, "password")

	sk := newSignalingKey(t)

	cfg := Config{
		WebSocketURL: wsURL,
		HTTPBaseURL:  "http://unused.invalid",
		Number:       self.Number,
		DeviceID:     1,
		Password:     "password",
		SignalingKey: sk,
	}

	r := New(cfg, decr, disp, blocked, httpClient, bus, nil, log)

	return &fixture{
		r:         r,
		bus:       bus,
		sessions:  sessions,
		blocked:   blocked,
		signaling: sk,
		relayURL:  wsURL,
		accepted:  accepted,
		srv:       srv,
	}
}

func (f *fixture) connect(t *testing.T) *relayConn {
	t.Helper()
	require.NoError(t, f.r.Connect(context.Background()))
	select {
	case conn := <-f.accepted:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("relay never accepted a connection")
		return nil
	}
}

func (f *fixture) sealEnvelope(t *testing.T, env *wire.Envelope) []byte {
	t.Helper()
	envBytes, err := wire.EncodeEnvelope(env)
	require.NoError(t, err)
	sealed, err := f.signaling.Seal(envBytes)
	require.NoError(t, err)
	return sealed
}

func TestReceiver_HappyPath_DataMessage(t *testing.T) {
	f := newFixture(t)
	defer f.srv.Close()
	relay := f.connect(t)
	defer f.r.Close()

	secret := []byte("shared-secret-material-32-bytes")
	cipher, err := ratchet.NewAEADSessionCipher(secret)
	require.NoError(t, err)
	addr := ratchet.Address{Number: "+1sender", DeviceID: 2}
	f.sessions.Put(addr, cipher)

	dm := &wire.DataMessage{Body: strPtr("hello there")}
	contentBytes, err := wire.EncodeContent(&wire.Content{DataMessage: dm})
	require.NoError(t, err)
	ciphertext, err := ratchet.SealWhisperMessage(secret, padded(contentBytes))
	require.NoError(t, err)

	env := &wire.Envelope{
		Type:         wire.EnvelopeCiphertext,
		Source:       addr.Number,
		SourceDevice: int(addr.DeviceID),
		Timestamp:    1234,
		Content:      ciphertext,
	}

	got := make(chan *event.MessageEvent, 1)
	f.bus.On(event.Message, func(payload interface{}) {
		got <- payload.(*event.MessageEvent)
	})

	resp := relay.sendMessagesRequest(t, f.sealEnvelope(t, env))
	assert.Equal(t, uint16(200), resp.Status)

	select {
	case msg := <-got:
		assert.Equal(t, "+1sender", msg.Source)
		assert.Equal(t, "hello there", *msg.Message.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message event")
	}
}

func TestReceiver_BlockedSender_NoReceiptEvent(t *testing.T) {
	f := newFixture(t)
	defer f.srv.Close()
	relay := f.connect(t)
	defer f.r.Close()

	f.blocked.Replace([]string{"+1blocked"})

	env := &wire.Envelope{
		Type:         wire.EnvelopeReceipt,
		Source:       "+1blocked",
		SourceDevice: 1,
		Timestamp:    1,
	}

	got := make(chan *event.ReceiptEvent, 1)
	f.bus.On(event.Receipt, func(payload interface{}) {
		got <- payload.(*event.ReceiptEvent)
	})

	resp := relay.sendMessagesRequest(t, f.sealEnvelope(t, env))
	assert.Equal(t, uint16(200), resp.Status)

	select {
	case <-got:
		t.Fatal("receipt event should not have been emitted for a blocked sender")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReceiver_Receipt_EmitsReceiptEvent(t *testing.T) {
	f := newFixture(t)
	defer f.srv.Close()
	relay := f.connect(t)
	defer f.r.Close()

	env := &wire.Envelope{
		Type:         wire.EnvelopeReceipt,
		Source:       "+1sender",
		SourceDevice: 3,
		Timestamp:    99,
	}

	got := make(chan *event.ReceiptEvent, 1)
	f.bus.On(event.Receipt, func(payload interface{}) {
		got <- payload.(*event.ReceiptEvent)
	})

	resp := relay.sendMessagesRequest(t, f.sealEnvelope(t, env))
	assert.Equal(t, uint16(200), resp.Status)

	select {
	case r := <-got:
		assert.Equal(t, "+1sender", r.Source)
		assert.Equal(t, 3, r.SourceDevice)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for receipt event")
	}
}

func TestReceiver_BadSignalingEnvelope_RespondsWithFailureAndErrorEvent(t *testing.T) {
	f := newFixture(t)
	defer f.srv.Close()
	relay := f.connect(t)
	defer f.r.Close()

	got := make(chan *event.ErrorEvent, 1)
	f.bus.On(event.Error, func(payload interface{}) {
		got <- payload.(*event.ErrorEvent)
	})

	resp := relay.sendMessagesRequest(t, []byte("not a valid sealed envelope"))
	assert.Equal(t, uint16(500), resp.Status)
	assert.Equal(t, "Bad encrypted websocket message", resp.Message)

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error event")
	}
}

func TestReceiver_UnrecognizedPath_RespondsNotFound(t *testing.T) {
	f := newFixture(t)
	defer f.srv.Close()
	relay := f.connect(t)
	defer f.r.Close()

	frame := wire.Frame{
		Type: wire.FrameRequest,
		Request: &wire.RequestFrame{
			ID:   7,
			Verb: "GET",
			Path: "/unknown",
		},
	}
	data, err := wire.EncodeFrame(&frame)
	require.NoError(t, err)
	require.NoError(t, relay.conn.WriteMessage(websocket.BinaryMessage, data))

	_, data, err = relay.conn.ReadMessage()
	require.NoError(t, err)
	resp, err := wire.DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, uint16(404), resp.Response.Status)
}

func TestReceiver_Status(t *testing.T) {
	f := newFixture(t)
	defer f.srv.Close()
	assert.Equal(t, StatusDisconnected, f.r.Status())

	f.connect(t)
	defer f.r.Close()
	assert.Equal(t, transport.StateOpen, f.r.Status())
}

func TestReceiver_Close_DoesNotReconnect(t *testing.T) {
	f := newFixture(t)
	defer f.srv.Close()
	f.connect(t)

	require.NoError(t, f.r.Close())
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, transport.StateClosed, f.r.Status())
}

func strPtr(s string) *string { return &s }
