// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package receiver wires the frame transport, keep-alive, envelope queue,
// decryptor, and content dispatcher into the one long-lived object a
// consumer starts and listens to: the receiver core. It owns the
// reconnect-on-unexpected-close policy and the blocked-sender check that
// gates the serial queue.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sagex/relay-receiver/content"
	"github.com/sagex/relay-receiver/decrypt"
	"github.com/sagex/relay-receiver/event"
	"github.com/sagex/relay-receiver/httpapi"
	"github.com/sagex/relay-receiver/internal/logger"
	"github.com/sagex/relay-receiver/internal/metrics"
	"github.com/sagex/relay-receiver/keepalive"
	"github.com/sagex/relay-receiver/queue"
	"github.com/sagex/relay-receiver/ratchet"
	"github.com/sagex/relay-receiver/signalingkey"
	"github.com/sagex/relay-receiver/store"
	"github.com/sagex/relay-receiver/transport"
	"github.com/sagex/relay-receiver/wire"
)

// CloseCodeCallerInitiated is the close code Close() uses; the on-close
// handler treats it as quiet termination rather than a reconnect trigger.
const CloseCodeCallerInitiated = 3000

// StatusDisconnected is returned by Status when there is no live socket.
const StatusDisconnected = -1

// messagesPath is the only path the relay PUTs envelopes to.
const messagesPath = "/messages"

// Config is the identity and endpoint material one Receiver is bound to.
type Config struct {
	WebSocketURL string
	HTTPBaseURL  string
	Number       string
	DeviceID     uint32
	Password     string
	SignalingKey *signalingkey.Key

	// KeepAlive overrides the keepalive ping/ack timing. A zero value
	// (Interval == 0) falls back to keepalive.DefaultConfig's timing.
	KeepAlive KeepAliveConfig
}

// KeepAliveConfig overrides the keep-alive timing the receiver arms on
// every new transport connection, translated into keepalive.Config by
// connectLocked.
type KeepAliveConfig struct {
	Path            string
	Interval        time.Duration
	AckTimeout      time.Duration
	DisablePeriodic bool
}

// Receiver owns one frame transport + keep-alive pair, the serial
// envelope queue, and the decrypt/dispatch pipeline behind it.
type Receiver struct {
	cfg     Config
	bus     *event.Bus
	decr    *decrypt.Decryptor
	disp    *content.Dispatcher
	blocked *store.BlockedStore
	http    *httpapi.Client
	q       *queue.Queue
	clock   keepalive.Clock
	log     logger.Logger

	mu   sync.Mutex
	conn *transport.Connection
	ka   *keepalive.KeepAlive
}

// New constructs a Receiver. clock may be nil to use keepalive.RealClock;
// tests pass a fake clock to drive the ping/ack timers deterministically.
func New(cfg Config, decr *decrypt.Decryptor, disp *content.Dispatcher, blocked *store.BlockedStore, httpClient *httpapi.Client, bus *event.Bus, clock keepalive.Clock, log logger.Logger) *Receiver {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Receiver{
		cfg:     cfg,
		bus:     bus,
		decr:    decr,
		disp:    disp,
		blocked: blocked,
		http:    httpClient,
		q:       queue.New(log),
		clock:   clock,
		log:     log,
	}
}

// Connect opens a new transport connection, replacing any existing one.
func (r *Receiver) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectLocked(ctx)
}

func (r *Receiver) connectLocked(ctx context.Context) error {
	if r.conn != nil {
		// Detach handleClose first: it locks r.mu, which is held here.
		r.conn.OnClose(nil)
		if r.ka != nil {
			r.ka.Stop()
		}
		_ = r.conn.Close(CloseCodeCallerInitiated, "reconnecting")
	}

	conn, err := transport.Open(ctx, r.cfg.WebSocketURL, r.handleRequest, r.log)
	if err != nil {
		return fmt.Errorf("receiver: connect: %w", err)
	}

	ka := keepalive.New(&connPinger{conn: conn}, r.clock, r.keepAliveConfig(), r.log)
	ka.Start()

	conn.OnFrame(ka.OnActivity)
	conn.OnClose(r.handleClose)

	r.conn = conn
	r.ka = ka
	return nil
}

// Close closes the underlying transport with the caller-initiated code,
// which the close handler recognizes as quiet termination (no reconnect
// probe).
func (r *Receiver) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(CloseCodeCallerInitiated, "called close")
}

// Status reports the underlying transport's readyState, or
// StatusDisconnected if no socket has ever been opened.
func (r *Receiver) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return StatusDisconnected
	}
	return r.conn.ReadyState()
}

// handleClose runs once per transport close, whether caller- or
// remote-initiated. Code 3000 terminates quietly; anything else probes
// reachability and reconnects once on success, or emits an error event
// and gives up on failure.
func (r *Receiver) handleClose(code int, reason string) {
	r.mu.Lock()
	if r.ka != nil {
		r.ka.Stop()
	}
	r.mu.Unlock()

	if code == CloseCodeCallerInitiated {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.http.ProbeReachability(ctx, r.cfg.Number); err != nil {
		metrics.ReconnectProbes.WithLabelValues("failure").Inc()
		r.bus.Emit(event.Error, &event.ErrorEvent{
			Err: fmt.Errorf("receiver: unreachable after close (code=%d reason=%q): %w", code, reason, err),
		})
		return
	}
	metrics.ReconnectProbes.WithLabelValues("success").Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.connectLocked(ctx); err != nil {
		r.bus.Emit(event.Error, &event.ErrorEvent{Err: fmt.Errorf("receiver: reconnect after close failed: %w", err)})
	}
}

// handleRequest is the frame transport's inbound REQUEST handler. It
// responds to the caller on the read-loop goroutine only for unrecognized
// requests; a PUT /messages is handed off to a fresh goroutine so
// signaling-key decryption for back-to-back envelopes runs in parallel
// rather than serializing behind the read loop.
func (r *Receiver) handleRequest(req transport.Request, respond func(status uint16, message string)) {
	if req.Verb != "PUT" || req.Path != messagesPath {
		respond(404, "Not found")
		return
	}
	go r.handleEnvelopeRequest(req.Body, respond)
}

func (r *Receiver) handleEnvelopeRequest(body []byte, respond func(uint16, string)) {
	plaintext, err := r.cfg.SignalingKey.Open(body)
	if err != nil {
		respond(500, "Bad encrypted websocket message")
		r.bus.Emit(event.Error, &event.ErrorEvent{Err: fmt.Errorf("receiver: signaling key open: %w", err)})
		return
	}

	env, err := wire.DecodeEnvelope(plaintext)
	if err != nil {
		respond(500, "Bad encrypted websocket message")
		r.bus.Emit(event.Error, &event.ErrorEvent{Err: fmt.Errorf("receiver: decode envelope: %w", err)})
		return
	}

	respond(200, "OK")

	if r.blocked.IsBlocked(env.Source) {
		return
	}
	r.q.Enqueue(func() {
		r.handleEnvelope(env)
	})
}

// handleEnvelope is the serial-queue task for one decrypted-and-enqueued
// envelope: receipts are reported directly, everything else is decrypted
// through the ratchet session store and handed to the content dispatcher.
func (r *Receiver) handleEnvelope(env *wire.Envelope) {
	if env.Type == wire.EnvelopeReceipt {
		r.bus.Emit(event.Receipt, &event.ReceiptEvent{
			Source:       env.Source,
			SourceDevice: env.SourceDevice,
			Timestamp:    env.Timestamp,
		})
		return
	}

	result, err := r.decr.Decrypt(env)
	if err != nil {
		r.bus.Emit(event.Error, &event.ErrorEvent{Err: err})
		return
	}
	if result == nil {
		return
	}
	if err := r.disp.Dispatch(context.Background(), env, result.Content); err != nil {
		r.bus.Emit(event.Error, &event.ErrorEvent{Err: err})
	}
}

// TryMessageAgain replays a PREKEY_BUNDLE decrypt after the caller has
// reconciled an IncomingIdentityKeyError against the identity store,
// processing the result exactly as if freshly received.
func (r *Receiver) TryMessageAgain(addr ratchet.Address, ciphertext []byte) error {
	result, err := r.decr.TryAgain(addr, ciphertext)
	if err != nil {
		return fmt.Errorf("receiver: try message again: %w", err)
	}

	env := &wire.Envelope{
		Type:         wire.EnvelopePreKeyBundle,
		Source:       addr.Number,
		SourceDevice: int(addr.DeviceID),
		Timestamp:    time.Now().UnixMilli(),
	}
	r.q.Enqueue(func() {
		if err := r.disp.Dispatch(context.Background(), env, result.Content); err != nil {
			r.bus.Emit(event.Error, &event.ErrorEvent{Err: err})
		}
	})
	return nil
}

// keepAliveConfig translates the caller-supplied keepalive overrides into
// keepalive.Config, falling back to keepalive.DefaultConfig's timing when
// PingEvery was never set.
func (r *Receiver) keepAliveConfig() keepalive.Config {
	cfg := keepalive.DefaultConfig()
	ka := r.cfg.KeepAlive
	if ka.Path != "" {
		cfg.Path = ka.Path
	}
	if ka.Interval != 0 {
		cfg.PingEvery = ka.Interval
	}
	if ka.AckTimeout != 0 {
		cfg.AckWithin = ka.AckTimeout
	}
	cfg.Disconnect = !ka.DisablePeriodic
	return cfg
}

// connPinger adapts a *transport.Connection to keepalive.Pinger, which
// only needs a response status rather than the full Response value.
type connPinger struct {
	conn *transport.Connection
}

func (p *connPinger) SendRequest(ctx context.Context, verb, path string, body []byte) (uint16, error) {
	resp, err := p.conn.SendRequest(ctx, verb, path, body)
	if err != nil {
		var statusErr *transport.StatusError
		if errors.As(err, &statusErr) {
			return statusErr.Status, err
		}
		return 0, err
	}
	return resp.Status, nil
}

func (p *connPinger) ForceClose(code int, reason string) {
	p.conn.ForceClose(code, reason)
}
