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

// Package keepalive implements the timer-driven liveness probe attached to
// a frame transport: it arms a ping timer on open or any inbound frame,
// sends a GET on expiry, arms a short ack timer, and forces the
// transport closed if the ack never arrives.
package keepalive

import (
	"context"
	"sync"
	"time"

	"github.com/sagex/relay-receiver/internal/logger"
	"github.com/sagex/relay-receiver/internal/metrics"
)

// CloseCodeTimeout is the close code KA asks the transport to use when an
// ack never arrives.
const CloseCodeTimeout = 3001

// state is KA's internal state machine position.
type state int

const (
	stateIdle state = iota
	stateArmed
	stateAwaitingAck
)

// Pinger is the subset of the frame transport KA needs: issue a GET probe
// and force-close on timeout.
type Pinger interface {
	// SendRequest issues the keepalive GET and returns a non-nil error
	// (or a response whose status is not 2xx) if the probe failed
	// synchronously.
	SendRequest(ctx context.Context, verb, path string, body []byte) (status uint16, err error)
	// ForceClose closes the transport with the given code and reason.
	ForceClose(code int, reason string)
}

// Clock abstracts time so tests can drive KA's timers without real sleep.
// time.AfterFunc-backed RealClock is the production implementation.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the subset of *time.Timer KA needs.
type Timer interface {
	Stop() bool
}

// RealClock is the production Clock, backed by time.AfterFunc.
type RealClock struct{}

// AfterFunc implements Clock.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Config configures ping path and whether a missed ack forces disconnect.
type Config struct {
	Path       string
	Disconnect bool
	PingEvery  time.Duration
	AckWithin  time.Duration
}

// DefaultConfig matches the relay's documented keepalive contract.
func DefaultConfig() Config {
	return Config{
		Path:       "/v1/keepalive",
		Disconnect: true,
		PingEvery:  50 * time.Second,
		AckWithin:  1 * time.Second,
	}
}

// KeepAlive drives the ping/ack state machine for one Pinger.
type KeepAlive struct {
	pinger Pinger
	clock  Clock
	cfg    Config
	log    logger.Logger

	mu        sync.Mutex
	st        state
	pingTimer Timer
	ackTimer  Timer
}

// New constructs a KeepAlive bound to pinger. It does not start the timer;
// call Start (on transport open) to do that.
func New(pinger Pinger, clock Clock, cfg Config, log logger.Logger) *KeepAlive {
	if clock == nil {
		clock = RealClock{}
	}
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &KeepAlive{pinger: pinger, clock: clock, cfg: cfg, log: log, st: stateIdle}
}

// Start arms the ping timer, as if the transport had just opened.
func (k *KeepAlive) Start() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.armPingLocked()
}

// OnActivity resets the ping timer; call on every inbound frame.
func (k *KeepAlive) OnActivity() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.st == stateIdle {
		return
	}
	k.armPingLocked()
}

// OnAck should be called when a 2xx response to the keepalive probe
// arrives; it cancels the ack timer and rearms the ping timer.
func (k *KeepAlive) OnAck() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.st != stateAwaitingAck {
		return
	}
	k.stopAckLocked()
	k.armPingLocked()
}

// Stop cancels all timers and returns KA to Idle; call on transport close.
func (k *KeepAlive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stopPingLocked()
	k.stopAckLocked()
	k.st = stateIdle
}

func (k *KeepAlive) armPingLocked() {
	k.stopPingLocked()
	k.st = stateArmed
	k.pingTimer = k.clock.AfterFunc(k.cfg.PingEvery, k.onPingFired)
}

func (k *KeepAlive) onPingFired() {
	k.mu.Lock()
	if k.st != stateArmed {
		k.mu.Unlock()
		return
	}
	k.st = stateAwaitingAck
	k.mu.Unlock()

	metrics.KeepAlivePingsSent.Inc()
	sentAt := time.Now()

	go func() {
		path := k.cfg.Path
		if path == "" {
			path = "/"
		}
		status, err := k.pinger.SendRequest(context.Background(), "GET", path, nil)

		k.mu.Lock()
		if k.st != stateAwaitingAck {
			k.mu.Unlock()
			return
		}
		k.mu.Unlock()

		if err == nil && status >= 200 && status < 300 {
			metrics.KeepAliveRoundTrip.Observe(time.Since(sentAt).Seconds())
			k.OnAck()
		}
		// A non-2xx or errored probe is left to the ack timer, which
		// will force-close once it fires.
	}()

	if k.cfg.Disconnect {
		k.mu.Lock()
		k.armAckLocked()
		k.mu.Unlock()
	}
}

func (k *KeepAlive) armAckLocked() {
	k.stopAckLocked()
	k.ackTimer = k.clock.AfterFunc(k.cfg.AckWithin, k.onAckTimeout)
}

func (k *KeepAlive) onAckTimeout() {
	k.mu.Lock()
	if k.st != stateAwaitingAck {
		k.mu.Unlock()
		return
	}
	k.st = stateIdle
	k.mu.Unlock()

	metrics.KeepAliveTimeouts.Inc()
	k.log.Warn("keepalive ack timeout, forcing disconnect")
	k.pinger.ForceClose(CloseCodeTimeout, "No response to keepalive request")
}

func (k *KeepAlive) stopPingLocked() {
	if k.pingTimer != nil {
		k.pingTimer.Stop()
		k.pingTimer = nil
	}
}

func (k *KeepAlive) stopAckLocked() {
	if k.ackTimer != nil {
		k.ackTimer.Stop()
		k.ackTimer = nil
	}
}
