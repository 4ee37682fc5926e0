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

// Package transport implements the frame transport: a persistent
// websocket connection carrying length-delimited wire.Frame messages,
// with request/response correlation by random 64-bit id. It is the only
// package that knows about gorilla/websocket; everything above it speaks
// in terms of Request/Response.
package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sagex/relay-receiver/internal/logger"
	"github.com/sagex/relay-receiver/internal/metrics"
	"github.com/sagex/relay-receiver/wire"
)

// Request is an inbound or outbound REQUEST frame's payload.
type Request struct {
	ID   uint64
	Verb string
	Path string
	Body []byte
}

// Response is the payload of a RESPONSE frame.
type Response struct {
	ID      uint64
	Status  uint16
	Message string
	Body    []byte
}

// ConnectionClosedError is returned to every pending caller when the
// connection closes while their request is outstanding.
type ConnectionClosedError struct {
	Code   int
	Reason string
}

func (e *ConnectionClosedError) Error() string {
	return fmt.Sprintf("connection closed (code=%d reason=%q)", e.Code, e.Reason)
}

// StatusError is returned by SendRequest when the response status is
// outside [200,300).
type StatusError struct {
	Status  uint16
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed: status=%d message=%q", e.Status, e.Message)
}

// RequestHandler handles an inbound REQUEST frame. It MUST call Respond
// exactly once on the given responder.
type RequestHandler func(req Request, respond func(status uint16, message string))

// result is what a pending outgoing request resolves to: either a
// Response or an error (e.g. ConnectionClosedError).
type result struct {
	resp Response
	err  error
}

// Connection is a single open frame transport instance. It is not safe to
// reuse after Close; open a new Connection instead.
type Connection struct {
	log logger.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	pendingMu sync.Mutex
	pending   map[uint64]chan result

	handler RequestHandler
	onFrame func()
	onClose func(code int, reason string)

	writeMu sync.Mutex
}

// ReadyState mirrors the familiar WebSocket readyState values: 1 while
// open, 3 once closed. Connection never reports CONNECTING or CLOSING —
// Open only returns after the dial completes, and Close tears down
// synchronously from the caller's perspective.
const (
	StateOpen   = 1
	StateClosed = 3
)

// ReadyState reports whether the connection is still open.
func (c *Connection) ReadyState() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return StateClosed
	}
	return StateOpen
}

// OnFrame registers a callback invoked after every successfully decoded
// inbound frame, request or response alike — used by keep-alive to reset
// its ping timer on any activity, not only responses.
func (c *Connection) OnFrame(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = fn
}

// OnClose registers a callback invoked once, after teardown, with the
// close code and reason. Fired for both locally- and remotely-initiated
// closes.
func (c *Connection) OnClose(fn func(code int, reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// ForceClose closes the connection in the background, satisfying
// keepalive.Pinger without blocking the caller (typically the keep-alive
// ack timer's own goroutine).
func (c *Connection) ForceClose(code int, reason string) {
	go func() {
		if err := c.Close(code, reason); err != nil {
			c.log.Warn("force close failed", logger.Error(err))
		}
	}()
}

// Open dials url and returns a live Connection. handler, if non-nil, is
// invoked for every inbound REQUEST frame.
func Open(ctx context.Context, url string, handler RequestHandler, log logger.Logger) (*Connection, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	connID := uuid.NewString()
	c := &Connection{
		log:     log.WithFields(logger.String("conn_id", connID)),
		conn:    conn,
		pending: make(map[uint64]chan result),
		handler: handler,
	}
	c.log.Debug("connection opened", logger.String("url", url))

	go c.readLoop()

	return c, nil
}

// OnRequest registers (or replaces) the inbound request handler.
func (c *Connection) OnRequest(handler RequestHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// SendRequest sends a REQUEST frame with a freshly allocated id and blocks
// until the matching RESPONSE arrives, ctx is cancelled, or the
// connection closes.
func (c *Connection) SendRequest(ctx context.Context, verb, path string, body []byte) (Response, error) {
	id, err := randomID()
	if err != nil {
		return Response{}, fmt.Errorf("allocate request id: %w", err)
	}

	respCh := make(chan result, 1)
	c.pendingMu.Lock()
	if _, exists := c.pending[id]; exists {
		c.pendingMu.Unlock()
		return Response{}, fmt.Errorf("request id collision: %d", id)
	}
	c.pending[id] = respCh
	metrics.PendingRequests.Set(float64(len(c.pending)))
	c.pendingMu.Unlock()

	frame := wire.Frame{
		Type: wire.FrameRequest,
		Request: &wire.RequestFrame{
			ID:   id,
			Verb: verb,
			Path: path,
			Body: body,
		},
	}

	if err := c.writeFrame(frame); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		metrics.PendingRequests.Set(float64(len(c.pending)))
		c.pendingMu.Unlock()
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	metrics.FramesSent.WithLabelValues("request").Inc()

	select {
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		metrics.PendingRequests.Set(float64(len(c.pending)))
		c.pendingMu.Unlock()
		return Response{}, ctx.Err()
	case res := <-respCh:
		if res.err != nil {
			return Response{}, res.err
		}
		if res.resp.Status < 200 || res.resp.Status >= 300 {
			return res.resp, &StatusError{Status: res.resp.Status, Message: res.resp.Message}
		}
		return res.resp, nil
	}
}

// writeFrame serializes and writes a single frame as one websocket binary
// message; gorilla/websocket preserves message boundaries so no further
// length-prefixing across the wire is required beyond wire.EncodeFrame's
// internal field framing.
func (c *Connection) writeFrame(f wire.Frame) error {
	data, err := wire.EncodeFrame(&f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("connection not open")
	}

	if err := conn.SetWriteDeadline(time.Now().Add(30 * time.Second)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// Respond sends a RESPONSE frame for the given request id.
func (c *Connection) Respond(id uint64, status uint16, message string, body []byte) error {
	frame := wire.Frame{
		Type: wire.FrameResponse,
		Response: &wire.ResponseFrame{
			ID:      id,
			Status:  status,
			Message: message,
			Body:    body,
		},
	}
	if err := c.writeFrame(frame); err != nil {
		return err
	}
	metrics.FramesSent.WithLabelValues("response").Inc()
	return nil
}

// readLoop is the sole reader of the underlying connection; it dispatches
// RESPONSE frames to waiting callers and REQUEST frames to the handler.
func (c *Connection) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseNormalClosure
			reason := err.Error()
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
				reason = ce.Text
			}
			c.teardown(code, reason)
			return
		}

		frame, err := wire.DecodeFrame(data)
		if err != nil {
			c.log.Warn("dropping malformed frame", logger.Error(err))
			continue
		}

		c.mu.Lock()
		onFrame := c.onFrame
		c.mu.Unlock()
		if onFrame != nil {
			onFrame()
		}

		switch frame.Type {
		case wire.FrameRequest:
			metrics.FramesReceived.WithLabelValues("request").Inc()
			c.dispatchRequest(*frame.Request)
		case wire.FrameResponse:
			metrics.FramesReceived.WithLabelValues("response").Inc()
			c.dispatchResponse(*frame.Response)
		default:
			metrics.FramesReceived.WithLabelValues("unknown").Inc()
			c.log.Warn("ignoring unknown frame type", logger.Int("type", int(frame.Type)))
		}
	}
}

func (c *Connection) dispatchRequest(req wire.RequestFrame) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()

	if handler == nil {
		_ = c.Respond(req.ID, 404, "Not found", nil)
		return
	}

	handler(Request{ID: req.ID, Verb: req.Verb, Path: req.Path, Body: req.Body},
		func(status uint16, message string) {
			if err := c.Respond(req.ID, status, message, nil); err != nil {
				c.log.Warn("failed to send response", logger.Error(err))
			}
		})
}

func (c *Connection) dispatchResponse(resp wire.ResponseFrame) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	metrics.PendingRequests.Set(float64(len(c.pending)))
	c.pendingMu.Unlock()

	if !ok {
		metrics.UnmatchedResponses.Inc()
		c.log.Warn("unmatched response", logger.Uint64("id", resp.ID))
		return
	}

	ch <- result{resp: Response{ID: resp.ID, Status: resp.Status, Message: resp.Message, Body: resp.Body}}
}

// Close sends a close frame with the given code and reason, then tears
// down the connection. Subsequent SendRequest calls fail.
func (c *Connection) Close(code int, reason string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(5 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)

	c.teardown(code, reason)
	return conn.Close()
}

// teardown marks the connection closed and fails every pending request
// exactly once.
func (c *Connection) teardown(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.conn = nil
	onClose := c.onClose
	c.mu.Unlock()

	metrics.ConnectionCloses.WithLabelValues(fmt.Sprintf("%d", code)).Inc()

	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]chan result)
	metrics.PendingRequests.Set(0)
	c.pendingMu.Unlock()

	closedErr := &ConnectionClosedError{Code: code, Reason: reason}
	for _, ch := range pending {
		ch <- result{err: closedErr}
	}

	if onClose != nil {
		onClose(code, reason)
	}
}

func randomID() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}
