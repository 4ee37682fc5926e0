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

// Package event implements the typed publish/subscribe bus the receiver
// uses to hand events to its consumer. All dispatch is synchronous on
// whatever goroutine calls Emit — the reactor in this design — matching
// the single-threaded cooperative model the rest of the pipeline assumes.
package event

import (
	"sync"

	"github.com/sagex/relay-receiver/wire"
)

// Name identifies one of the event kinds the receiver emits.
type Name string

const (
	Message     Name = "message"
	Sent        Name = "sent"
	Receipt     Name = "receipt"
	Read        Name = "read"
	Contact     Name = "contact"
	ContactSync Name = "contactsync"
	Group       Name = "group"
	GroupSync   Name = "groupsync"
	Error       Name = "error"
)

// Handler receives an event payload. Its concrete type depends on Name
// (e.g. *MessageEvent for Message); handlers type-assert as needed.
type Handler func(payload interface{})

// MessageEvent is emitted for an incoming DataMessage.
type MessageEvent struct {
	Source    string
	Timestamp int64
	Message   *wire.DataMessage
}

// SentEvent mirrors a message this account sent from another device.
type SentEvent struct {
	Destination              string
	Timestamp                int64
	Message                  *wire.DataMessage
	ExpirationStartTimestamp *int64
}

// ReceiptEvent is emitted for a bare RECEIPT envelope; no crypto involved.
type ReceiptEvent struct {
	Source       string
	SourceDevice int
	Timestamp    int64
}

// ReadEvent mirrors a single read receipt synced from another device.
type ReadEvent struct {
	Sender    string
	Timestamp int64
}

// ContactEvent is emitted once per decoded contact record.
type ContactEvent struct {
	Number string
	Name   string
	Avatar []byte
}

// GroupEvent is emitted once per group update or decoded group record.
type GroupEvent struct {
	ID      []byte
	Name    string
	Members []string
	Avatar  []byte
	// Added lists members newly present after a GroupUpdate; nil otherwise.
	Added []string
}

// ErrorEvent carries a typed fault the consumer cannot otherwise observe
// because it occurs after the transport-level 200/500 has already been
// sent.
type ErrorEvent struct {
	Err error
}

// Bus is a typed, synchronous publish/subscribe dispatcher.
type Bus struct {
	mu       sync.Mutex
	handlers map[Name][]Handler
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[Name][]Handler)}
}

// On registers handler for name. Handlers for the same name run in
// registration order.
func (b *Bus) On(name Name, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

// Off removes every registered handler for name.
func (b *Bus) Off(name Name) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, name)
}

// Emit synchronously invokes every handler registered for name, in
// registration order, passing payload to each.
func (b *Bus) Emit(name Name, payload interface{}) {
	b.mu.Lock()
	handlers := append([]Handler(nil), b.handlers[name]...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
}
