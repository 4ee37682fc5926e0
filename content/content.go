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

// Package content interprets a decrypted Content: the data-message path
// (with end-session and flag handling via processDecrypted), and the
// sync-message path (sent/contacts/groups/blocked/request/read), emitting
// events for each and invoking the group reconciler where a message
// carries a GroupContext.
package content

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/sagex/relay-receiver/attachment"
	"github.com/sagex/relay-receiver/event"
	"github.com/sagex/relay-receiver/group"
	"github.com/sagex/relay-receiver/internal/logger"
	"github.com/sagex/relay-receiver/store"
	"github.com/sagex/relay-receiver/wire"
)

// ErrInvalidSyncSource is returned when a sync message's envelope source
// is not this account's own number.
var ErrInvalidSyncSource = fmt.Errorf("content: sync message source is not this account")

// ErrSelfDeviceSync is returned when a sync message's envelope claims to
// originate from this device itself.
var ErrSelfDeviceSync = fmt.Errorf("content: sync message originated from this device")

// ErrUnknownFlags is returned by processDecrypted when a DataMessage
// carries a flag bit outside the recognized disjoint set.
var ErrUnknownFlags = fmt.Errorf("content: data message carries unrecognized flag bits")

// Identity is this receiver's own account identity, used to validate
// sync-message provenance.
type Identity struct {
	Number   string
	DeviceID int
}

// Dispatcher interprets decrypted Content and emits events.
type Dispatcher struct {
	self       Identity
	reconciler *group.Reconciler
	roster     *store.RosterStore
	blocked    *store.BlockedStore
	fetcher    attachment.Fetcher
	bus        *event.Bus
	log        logger.Logger
}

// New constructs a Dispatcher.
func New(self Identity, reconciler *group.Reconciler, roster *store.RosterStore, blocked *store.BlockedStore, fetcher attachment.Fetcher, bus *event.Bus, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		self:       self,
		reconciler: reconciler,
		roster:     roster,
		blocked:    blocked,
		fetcher:    fetcher,
		bus:        bus,
		log:        log,
	}
}

// Dispatch interprets content, which arrived on env. It is the sole entry
// point the envelope queue calls after a successful decrypt.
func (d *Dispatcher) Dispatch(ctx context.Context, env *wire.Envelope, content *wire.Content) error {
	isData, err := content.OneOf()
	if err != nil {
		return err
	}
	if isData {
		return d.dispatchDataMessage(ctx, env, content.DataMessage)
	}
	return d.dispatchSyncMessage(ctx, env, content.SyncMessage)
}

func (d *Dispatcher) dispatchDataMessage(ctx context.Context, env *wire.Envelope, dm *wire.DataMessage) error {
	if dm.HasFlag(wire.FlagEndSession) {
		d.reconciler.EndSession(env.Source)
	}
	if err := d.processDecrypted(ctx, env.Source, dm); err != nil {
		return err
	}
	d.bus.Emit(event.Message, &event.MessageEvent{
		Source:    env.Source,
		Timestamp: env.Timestamp,
		Message:   dm,
	})
	return nil
}

func (d *Dispatcher) dispatchSyncMessage(ctx context.Context, env *wire.Envelope, sm *wire.SyncMessage) error {
	if env.Source != d.self.Number {
		return ErrInvalidSyncSource
	}
	if env.SourceDevice == d.self.DeviceID {
		return ErrSelfDeviceSync
	}

	switch {
	case sm.Sent != nil:
		return d.dispatchSent(ctx, sm.Sent)
	case sm.Contacts != nil:
		return d.dispatchContacts(ctx, sm.Contacts)
	case sm.Groups != nil:
		return d.dispatchGroups(ctx, sm.Groups)
	case sm.Blocked != nil:
		d.blocked.Replace(sm.Blocked.Numbers)
		return nil
	case sm.Request != nil:
		d.log.Info("sync request received", logger.Int("type", int(sm.Request.Type)))
		return nil
	case len(sm.Read) > 0:
		for _, r := range sm.Read {
			d.bus.Emit(event.Read, &event.ReadEvent{Sender: r.Sender, Timestamp: r.Timestamp})
		}
		return nil
	default:
		return wire.ErrEmptySyncMessage
	}
}

func (d *Dispatcher) dispatchSent(ctx context.Context, sent *wire.SyncSentMessage) error {
	if sent.Message != nil {
		if err := d.processDecrypted(ctx, d.self.Number, sent.Message); err != nil {
			return err
		}
	}
	d.bus.Emit(event.Sent, &event.SentEvent{
		Destination:              sent.Destination,
		Timestamp:                sent.Timestamp,
		Message:                  sent.Message,
		ExpirationStartTimestamp: sent.ExpirationStartTimestamp,
	})
	return nil
}

func (d *Dispatcher) dispatchContacts(ctx context.Context, ptr *wire.AttachmentPointer) error {
	if err := attachment.FetchAndDecrypt(ctx, d.fetcher, ptr); err != nil {
		return fmt.Errorf("content: fetch contacts blob: %w", err)
	}
	records, err := wire.DecodeContactRecords(ptr.Data)
	if err != nil {
		return fmt.Errorf("content: decode contact records: %w", err)
	}
	for _, r := range records {
		d.bus.Emit(event.Contact, &event.ContactEvent{Number: r.Number, Name: r.Name, Avatar: r.Avatar})
	}
	d.bus.Emit(event.ContactSync, nil)
	return nil
}

func (d *Dispatcher) dispatchGroups(ctx context.Context, ptr *wire.AttachmentPointer) error {
	if err := attachment.FetchAndDecrypt(ctx, d.fetcher, ptr); err != nil {
		return fmt.Errorf("content: fetch groups blob: %w", err)
	}
	records, err := wire.DecodeGroupRecords(ptr.Data)
	if err != nil {
		return fmt.Errorf("content: decode group records: %w", err)
	}
	for _, r := range records {
		if r.Active {
			if g, ok := d.roster.Get(r.ID); ok {
				g.Members = r.Members
				g.Name = r.Name
				g.Avatar = r.Avatar
				d.roster.Put(g)
			} else {
				d.roster.Put(&store.Group{ID: r.ID, Name: r.Name, Avatar: r.Avatar, Members: r.Members})
			}
		}
		d.bus.Emit(event.Group, &event.GroupEvent{ID: r.ID, Name: r.Name, Members: r.Members, Avatar: r.Avatar})
	}
	d.bus.Emit(event.GroupSync, nil)
	return nil
}

// processDecrypted normalizes and applies flag rules to dm, runs group
// reconciliation if dm carries a GroupContext, and fetches+decrypts every
// attachment — group reconciliation and all attachment fetches run
// concurrently, the call resolving only after all have settled.
func (d *Dispatcher) processDecrypted(ctx context.Context, source string, dm *wire.DataMessage) error {
	dm.Normalize()

	if dm.HasFlag(wire.FlagEndSession) {
		dm.Body = nil
		dm.Attachments = nil
		dm.Group = nil
		return nil
	}
	if dm.HasFlag(wire.FlagExpirationTimerUpdate) {
		dm.Body = nil
		dm.Attachments = nil
	}
	if dm.Flags != 0 && !dm.HasFlag(wire.FlagEndSession) && !dm.HasFlag(wire.FlagExpirationTimerUpdate) {
		return ErrUnknownFlags
	}

	g, gctx := errgroup.WithContext(ctx)

	var reconciled *group.Result
	if dm.Group != nil {
		g.Go(func() error {
			r, err := d.reconciler.Reconcile(source, dm)
			reconciled = r
			return err
		})
	}

	for _, ptr := range dm.Attachments {
		ptr := ptr
		g.Go(func() error {
			return attachment.FetchAndDecrypt(gctx, d.fetcher, ptr)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if reconciled != nil {
		d.bus.Emit(event.Group, &event.GroupEvent{
			ID:      dm.Group.ID,
			Members: dm.Group.Members,
			Added:   reconciled.Added,
		})
	}
	return nil
}
