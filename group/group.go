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

// Package group applies group-context updates against the local roster
// store, and tears down ratchet sessions when an end-session message
// arrives. Both are called out of the data-message processing path.
package group

import (
	"fmt"

	"github.com/sagex/relay-receiver/internal/logger"
	"github.com/sagex/relay-receiver/internal/metrics"
	"github.com/sagex/relay-receiver/ratchet"
	"github.com/sagex/relay-receiver/store"
	"github.com/sagex/relay-receiver/wire"
)

// ErrUnknownGroupContextType is returned for any GroupContextType the
// reconciler does not recognize.
var ErrUnknownGroupContextType = fmt.Errorf("group: unknown group context type")

// SessionFactory builds a new, already-closeable session cipher for an
// end-session teardown — the reconciler only needs to exercise Close, not
// actually establish a working session.
type SessionFactory func(addr ratchet.Address) ratchet.SessionCipher

// Reconciler applies GroupContext updates to the roster store and
// performs end-session teardown against the ratchet session store.
type Reconciler struct {
	roster     *store.RosterStore
	sessions   ratchet.Store
	newSession SessionFactory
	selfNumber string
	log        logger.Logger
}

// New constructs a Reconciler. newSession is used only by EndSession to
// instantiate a short-lived cipher it immediately closes; pass a factory
// returning ratchet.NewPendingAEADSessionCipher(nil) (or equivalent) if
// the caller has no better instance to hand. selfNumber is this
// receiver's own account number, used for the QUIT self-check.
func New(roster *store.RosterStore, sessions ratchet.Store, newSession SessionFactory, selfNumber string, log logger.Logger) *Reconciler {
	return &Reconciler{roster: roster, sessions: sessions, newSession: newSession, selfNumber: selfNumber, log: log}
}

// EndSession enumerates every device id stored for number, instantiates a
// session cipher at (number, deviceId), and closes it. Idempotent: a
// number with no stored devices is a no-op.
func (r *Reconciler) EndSession(number string) {
	devices := r.sessions.GetAllDevices(number)
	for _, deviceID := range devices {
		addr := ratchet.Address{Number: number, DeviceID: deviceID}
		cipher, ok := r.sessions.Get(addr)
		if !ok {
			cipher = r.newSession(addr)
		}
		if err := cipher.Close(); err != nil {
			r.log.Warn("end-session: close session failed",
				logger.String("number", number),
				logger.Uint64("device_id", uint64(deviceID)),
				logger.Error(err))
		}
		r.sessions.Delete(addr)
		metrics.EndSessionsHandled.Inc()
	}
}

// Result carries the information the content dispatcher needs to build a
// `group` event, beyond what's already mutated onto dm.Group.
type Result struct {
	// Added lists members present in the new roster but not the old one,
	// populated only for GroupUpdate.
	Added []string
}

// Reconcile applies ctx (from a DataMessage with a non-nil Group) against
// the roster store, mutating dm in place per §4.7's meta-only clearing
// rules. source is the envelope's originating number, used for the
// unknown-group default membership and the QUIT self-check.
func (r *Reconciler) Reconcile(source string, dm *wire.DataMessage) (*Result, error) {
	ctx := dm.Group
	id := canonicalGroupID(ctx.ID)
	result := &Result{}

	existing, ok := r.roster.Get(id)
	if !ok {
		existing = r.createUnknownGroup(source, id, ctx)
	}

	if !containsMember(existing.Members, source) {
		r.log.Warn("group message from non-member, possible race",
			logger.String("source", source), logger.Int("type", int(ctx.Type)))
	}

	switch ctx.Type {
	case wire.GroupUpdate:
		result.Added = r.applyUpdate(existing, source, ctx, dm)
	case wire.GroupQuit:
		r.applyQuit(existing, source, dm)
	case wire.GroupDeliver:
		r.applyDeliver(ctx)
	default:
		metrics.GroupUpdatesApplied.WithLabelValues("unknown_type").Inc()
		return nil, ErrUnknownGroupContextType
	}

	metrics.GroupMembersTracked.Set(float64(r.roster.Count()))
	return result, nil
}

func (r *Reconciler) createUnknownGroup(source string, id []byte, ctx *wire.GroupContext) *store.Group {
	var g *store.Group
	if ctx.Type == wire.GroupUpdate {
		g = &store.Group{ID: id, Members: append([]string(nil), ctx.Members...)}
	} else {
		g = &store.Group{ID: id, Members: []string{source}}
		r.log.Warn("got message for unknown group", logger.String("source", source))
	}
	r.roster.Put(g)
	return g
}

func (r *Reconciler) applyUpdate(g *store.Group, source string, ctx *wire.GroupContext, dm *wire.DataMessage) []string {
	oldMembers := g.Members
	added := diffMembers(ctx.Members, oldMembers)
	g.Members = append([]string(nil), ctx.Members...)
	if ctx.Name != nil {
		g.Name = *ctx.Name
	}
	if ctx.Avatar != nil {
		g.Avatar = ctx.Avatar
	}
	r.roster.Put(g)

	metaOnly := len(ctx.Avatar) > 0 || len(added) > 0 || ctx.Name != nil
	if metaOnly {
		clearBody(dm)
	}

	ctx.Members = append([]string(nil), g.Members...)
	metrics.GroupUpdatesApplied.WithLabelValues("applied").Inc()
	return added
}

func (r *Reconciler) applyQuit(g *store.Group, source string, dm *wire.DataMessage) {
	clearBody(dm)
	if source == r.selfNumber {
		r.roster.Delete(g.ID)
	} else {
		g.Members = removeMember(g.Members, source)
		r.roster.Put(g)
	}
	metrics.GroupUpdatesApplied.WithLabelValues("applied").Inc()
}

func (r *Reconciler) applyDeliver(ctx *wire.GroupContext) {
	ctx.Name = nil
	ctx.Members = nil
	ctx.Avatar = nil
	metrics.GroupUpdatesApplied.WithLabelValues("applied").Inc()
}

func clearBody(dm *wire.DataMessage) {
	dm.Body = nil
	dm.Attachments = nil
}

func containsMember(members []string, number string) bool {
	for _, m := range members {
		if m == number {
			return true
		}
	}
	return false
}

func removeMember(members []string, number string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != number {
			out = append(out, m)
		}
	}
	return out
}

// diffMembers returns the elements of next not present in prev: next −
// prev, preserving next's order.
func diffMembers(next, prev []string) []string {
	prevSet := make(map[string]struct{}, len(prev))
	for _, m := range prev {
		prevSet[m] = struct{}{}
	}
	var added []string
	for _, m := range next {
		if _, ok := prevSet[m]; !ok {
			added = append(added, m)
		}
	}
	return added
}

// canonicalGroupID normalizes a group id to its canonical binary form.
// The identifiers this receiver sees are already raw bytes off the wire;
// normalization here is a defensive copy so callers never alias the
// caller-owned slice as a map key.
func canonicalGroupID(id []byte) []byte {
	out := make([]byte, len(id))
	copy(out, id)
	return out
}
