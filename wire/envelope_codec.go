package wire

import (
	"encoding/binary"
	"fmt"
)

// EncodeEnvelope/DecodeEnvelope, EncodeContent/DecodeContent and friends
// extend the length-delimited field encoding from codec.go to the
// application-level types: the Envelope carried as a REQUEST frame's body,
// and the Content/DataMessage/SyncMessage tree recovered after decryption.
// Optional fields are preceded by a single presence byte (0 absent, 1
// present).

const (
	present = 1
	absent  = 0
)

// EncodeEnvelope serializes e. Layout:
//
//	type(1) sourceLen(2) source sourceDevice(4 BE) timestamp(8 BE)
//	hasLegacyBody(1) [legacyBodyLen(4) legacyBody]
//	hasContent(1)    [contentLen(4) content]
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	buf := make([]byte, 0, 32+len(e.Source)+len(e.LegacyBody)+len(e.Content))
	buf = append(buf, byte(e.Type))
	buf = appendShortString(buf, e.Source)
	buf = binary.BigEndian.AppendUint32(buf, uint32(e.SourceDevice))
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.Timestamp))
	buf = appendOptionalBytes(buf, e.LegacyBody)
	buf = appendOptionalBytes(buf, e.Content)
	return buf, nil
}

// DecodeEnvelope parses the body of an inbound "PUT /messages" request.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("wire: empty envelope")
	}
	e := &Envelope{Type: EnvelopeType(data[0])}
	b := data[1:]

	source, b, err := takeShortString(b)
	if err != nil {
		return nil, fmt.Errorf("wire: envelope source: %w", err)
	}
	e.Source = source

	if len(b) < 4 {
		return nil, fmt.Errorf("wire: truncated source device")
	}
	e.SourceDevice = int(binary.BigEndian.Uint32(b))
	b = b[4:]

	if len(b) < 8 {
		return nil, fmt.Errorf("wire: truncated timestamp")
	}
	e.Timestamp = int64(binary.BigEndian.Uint64(b))
	b = b[8:]

	legacyBody, b, err := takeOptionalBytes(b)
	if err != nil {
		return nil, fmt.Errorf("wire: envelope legacy body: %w", err)
	}
	e.LegacyBody = legacyBody

	content, _, err := takeOptionalBytes(b)
	if err != nil {
		return nil, fmt.Errorf("wire: envelope content: %w", err)
	}
	e.Content = content

	return e, nil
}

// EncodeDataMessage serializes m. Layout:
//
//	flags(4 BE) hasBody(1) [bodyLen(4) body]
//	attachmentCount(2 BE) { id(8 BE) keyLen(4 BE) key }...
//	hasGroup(1) [group...]
//	hasExpireTimer(1) [expireTimer(4 BE)]
func EncodeDataMessage(m *DataMessage) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = binary.BigEndian.AppendUint32(buf, m.Flags)

	if m.Body != nil {
		buf = append(buf, present)
		buf = appendLongBytes(buf, []byte(*m.Body))
	} else {
		buf = append(buf, absent)
	}

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Attachments)))
	for _, a := range m.Attachments {
		buf = binary.BigEndian.AppendUint64(buf, a.ID)
		buf = appendLongBytes(buf, a.Key)
	}

	if m.Group != nil {
		buf = append(buf, present)
		gb, err := encodeGroupContext(m.Group)
		if err != nil {
			return nil, err
		}
		buf = appendLongBytes(buf, gb)
	} else {
		buf = append(buf, absent)
	}

	if m.HasExpireTime {
		buf = append(buf, present)
		buf = binary.BigEndian.AppendUint32(buf, m.ExpireTimer)
	} else {
		buf = append(buf, absent)
	}

	return buf, nil
}

// DecodeDataMessage is EncodeDataMessage's inverse.
func DecodeDataMessage(data []byte) (*DataMessage, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("wire: truncated data message flags")
	}
	m := &DataMessage{Flags: binary.BigEndian.Uint32(data)}
	b := data[4:]

	if len(b) < 1 {
		return nil, fmt.Errorf("wire: truncated data message")
	}
	hasBody := b[0]
	b = b[1:]
	if hasBody == present {
		body, rest, err := takeLongBytes(b)
		if err != nil {
			return nil, fmt.Errorf("wire: data message body: %w", err)
		}
		s := string(body)
		m.Body = &s
		b = rest
	}

	if len(b) < 2 {
		return nil, fmt.Errorf("wire: truncated attachment count")
	}
	count := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	for i := 0; i < count; i++ {
		id, rest, err := takeU64(b)
		if err != nil {
			return nil, fmt.Errorf("wire: attachment id: %w", err)
		}
		key, rest2, err := takeLongBytes(rest)
		if err != nil {
			return nil, fmt.Errorf("wire: attachment key: %w", err)
		}
		m.Attachments = append(m.Attachments, &AttachmentPointer{ID: id, Key: key})
		b = rest2
	}

	if len(b) < 1 {
		return nil, fmt.Errorf("wire: truncated data message")
	}
	hasGroup := b[0]
	b = b[1:]
	if hasGroup == present {
		gb, rest, err := takeLongBytes(b)
		if err != nil {
			return nil, fmt.Errorf("wire: group context: %w", err)
		}
		group, err := decodeGroupContext(gb)
		if err != nil {
			return nil, err
		}
		m.Group = group
		b = rest
	}

	if len(b) < 1 {
		return nil, fmt.Errorf("wire: truncated data message")
	}
	hasExpire := b[0]
	b = b[1:]
	if hasExpire == present {
		if len(b) < 4 {
			return nil, fmt.Errorf("wire: truncated expire timer")
		}
		m.ExpireTimer = binary.BigEndian.Uint32(b)
		m.HasExpireTime = true
	}

	return m, nil
}

func encodeGroupContext(g *GroupContext) ([]byte, error) {
	buf := make([]byte, 0, 32)
	buf = appendLongBytes(buf, g.ID)
	buf = append(buf, byte(g.Type))
	if g.Name != nil {
		buf = append(buf, present)
		buf = appendLongBytes(buf, []byte(*g.Name))
	} else {
		buf = append(buf, absent)
	}
	buf = appendLongBytes(buf, g.Avatar)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(g.Members)))
	for _, m := range g.Members {
		buf = appendShortString(buf, m)
	}
	return buf, nil
}

func decodeGroupContext(data []byte) (*GroupContext, error) {
	id, b, err := takeLongBytes(data)
	if err != nil {
		return nil, fmt.Errorf("wire: group id: %w", err)
	}
	if len(b) < 1 {
		return nil, fmt.Errorf("wire: truncated group context")
	}
	g := &GroupContext{ID: id, Type: GroupContextType(b[0])}
	b = b[1:]

	if len(b) < 1 {
		return nil, fmt.Errorf("wire: truncated group context")
	}
	hasName := b[0]
	b = b[1:]
	if hasName == present {
		name, rest, err := takeLongBytes(b)
		if err != nil {
			return nil, fmt.Errorf("wire: group name: %w", err)
		}
		s := string(name)
		g.Name = &s
		b = rest
	}

	avatar, b, err := takeLongBytes(b)
	if err != nil {
		return nil, fmt.Errorf("wire: group avatar: %w", err)
	}
	g.Avatar = avatar

	if len(b) < 2 {
		return nil, fmt.Errorf("wire: truncated member count")
	}
	count := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	for i := 0; i < count; i++ {
		member, rest, err := takeShortString(b)
		if err != nil {
			return nil, fmt.Errorf("wire: group member: %w", err)
		}
		g.Members = append(g.Members, member)
		b = rest
	}

	return g, nil
}

// contentFieldNone/Data/Sync discriminate which of Content's two fields a
// serialized Content carries; a raw 0 means neither (ErrEmptyContent).
const (
	contentFieldNone = iota
	contentFieldData
	contentFieldSync
)

// EncodeContent serializes c.
func EncodeContent(c *Content) ([]byte, error) {
	switch {
	case c.DataMessage != nil:
		db, err := EncodeDataMessage(c.DataMessage)
		if err != nil {
			return nil, err
		}
		buf := []byte{contentFieldData}
		return append(buf, db...), nil
	case c.SyncMessage != nil:
		sb, err := encodeSyncMessage(c.SyncMessage)
		if err != nil {
			return nil, err
		}
		buf := []byte{contentFieldSync}
		return append(buf, sb...), nil
	default:
		return []byte{contentFieldNone}, nil
	}
}

// DecodeContent is EncodeContent's inverse. It never itself rejects an
// empty Content; callers call (*Content).OneOf to enforce that invariant.
func DecodeContent(data []byte) (*Content, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("wire: empty content")
	}
	switch data[0] {
	case contentFieldData:
		dm, err := DecodeDataMessage(data[1:])
		if err != nil {
			return nil, err
		}
		return &Content{DataMessage: dm}, nil
	case contentFieldSync:
		sm, err := decodeSyncMessage(data[1:])
		if err != nil {
			return nil, err
		}
		return &Content{SyncMessage: sm}, nil
	default:
		return &Content{}, nil
	}
}

// sync message field discriminants.
const (
	syncFieldNone = iota
	syncFieldSent
	syncFieldContacts
	syncFieldGroups
	syncFieldBlocked
	syncFieldRequest
	syncFieldRead
)

func encodeSyncMessage(s *SyncMessage) ([]byte, error) {
	switch {
	case s.Sent != nil:
		buf := []byte{syncFieldSent}
		buf = appendShortString(buf, s.Sent.Destination)
		buf = binary.BigEndian.AppendUint64(buf, uint64(s.Sent.Timestamp))
		if s.Sent.Message != nil {
			buf = append(buf, present)
			db, err := EncodeDataMessage(s.Sent.Message)
			if err != nil {
				return nil, err
			}
			buf = appendLongBytes(buf, db)
		} else {
			buf = append(buf, absent)
		}
		if s.Sent.ExpirationStartTimestamp != nil {
			buf = append(buf, present)
			buf = binary.BigEndian.AppendUint64(buf, uint64(*s.Sent.ExpirationStartTimestamp))
		} else {
			buf = append(buf, absent)
		}
		return buf, nil
	case s.Contacts != nil:
		buf := []byte{syncFieldContacts}
		buf = binary.BigEndian.AppendUint64(buf, s.Contacts.ID)
		buf = appendLongBytes(buf, s.Contacts.Key)
		return buf, nil
	case s.Groups != nil:
		buf := []byte{syncFieldGroups}
		buf = binary.BigEndian.AppendUint64(buf, s.Groups.ID)
		buf = appendLongBytes(buf, s.Groups.Key)
		return buf, nil
	case s.Blocked != nil:
		buf := []byte{syncFieldBlocked}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(s.Blocked.Numbers)))
		for _, n := range s.Blocked.Numbers {
			buf = appendShortString(buf, n)
		}
		return buf, nil
	case s.Request != nil:
		buf := []byte{syncFieldRequest}
		buf = binary.BigEndian.AppendUint32(buf, uint32(s.Request.Type))
		return buf, nil
	case len(s.Read) > 0:
		buf := []byte{syncFieldRead}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(s.Read)))
		for _, r := range s.Read {
			buf = appendShortString(buf, r.Sender)
			buf = binary.BigEndian.AppendUint64(buf, uint64(r.Timestamp))
		}
		return buf, nil
	default:
		return []byte{syncFieldNone}, nil
	}
}

func decodeSyncMessage(data []byte) (*SyncMessage, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("wire: empty sync message")
	}
	field, b := data[0], data[1:]
	s := &SyncMessage{}

	switch field {
	case syncFieldSent:
		dest, rest, err := takeShortString(b)
		if err != nil {
			return nil, fmt.Errorf("wire: sync sent destination: %w", err)
		}
		b = rest
		if len(b) < 8 {
			return nil, fmt.Errorf("wire: truncated sync sent timestamp")
		}
		ts := int64(binary.BigEndian.Uint64(b))
		b = b[8:]

		sent := &SyncSentMessage{Destination: dest, Timestamp: ts}
		if len(b) < 1 {
			return nil, fmt.Errorf("wire: truncated sync sent message")
		}
		hasMsg := b[0]
		b = b[1:]
		if hasMsg == present {
			db, rest, err := takeLongBytes(b)
			if err != nil {
				return nil, fmt.Errorf("wire: sync sent message body: %w", err)
			}
			dm, err := DecodeDataMessage(db)
			if err != nil {
				return nil, err
			}
			sent.Message = dm
			b = rest
		}

		if len(b) < 1 {
			return nil, fmt.Errorf("wire: truncated sync sent message")
		}
		hasExp := b[0]
		b = b[1:]
		if hasExp == present {
			if len(b) < 8 {
				return nil, fmt.Errorf("wire: truncated expiration start timestamp")
			}
			exp := int64(binary.BigEndian.Uint64(b))
			sent.ExpirationStartTimestamp = &exp
		}
		s.Sent = sent

	case syncFieldContacts:
		id, rest, err := takeU64(b)
		if err != nil {
			return nil, fmt.Errorf("wire: sync contacts id: %w", err)
		}
		key, _, err := takeLongBytes(rest)
		if err != nil {
			return nil, fmt.Errorf("wire: sync contacts key: %w", err)
		}
		s.Contacts = &AttachmentPointer{ID: id, Key: key}

	case syncFieldGroups:
		id, rest, err := takeU64(b)
		if err != nil {
			return nil, fmt.Errorf("wire: sync groups id: %w", err)
		}
		key, _, err := takeLongBytes(rest)
		if err != nil {
			return nil, fmt.Errorf("wire: sync groups key: %w", err)
		}
		s.Groups = &AttachmentPointer{ID: id, Key: key}

	case syncFieldBlocked:
		if len(b) < 2 {
			return nil, fmt.Errorf("wire: truncated blocked count")
		}
		count := int(binary.BigEndian.Uint16(b))
		b = b[2:]
		blocked := &SyncBlocked{}
		for i := 0; i < count; i++ {
			n, rest, err := takeShortString(b)
			if err != nil {
				return nil, fmt.Errorf("wire: blocked number: %w", err)
			}
			blocked.Numbers = append(blocked.Numbers, n)
			b = rest
		}
		s.Blocked = blocked

	case syncFieldRequest:
		if len(b) < 4 {
			return nil, fmt.Errorf("wire: truncated sync request type")
		}
		s.Request = &SyncRequest{Type: int32(binary.BigEndian.Uint32(b))}

	case syncFieldRead:
		if len(b) < 2 {
			return nil, fmt.Errorf("wire: truncated read count")
		}
		count := int(binary.BigEndian.Uint16(b))
		b = b[2:]
		for i := 0; i < count; i++ {
			sender, rest, err := takeShortString(b)
			if err != nil {
				return nil, fmt.Errorf("wire: read sender: %w", err)
			}
			b = rest
			if len(b) < 8 {
				return nil, fmt.Errorf("wire: truncated read timestamp")
			}
			ts := int64(binary.BigEndian.Uint64(b))
			b = b[8:]
			s.Read = append(s.Read, &SyncRead{Sender: sender, Timestamp: ts})
		}

	case syncFieldNone:
		// leave s zero-valued; caller's dispatch treats this as EmptySyncMessage.
	default:
		return nil, fmt.Errorf("wire: unknown sync message field %d", field)
	}

	return s, nil
}

// DecodeContactRecords parses a streamed "contacts" attachment blob: a flat
// sequence of length-prefixed records, used after fetching+decrypting the
// attachment referenced by a SyncMessage.Contacts pointer.
func DecodeContactRecords(data []byte) ([]*ContactRecord, error) {
	var out []*ContactRecord
	b := data
	for len(b) > 0 {
		number, rest, err := takeShortString(b)
		if err != nil {
			return nil, fmt.Errorf("wire: contact number: %w", err)
		}
		name, rest2, err := takeShortString(rest)
		if err != nil {
			return nil, fmt.Errorf("wire: contact name: %w", err)
		}
		avatar, rest3, err := takeLongBytes(rest2)
		if err != nil {
			return nil, fmt.Errorf("wire: contact avatar: %w", err)
		}
		out = append(out, &ContactRecord{Number: number, Name: name, Avatar: avatar})
		b = rest3
	}
	return out, nil
}

// DecodeGroupRecords parses a streamed "groups" attachment blob, mirroring
// DecodeContactRecords.
func DecodeGroupRecords(data []byte) ([]*GroupRecord, error) {
	var out []*GroupRecord
	b := data
	for len(b) > 0 {
		id, rest, err := takeLongBytes(b)
		if err != nil {
			return nil, fmt.Errorf("wire: group record id: %w", err)
		}
		name, rest2, err := takeShortString(rest)
		if err != nil {
			return nil, fmt.Errorf("wire: group record name: %w", err)
		}
		if len(rest2) < 2 {
			return nil, fmt.Errorf("wire: truncated group record member count")
		}
		count := int(binary.BigEndian.Uint16(rest2))
		rest2 = rest2[2:]
		var members []string
		for i := 0; i < count; i++ {
			m, rest3, err := takeShortString(rest2)
			if err != nil {
				return nil, fmt.Errorf("wire: group record member: %w", err)
			}
			members = append(members, m)
			rest2 = rest3
		}
		avatar, rest4, err := takeLongBytes(rest2)
		if err != nil {
			return nil, fmt.Errorf("wire: group record avatar: %w", err)
		}
		if len(rest4) < 1 {
			return nil, fmt.Errorf("wire: truncated group record active flag")
		}
		active := rest4[0] == present
		b = rest4[1:]
		out = append(out, &GroupRecord{ID: id, Name: name, Members: members, Avatar: avatar, Active: active})
	}
	return out, nil
}

func appendOptionalBytes(buf []byte, b []byte) []byte {
	if b == nil {
		return append(buf, absent)
	}
	buf = append(buf, present)
	return appendLongBytes(buf, b)
}

func takeOptionalBytes(b []byte) ([]byte, []byte, error) {
	if len(b) < 1 {
		return nil, nil, fmt.Errorf("wire: truncated presence byte")
	}
	has := b[0]
	b = b[1:]
	if has != present {
		return nil, b, nil
	}
	return takeLongBytes(b)
}
