// Package wire defines the tagged-union wire types exchanged with the relay:
// frames at the transport level, and envelopes/content at the application
// level. Every duck-typed message shape from the source protocol is modeled
// here as an explicit Go struct with a discriminant field, so callers never
// need to guess which member of a union is populated.
package wire

import "fmt"

// FrameType discriminates a WebSocketMessage frame.
type FrameType uint8

const (
	FrameUnknown FrameType = iota
	FrameRequest
	FrameResponse
)

// Frame is a tagged union: exactly one of Request or Response is set,
// matching FrameType. A frame with Type == FrameUnknown carries neither and
// is ignored by the transport after a warning log.
type Frame struct {
	Type     FrameType
	Request  *RequestFrame
	Response *ResponseFrame
}

// RequestFrame is an inbound or outbound REQUEST frame.
type RequestFrame struct {
	ID   uint64
	Verb string
	Path string
	Body []byte
}

// ResponseFrame is an inbound or outbound RESPONSE frame.
type ResponseFrame struct {
	ID      uint64
	Status  uint16
	Message string
	Body    []byte
}

// IsSuccess reports whether Status is in [200,300), the transport's
// definition of a successful RESPONSE.
func (r *ResponseFrame) IsSuccess() bool {
	return r.Status >= 200 && r.Status < 300
}

// EnvelopeType discriminates the wire Envelope's payload shape.
type EnvelopeType uint8

const (
	EnvelopeUnknown EnvelopeType = iota
	EnvelopeCiphertext
	EnvelopePreKeyBundle
	EnvelopeReceipt
)

func (t EnvelopeType) String() string {
	switch t {
	case EnvelopeCiphertext:
		return "CIPHERTEXT"
	case EnvelopePreKeyBundle:
		return "PREKEY_BUNDLE"
	case EnvelopeReceipt:
		return "RECEIPT"
	default:
		return "UNKNOWN"
	}
}

// Envelope is the server-signed outer record addressed to the receiver.
// Exactly one of LegacyBody or Content is set for non-RECEIPT types;
// RECEIPT carries neither.
type Envelope struct {
	Type         EnvelopeType
	Source       string
	SourceDevice int
	Timestamp    int64
	LegacyBody   []byte
	Content      []byte
}

// Address is a (number, device) pair derived from an envelope's
// Source/SourceDevice. The ratchet store keys sessions on ratchet.Address,
// not on this type.
type Address struct {
	Number string
	Device int
}

func (a Address) String() string {
	return fmt.Sprintf("%s.%d", a.Number, a.Device)
}

// AddressOf derives the sender's (number, device) pair for an envelope.
func AddressOf(e *Envelope) Address {
	return Address{Number: e.Source, Device: e.SourceDevice}
}

// Data message flags. Exactly one non-zero class is expected per message;
// any other nonzero bit is a protocol fault (UnknownFlags).
const (
	FlagEndSession            uint32 = 1 << 0
	FlagExpirationTimerUpdate uint32 = 1 << 1
)

// DataMessage is the decrypted, deserialized payload of a CIPHERTEXT or
// PREKEY_BUNDLE envelope (or the "sent" half of a sync message).
type DataMessage struct {
	Flags         uint32
	Body          *string
	Attachments   []*AttachmentPointer
	Group         *GroupContext
	ExpireTimer   uint32
	HasExpireTime bool
}

// Normalize fills the invariant-bearing fields with their zero defaults.
// In this struct Flags/ExpireTimer are already concrete uint32s (never a
// bare nil), so normalization is a no-op kept for symmetry with the design
// note in processDecrypted — any future optional-scalar field added here
// must be normalized in this one place.
func (m *DataMessage) Normalize() {}

// HasFlag reports whether a specific flag bit is set.
func (m *DataMessage) HasFlag(flag uint32) bool {
	return m.Flags&flag != 0
}

// GroupContextType discriminates how a GroupContext should be applied.
type GroupContextType uint8

const (
	GroupUnknown GroupContextType = iota
	GroupUpdate
	GroupDeliver
	GroupQuit
)

// GroupContext carries membership/metadata attached to a data message.
type GroupContext struct {
	ID      []byte
	Type    GroupContextType
	Name    *string
	Avatar  []byte
	Members []string
}

// AttachmentPointer references (and, after fetch, carries) attachment bytes.
type AttachmentPointer struct {
	ID   uint64
	Key  []byte
	Data []byte
}

// Content carries at most one of DataMessage or SyncMessage. An empty or
// multi-field Content is a fault (EmptyContent), surfaced by OneOf.
type Content struct {
	DataMessage  *DataMessage
	SyncMessage  *SyncMessage
}

// OneOf returns whichever field of Content is set, or EmptyContent if
// neither is.
func (c *Content) OneOf() (isData bool, err error) {
	switch {
	case c.DataMessage != nil && c.SyncMessage == nil:
		return true, nil
	case c.SyncMessage != nil && c.DataMessage == nil:
		return false, nil
	default:
		return false, ErrEmptyContent
	}
}

// SyncMessage is a message a user's own device sends to its sibling
// devices. Exactly one field below is expected to be set.
type SyncMessage struct {
	Sent     *SyncSentMessage
	Contacts *AttachmentPointer
	Groups   *AttachmentPointer
	Blocked  *SyncBlocked
	Request  *SyncRequest
	Read     []*SyncRead
}

// SyncSentMessage mirrors a message this account sent from another device.
type SyncSentMessage struct {
	Destination               string
	Timestamp                 int64
	Message                   *DataMessage
	ExpirationStartTimestamp  *int64
}

// SyncBlocked replaces the local blocked-numbers list wholesale.
type SyncBlocked struct {
	Numbers []string
}

// SyncRequest is logged only; its Type is opaque to the receiver.
type SyncRequest struct {
	Type int32
}

// SyncRead reports a single (sender, timestamp) read receipt mirrored from
// another device.
type SyncRead struct {
	Sender    string
	Timestamp int64
}

// ContactRecord is one decoded entry from a streamed "contacts" sync blob.
type ContactRecord struct {
	Number string
	Name   string
	Avatar []byte
}

// GroupRecord is one decoded entry from a streamed "groups" sync blob.
type GroupRecord struct {
	ID      []byte
	Name    string
	Members []string
	Avatar  []byte
	Active  bool
}
