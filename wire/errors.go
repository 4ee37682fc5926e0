package wire

import "errors"

// Semantic errors raised while interpreting a decrypted Content, per
// spec §4.6/§7 taxonomy class (e). These occur after the transport-level
// 200/500 has already been sent, so callers turn them into `error` events,
// never a response.
var (
	ErrEmptyContent     = errors.New("content carries neither a data message nor a sync message")
	ErrEmptySyncMessage = errors.New("sync message has no recognized field set")
	ErrInvalidSyncSource = errors.New("sync message source is not this account")
	ErrSelfDeviceSync    = errors.New("sync message originated from this account's own device")
	ErrUnknownFlags      = errors.New("data message carries unrecognized flag bits")
)
