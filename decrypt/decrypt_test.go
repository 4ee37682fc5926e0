package decrypt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagex/relay-receiver/internal/logger"
	"github.com/sagex/relay-receiver/ratchet"
	"github.com/sagex/relay-receiver/wire"
)

func padded(t *testing.T, plaintext []byte) []byte {
	t.Helper()
	out := append([]byte{}, plaintext...)
	out = append(out, 0x80)
	return out
}

func newLogger() logger.Logger {
	return logger.NewDefaultLogger()
}

func TestDecrypt_Receipt(t *testing.T) {
	store := ratchet.NewMemoryStore()
	d := New(store, newLogger())

	result, err := d.Decrypt(&wire.Envelope{Type: wire.EnvelopeReceipt, Source: "+1", SourceDevice: 1})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestDecrypt_Ciphertext(t *testing.T) {
	store := ratchet.NewMemoryStore()
	secret := []byte("shared-secret-material-32-bytes")
	cipher, err := ratchet.NewAEADSessionCipher(secret)
	require.NoError(t, err)
	addr := ratchet.Address{Number: "+15551234567", DeviceID: 1}
	store.Put(addr, cipher)

	dm := &wire.DataMessage{Body: strPtr("hello")}
	content := &wire.Content{DataMessage: dm}
	contentBytes, err := wire.EncodeContent(content)
	require.NoError(t, err)

	ciphertext, err := ratchet.SealWhisperMessage(secret, padded(t, contentBytes))
	require.NoError(t, err)

	d := New(store, newLogger())
	env := &wire.Envelope{
		Type:         wire.EnvelopeCiphertext,
		Source:       addr.Number,
		SourceDevice: int(addr.DeviceID),
		Content:      ciphertext,
	}
	result, err := d.Decrypt(env)
	require.NoError(t, err)
	require.NotNil(t, result.Content.DataMessage)
	assert.Equal(t, "hello", *result.Content.DataMessage.Body)
}

func TestDecrypt_UnknownIdentityKey(t *testing.T) {
	store := ratchet.NewMemoryStore()
	addr := ratchet.Address{Number: "+15551234567", DeviceID: 1}
	wantIdentity := make([]byte, 32)
	for i := range wantIdentity {
		wantIdentity[i] = byte(i)
	}
	store.Put(addr, ratchet.NewPendingAEADSessionCipher(wantIdentity))

	otherIdentity := make([]byte, 32)
	for i := range otherIdentity {
		otherIdentity[i] = byte(255 - i)
	}
	ciphertext, err := ratchet.SealPreKeyWhisperMessage(otherIdentity, padded(t, []byte("hi")))
	require.NoError(t, err)

	d := New(store, newLogger())
	env := &wire.Envelope{
		Type:         wire.EnvelopePreKeyBundle,
		Source:       addr.Number,
		SourceDevice: int(addr.DeviceID),
		Content:      ciphertext,
	}
	_, err = d.Decrypt(env)
	require.Error(t, err)
	var idErr *IncomingIdentityKeyError
	require.ErrorAs(t, err, &idErr)
	assert.Equal(t, addr, idErr.Address)
}

func TestDecrypt_UnknownMessageType(t *testing.T) {
	store := ratchet.NewMemoryStore()
	d := New(store, newLogger())

	_, err := d.Decrypt(&wire.Envelope{Type: wire.EnvelopeUnknown, Source: "+1", SourceDevice: 1})
	var typeErr *ErrUnknownMessageType
	require.ErrorAs(t, err, &typeErr)
}

func TestUnpad(t *testing.T) {
	out, err := Unpad([]byte{1, 2, 3, 0x80})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, out)

	out, err = Unpad([]byte{1, 2, 3, 0x80, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, out)

	_, err = Unpad([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidPadding)

	_, err = Unpad(nil)
	assert.ErrorIs(t, err, ErrInvalidPadding)
}

func strPtr(s string) *string { return &s }
