package ratchet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAEADSessionCipher_WhisperRoundTrip(t *testing.T) {
	secret := []byte("a shared secret established out of band")

	sealed, err := SealWhisperMessage(secret, []byte("hello"))
	require.NoError(t, err)

	cipher, err := NewAEADSessionCipher(secret)
	require.NoError(t, err)

	plaintext, err := cipher.DecryptWhisperMessage(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plaintext))
}

func TestAEADSessionCipher_PreKeyEstablishesSession(t *testing.T) {
	identity := make([]byte, identityKeyLen)
	for i := range identity {
		identity[i] = byte(i)
	}

	sealed, err := SealPreKeyWhisperMessage(identity, []byte("first contact"))
	require.NoError(t, err)

	cipher := NewPendingAEADSessionCipher(identity)
	plaintext, err := cipher.DecryptPreKeyWhisperMessage(sealed)
	require.NoError(t, err)
	assert.Equal(t, "first contact", string(plaintext))
}

func TestAEADSessionCipher_UnknownIdentityKey(t *testing.T) {
	wrongIdentity := make([]byte, identityKeyLen)
	actualIdentity := make([]byte, identityKeyLen)
	actualIdentity[0] = 1

	sealed, err := SealPreKeyWhisperMessage(actualIdentity, []byte("hi"))
	require.NoError(t, err)

	cipher := NewPendingAEADSessionCipher(wrongIdentity)
	_, err = cipher.DecryptPreKeyWhisperMessage(sealed)
	assert.ErrorIs(t, err, ErrUnknownIdentityKey)
}

func TestAEADSessionCipher_CloseIsIdempotent(t *testing.T) {
	cipher, err := NewAEADSessionCipher([]byte("secret"))
	require.NoError(t, err)

	require.NoError(t, cipher.Close())
	require.NoError(t, cipher.Close())

	_, err = cipher.DecryptWhisperMessage([]byte("anything"))
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	addr := Address{Number: "+15551234567", DeviceID: 1}

	_, ok := store.Get(addr)
	assert.False(t, ok)

	cipher, err := NewAEADSessionCipher([]byte("secret"))
	require.NoError(t, err)
	store.Put(addr, cipher)

	got, ok := store.Get(addr)
	require.True(t, ok)
	assert.Equal(t, cipher, got)

	devices := store.GetAllDevices("+15551234567")
	assert.Equal(t, []uint32{1}, devices)

	store.Delete(addr)
	_, ok = store.Get(addr)
	assert.False(t, ok)
}
