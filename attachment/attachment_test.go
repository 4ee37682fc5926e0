package attachment

import (
	"context"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagex/relay-receiver/wire"
)

type fakeFetcher struct {
	data map[uint64][]byte
}

func (f *fakeFetcher) FetchAttachment(ctx context.Context, id uint64) ([]byte, error) {
	return f.data[id], nil
}

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, keyLen)
	_, err := io.ReadFull(rand.Reader, key)
	require.NoError(t, err)
	return key
}

func TestFetchAndDecrypt(t *testing.T) {
	key := randomKey(t)
	ciphertext, err := Encrypt(key, []byte("a photo of a cat"))
	require.NoError(t, err)

	fetcher := &fakeFetcher{data: map[uint64][]byte{7: ciphertext}}
	ptr := &wire.AttachmentPointer{ID: 7, Key: key}

	err = FetchAndDecrypt(context.Background(), fetcher, ptr)
	require.NoError(t, err)
	assert.Equal(t, "a photo of a cat", string(ptr.Data))
}

func TestFetchAndDecrypt_WrongKeyLength(t *testing.T) {
	fetcher := &fakeFetcher{}
	ptr := &wire.AttachmentPointer{ID: 1, Key: []byte("short")}

	err := FetchAndDecrypt(context.Background(), fetcher, ptr)
	assert.Error(t, err)
}

func TestFetchAndDecrypt_BadMAC(t *testing.T) {
	key := randomKey(t)
	ciphertext, err := Encrypt(key, []byte("tamper me"))
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xFF

	fetcher := &fakeFetcher{data: map[uint64][]byte{1: ciphertext}}
	ptr := &wire.AttachmentPointer{ID: 1, Key: key}

	err = FetchAndDecrypt(context.Background(), fetcher, ptr)
	assert.Error(t, err)
}
