package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRequestFrame(t *testing.T) {
	f := &Frame{
		Type: FrameRequest,
		Request: &RequestFrame{
			ID:   0x0123456789abcdef,
			Verb: "PUT",
			Path: "/messages",
			Body: []byte("encrypted-envelope-bytes"),
		},
	}

	data, err := EncodeFrame(f)
	require.NoError(t, err)

	got, err := DecodeFrame(data)
	require.NoError(t, err)
	require.Equal(t, FrameRequest, got.Type)
	assert.Equal(t, f.Request, got.Request)
}

func TestEncodeDecodeResponseFrame(t *testing.T) {
	f := &Frame{
		Type: FrameResponse,
		Response: &ResponseFrame{
			ID:      42,
			Status:  200,
			Message: "OK",
		},
	}

	data, err := EncodeFrame(f)
	require.NoError(t, err)

	got, err := DecodeFrame(data)
	require.NoError(t, err)
	require.Equal(t, FrameResponse, got.Type)
	assert.Equal(t, f.Response, got.Response)
	assert.True(t, got.Response.IsSuccess())
}

func TestDecodeUnknownFrameType(t *testing.T) {
	got, err := DecodeFrame([]byte{0xff})
	require.NoError(t, err)
	assert.Equal(t, FrameUnknown, got.Type)
}

func TestDecodeFrameTruncated(t *testing.T) {
	_, err := DecodeFrame([]byte{})
	assert.Error(t, err)

	_, err = DecodeFrame([]byte{byte(FrameRequest), 0, 0, 0})
	assert.Error(t, err)
}

func TestContentOneOf(t *testing.T) {
	c := &Content{}
	_, err := c.OneOf()
	assert.ErrorIs(t, err, ErrEmptyContent)

	c = &Content{DataMessage: &DataMessage{}}
	isData, err := c.OneOf()
	require.NoError(t, err)
	assert.True(t, isData)

	c = &Content{SyncMessage: &SyncMessage{}}
	isData, err = c.OneOf()
	require.NoError(t, err)
	assert.False(t, isData)
}
