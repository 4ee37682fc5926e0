package wire

import (
	"encoding/binary"
	"fmt"
)

// EncodeFrame and DecodeFrame implement a compact, deterministic binary
// encoding of WebSocketMessage equivalent in field shape to the relay's
// protobuf schema (see DESIGN.md for why this repo hand-rolls the codec
// instead of depending on generated protobuf code). Every variable-length
// field is length-prefixed, so the encoding is itself "length-delimited" at
// the field level; the outer message boundary is provided by the WebSocket
// frame it travels in (transport.Connection reads one complete message per call).
//
// Layout:
//
//	byte 0        frame type (0=unknown, 1=request, 2=response)
//	request:      id(8 BE) verbLen(2 BE) verb pathLen(2 BE) path bodyLen(4 BE) body
//	response:     id(8 BE) status(2 BE) msgLen(2 BE) msg bodyLen(4 BE) body
const (
	maxShortField = 1<<16 - 1
	maxBodyField  = 1<<32 - 1
)

// EncodeFrame serializes f into the wire layout described above.
func EncodeFrame(f *Frame) ([]byte, error) {
	switch f.Type {
	case FrameRequest:
		return encodeRequest(f.Request)
	case FrameResponse:
		return encodeResponse(f.Response)
	default:
		return nil, fmt.Errorf("wire: cannot encode frame of type %d", f.Type)
	}
}

func encodeRequest(r *RequestFrame) ([]byte, error) {
	if len(r.Verb) > maxShortField || len(r.Path) > maxShortField {
		return nil, fmt.Errorf("wire: verb/path too long")
	}
	if len(r.Body) > maxBodyField {
		return nil, fmt.Errorf("wire: body too long")
	}
	buf := make([]byte, 0, 1+8+2+len(r.Verb)+2+len(r.Path)+4+len(r.Body))
	buf = append(buf, byte(FrameRequest))
	buf = appendU64(buf, r.ID)
	buf = appendShortString(buf, r.Verb)
	buf = appendShortString(buf, r.Path)
	buf = appendLongBytes(buf, r.Body)
	return buf, nil
}

func encodeResponse(r *ResponseFrame) ([]byte, error) {
	if len(r.Message) > maxShortField {
		return nil, fmt.Errorf("wire: message too long")
	}
	if len(r.Body) > maxBodyField {
		return nil, fmt.Errorf("wire: body too long")
	}
	buf := make([]byte, 0, 1+8+2+2+len(r.Message)+4+len(r.Body))
	buf = append(buf, byte(FrameResponse))
	buf = appendU64(buf, r.ID)
	buf = binary.BigEndian.AppendUint16(buf, r.Status)
	buf = appendShortString(buf, r.Message)
	buf = appendLongBytes(buf, r.Body)
	return buf, nil
}

// DecodeFrame parses a single wire frame. Frames of an unrecognized type
// decode to {Type: FrameUnknown} rather than an error, matching the
// transport's "UNKNOWN (ignored with warning)" contract in spec §3.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("wire: empty frame")
	}
	switch FrameType(data[0]) {
	case FrameRequest:
		req, err := decodeRequest(data[1:])
		if err != nil {
			return nil, err
		}
		return &Frame{Type: FrameRequest, Request: req}, nil
	case FrameResponse:
		resp, err := decodeResponse(data[1:])
		if err != nil {
			return nil, err
		}
		return &Frame{Type: FrameResponse, Response: resp}, nil
	default:
		return &Frame{Type: FrameUnknown}, nil
	}
}

func decodeRequest(b []byte) (*RequestFrame, error) {
	id, b, err := takeU64(b)
	if err != nil {
		return nil, err
	}
	verb, b, err := takeShortString(b)
	if err != nil {
		return nil, err
	}
	path, b, err := takeShortString(b)
	if err != nil {
		return nil, err
	}
	body, _, err := takeLongBytes(b)
	if err != nil {
		return nil, err
	}
	return &RequestFrame{ID: id, Verb: verb, Path: path, Body: body}, nil
}

func decodeResponse(b []byte) (*ResponseFrame, error) {
	id, b, err := takeU64(b)
	if err != nil {
		return nil, err
	}
	if len(b) < 2 {
		return nil, fmt.Errorf("wire: truncated status")
	}
	status := binary.BigEndian.Uint16(b)
	b = b[2:]
	msg, b, err := takeShortString(b)
	if err != nil {
		return nil, err
	}
	body, _, err := takeLongBytes(b)
	if err != nil {
		return nil, err
	}
	return &ResponseFrame{ID: id, Status: status, Message: msg, Body: body}, nil
}

func appendU64(buf []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, v)
}

func appendShortString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendLongBytes(buf []byte, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func takeU64(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, fmt.Errorf("wire: truncated id")
	}
	return binary.BigEndian.Uint64(b), b[8:], nil
}

func takeShortString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, fmt.Errorf("wire: truncated length prefix")
	}
	n := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if len(b) < n {
		return "", nil, fmt.Errorf("wire: truncated string field")
	}
	return string(b[:n]), b[n:], nil
}

func takeLongBytes(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("wire: truncated length prefix")
	}
	n := int(binary.BigEndian.Uint32(b))
	b = b[4:]
	if len(b) < n {
		return nil, nil, fmt.Errorf("wire: truncated body field")
	}
	out := make([]byte, n)
	copy(out, b[:n])
	return out, b[n:], nil
}
