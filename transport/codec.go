// File: transport/codec.go
//go:build unix
// +build unix

// Author: momentics <momentics@gmail.com>
//
// Length-prefixed gob frame codec for the loopback wire. Each frame is a
// 4-byte big-endian payload length followed by one self-describing gob
// stream holding a single message. The codec is internal to this transport;
// it is not a bus wire-protocol implementation.

package transport

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/momentics/hioload-bus/api"
)

// DefaultMaxFrame bounds a single encoded message.
const DefaultMaxFrame = 1 << 20

// ErrFrameTooLarge reports an encoded message exceeding the frame limit.
var ErrFrameTooLarge = errors.New("frame exceeds size limit")

const frameHeaderLen = 4

func init() {
	// Concrete argument types that may travel inside Message.Args. Anything
	// beyond this set must be registered by the application.
	for _, v := range []any{
		int(0), int8(0), int16(0), int32(0), int64(0),
		uint(0), uint8(0), uint16(0), uint32(0), uint64(0),
		float32(0), float64(0), bool(false), string(""),
		[]byte(nil), []string(nil), []int(nil), []int64(nil),
		[]float64(nil), []any(nil),
		map[string]any(nil), map[string]string(nil), map[string]int64(nil),
	} {
		gob.Register(v)
	}
}

// RegisterArgType makes a concrete application type encodable inside
// Message.Args. Wraps gob.Register; call it once per type before sending.
func RegisterArgType(v any) {
	gob.Register(v)
}

// encodeFrame serializes m into a length-prefixed frame.
func encodeFrame(m *api.Message, maxFrame int) ([]byte, error) {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(m); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	if body.Len() > maxFrame {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, body.Len())
	}
	frame := make([]byte, frameHeaderLen+body.Len())
	binary.BigEndian.PutUint32(frame[:frameHeaderLen], uint32(body.Len()))
	copy(frame[frameHeaderLen:], body.Bytes())
	return frame, nil
}

// decodeFrame consumes one complete frame from buf, if present. Returns
// (nil, nil) when buf does not yet hold a full frame.
func decodeFrame(buf *bytes.Buffer, maxFrame int) (*api.Message, error) {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	if buf.Len() < frameHeaderLen {
		return nil, nil
	}
	n := int(binary.BigEndian.Uint32(buf.Bytes()[:frameHeaderLen]))
	if n > maxFrame {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	if buf.Len() < frameHeaderLen+n {
		return nil, nil
	}
	buf.Next(frameHeaderLen)
	payload := buf.Next(n)
	m := new(api.Message)
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}
