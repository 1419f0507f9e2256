package proto

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
)

// Frame types
const (
	FrameTypeHello       = 1
	FrameTypeSubscribe   = 2
	FrameTypeUnsubscribe = 3
	FrameTypeMessage     = 4
	FrameTypeAck         = 5
	FrameTypeError       = 6
)

// MaxFrameSize bounds a single encoded frame (1MB). MessageFrame.Body is
// base64 in the JSON envelope, so the largest body that fits is about 3/4 of
// this less the envelope fields, a little under 768KiB.
const MaxFrameSize = 1024 * 1024

// Error codes carried in ErrorFrame.Code
const (
	CodeHandlerFailed  = "HANDLER_FAILED"
	CodeChannelUnknown = "CHANNEL_UNKNOWN"
	CodeBadFrame       = "BAD_FRAME"
)

// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("proto: frame too large")

// HelloFrame introduces a peer to the relay
type HelloFrame struct {
	NodeID string `json:"node_id"`
}

// SubscribeFrame registers interest in a channel
type SubscribeFrame struct {
	Channel string `json:"channel"`
}

// UnsubscribeFrame
type UnsubscribeFrame struct {
	Channel string `json:"channel"`
}

// MessageFrame carries one channel message. Body is the encoded message
// (see Writer); the relay never looks inside it.
type MessageFrame struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
	Body    []byte `json:"body,omitempty"`
	Origin  string `json:"origin,omitempty"`
}

// AckFrame
type AckFrame struct {
	PeerID string `json:"peer_id,omitempty"`
	OK     bool   `json:"ok"`
}

// ErrorFrame
type ErrorFrame struct {
	Code    string `json:"code"`
	Channel string `json:"channel,omitempty"`
	Message string `json:"message"`
}

// Frame is the top-level wire message
type Frame struct {
	Type        int               `json:"t"`
	Hello       *HelloFrame       `json:"h,omitempty"`
	Subscribe   *SubscribeFrame   `json:"s,omitempty"`
	Unsubscribe *UnsubscribeFrame `json:"u,omitempty"`
	Message     *MessageFrame     `json:"m,omitempty"`
	Ack         *AckFrame         `json:"a,omitempty"`
	Error       *ErrorFrame       `json:"e,omitempty"`
}

// Encode writes a length-prefixed JSON frame to w
func (f *Frame) Encode(w io.Writer) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	// 4-byte big-endian length prefix, written with the body in one call so
	// concurrent writers on a locked stream never interleave halves.
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err = w.Write(buf)
	return err
}

// Decode reads a length-prefixed JSON frame from r. f is reset first.
func (f *Frame) Decode(r io.Reader) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return ErrFrameTooLarge
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	*f = Frame{}
	return json.Unmarshal(data, f)
}
