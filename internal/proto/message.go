package proto

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	// ErrTruncated is returned when a message ends before a complete field.
	ErrTruncated = errors.New("proto: truncated message")
	// ErrLengthOverflow is returned when a length prefix is not a valid uvarint
	// or does not fit in an int.
	ErrLengthOverflow = errors.New("proto: length prefix overflow")
)

// Writer builds a message body field by field. Strings and byte slices are
// written with a uvarint length prefix.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// WriteString appends s as a length-prefixed string.
func (w *Writer) WriteString(s string) {
	w.buf = binary.AppendUvarint(w.buf, uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBytes appends b as a length-prefixed byte slice.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = binary.AppendUvarint(w.buf, uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// Bytes returns the encoded body. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of encoded bytes.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Reader reads fields from a message body in order.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader over b. The Reader does not copy b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// ReadString reads one length-prefixed string.
func (r *Reader) ReadString() (string, error) {
	b, err := r.next()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes reads one length-prefixed byte slice. The result is a copy.
func (r *Reader) ReadBytes() ([]byte, error) {
	b, err := r.next()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) next() ([]byte, error) {
	if r.off >= len(r.buf) {
		return nil, ErrTruncated
	}
	n, size := binary.Uvarint(r.buf[r.off:])
	switch {
	case size == 0:
		return nil, ErrTruncated
	case size < 0, n > math.MaxInt32:
		return nil, ErrLengthOverflow
	}
	start := r.off + size
	if uint64(len(r.buf)-start) < n {
		return nil, ErrTruncated
	}
	end := start + int(n)
	r.off = end
	return r.buf[start:end], nil
}
