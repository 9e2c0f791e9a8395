package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedFrame is returned when a frame body cannot satisfy the lengths
// its command structurally requires.
var ErrMalformedFrame = errors.New("malformed frame")

// FrameError describes why a frame body was rejected.
type FrameError struct {
	Command Command
	Reason  string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("malformed %s frame: %s", e.Command, e.Reason)
}

func (e *FrameError) Unwrap() error { return ErrMalformedFrame }

// Direction selects the payload layout for commands whose request and
// response differ (e.g. JoinRoom carries a room id to the hub and a result
// code back to the client).
type Direction uint8

const (
	ToHub Direction = iota
	ToClient
)

func (d Direction) String() string {
	if d == ToHub {
		return "to-hub"
	}
	return "to-client"
}

// Message is a payload DTO bound to exactly one Command.
type Message interface {
	Command() Command
	MarshalTo(w *Writer)
	UnmarshalFrom(r *Reader) error
}

// Encode serializes msg into a frame body: the command byte followed by the
// payload. Use AppendFrame (or EncodeFrame) to add the length prefix.
func Encode(msg Message) []byte {
	w := NewWriter(64)
	w.PutUint8(uint8(msg.Command()))
	msg.MarshalTo(w)
	return w.Bytes()
}

// EncodeFrame serializes msg into a complete length-prefixed frame.
func EncodeFrame(msg Message) []byte {
	body := Encode(msg)
	return AppendFrame(make([]byte, 0, LengthSize+len(body)), body)
}

// Decode deserializes a frame body. The payload must be consumed exactly;
// short fields, oversized declared lengths and trailing bytes all fail with
// an error wrapping ErrMalformedFrame.
func Decode(dir Direction, body []byte) (Command, Message, error) {
	if len(body) == 0 {
		return 0, nil, &FrameError{Reason: "empty body"}
	}

	cmd := Command(body[0])
	if !cmd.Valid() {
		return cmd, nil, &FrameError{Command: cmd, Reason: "unknown command"}
	}

	msg := NewMessage(dir, cmd)
	r := NewReader(body[1:])
	if err := msg.UnmarshalFrom(r); err != nil {
		return cmd, nil, &FrameError{Command: cmd, Reason: err.Error()}
	}
	if err := r.Err(); err != nil {
		return cmd, nil, &FrameError{Command: cmd, Reason: err.Error()}
	}
	if n := r.Remaining(); n != 0 {
		return cmd, nil, &FrameError{Command: cmd, Reason: fmt.Sprintf("%d trailing bytes", n)}
	}
	return cmd, msg, nil
}

// ---------------------------------------------------------------------------
// Writer
// ---------------------------------------------------------------------------

// Writer appends little-endian fields to a growing buffer.
type Writer struct {
	buf []byte
}

// NewWriter creates a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) PutUint8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) PutUint16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *Writer) PutUint32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *Writer) PutUint64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *Writer) PutInt32(v int32)   { w.PutUint32(uint32(v)) }
func (w *Writer) PutFloat32(v float32) {
	w.PutUint32(math.Float32bits(v))
}

func (w *Writer) PutBool(v bool) {
	if v {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}
}

// PutCount writes an element count as an unsigned varint.
func (w *Writer) PutCount(n int) {
	w.buf = binary.AppendUvarint(w.buf, uint64(n))
}

// PutString writes a varint byte length followed by the UTF-8 bytes.
func (w *Writer) PutString(s string) {
	w.PutCount(len(s))
	w.buf = append(w.buf, s...)
}

// PutBytes writes a varint length followed by the raw bytes.
func (w *Writer) PutBytes(b []byte) {
	w.PutCount(len(b))
	w.buf = append(w.buf, b...)
}

// ---------------------------------------------------------------------------
// Reader
// ---------------------------------------------------------------------------

// Reader consumes little-endian fields. The first failure is sticky: later
// reads return zero values and Err reports the original problem.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader creates a Reader over b. b is not copied; string and byte
// fields are.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Err returns the first read failure.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf(format, args...)
	}
}

func (r *Reader) take(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if n > r.Remaining() {
		r.fail("%s: need %d bytes, %d remaining", what, n, r.Remaining())
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Uint8() uint8 {
	b := r.take(1, "uint8")
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Uint16() uint16 {
	b := r.take(2, "uint16")
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) Uint32() uint32 {
	b := r.take(4, "uint32")
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) Uint64() uint64 {
	b := r.take(8, "uint64")
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) Int32() int32     { return int32(r.Uint32()) }
func (r *Reader) Float32() float32 { return math.Float32frombits(r.Uint32()) }

func (r *Reader) Bool() bool {
	v := r.Uint8()
	if v > 1 {
		r.fail("bool: invalid value %d", v)
		return false
	}
	return v == 1
}

// Count reads a varint element count and rejects counts that could not fit
// in the remaining buffer given each element occupies at least minSize bytes.
func (r *Reader) Count(minSize int) int {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		r.fail("count: invalid varint")
		return 0
	}
	r.off += n
	if minSize < 1 {
		minSize = 1
	}
	if v > uint64(r.Remaining()/minSize) {
		r.fail("count %d exceeds remaining %d bytes", v, r.Remaining())
		return 0
	}
	return int(v)
}

// String reads a varint-length-prefixed string.
func (r *Reader) String() string {
	if r.err != nil {
		return ""
	}
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		r.fail("string: invalid length varint")
		return ""
	}
	r.off += n
	if v > uint64(r.Remaining()) {
		r.fail("string: declared length %d exceeds remaining %d bytes", v, r.Remaining())
		return ""
	}
	b := r.take(int(v), "string")
	return string(b)
}

// Bytes reads a varint-length-prefixed byte slice. An empty field yields nil.
func (r *Reader) Bytes() []byte {
	if r.err != nil {
		return nil
	}
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		r.fail("bytes: invalid length varint")
		return nil
	}
	r.off += n
	if v > uint64(r.Remaining()) {
		r.fail("bytes: declared length %d exceeds remaining %d bytes", v, r.Remaining())
		return nil
	}
	if v == 0 {
		return nil
	}
	b := r.take(int(v), "bytes")
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
