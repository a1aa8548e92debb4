package ledger

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/golang-powchain/ledger/errkind"
)

// Writer builds a deterministic binary payload: fixed-width integers,
// length-prefixed byte strings and sequences. It never fails — building a
// payload from in-memory values is not a fallible operation in this codec,
// only reading one back is.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// WriteUint8 appends a single byte.
func (w *Writer) WriteUint8(v uint8) {
	w.buf.WriteByte(v)
}

// WriteInt32 appends a big-endian signed 32-bit integer.
func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

// WriteUint32 appends a big-endian unsigned 32-bit integer.
func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// WriteUint64 appends a big-endian unsigned 64-bit integer.
func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// WriteUint128 appends the Hi half followed by the Lo half, each as a
// big-endian uint64 — a fixed 16-byte field regardless of value.
func (w *Writer) WriteUint128(v Uint128) {
	w.WriteUint64(v.Hi)
	w.WriteUint64(v.Lo)
}

// WriteBytes appends a uint32 length prefix followed by the raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteUint32(uint32(len(b)))
	w.buf.Write(b)
}

// WriteString appends a uint32 length prefix followed by the string's raw
// bytes.
func (w *Writer) WriteString(s string) {
	w.WriteBytes([]byte(s))
}

// WriteCount appends a sequence-length prefix; callers follow it with that
// many elements written via the other Write* methods.
func (w *Writer) WriteCount(n int) {
	w.WriteUint32(uint32(n))
}

// Reader consumes a payload built by Writer, tracking a read cursor. Every
// accessor returns errkind.ErrSerialization (wrapped with context) on
// short input.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps b for sequential decoding.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining reports how many undecoded bytes are left.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, errors.Wrapf(errkind.ErrSerialization, "need %d bytes, have %d", n, r.Remaining())
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadInt32 reads a big-endian signed 32-bit integer.
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadUint32 reads a big-endian unsigned 32-bit integer.
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadUint64 reads a big-endian unsigned 64-bit integer.
func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadUint128 reads a Hi/Lo pair of big-endian uint64s.
func (r *Reader) ReadUint128() (Uint128, error) {
	hi, err := r.ReadUint64()
	if err != nil {
		return Uint128{}, err
	}
	lo, err := r.ReadUint64()
	if err != nil {
		return Uint128{}, err
	}
	return Uint128{Hi: hi, Lo: lo}, nil
}

// ReadBytes reads a uint32 length prefix and that many raw bytes.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ReadString reads a length-prefixed byte string and returns it as a string.
func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadCount reads a sequence-length prefix.
func (r *Reader) ReadCount() (int, error) {
	n, err := r.ReadUint32()
	return int(n), err
}

// ErrUnexpectedTrailingBytes names the condition of a payload with
// undecoded bytes left over. RequireDrained does not return it: it reports
// that case as a wrapped errkind.ErrSerialization.
var ErrUnexpectedTrailingBytes = errors.New("unexpected trailing bytes after decode")

// RequireDrained fails if the reader has undecoded bytes left over.
func (r *Reader) RequireDrained() error {
	if r.Remaining() != 0 {
		return errors.Wrapf(errkind.ErrSerialization, "%d trailing bytes", r.Remaining())
	}
	return nil
}
