package relay

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"slices"
	"unicode/utf8"

	"github.com/bardlex/gomp-relay/pkg/errors"
)

// Frame layout:
//
//	[0:2]  type flag, big-endian (FE 01 share, EF 01 auth)
//	[2:6]  total frame length including header, little-endian uint32
//	[6:10] random nonce, no meaning
//	[10:]  UTF-8 payload
const (
	HeaderSize = 10

	// DefaultMaxFrameSize bounds the length field accepted from the wire
	DefaultMaxFrameSize = 16 << 20
)

// Framer encodes and decodes relay frames. Decode keeps no state; Encode reads
// the nonce source and must only be called from one goroutine.
type Framer struct {
	rand io.Reader

	// MaxFrameSize rejects frames above this many bytes. Zero disables the check.
	MaxFrameSize int
}

// NewFramer creates a Framer drawing nonce bytes from r. A nil r uses crypto/rand.
func NewFramer(r io.Reader) *Framer {
	if r == nil {
		r = rand.Reader
	}
	return &Framer{
		rand:         r,
		MaxFrameSize: DefaultMaxFrameSize,
	}
}

// Encode appends the frame for msg to dst and returns the extended slice.
// On error dst is returned unchanged.
func (f *Framer) Encode(dst []byte, msg Message) ([]byte, error) {
	if !msg.Type.Valid() {
		return dst, errors.New(errors.ErrorTypeCodec, "encode", "unknown message type").
			WithContext("type", msg.Type.String())
	}

	total := HeaderSize + len(msg.Payload)
	if f.MaxFrameSize > 0 && total > f.MaxFrameSize {
		return dst, errors.New(errors.ErrorTypeCodec, "encode", "frame exceeds maximum size").
			WithContext("frame_size", total).
			WithContext("max_frame_size", f.MaxFrameSize)
	}

	var nonce [4]byte
	if _, err := io.ReadFull(f.rand, nonce[:]); err != nil {
		return dst, errors.Wrap(err, errors.ErrorTypeInternal, "encode", "failed to read frame nonce")
	}

	dst = slices.Grow(dst, total)
	dst = binary.BigEndian.AppendUint16(dst, uint16(msg.Type))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(total))
	dst = append(dst, nonce[:]...)
	dst = append(dst, msg.Payload...)
	return dst, nil
}

// Decode parses one frame from the start of buf. It returns the number of
// bytes consumed; zero with a nil error means buf does not yet hold a full
// frame. Any error means the stream can no longer be trusted and the
// connection must be closed.
func (f *Framer) Decode(buf []byte) (Message, int, error) {
	if len(buf) < HeaderSize {
		return Message{}, 0, nil
	}

	length := binary.LittleEndian.Uint32(buf[2:6])
	if length < HeaderSize {
		return Message{}, 0, errors.New(errors.ErrorTypeCodec, "decode", "frame length shorter than header").
			WithContext("length", length)
	}
	if f.MaxFrameSize > 0 && uint64(length) > uint64(f.MaxFrameSize) {
		return Message{}, 0, errors.New(errors.ErrorTypeCodec, "decode", "frame exceeds maximum size").
			WithContext("length", length).
			WithContext("max_frame_size", f.MaxFrameSize)
	}
	if uint64(len(buf)) < uint64(length) {
		return Message{}, 0, nil
	}

	flag := MessageType(binary.BigEndian.Uint16(buf[0:2]))
	if !flag.Valid() {
		return Message{}, 0, errors.New(errors.ErrorTypeCodec, "decode", "unknown frame type").
			WithContext("flag", uint16(flag))
	}

	payload := buf[HeaderSize:length]
	if !utf8.Valid(payload) {
		return Message{}, 0, errors.New(errors.ErrorTypeCodec, "decode", "payload is not valid UTF-8").
			WithContext("type", flag.String())
	}

	return Message{Type: flag, Payload: string(payload)}, int(length), nil
}
