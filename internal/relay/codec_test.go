package relay

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	relayErrors "github.com/bardlex/gomp-relay/pkg/errors"
)

// fixedReader fills every read with the same byte
type fixedReader byte

func (r fixedReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r)
	}
	return len(p), nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

func TestFramer_EncodeExactBytes(t *testing.T) {
	f := NewFramer(fixedReader(0xAB))

	got, err := f.Encode(nil, NewShareMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	want := []byte{
		0xFE, 0x01, // share flag
		0x11, 0x00, 0x00, 0x00, // 10 + 7
		0xAB, 0xAB, 0xAB, 0xAB, // nonce
	}
	want = append(want, `{"x":1}`...)

	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = % x, want % x", got, want)
	}
}

func TestFramer_EncodeAuthFlag(t *testing.T) {
	f := NewFramer(fixedReader(0))

	got, err := f.Encode(nil, NewAuthMessage("secret"))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if got[0] != 0xEF || got[1] != 0x01 {
		t.Errorf("auth flag bytes = % x, want ef 01", got[:2])
	}
	if length := binary.LittleEndian.Uint32(got[2:6]); length != uint32(HeaderSize+len("secret")) {
		t.Errorf("length field = %d, want %d", length, HeaderSize+len("secret"))
	}
}

func TestFramer_EncodeAppends(t *testing.T) {
	f := NewFramer(fixedReader(1))
	prefix := []byte("keep")

	got, err := f.Encode(prefix, NewShareMessage("a"))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !bytes.HasPrefix(got, []byte("keep")) || len(got) != 4+HeaderSize+1 {
		t.Errorf("Encode() did not append to dst: % x", got)
	}
}

func TestFramer_EncodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		framer *Framer
		msg    Message
	}{
		{"unknown type", NewFramer(fixedReader(0)), Message{Type: 0x1234, Payload: "x"}},
		{"nonce source fails", NewFramer(failingReader{}), NewShareMessage("x")},
		{"too large", &Framer{rand: fixedReader(0), MaxFrameSize: 12}, NewShareMessage("abc")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := []byte{1, 2}
			got, err := tt.framer.Encode(dst, tt.msg)
			if err == nil {
				t.Fatal("Encode() expected error")
			}
			if !bytes.Equal(got, []byte{1, 2}) {
				t.Errorf("Encode() modified dst on error: % x", got)
			}
		})
	}
}

func TestFramer_RoundTrip(t *testing.T) {
	payloads := []string{
		"",
		"p",
		`{"user":"alice","height":840000}`,
		"päßwörd ✓ 🚀",
		strings.Repeat("z", 70000),
	}

	f := NewFramer(nil)
	for _, p := range payloads {
		for _, msg := range []Message{NewShareMessage(p), NewAuthMessage(p)} {
			frame, err := f.Encode(nil, msg)
			if err != nil {
				t.Fatalf("Encode(%v) error = %v", msg.Type, err)
			}

			got, n, err := f.Decode(frame)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if n != len(frame) {
				t.Errorf("Decode() consumed %d, want %d", n, len(frame))
			}
			if got != msg {
				t.Errorf("Decode() = %v, want %v", got, msg)
			}
		}
	}
}

func TestFramer_PartialFrames(t *testing.T) {
	f := NewFramer(fixedReader(7))
	msg := NewShareMessage(`{"leading_zeros":42}`)
	frame, err := f.Encode(nil, msg)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	for split := 0; split <= len(frame); split++ {
		var buf []byte
		decoded := 0

		for _, chunk := range [][]byte{frame[:split], frame[split:]} {
			buf = append(buf, chunk...)
			got, n, err := f.Decode(buf)
			if err != nil {
				t.Fatalf("split %d: Decode() error = %v", split, err)
			}
			if n == 0 {
				continue
			}
			if len(buf) != len(frame) {
				t.Fatalf("split %d: decoded with only %d of %d bytes", split, len(buf), len(frame))
			}
			if got != msg {
				t.Fatalf("split %d: Decode() = %v, want %v", split, got, msg)
			}
			buf = buf[n:]
			decoded++
		}

		if decoded != 1 {
			t.Errorf("split %d: decoded %d messages, want 1", split, decoded)
		}
	}
}

func TestFramer_ByteAtATime(t *testing.T) {
	f := NewFramer(fixedReader(7))
	frame, _ := f.Encode(nil, NewAuthMessage("pw"))

	var buf []byte
	for i, b := range frame {
		buf = append(buf, b)
		_, n, err := f.Decode(buf)
		if err != nil {
			t.Fatalf("byte %d: Decode() error = %v", i, err)
		}
		if i < len(frame)-1 && n != 0 {
			t.Fatalf("byte %d: Decode() returned a message early", i)
		}
		if i == len(frame)-1 && n != len(frame) {
			t.Fatalf("Decode() consumed %d, want %d", n, len(frame))
		}
	}
}

func TestFramer_Pipelined(t *testing.T) {
	f := NewFramer(fixedReader(3))
	want := []Message{NewAuthMessage("pw"), NewShareMessage("one"), NewShareMessage("two")}

	var stream []byte
	for _, m := range want {
		var err error
		if stream, err = f.Encode(stream, m); err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
	}

	var got []Message
	for {
		msg, n, err := f.Decode(stream)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if n == 0 {
			break
		}
		got = append(got, msg)
		stream = stream[n:]
	}

	if len(got) != len(want) {
		t.Fatalf("decoded %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func rawFrame(flag uint16, payload []byte) []byte {
	frame := binary.BigEndian.AppendUint16(nil, flag)
	frame = binary.LittleEndian.AppendUint32(frame, uint32(HeaderSize+len(payload)))
	frame = append(frame, 0, 0, 0, 0)
	return append(frame, payload...)
}

func TestFramer_RejectsUnknownFlag(t *testing.T) {
	f := NewFramer(nil)

	for v := 0; v < 1<<16; v++ {
		flag := uint16(v)
		if flag == uint16(TypeShare) || flag == uint16(TypeAuth) {
			continue
		}
		_, n, err := f.Decode(rawFrame(flag, []byte("data")))
		if err == nil {
			t.Errorf("flag 0x%04x: Decode() expected error", flag)
			continue
		}
		if n != 0 {
			t.Errorf("flag 0x%04x: Decode() consumed %d bytes on error", flag, n)
		}
		if !relayErrors.IsType(err, relayErrors.ErrorTypeCodec) {
			t.Errorf("flag 0x%04x: error type = %v, want codec", flag, err)
		}
	}
}

func TestFramer_RejectsInvalidUTF8(t *testing.T) {
	f := NewFramer(nil)

	for _, flag := range []uint16{uint16(TypeShare), uint16(TypeAuth)} {
		_, _, err := f.Decode(rawFrame(flag, []byte{'o', 'k', 0xff, 0xfe}))
		if !relayErrors.IsType(err, relayErrors.ErrorTypeCodec) {
			t.Errorf("flag 0x%04x: Decode() error = %v, want codec error", flag, err)
		}
	}
}

func TestFramer_RejectsBadLength(t *testing.T) {
	f := NewFramer(nil)
	f.MaxFrameSize = 64

	short := rawFrame(uint16(TypeShare), nil)
	binary.LittleEndian.PutUint32(short[2:6], 4)
	if _, _, err := f.Decode(short); err == nil {
		t.Error("Decode() accepted a length shorter than the header")
	}

	huge := rawFrame(uint16(TypeShare), nil)
	binary.LittleEndian.PutUint32(huge[2:6], 1<<30)
	if _, _, err := f.Decode(huge); err == nil {
		t.Error("Decode() accepted a length above MaxFrameSize")
	}
}

func TestMessage_Accessors(t *testing.T) {
	share := NewShareMessage("data")
	auth := NewAuthMessage("secret")

	if share.Data() != "data" || share.Password() != "" {
		t.Errorf("share accessors = %q/%q", share.Data(), share.Password())
	}
	if auth.Password() != "secret" || auth.Data() != "" {
		t.Errorf("auth accessors = %q/%q", auth.Data(), auth.Password())
	}
	if strings.Contains(auth.String(), "secret") {
		t.Error("auth String() leaks the password")
	}
}
