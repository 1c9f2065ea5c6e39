package wsclient

import (
	"bytes"
	"testing"
)

func TestWriteFrameIsMaskedAndRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello websocket")
	if err := writeFrame(&buf, OpText, payload, true, true); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	raw := buf.Bytes()
	if raw[1]&0x80 == 0 {
		t.Fatalf("client frame must have mask bit set")
	}

	// Masked bytes must not equal the plaintext (overwhelmingly likely for
	// a 15-byte payload with a random key).
	maskOffset := 2 + 4
	if bytes.Equal(raw[maskOffset:maskOffset+len(payload)], payload) {
		t.Errorf("payload appears unmasked")
	}

	// Unmasking with the key at raw[2:6] must recover the plaintext.
	key := raw[2:6]
	unmasked := make([]byte, len(payload))
	for i := range unmasked {
		unmasked[i] = raw[maskOffset+i] ^ key[i%4]
	}
	if !bytes.Equal(unmasked, payload) {
		t.Errorf("unmasked payload = %q, want %q", unmasked, payload)
	}
}

func TestReadFrameRejectsMaskedServerFrame(t *testing.T) {
	var buf bytes.Buffer
	// Build a frame with the mask bit set, as a (incorrect) server would.
	buf.Write([]byte{0x81, 0x85, 0, 0, 0, 0}) // fin+text, masked, len=5
	buf.Write([]byte("hello"))

	_, err := readFrame(&buf)
	if err != ErrProtocol {
		t.Fatalf("expected ErrProtocol for masked server frame, got %v", err)
	}
}

func TestReadFrameRejectsNonZeroRSV(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xF1, 0x00}) // fin + rsv bits set, text opcode, len=0

	_, err := readFrame(&buf)
	if err != ErrProtocol {
		t.Fatalf("expected ErrProtocol for nonzero RSV, got %v", err)
	}
}

func TestReadFrameRejectsUnknownOpcode(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x83, 0x00}) // fin, opcode=3 (reserved), len=0

	_, err := readFrame(&buf)
	if err != ErrProtocol {
		t.Fatalf("expected ErrProtocol for unknown opcode, got %v", err)
	}
}

func TestFrameUnmaskedRoundTrip(t *testing.T) {
	// Simulate a server sending an unmasked binary frame with a 126-style
	// extended length.
	payload := bytes.Repeat([]byte{0x42}, 200)
	var buf bytes.Buffer
	buf.WriteByte(0x82) // fin, binary
	buf.WriteByte(126)
	buf.WriteByte(byte(len(payload) >> 8))
	buf.WriteByte(byte(len(payload)))
	buf.Write(payload)

	f, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if f.Opcode != OpBinary || !f.Fin {
		t.Errorf("unexpected frame: %+v", f)
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Errorf("payload mismatch, got %d bytes want %d", len(f.Payload), len(payload))
	}
}

func TestWriteFrameContinuationOpcode(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, OpBinary, []byte("x"), false, true); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	opcode := buf.Bytes()[0] & 0x0F
	if Opcode(opcode) != OpContinuation {
		t.Errorf("expected continuation opcode on non-first frame, got %d", opcode)
	}
}
