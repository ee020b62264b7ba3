package gbx

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Framing constants. Every logical message after the handshake is prefixed
// by an 8-byte little-endian header: payload length, then handle. A handle
// with the high bit set marks a callback pushed by the server; any other
// handle correlates a response with the outbound call that carried it.
const (
	// handshakeBanner is the ASCII token the server must send immediately
	// after the TCP connection is established.
	handshakeBanner = "GBXRemote 2"

	// callbackBit marks server-pushed frames.
	callbackBit = uint32(0x80000000)

	// maxPayload bounds a single frame. Map lists on large servers run to a
	// few hundred KB; 4 MB leaves ample headroom while rejecting garbage
	// lengths from a desynchronized stream.
	maxPayload = 4 << 20

	// maxHandle is the largest outbound handle before wrapping back to 1.
	maxHandle = uint32(0x7FFFFFFF)
)

// frame is one decoded message from the wire.
type frame struct {
	handle  uint32
	payload []byte
}

// isCallback reports whether the frame was pushed by the server rather than
// sent in response to one of our calls.
func (f frame) isCallback() bool {
	return f.handle&callbackBit != 0
}

// readHandshake consumes and validates the protocol banner. Any deviation is
// a fatal connection error.
func readHandshake(r io.Reader) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return fmt.Errorf("gbx: read handshake header: %w", err)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n != uint32(len(handshakeBanner)) {
		return fmt.Errorf("gbx: handshake length %d, want %d", n, len(handshakeBanner))
	}
	banner := make([]byte, n)
	if _, err := io.ReadFull(r, banner); err != nil {
		return fmt.Errorf("gbx: read handshake banner: %w", err)
	}
	if string(banner) != handshakeBanner {
		return fmt.Errorf("gbx: unexpected protocol banner %q", banner)
	}
	return nil
}

// readFrame reads one framed message.
func readFrame(r io.Reader) (frame, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return frame{}, err
	}
	length := binary.LittleEndian.Uint32(hdr[0:4])
	handle := binary.LittleEndian.Uint32(hdr[4:8])
	if length > maxPayload {
		return frame{}, fmt.Errorf("gbx: frame length %d exceeds limit", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return frame{}, err
	}
	return frame{handle: handle, payload: payload}, nil
}

// writeFrame writes one framed message. The header and payload go out in a
// single Write so a partial header is never left on the wire by this layer.
func writeFrame(w io.Writer, handle uint32, payload []byte) error {
	buf := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[4:8], handle)
	copy(buf[8:], payload)
	_, err := w.Write(buf)
	return err
}
