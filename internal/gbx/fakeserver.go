package gbx

import (
	"encoding/binary"
	"net"
)

// FakeServer is an in-process GBXRemote peer for tests and local dry runs.
// It speaks the real framing over a net.Pipe, so everything above the TCP
// socket — handshake, correlation, callbacks — is exercised unchanged.
type FakeServer struct {
	conn net.Conn
}

// NewFakePair returns a connected Client and the fake peer driving it. The
// handshake has already completed when this returns.
func NewFakePair() (*Client, *FakeServer, error) {
	clientEnd, serverEnd := net.Pipe()
	srv := &FakeServer{conn: serverEnd}

	// net.Pipe is unbuffered: the banner write must overlap NewClient's read.
	go srv.sendBanner()

	c, err := NewClient(clientEnd)
	if err != nil {
		serverEnd.Close()
		return nil, nil, err
	}
	return c, srv, nil
}

func (s *FakeServer) sendBanner() {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(handshakeBanner)))
	s.conn.Write(hdr[:])                  //nolint:errcheck
	s.conn.Write([]byte(handshakeBanner)) //nolint:errcheck
}

// Close tears down the server end of the pipe; the client observes a lost
// connection.
func (s *FakeServer) Close() error {
	return s.conn.Close()
}

// ReadCall blocks for the client's next frame and decodes it as a method
// call.
func (s *FakeServer) ReadCall() (handle uint32, method string, args Array, err error) {
	f, err := readFrame(s.conn)
	if err != nil {
		return 0, "", nil, err
	}
	method, args, err = DecodeCall(f.payload)
	return f.handle, method, args, err
}

// Respond sends a methodResponse frame for the given handle.
func (s *FakeServer) Respond(handle uint32, result Value) error {
	payload, err := EncodeResponse(result)
	if err != nil {
		return err
	}
	return writeFrame(s.conn, handle, payload)
}

// RespondFault sends an XML-RPC fault for the given handle.
func (s *FakeServer) RespondFault(handle uint32, code int, msg string) error {
	return writeFrame(s.conn, handle, EncodeFault(code, msg))
}

// PushCallback sends an unsolicited callback frame (high handle bit set).
func (s *FakeServer) PushCallback(method string, args ...Value) error {
	payload, err := EncodeCall(method, args...)
	if err != nil {
		return err
	}
	return writeFrame(s.conn, callbackBit, payload)
}

// PushModeScript wraps a nested mode-script callback the way the dedicated
// server does: name plus a single JSON payload string.
func (s *FakeServer) PushModeScript(name, payload string) error {
	return s.PushCallback("ManiaPlanet.ModeScriptCallbackArray", name, Array{payload})
}
