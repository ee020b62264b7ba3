package gbx

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// Default deadlines. A call that produced no response within CallTimeout is
// abandoned (its handle tombstoned); a single blocked write is taken as a
// dead connection much sooner.
const (
	DefaultCallTimeout  = 10 * time.Second
	DefaultWriteTimeout = 1 * time.Second
)

var (
	// ErrConnLost is returned to every in-flight call when the transport
	// fails. The connection is not reusable afterwards; supervision is
	// external.
	ErrConnLost = errors.New("gbx: connection lost")

	// ErrTimeout is returned to a single call whose deadline expired. The
	// connection stays up; a late response to that handle is discarded.
	ErrTimeout = errors.New("gbx: call timeout")
)

// Callback is one unsolicited message pushed by the game server.
type Callback struct {
	Method string
	Args   Array
}

type callResult struct {
	value Value
	err   error
}

// Client is a concurrency-safe XML-RPC client over a single GBXRemote
// connection. One background reader demultiplexes response frames to their
// waiting callers and callback frames onto the Callbacks channel in on-wire
// order. Callers may Invoke concurrently; writes are serialized.
type Client struct {
	conn net.Conn

	callTimeout  time.Duration
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[uint32]chan callResult
	nextH    uint32
	fatalErr error

	done chan struct{}

	// Callback queue: the reader appends under cbMu and never blocks; a pump
	// goroutine forwards entries to cbOut so the channel is effectively
	// unbounded.
	cbMu    sync.Mutex
	cbCond  *sync.Cond
	cbQueue []Callback
	cbDone  bool
	cbOut   chan Callback
}

// Dial connects to the game server at addr, validates the protocol banner
// and starts the background reader. The returned client is ready for
// Invoke; authentication is the caller's first order of business.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("gbx: dial %s: %w", addr, err)
	}
	return NewClient(conn)
}

// NewClient wraps an established connection. It consumes the handshake
// banner before returning; any deviation is fatal.
func NewClient(conn net.Conn) (*Client, error) {
	if err := readHandshake(conn); err != nil {
		conn.Close()
		return nil, err
	}
	c := &Client{
		conn:         conn,
		callTimeout:  DefaultCallTimeout,
		writeTimeout: DefaultWriteTimeout,
		pending:      make(map[uint32]chan callResult),
		done:         make(chan struct{}),
		cbOut:        make(chan Callback),
	}
	c.cbCond = sync.NewCond(&c.cbMu)
	go c.readLoop()
	go c.pumpCallbacks()
	return c, nil
}

// Callbacks returns the channel carrying server-pushed callbacks in on-wire
// order. It is closed when the connection is lost.
func (c *Client) Callbacks() <-chan Callback {
	return c.cbOut
}

// Err returns the fatal error that tore the connection down, or nil while
// the connection is healthy.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatalErr
}

// Close tears the connection down. In-flight calls fail with ErrConnLost.
func (c *Client) Close() error {
	c.fail(ErrConnLost)
	return nil
}

// SetCallTimeout overrides the default per-call deadline. Intended for tests.
func (c *Client) SetCallTimeout(d time.Duration) {
	c.mu.Lock()
	c.callTimeout = d
	c.mu.Unlock()
}

// fail marks the connection dead exactly once: every waiter is handed err,
// the socket is closed, and the callback channel is drained then closed.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.fatalErr != nil {
		c.mu.Unlock()
		return
	}
	c.fatalErr = err
	waiters := c.pending
	c.pending = make(map[uint32]chan callResult)
	close(c.done)
	c.mu.Unlock()

	c.conn.Close()
	for _, ch := range waiters {
		ch <- callResult{err: ErrConnLost}
	}

	c.cbMu.Lock()
	c.cbDone = true
	c.cbCond.Signal()
	c.cbMu.Unlock()
}

// readLoop consumes framed messages until the transport errors. Response
// frames are routed to their registered waiter; callback frames are queued
// in arrival order. Undecodable payloads are protocol errors and fatal.
func (c *Client) readLoop() {
	for {
		f, err := readFrame(c.conn)
		if err != nil {
			c.fail(fmt.Errorf("%w: %v", ErrConnLost, err))
			return
		}
		if f.isCallback() {
			method, args, err := DecodeCall(f.payload)
			if err != nil {
				c.fail(fmt.Errorf("gbx: undecodable callback: %w", err))
				return
			}
			c.cbMu.Lock()
			c.cbQueue = append(c.cbQueue, Callback{Method: method, Args: args})
			c.cbCond.Signal()
			c.cbMu.Unlock()
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[f.handle]
		delete(c.pending, f.handle)
		c.mu.Unlock()
		if !ok {
			// Tombstoned handle: the caller timed out before the response
			// arrived. Discard, never route.
			log.Printf("[gbx] discarding late response for handle %d", f.handle)
			continue
		}
		v, err := DecodeResponse(f.payload)
		var fault *Fault
		if err != nil && !errors.As(err, &fault) {
			ch <- callResult{err: err}
			c.fail(fmt.Errorf("gbx: undecodable response: %w", err))
			return
		}
		ch <- callResult{value: v, err: err}
	}
}

// pumpCallbacks forwards queued callbacks to the public channel. Keeping the
// queue between the reader and the channel means the reader never blocks on
// a slow consumer.
func (c *Client) pumpCallbacks() {
	for {
		c.cbMu.Lock()
		for len(c.cbQueue) == 0 && !c.cbDone {
			c.cbCond.Wait()
		}
		if len(c.cbQueue) == 0 && c.cbDone {
			c.cbMu.Unlock()
			close(c.cbOut)
			return
		}
		cb := c.cbQueue[0]
		c.cbQueue = c.cbQueue[1:]
		c.cbMu.Unlock()
		c.cbOut <- cb
	}
}

// allocHandle reserves the next 31-bit handle and registers its waiter.
func (c *Client) allocHandle(ch chan callResult) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatalErr != nil {
		return 0, ErrConnLost
	}
	for {
		if c.nextH >= maxHandle {
			c.nextH = 0
		}
		c.nextH++
		if _, taken := c.pending[c.nextH]; !taken {
			break
		}
	}
	c.pending[c.nextH] = ch
	return c.nextH, nil
}

// Invoke calls method on the game server and waits for its response. The
// result is the decoded value; an XML-RPC fault comes back as *Fault, a
// local deadline as ErrTimeout, and a dead connection as ErrConnLost.
// Safe for concurrent use; each caller observes its own response.
func (c *Client) Invoke(ctx context.Context, method string, args ...Value) (Value, error) {
	payload, err := EncodeCall(method, args...)
	if err != nil {
		return nil, err
	}

	ch := make(chan callResult, 1)
	handle, err := c.allocHandle(ch)
	if err != nil {
		return nil, err
	}

	if err := c.write(handle, payload); err != nil {
		c.fail(fmt.Errorf("%w: write: %v", ErrConnLost, err))
		return nil, ErrConnLost
	}

	c.mu.Lock()
	timeout := c.callTimeout
	c.mu.Unlock()
	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case res := <-ch:
		return res.value, res.err
	case <-ctx.Done():
		// Tombstone the handle so a late response is discarded, not routed.
		c.mu.Lock()
		delete(c.pending, handle)
		c.mu.Unlock()
		select {
		case res := <-ch:
			// The response raced the deadline and won.
			return res.value, res.err
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrConnLost
	}
}

// write sends one frame, holding the writer lock so concurrent callers are
// serialized. A blocked write past the write deadline fails the whole
// connection (the caller handles that).
func (c *Client) write(handle uint32, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return writeFrame(c.conn, handle, payload)
}

// Heartbeat invokes a cheap method at every interval until ctx is cancelled
// or the connection dies. A fault is tolerated (the server answered); a
// timeout or transport error fails the connection.
func (c *Client) Heartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			var fault *Fault
			if _, err := c.Invoke(ctx, "GetVersion"); err != nil && !errors.As(err, &fault) {
				c.fail(fmt.Errorf("gbx: heartbeat: %w", err))
				return
			}
		}
	}
}
