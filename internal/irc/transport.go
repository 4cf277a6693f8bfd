package irc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketSubprotocol is the IRCv3 subprotocol for plain text IRC lines
const WebSocketSubprotocol = "text.ircv3.net"

// Transport is the byte stream a Conn talks over
type Transport interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// Dialer opens a Transport to addr (host:port)
type Dialer interface {
	Dial(ctx context.Context, addr string) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface
type DialerFunc func(ctx context.Context, addr string) (Transport, error)

// Dial calls f(ctx, addr)
func (f DialerFunc) Dial(ctx context.Context, addr string) (Transport, error) {
	return f(ctx, addr)
}

// TCPDialer dials plain TCP connections
type TCPDialer struct {
	Timeout time.Duration
}

// Dial opens a TCP connection to addr
func (d TCPDialer) Dial(ctx context.Context, addr string) (Transport, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// WebSocketDialer dials IRC over WebSocket (ws://addr/Path).
// Each outbound line is sent as one text frame; inbound frames are
// newline-terminated so they can be split like a TCP stream.
type WebSocketDialer struct {
	Path             string
	HandshakeTimeout time.Duration
}

// Dial opens a WebSocket connection to addr
func (d WebSocketDialer) Dial(ctx context.Context, addr string) (Transport, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: d.Path}

	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		Subprotocols:     []string{WebSocketSubprotocol},
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", u.String(), err)
	}
	return newWSTransport(ws), nil
}

// wsTransport exposes a websocket connection as a line stream.
// A single goroutine reads frames; read deadlines are enforced on the
// consumer side so a timeout leaves the websocket usable.
type wsTransport struct {
	conn      *websocket.Conn
	frames    chan wsFrame
	closed    chan struct{}
	closeOnce sync.Once

	pending bytes.Buffer
	readErr error

	deadlineMu sync.Mutex
	deadline   time.Time

	mu sync.Mutex // serializes writers
}

type wsFrame struct {
	data []byte
	err  error
}

// wsTimeoutError is returned by Read when the read deadline passes
type wsTimeoutError struct{}

func (wsTimeoutError) Error() string   { return "websocket: read timeout" }
func (wsTimeoutError) Timeout() bool   { return true }
func (wsTimeoutError) Temporary() bool { return true }

func newWSTransport(conn *websocket.Conn) *wsTransport {
	t := &wsTransport{
		conn:   conn,
		frames: make(chan wsFrame),
		closed: make(chan struct{}),
	}
	go t.readFrames()
	return t
}

// readFrames owns the websocket read side and stops at the first error
func (t *wsTransport) readFrames() {
	for {
		_, data, err := t.conn.ReadMessage()
		select {
		case t.frames <- wsFrame{data: data, err: err}:
		case <-t.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

// next waits for a frame until the read deadline, if one is set
func (t *wsTransport) next() (wsFrame, error) {
	t.deadlineMu.Lock()
	deadline := t.deadline
	t.deadlineMu.Unlock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case f := <-t.frames:
		return f, nil
	case <-t.closed:
		return wsFrame{}, net.ErrClosed
	case <-expired:
		// A frame that raced the timer still wins.
		select {
		case f := <-t.frames:
			return f, nil
		default:
			return wsFrame{}, wsTimeoutError{}
		}
	}
}

func (t *wsTransport) Read(p []byte) (int, error) {
	for t.pending.Len() == 0 {
		if t.readErr != nil {
			return 0, t.readErr
		}
		f, err := t.next()
		if err != nil {
			if isTimeout(err) {
				return 0, err
			}
			t.readErr = err
			return 0, err
		}
		if f.err != nil {
			t.readErr = f.err
			if websocket.IsCloseError(f.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.readErr = io.EOF
			}
			return 0, t.readErr
		}
		t.pending.Write(f.data)
		if !bytes.HasSuffix(f.data, []byte("\n")) {
			t.pending.WriteByte('\n')
		}
	}
	return t.pending.Read(p)
}

func (t *wsTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := bytes.TrimRight(p, "\r\n")
	if err := t.conn.WriteMessage(websocket.TextMessage, line); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *wsTransport) SetReadDeadline(deadline time.Time) error {
	t.deadlineMu.Lock()
	t.deadline = deadline
	t.deadlineMu.Unlock()
	return nil
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })

	t.mu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	t.mu.Unlock()
	return t.conn.Close()
}
