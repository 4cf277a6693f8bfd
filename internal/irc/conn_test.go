package irc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWait = 2 * time.Second

// testServer is the server end of a net.Pipe handed to a Conn
type testServer struct {
	conn net.Conn
	r    *bufio.Reader
}

func (s *testServer) readLine(t *testing.T) string {
	t.Helper()
	require.NoError(t, s.conn.SetReadDeadline(time.Now().Add(testWait)))
	line, err := s.r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func (s *testServer) send(t *testing.T, data string) {
	t.Helper()
	require.NoError(t, s.conn.SetWriteDeadline(time.Now().Add(testWait)))
	_, err := io.WriteString(s.conn, data)
	require.NoError(t, err)
}

// skipHandshake consumes NICK, USER and JOIN
func (s *testServer) skipHandshake(t *testing.T) {
	t.Helper()
	for i := 0; i < 3; i++ {
		s.readLine(t)
	}
}

func testConfig() *Config {
	cfg := NewConfig("bot", "demo")
	cfg.Host = "irc.test"
	cfg.RealName = "Test Bot"
	cfg.Logger = log.New(io.Discard)
	return cfg
}

// connectPipe connects a Conn over net.Pipe. setup runs before Connect.
func connectPipe(t *testing.T, cfg *Config, commands CommandHandler, setup func(*Conn)) (*Conn, *testServer) {
	t.Helper()

	clientSide, serverSide := net.Pipe()
	cfg.Dialer = DialerFunc(func(ctx context.Context, addr string) (Transport, error) {
		return clientSide, nil
	})

	c := Client(cfg, commands)
	if setup != nil {
		setup(c)
	}
	require.NoError(t, c.Connect(context.Background()))

	t.Cleanup(func() {
		serverSide.Close()
		select {
		case <-c.Done():
		case <-time.After(testWait):
			t.Error("connection goroutine did not exit")
		}
	})

	return c, &testServer{conn: serverSide, r: bufio.NewReader(serverSide)}
}

func TestRegistrationOrder(t *testing.T) {
	c, srv := connectPipe(t, testConfig(), nil, nil)

	assert.Equal(t, "NICK _bot\r\n", srv.readLine(t))
	assert.Equal(t, "USER bot 0 * :Test Bot\r\n", srv.readLine(t))
	assert.Equal(t, "JOIN #demo\r\n", srv.readLine(t))

	assert.Eventually(t, func() bool { return c.State() == Joined }, testWait, 10*time.Millisecond)
}

func TestStateTransitions(t *testing.T) {
	var mu sync.Mutex
	var states []State

	_, srv := connectPipe(t, testConfig(), nil, func(c *Conn) {
		c.HandleFunc(EventState, func(_ *Conn, ev *Event) {
			mu.Lock()
			states = append(states, ev.State)
			mu.Unlock()
		})
	})
	srv.skipHandshake(t)
	srv.conn.Close()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 4
	}, testWait, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Connecting, Registering, Joined, Closed}, states)
}

func TestPingPong(t *testing.T) {
	_, srv := connectPipe(t, testConfig(), nil, nil)
	srv.skipHandshake(t)

	srv.send(t, "PING :host123\r\n")
	assert.Equal(t, "PONG host123\r\n", srv.readLine(t))
}

func TestCommandIsDelegated(t *testing.T) {
	got := make(chan string, 1)
	handler := CommandHandlerFunc(func(w Sender, message string) error {
		got <- message
		return w.Write("PRIVMSG #demo 12:00")
	})

	_, srv := connectPipe(t, testConfig(), handler, nil)
	srv.skipHandshake(t)

	srv.send(t, ":u!u@host PRIVMSG #demo :!time now\r\n")
	assert.Equal(t, "PRIVMSG #demo 12:00\r\n", srv.readLine(t))
	assert.Equal(t, "!time now", <-got)
}

func TestChatterIsIgnored(t *testing.T) {
	var calls atomic.Int32
	handler := CommandHandlerFunc(func(w Sender, message string) error {
		calls.Add(1)
		return nil
	})

	_, srv := connectPipe(t, testConfig(), handler, nil)
	srv.skipHandshake(t)

	srv.send(t, ":u PRIVMSG #demo :hello there\r\n")
	srv.send(t, ":u NOTICE #demo :!time\r\n")
	srv.send(t, "PING :marker\r\n")

	// Nothing may be written before the PONG.
	assert.Equal(t, "PONG marker\r\n", srv.readLine(t))
	assert.Zero(t, calls.Load())
}

func TestLineSplitAcrossReads(t *testing.T) {
	_, srv := connectPipe(t, testConfig(), nil, nil)
	srv.skipHandshake(t)

	srv.send(t, "PI")
	srv.send(t, "NG :spl")
	srv.send(t, "it\r\nPING :second\r\n")

	assert.Equal(t, "PONG split\r\n", srv.readLine(t))
	assert.Equal(t, "PONG second\r\n", srv.readLine(t))
}

func TestTimeoutKeepsConnection(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 30 * time.Millisecond

	timeouts := make(chan struct{}, 16)
	c, srv := connectPipe(t, cfg, nil, func(c *Conn) {
		c.HandleFunc(EventTimeout, func(*Conn, *Event) {
			select {
			case timeouts <- struct{}{}:
			default:
			}
		})
	})
	srv.skipHandshake(t)

	// Half a line, then silence long enough for the idle timeout.
	srv.send(t, "PING :la")
	for len(timeouts) > 0 {
		<-timeouts
	}
	select {
	case <-timeouts:
	case <-time.After(testWait):
		t.Fatal("timeout event not raised")
	}

	srv.send(t, "te\r\n")
	assert.Equal(t, "PONG late\r\n", srv.readLine(t))
	assert.Equal(t, Joined, c.State())
}

func TestEndOfStreamCloses(t *testing.T) {
	events := make(chan EventKind, 8)
	c, srv := connectPipe(t, testConfig(), nil, func(c *Conn) {
		c.HandleFunc(EventAll, func(_ *Conn, ev *Event) {
			if ev.Kind == EventEOF || ev.Kind == EventClose {
				events <- ev.Kind
			}
		})
	})
	srv.skipHandshake(t)
	srv.conn.Close()

	select {
	case <-c.Done():
	case <-time.After(testWait):
		t.Fatal("connection did not close")
	}

	assert.Equal(t, EventEOF, <-events)
	assert.Equal(t, EventClose, <-events)
	assert.Equal(t, Closed, c.State())
	assert.ErrorIs(t, c.Write("PRIVMSG #demo hi"), ErrClosed)
}

func TestDoubleConnect(t *testing.T) {
	var dials atomic.Int32
	clientSide, serverSide := net.Pipe()
	defer serverSide.Close()
	go io.Copy(io.Discard, serverSide)

	cfg := testConfig()
	cfg.Dialer = DialerFunc(func(ctx context.Context, addr string) (Transport, error) {
		dials.Add(1)
		return clientSide, nil
	})

	c := Client(cfg, nil)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))

	assert.Equal(t, int32(1), dials.Load())

	serverSide.Close()
	<-c.Done()
}

func TestConnectFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Dialer = DialerFunc(func(ctx context.Context, addr string) (Transport, error) {
		assert.Equal(t, "irc.test:6667", addr)
		return nil, errors.New("refused")
	})

	c := Client(cfg, nil)
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
	assert.Equal(t, Disconnected, c.State())
}

func TestWriteBeforeConnect(t *testing.T) {
	c := Client(testConfig(), nil)
	assert.ErrorIs(t, c.Write("PRIVMSG #demo hi"), ErrNotConnected)
}

func TestQuit(t *testing.T) {
	closes := make(chan error, 1)
	c, srv := connectPipe(t, testConfig(), nil, func(c *Conn) {
		c.HandleFunc(EventClose, func(_ *Conn, ev *Event) {
			closes <- ev.Err
		})
	})
	srv.skipHandshake(t)

	lines := make(chan string, 1)
	go func() {
		line, _ := srv.r.ReadString('\n')
		lines <- line
		io.Copy(io.Discard, srv.r)
	}()

	c.Quit("bye")

	assert.Equal(t, "QUIT :bye\r\n", <-lines)
	assert.Equal(t, Closed, c.State())
	assert.NoError(t, <-closes)
	assert.ErrorIs(t, c.Write("PING :x"), ErrClosed)

	c.Quit("again")
}

func TestSendEvents(t *testing.T) {
	var mu sync.Mutex
	var sent []string

	c, srv := connectPipe(t, testConfig(), nil, func(c *Conn) {
		c.HandleFunc(EventSend, func(_ *Conn, ev *Event) {
			mu.Lock()
			sent = append(sent, ev.Line)
			mu.Unlock()
		})
	})
	srv.skipHandshake(t)
	require.Eventually(t, func() bool { return c.State() == Joined }, testWait, 10*time.Millisecond)

	go srv.r.ReadString('\n')
	require.NoError(t, c.Privmsg("hello world"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"NICK _bot", "USER bot 0 * :Test Bot", "JOIN #demo", "PRIVMSG #demo hello world"}, sent)
}

// bufferTransport records writes; reads block until closed
type bufferTransport struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed chan struct{}
}

func newBufferTransport() *bufferTransport {
	return &bufferTransport{closed: make(chan struct{})}
}

func (b *bufferTransport) Read(p []byte) (int, error) {
	<-b.closed
	return 0, io.EOF
}

func (b *bufferTransport) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *bufferTransport) Close() error {
	close(b.closed)
	return nil
}

func (b *bufferTransport) SetReadDeadline(time.Time) error { return nil }

func (b *bufferTransport) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAction(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		want     string
		commands int
	}{
		{name: "ping", line: "PING :host123", want: "PONG host123\r\n"},
		{name: "prefixed privmsg", line: ":u PRIVMSG #demo :!time", commands: 1},
		{name: "plain privmsg", line: ":u PRIVMSG #demo :time"},
		{name: "empty privmsg", line: ":u PRIVMSG #demo"},
		{name: "numeric", line: ":irc.test 001 bot :Welcome"},
		{name: "garbage", line: "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			c := Client(testConfig(), CommandHandlerFunc(func(w Sender, message string) error {
				calls++
				return nil
			}))
			tr := newBufferTransport()
			c.transport = tr

			c.action(tt.line)

			assert.Equal(t, tt.want, tr.String())
			assert.Equal(t, tt.commands, calls)
		})
	}
}

func TestCustomPrefix(t *testing.T) {
	got := ""
	cfg := testConfig()
	cfg.Prefix = '.'
	c := Client(cfg, CommandHandlerFunc(func(w Sender, message string) error {
		got = message
		return nil
	}))
	c.transport = newBufferTransport()

	c.action(":u PRIVMSG #demo :!time")
	assert.Empty(t, got)

	c.action(":u PRIVMSG #demo :.time")
	assert.Equal(t, ".time", got)
}

// syncBuffer is a bytes.Buffer safe for the connection goroutine's logger
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// noDeadlineTransport cannot set read deadlines
type noDeadlineTransport struct {
	*bufferTransport
}

func (noDeadlineTransport) SetReadDeadline(time.Time) error {
	return errors.New("deadlines not supported")
}

func TestReadDeadlineErrorIsLogged(t *testing.T) {
	var logs syncBuffer
	tr := noDeadlineTransport{newBufferTransport()}

	cfg := testConfig()
	cfg.Logger = log.NewWithOptions(&logs, log.Options{Level: log.DebugLevel})
	cfg.Dialer = DialerFunc(func(ctx context.Context, addr string) (Transport, error) {
		return tr, nil
	})

	c := Client(cfg, nil)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Quit("")

	assert.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "Failed to set read deadline")
	}, testWait, 10*time.Millisecond)
	assert.Contains(t, logs.String(), "deadlines not supported")
	assert.Equal(t, Joined, c.State())
}
