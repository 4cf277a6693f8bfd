package irc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

var (
	// ErrNotConnected is returned when writing before Connect succeeded
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned when writing after the connection closed
	ErrClosed = errors.New("connection closed")
)

const (
	defaultPort        = 6667
	defaultTimeout     = time.Hour
	defaultDialTimeout = 30 * time.Second
	quitWait           = 2 * time.Second
)

// Sender writes directives to the server
type Sender interface {
	Write(command string) error
}

// CommandHandler receives channel messages that start with the command prefix
type CommandHandler interface {
	HandleCommand(w Sender, message string) error
}

// CommandHandlerFunc adapts a function to the CommandHandler interface
type CommandHandlerFunc func(w Sender, message string) error

// HandleCommand calls f(w, message)
func (f CommandHandlerFunc) HandleCommand(w Sender, message string) error {
	return f(w, message)
}

// Config holds IRC connection configuration
type Config struct {
	Host     string
	Port     int
	Nick     string
	RealName string
	Prefix   rune   // character that marks a bot command
	Channel  string // without the leading '#'
	Timeout  time.Duration
	Encoding encoding.Encoding
	Dialer   Dialer
	Logger   *log.Logger
}

// NewConfig creates a new IRC configuration with defaults
func NewConfig(nick, channel string) *Config {
	return &Config{
		Port:     defaultPort,
		Nick:     nick,
		RealName: nick,
		Prefix:   '!',
		Channel:  channel,
		Timeout:  defaultTimeout,
		Encoding: unicode.UTF8,
	}
}

// Conn represents an IRC connection
type Conn struct {
	cfg      Config
	id       string
	commands CommandHandler
	log      *log.Logger

	mu        sync.RWMutex
	state     State
	transport Transport
	handlers  map[EventKind][]func(*Conn, *Event)

	writeMu sync.Mutex
	encoder *encoding.Encoder
	done    chan struct{}
}

// Client creates a new IRC connection from config. Channel messages starting
// with cfg.Prefix are handed to commands, which may be nil.
func Client(cfg *Config, commands CommandHandler) *Conn {
	c := &Conn{
		cfg:      *cfg,
		id:       uuid.New().String(),
		commands: commands,
		handlers: make(map[EventKind][]func(*Conn, *Event)),
		done:     make(chan struct{}),
	}

	if c.cfg.Encoding == nil {
		c.cfg.Encoding = unicode.UTF8
	}
	if c.cfg.Dialer == nil {
		c.cfg.Dialer = TCPDialer{Timeout: defaultDialTimeout}
	}
	logger := c.cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	c.log = logger.WithPrefix("irc").With("session", c.id)
	c.encoder = encoding.ReplaceUnsupported(c.cfg.Encoding.NewEncoder())

	return c
}

// ID returns the session identifier used in logs
func (c *Conn) ID() string {
	return c.id
}

// Channel returns the configured channel name, without '#'
func (c *Conn) Channel() string {
	return c.cfg.Channel
}

// Addr returns host:port of the server
func (c *Conn) Addr() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// State returns the current lifecycle state
func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Done is closed once the connection goroutine has exited
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// HandleFunc registers an observer for an event kind, or for every kind
// with EventAll. Observers run on the goroutine raising the event.
func (c *Conn) HandleFunc(kind EventKind, handler func(*Conn, *Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = append(c.handlers[kind], handler)
}

// Connect dials the server and starts the connection goroutine, which
// registers, joins the channel and then handles incoming lines.
// Calling Connect again on the same Conn does nothing.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.transport != nil || c.state != Disconnected {
		state := c.state
		c.mu.Unlock()
		c.log.Warn("Already connected", "state", state)
		return nil
	}
	c.state = Connecting
	c.mu.Unlock()
	c.emit(&Event{Kind: EventState, State: Connecting})

	addr := c.Addr()
	c.log.Info("Connecting", "addr", addr)

	t, err := c.cfg.Dialer.Dial(ctx, addr)
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		c.emit(&Event{Kind: EventState, State: Disconnected})
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()

	go c.run(t)

	return nil
}

// run owns the transport's read side. Every inbound handler runs here, so
// handlers never run concurrently for one connection.
func (c *Conn) run(t Transport) {
	defer close(c.done)

	c.onConnect()

	r := newLineReader(t, c.cfg.Encoding)
	for {
		if c.cfg.Timeout > 0 {
			if err := t.SetReadDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
				c.log.Debug("Failed to set read deadline", "error", err)
			}
		}

		line, err := r.ReadLine()
		if err != nil {
			if isTimeout(err) {
				c.onTimeout()
				continue
			}
			if errors.Is(err, io.EOF) {
				c.onEOF()
				err = nil
			}
			c.onClose(err)
			return
		}

		if line == "" {
			continue
		}
		c.action(line)
	}
}

func (c *Conn) onConnect() {
	c.log.Info("Connected", "addr", c.Addr())
	c.emit(&Event{Kind: EventConnect})

	if !c.advance(Registering) {
		return
	}
	c.identify()
	if err := c.Join(c.cfg.Channel); err != nil {
		c.log.Error("Failed to join", "channel", c.cfg.Channel, "error", err)
	}
	c.advance(Joined)
}

func (c *Conn) onTimeout() {
	c.log.Warn("Connection timeout", "idle", c.cfg.Timeout)
	c.emit(&Event{Kind: EventTimeout})
}

func (c *Conn) onEOF() {
	c.log.Info("EOF")
	c.emit(&Event{Kind: EventEOF})
}

func (c *Conn) onClose(err error) {
	c.mu.Lock()
	quitting := c.state == Closed
	c.state = Closed
	t := c.transport
	c.mu.Unlock()

	if quitting {
		// Quit closed the transport; the read error is expected.
		err = nil
	} else {
		t.Close()
		c.emit(&Event{Kind: EventState, State: Closed})
	}

	if err != nil {
		c.log.Error("Connection closed", "error", err)
	} else {
		c.log.Info("Connection closed")
	}
	c.emit(&Event{Kind: EventClose, Err: err})
}

// action decodes a line and reacts to it
func (c *Conn) action(line string) {
	msg := Parse(line)
	c.emit(&Event{Kind: EventData, Line: line, Message: msg})

	switch msg.Command {
	case PRIVMSG:
		if !c.isCommand(msg.Text) || c.commands == nil {
			return
		}
		if err := c.commands.HandleCommand(c, msg.Text); err != nil {
			c.log.Error("Command failed", "message", msg.Text, "error", err)
		}
	case PING:
		if err := c.Write(PONG + " " + msg.Sender); err != nil {
			c.log.Error("Failed to send PONG", "error", err)
		}
	}
}

func (c *Conn) isCommand(text string) bool {
	if text == "" {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text)
	return r == c.cfg.Prefix
}

// identify sends the registration handshake
func (c *Conn) identify() {
	if err := c.Write(fmt.Sprintf("%s _%s", NICK, c.cfg.Nick)); err != nil {
		c.log.Error("Failed to send NICK", "error", err)
	}
	if err := c.Write(fmt.Sprintf("%s %s 0 * :%s", USER, c.cfg.Nick, c.cfg.RealName)); err != nil {
		c.log.Error("Failed to send USER", "error", err)
	}
}

// advance moves to state s unless the connection is already closed
func (c *Conn) advance(s State) bool {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return false
	}
	c.state = s
	c.mu.Unlock()

	c.log.Debug("State changed", "state", s)
	c.emit(&Event{Kind: EventState, State: s})
	return true
}

// emit calls the observers registered for ev.Kind and for EventAll
func (c *Conn) emit(ev *Event) {
	ev.Time = time.Now()

	c.mu.RLock()
	handlers := append([]func(*Conn, *Event){}, c.handlers[ev.Kind]...)
	handlers = append(handlers, c.handlers[EventAll]...)
	c.mu.RUnlock()

	for _, handler := range handlers {
		handler(c, ev)
	}
}

// Write sends a directive terminated by CRLF in the configured encoding
func (c *Conn) Write(command string) error {
	c.mu.RLock()
	t, state := c.transport, c.state
	c.mu.RUnlock()

	if t == nil {
		return ErrNotConnected
	}
	if state == Closed {
		return ErrClosed
	}

	c.writeMu.Lock()
	data, err := c.encoder.String(command + "\r\n")
	if err == nil {
		_, err = io.WriteString(t, data)
	}
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write %q: %w", command, err)
	}

	c.log.Debug("Sent", "line", command)
	c.emit(&Event{Kind: EventSend, Line: command})
	return nil
}

// Raw sends a raw IRC line
func (c *Conn) Raw(line string) error {
	return c.Write(line)
}

// Join joins an IRC channel, given without the leading '#'
func (c *Conn) Join(channel string) error {
	return c.Write(fmt.Sprintf("%s #%s", JOIN, channel))
}

// Privmsg sends text to the configured channel
func (c *Conn) Privmsg(text string) error {
	return c.Write(fmt.Sprintf("%s #%s %s", PRIVMSG, c.cfg.Channel, text))
}

// Quit sends QUIT, closes the transport and waits briefly for the
// connection goroutine to finish
func (c *Conn) Quit(reason string) {
	c.mu.RLock()
	t, state := c.transport, c.state
	c.mu.RUnlock()

	if t == nil || state == Closed {
		return
	}

	cmd := QUIT
	if reason != "" {
		cmd = fmt.Sprintf("%s :%s", QUIT, reason)
	}
	if err := c.Write(cmd); err != nil {
		c.log.Debug("Failed to send QUIT", "error", err)
	}

	c.mu.Lock()
	c.state = Closed
	c.mu.Unlock()
	c.emit(&Event{Kind: EventState, State: Closed})

	t.Close()

	select {
	case <-c.done:
	case <-time.After(quitWait):
	}
}
