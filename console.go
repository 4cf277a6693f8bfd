package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/eznix86/ircbot/internal/irc"
)

var (
	accent = lipgloss.Color("#5EEAD4") // teal
	muted  = lipgloss.Color("#9CA3AF")

	borderColor = lipgloss.Color("#374151") // gray separators
	chatBorder  = 2                         // 1 left + 1 right

	chatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor)

	channelStyle = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true)

	msgTs   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FDE68A"))
	msgUser = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#60A5FA"))
	botUser = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#34D399"))
	msgBody = lipgloss.NewStyle()

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Foreground(lipgloss.Color("#D1D5DB"))

	statusKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB")).
			Bold(true)

	statusTimeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	debugStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	stateStyles = map[irc.State]lipgloss.Style{
		irc.Disconnected: lipgloss.NewStyle().Foreground(muted),
		irc.Connecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("#EAB308")),
		irc.Registering:  lipgloss.NewStyle().Foreground(lipgloss.Color("#EAB308")),
		irc.Joined:       lipgloss.NewStyle().Foreground(lipgloss.Color("#34D399")).Bold(true),
		irc.Closed:       errorStyle,
	}
)

const maxMessages = 500

// CommandHandler processes console commands
type CommandHandler func(m *model, args []string) error

// ─────────────────────────── FEED ───────────────────────────

// consoleMsg is one entry for the console, built from a connection event
// or a log record
type consoleMsg struct {
	Type      string
	Timestamp string
	Nick      string
	Text      string
	State     irc.State
}

// feed carries connection events and log records to the console
type feed struct {
	ch chan consoleMsg
}

func newFeed() *feed {
	return &feed{ch: make(chan consoleMsg, 256)}
}

// push never blocks the connection goroutine; entries are dropped when
// the console falls behind
func (f *feed) push(msg consoleMsg) {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().Format("15:04")
	}
	select {
	case f.ch <- msg:
	default:
	}
}

// Write makes the feed usable as a log destination
func (f *feed) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte("\n")) {
		if len(line) > 0 {
			f.push(consoleMsg{Type: "LOG", Text: string(line)})
		}
	}
	return len(p), nil
}

// observe converts connection events into console entries
func (f *feed) observe(c *irc.Conn, ev *irc.Event) {
	msg := consoleMsg{Timestamp: ev.Time.Format("15:04")}

	switch ev.Kind {
	case irc.EventConnect:
		msg.Type, msg.Text = "SYSTEM", fmt.Sprintf("Connected to %s", c.Addr())
	case irc.EventData:
		if ev.Message.Command == irc.PRIVMSG {
			msg.Type, msg.Nick, msg.Text = "PRIVMSG", senderNick(ev.Line), ev.Message.Text
		} else {
			msg.Type, msg.Text = "RECV", ev.Line
		}
	case irc.EventSend:
		msg.Type, msg.Text = "SEND", ev.Line
	case irc.EventTimeout:
		msg.Type, msg.Text = "ERROR", "Connection idle, still waiting for the server"
	case irc.EventEOF:
		msg.Type, msg.Text = "SYSTEM", "Server ended the stream"
	case irc.EventClose:
		text := "Disconnected from server"
		if ev.Err != nil {
			text = fmt.Sprintf("%s: %v", text, ev.Err)
		}
		msg.Type, msg.Text = "ERROR", text
	case irc.EventState:
		msg.Type, msg.State = "STATE", ev.State
	default:
		return
	}

	f.push(msg)
}

// senderNick extracts nick from ":nick!user@host ..."
func senderNick(line string) string {
	if !strings.HasPrefix(line, ":") {
		return ""
	}
	src, _, _ := strings.Cut(line[1:], " ")
	nick, _, _ := strings.Cut(src, "!")
	return nick
}

// ─────────────────────────── MODEL ───────────────────────────

type model struct {
	width, height int

	chat  viewport.Model
	input textinput.Model

	messages    []string
	currentTime time.Time
	showHelp    bool

	inputHistory []string // Command history
	historyIndex int      // Current position in history (-1 = not browsing)
	historyTemp  string   // Temporary storage for current input when browsing history

	irc      *irc.Conn
	feed     *feed
	nick     string
	state    irc.State
	commands []string // names the bot answers to

	quitReason string

	commandHandlers map[string]CommandHandler
}

type tickMsg time.Time

func initialModel(conn *irc.Conn, f *feed, nick string, commands []string) model {
	inp := textinput.New()
	inp.Placeholder = "Say something in #" + conn.Channel() + "..."
	inp.Prompt = "> "
	inp.Width = 100
	inp.Focus()

	m := model{
		chat:            viewport.New(80, 20),
		input:           inp,
		messages:        []string{},
		currentTime:     time.Now(),
		historyIndex:    -1,
		irc:             conn,
		feed:            f,
		nick:            nick,
		state:           conn.State(),
		commands:        commands,
		commandHandlers: make(map[string]CommandHandler),
	}
	m.setupCommandHandlers()

	return m
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForFeed(f *feed) tea.Cmd {
	return func() tea.Msg {
		return <-f.ch
	}
}

func connectIRC(conn *irc.Conn) tea.Cmd {
	return func() tea.Msg {
		if err := conn.Connect(context.Background()); err != nil {
			return consoleMsg{
				Type:      "ERROR",
				Timestamp: time.Now().Format("15:04"),
				Text:      err.Error(),
			}
		}
		return nil
	}
}

// quitIRC sends QUIT and waits for the connection outside Update, then
// ends the program
func quitIRC(conn *irc.Conn, reason string) tea.Cmd {
	return func() tea.Msg {
		if conn != nil {
			conn.Quit(reason)
		}
		return tea.Quit()
	}
}

// ─────────────────────────── HELPERS ───────────────────────────

func (m *model) fmtMsg(ts, user, body string) string {
	uStyle := msgUser
	if user == m.nick || user == "_"+m.nick {
		uStyle = botUser
	}
	return msgTs.Render(ts) + " " +
		channelStyle.Render("#"+m.irc.Channel()) + " " +
		uStyle.Render(user) + " " +
		msgBody.Render(body)
}

func (m *model) fmtSys(ts, body string) string {
	return msgTs.Render(ts) + " " + lipgloss.NewStyle().Foreground(muted).Render("* "+body)
}

func (m *model) fmtErr(ts, body string) string {
	return msgTs.Render(ts) + " " + errorStyle.Render("! "+body)
}

func (m *model) fmtDebug(ts, body string) string {
	return msgTs.Render(ts) + " " + debugStyle.Render(body)
}

func (m *model) addMessage(msg string) {
	m.messages = append(m.messages, msg)
	// Keep last messages to prevent memory leak
	if len(m.messages) > maxMessages {
		m.messages = m.messages[len(m.messages)-maxMessages:]
	}
	m.chat.SetContent(strings.Join(m.messages, "\n"))
	m.chat.GotoBottom()
}

func (m *model) handleFeed(msg consoleMsg) {
	ts := msg.Timestamp
	switch msg.Type {
	case "PRIVMSG":
		m.addMessage(m.fmtMsg(ts, msg.Nick, msg.Text))
	case "RECV":
		m.addMessage(m.fmtDebug(ts, "« "+msg.Text))
	case "SEND":
		m.addMessage(m.fmtDebug(ts, "» "+msg.Text))
	case "SYSTEM":
		m.addMessage(m.fmtSys(ts, msg.Text))
	case "ERROR":
		m.addMessage(m.fmtErr(ts, msg.Text))
	case "LOG":
		m.addMessage(m.fmtDebug(ts, msg.Text))
	case "STATE":
		m.state = msg.State
	}
}

func (m *model) handleCommand(input string) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	if handler, ok := m.commandHandlers[cmd]; ok {
		if err := handler(m, args); err != nil {
			ts := time.Now().Format("15:04")
			m.addMessage(m.fmtErr(ts, err.Error()))
		}
	} else {
		ts := time.Now().Format("15:04")
		m.addMessage(m.fmtErr(ts, fmt.Sprintf("Unknown command: %s", cmd)))
	}
}

// submit handles one line typed into the input box
func (m *model) submit(value string) tea.Cmd {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	m.inputHistory = append(m.inputHistory, value)
	m.historyIndex = -1
	m.historyTemp = ""

	if !strings.HasPrefix(value, "/") {
		value = "/say " + value
	}
	m.handleCommand(value)

	if strings.ToLower(strings.Fields(value)[0]) == "/quit" {
		return quitIRC(m.irc, m.quitReason)
	}
	return nil
}

func (m *model) handleWindowResize(msg tea.WindowSizeMsg) {
	m.width, m.height = msg.Width, msg.Height

	// Account for input box (1 line + 2 borders = 3 rows) + status bar (1 row)
	inputBoxHeight := 3
	statusBarHeight := 1
	availableHeight := m.height - inputBoxHeight - statusBarHeight

	m.chat.Width = max(20, m.width) - chatBorder
	m.chat.Height = max(1, availableHeight-chatBorder)

	// Set input width (account for borders and prompt)
	m.input.Width = m.width - 6
}

func (m *model) browseHistory(step int) {
	if len(m.inputHistory) == 0 {
		return
	}
	if m.historyIndex == -1 {
		if step > 0 {
			return
		}
		m.historyTemp = m.input.Value()
		m.historyIndex = len(m.inputHistory)
	}

	m.historyIndex += step
	switch {
	case m.historyIndex < 0:
		m.historyIndex = 0
	case m.historyIndex >= len(m.inputHistory):
		m.historyIndex = -1
		m.input.SetValue(m.historyTemp)
		return
	}
	m.input.SetValue(m.inputHistory[m.historyIndex])
	m.input.CursorEnd()
}

func (m *model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "f1":
		m.showHelp = !m.showHelp
		return nil
	case "ctrl+c":
		return quitIRC(m.irc, "Goodbye!")
	case "enter":
		value := m.input.Value()
		m.input.SetValue("")
		if cmd := m.submit(value); cmd != nil {
			return cmd
		}
		return func() tea.Msg { return nil }
	case "up":
		m.browseHistory(-1)
		return func() tea.Msg { return nil }
	case "down":
		m.browseHistory(1)
		return func() tea.Msg { return nil }
	case "pgup":
		m.chat.ViewUp()
		return func() tea.Msg { return nil }
	case "pgdown":
		m.chat.ViewDown()
		return func() tea.Msg { return nil }
	}
	return nil
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), connectIRC(m.irc), waitForFeed(m.feed))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.handleWindowResize(msg)
		return m, nil

	case tickMsg:
		m.currentTime = time.Time(msg)
		return m, tickCmd()

	case consoleMsg:
		m.handleFeed(msg)
		return m, waitForFeed(m.feed)

	case tea.MouseMsg:
		if msg.Action == tea.MouseActionPress {
			switch msg.Button {
			case tea.MouseButtonWheelUp:
				m.chat.LineUp(3)
			case tea.MouseButtonWheelDown:
				m.chat.LineDown(3)
			}
		}
		return m, nil

	case tea.KeyMsg:
		if cmd := m.handleKey(msg); cmd != nil {
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) renderHelp() string {
	helpTitle := lipgloss.NewStyle().
		Foreground(accent).
		Bold(true)

	helpKey := lipgloss.NewStyle().
		Foreground(accent).
		Bold(true)

	helpContent := helpTitle.Render("IRC Bot Console") + "\n\n" +
		helpKey.Render("Navigation:") + "\n" +
		"  ↑/↓           Browse input history\n" +
		"  PgUp/PgDn     Scroll by page\n" +
		"  Mouse wheel   Scroll\n\n" +
		helpKey.Render("Commands:") + "\n" +
		"  <text>                Say text in the channel\n" +
		"  /say <text>           Same as above\n" +
		"  /raw <line>           Send a raw IRC line\n" +
		"  /commands             List bot commands\n" +
		"  /quit [reason]        Disconnect\n\n" +
		helpKey.Render("Other:") + "\n" +
		"  F1            Toggle this help\n" +
		"  Ctrl+C        Quit application\n"

	helpBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	return helpBox.Render(helpContent)
}

func (m model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	if m.showHelp {
		return m.renderHelp()
	}

	chatBox := chatBoxStyle.
		Width(m.chat.Width).
		Height(m.chat.Height).
		Render(m.chat.View())
	inputBox := inputBoxStyle.Width(m.width - 2).Render(m.input.View())

	return lipgloss.JoinVertical(lipgloss.Left, chatBox, inputBox, m.renderStatusBar())
}

func (m model) renderStatusBar() string {
	state := stateStyles[m.state].Render(m.state.String())
	helpText := state + " • " +
		channelStyle.Render("#"+m.irc.Channel()) + " • " +
		debugStyle.Render(m.irc.ID()[:8]) + " • " +
		statusKeyStyle.Render("Enter") + " send • " +
		statusKeyStyle.Render("F1") + " help"
	clock := statusTimeStyle.Render(m.currentTime.Format("15:04"))

	// Calculate widths
	availableWidth := m.width - 2
	clockWidth := lipgloss.Width(clock)
	helpWidth := availableWidth - clockWidth

	// Place help on left, clock on right
	leftSide := lipgloss.PlaceHorizontal(helpWidth, lipgloss.Left, helpText)
	rightSide := lipgloss.PlaceHorizontal(clockWidth, lipgloss.Right, clock)

	content := lipgloss.JoinHorizontal(lipgloss.Top, leftSide, rightSide)

	return lipgloss.NewStyle().Width(m.width).Render(content)
}

//
// ─────────────────────────── COMMANDS ───────────────────────────
//

func (m *model) setupCommandHandlers() {
	m.commandHandlers["/say"] = cmdSay
	m.commandHandlers["/raw"] = cmdRaw
	m.commandHandlers["/commands"] = cmdCommands
	m.commandHandlers["/quit"] = cmdQuit
}

func cmdSay(m *model, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: /say <text>")
	}
	return m.irc.Privmsg(strings.Join(args, " "))
}

func cmdRaw(m *model, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: /raw <line>")
	}
	return m.irc.Raw(strings.Join(args, " "))
}

func cmdCommands(m *model, args []string) error {
	ts := time.Now().Format("15:04")
	if len(m.commands) == 0 {
		m.addMessage(m.fmtSys(ts, "No bot commands registered"))
		return nil
	}
	m.addMessage(m.fmtSys(ts, "Bot commands: "+strings.Join(m.commands, ", ")))
	return nil
}

func cmdQuit(m *model, args []string) error {
	reason := "Goodbye!"
	if len(args) > 0 {
		reason = strings.Join(args, " ")
	}
	m.quitReason = reason
	return nil
}
