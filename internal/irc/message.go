package irc

import (
	"strings"
	"unicode/utf8"
)

// IRC verbs handled by Conn
const (
	PRIVMSG = "PRIVMSG"
	PING    = "PING"
	PONG    = "PONG"
	NICK    = "NICK"
	USER    = "USER"
	JOIN    = "JOIN"
	QUIT    = "QUIT"
)

// Message represents a decoded IRC line
type Message struct {
	Command string
	Sender  string
	Channel string
	Text    string
}

// Parse decodes a raw IRC line. It never fails: missing fields are left empty.
//
// A two token line is read as a keep-alive probe (PING :server). Anything else
// is read positionally as ":sender COMMAND #channel :trailing text".
func Parse(line string) Message {
	var msg Message
	params := strings.Split(line, " ")

	if len(params) == 2 {
		msg.Command = params[0]
		msg.Sender = dropFirst(params[1])
		return msg
	}

	msg.Command = param(params, 1)
	msg.Channel = param(params, 2)
	if len(params) > 3 {
		// The first character is dropped whether or not it is ':'.
		msg.Text = dropFirst(strings.Join(params[3:], " "))
	}
	return msg
}

// param returns params[i] or "" when out of range
func param(params []string, i int) string {
	if i < len(params) {
		return params[i]
	}
	return ""
}

// dropFirst removes the first character of s
func dropFirst(s string) string {
	if s == "" {
		return ""
	}
	_, size := utf8.DecodeRuneInString(s)
	return s[size:]
}
