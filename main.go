// Package main provides the ircbot command: an IRC bot that joins one
// channel and answers prefixed commands, with an optional operator console.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/eznix86/ircbot/internal/bot"
	"github.com/eznix86/ircbot/internal/config"
	"github.com/eznix86/ircbot/internal/irc"
	"github.com/eznix86/ircbot/internal/logger"
)

var (
	configFile string
	envFile    string
	console    bool
	version    = "0.1.0" // This could be set at build time
)

var v = viper.New()

// rootCmd runs the bot
var rootCmd = &cobra.Command{
	Use:   "ircbot",
	Short: "IRC bot answering channel commands",
	Long: `ircbot connects to an IRC server, registers, joins one channel and
replies to messages starting with the command prefix (for example !time).`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runBot,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("ircbot v%s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configFile, "config", "", "YAML config file")
	flags.StringVar(&envFile, "env-file", ".env", "Env file with IRCBOT_* variables, ignored when missing")
	flags.BoolVar(&console, "console", false, "Run the interactive operator console")

	flags.String(config.KeyHost, "", "IRC server host [default: irc.freenode.org]")
	flags.Int(config.KeyPort, 0, "IRC server port [default: 6667]")
	flags.String(config.KeyNickname, "", "Bot nickname (sent as _<nickname>)")
	flags.String(config.KeyRealname, "", "Real name [default: nickname]")
	flags.String(config.KeyPrefix, "", "Command prefix character [default: !]")
	flags.String(config.KeyChannel, "", "Channel to join, without #")
	flags.Duration(config.KeyTimeout, 0, "Idle timeout [default: 1h]")
	flags.String(config.KeyEncoding, "", "Text encoding [default: utf-8]")
	flags.String(config.KeyTransport, "", "Transport: tcp or websocket [default: tcp]")
	flags.String(config.KeyWebSocketPath, "", "WebSocket endpoint path [default: /webirc]")
	flags.String(config.KeyResponses, "", "YAML file of canned command responses")
	flags.String(config.KeyLogLevel, "", "Log level (debug|info|warn|error) [default: info]")
	flags.String(config.KeyLogFile, "", "Write logs to file instead of stderr")

	for _, key := range []string{
		config.KeyHost, config.KeyPort, config.KeyNickname, config.KeyRealname,
		config.KeyPrefix, config.KeyChannel, config.KeyTimeout, config.KeyEncoding,
		config.KeyTransport, config.KeyWebSocketPath, config.KeyResponses,
		config.KeyLogLevel, config.KeyLogFile,
	} {
		if err := v.BindPFlag(key, flags.Lookup(key)); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding %s flag: %v\n", key, err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(versionCmd)
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v, configFile, envFile)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		logFile, err := logger.Open(cfg.LogFile)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer logFile.Close()
		out = logFile
	}

	// Without a log file the console shows log records itself.
	var f *feed
	if console {
		f = newFeed()
		if cfg.LogFile == "" {
			out = f
		}
	}
	l := logger.New(out, cfg.LogLevel)

	commands := bot.Builtins(time.Now)
	if cfg.Responses != "" {
		responses, err := bot.LoadResponses(cfg.Responses)
		if err != nil {
			return err
		}
		commands = commands.Merge(responses)
	}
	dispatcher := bot.NewDispatcher(cfg.Channel, commands, l)

	ircCfg, err := cfg.IRC(l)
	if err != nil {
		return err
	}
	conn := irc.Client(ircCfg, dispatcher)

	l.Info("Starting ircbot", "version", version, "session", conn.ID(), "commands", dispatcher.Names())

	if console {
		conn.HandleFunc(irc.EventAll, f.observe)
		return runConsole(conn, f, cfg.Nickname, dispatcher.Names())
	}
	return runHeadless(cmd.Context(), conn, l)
}

// runHeadless runs until interrupted or until the server closes the connection
func runHeadless(ctx context.Context, conn *irc.Conn, l *log.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := conn.Connect(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		l.Info("Shutting down")
		conn.Quit("Goodbye!")
	case <-conn.Done():
	}
	return nil
}

func runConsole(conn *irc.Conn, f *feed, nick string, commands []string) error {
	p := tea.NewProgram(initialModel(conn, f, nick, commands), tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("console: %w", err)
	}
	conn.Quit("Goodbye!")
	return nil
}
