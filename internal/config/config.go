// Package config loads the bot configuration from defaults, an optional
// YAML file, a .env file, IRCBOT_* environment variables and bound flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/eznix86/ircbot/internal/irc"
	"github.com/eznix86/ircbot/internal/logger"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "IRCBOT"

// Keys, also used as flag names
const (
	KeyHost          = "host"
	KeyPort          = "port"
	KeyNickname      = "nickname"
	KeyRealname      = "realname"
	KeyPrefix        = "prefix"
	KeyChannel       = "channel"
	KeyTimeout       = "timeout"
	KeyEncoding      = "encoding"
	KeyTransport     = "transport"
	KeyWebSocketPath = "websocket-path"
	KeyResponses     = "responses"
	KeyLogLevel      = "log-level"
	KeyLogFile       = "log-file"
)

// Transports
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

const dialTimeout = 30 * time.Second

// Config is the complete bot configuration
type Config struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Nickname      string        `mapstructure:"nickname"`
	Realname      string        `mapstructure:"realname"`
	Prefix        string        `mapstructure:"prefix"`
	Channel       string        `mapstructure:"channel"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Encoding      string        `mapstructure:"encoding"`
	Transport     string        `mapstructure:"transport"`
	WebSocketPath string        `mapstructure:"websocket-path"`
	Responses     string        `mapstructure:"responses"`
	LogLevel      string        `mapstructure:"log-level"`
	LogFile       string        `mapstructure:"log-file"`
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyHost, "irc.freenode.org")
	v.SetDefault(KeyPort, 6667)
	v.SetDefault(KeyNickname, "")
	v.SetDefault(KeyRealname, "")
	v.SetDefault(KeyPrefix, "!")
	v.SetDefault(KeyChannel, "")
	v.SetDefault(KeyTimeout, time.Hour)
	v.SetDefault(KeyEncoding, "utf-8")
	v.SetDefault(KeyTransport, TransportTCP)
	v.SetDefault(KeyWebSocketPath, "/webirc")
	v.SetDefault(KeyResponses, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, "")
}

// Load reads the configuration into v and validates it. envFile is loaded
// into the process environment first when it exists; configFile is read
// when non-empty.
func Load(v *viper.Viper, configFile, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Channel = strings.TrimPrefix(strings.TrimSpace(cfg.Channel), "#")
	if cfg.Realname == "" {
		cfg.Realname = cfg.Nickname
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields the connection relies on
func (c *Config) Validate() error {
	var errs []error

	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Nickname == "" {
		errs = append(errs, errors.New("nickname is required"))
	}
	if c.Channel == "" {
		errs = append(errs, errors.New("channel is required"))
	}
	if utf8.RuneCountInString(c.Prefix) != 1 {
		errs = append(errs, fmt.Errorf("prefix must be a single character, got %q", c.Prefix))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	if _, err := htmlindex.Get(c.Encoding); err != nil {
		errs = append(errs, fmt.Errorf("unknown encoding %q", c.Encoding))
	}
	switch c.Transport {
	case TransportTCP, TransportWebSocket:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if !logger.ValidLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

// TextEncoding resolves the configured encoding name
func (c *Config) TextEncoding() (encoding.Encoding, error) {
	enc, err := htmlindex.Get(c.Encoding)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", c.Encoding, err)
	}
	return enc, nil
}

// Dialer returns the dialer for the configured transport
func (c *Config) Dialer() irc.Dialer {
	if c.Transport == TransportWebSocket {
		return irc.WebSocketDialer{Path: c.WebSocketPath, HandshakeTimeout: dialTimeout}
	}
	return irc.TCPDialer{Timeout: dialTimeout}
}

// IRC builds the connection configuration
func (c *Config) IRC(l *log.Logger) (*irc.Config, error) {
	enc, err := c.TextEncoding()
	if err != nil {
		return nil, err
	}
	prefix, _ := utf8.DecodeRuneInString(c.Prefix)

	return &irc.Config{
		Host:     c.Host,
		Port:     c.Port,
		Nick:     c.Nickname,
		RealName: c.Realname,
		Prefix:   prefix,
		Channel:  c.Channel,
		Timeout:  c.Timeout,
		Encoding: enc,
		Dialer:   c.Dialer(),
		Logger:   l,
	}, nil
}
