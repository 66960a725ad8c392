package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/glimte/qbridge/messaging"
)

const envPrefix = "QBRIDGE_"

// Transports selectable with QBRIDGE_TRANSPORT
const (
	TransportRabbitMQ = "rabbitmq"
	TransportMemory   = "memory"
)

// Config holds the bridge configuration
type Config struct {
	QueueManager   string        `env:"QUEUE_MANAGER"   envDefault:"QM1"`               // Queue manager (AMQP virtual host)
	Queue          string        `env:"QUEUE"           envDefault:"DEV.QUEUE.1"`       // Queue to put to and get from
	Channel        string        `env:"CHANNEL"         envDefault:"DEV.ADMIN.SVRCONN"` // Channel name sent as a client property
	Endpoint       string        `env:"ENDPOINT"        envDefault:"localhost:5672"`    // host:port or host(port)
	UserID         string        `env:"USER_ID"`                                        // Optional user id
	Password       string        `env:"PASSWORD"`                                       // Optional password
	AppName        string        `env:"APP_NAME"        envDefault:"qbridge"`           // Application name sent as a client property
	WaitInterval   time.Duration `env:"WAIT_INTERVAL"   envDefault:"1s"`                // Wait per get
	PollInterval   time.Duration `env:"POLL_INTERVAL"   envDefault:"500ms"`             // Poll interval of an empty queue
	MatchID        string        `env:"MATCH_ID"`                                       // Hex message id to select
	Limit          int           `env:"LIMIT"           envDefault:"0"`                 // Max messages per receive cycle, 0 for no cap
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"30s"`               // TCP connect and handshake bound
	ConfirmTimeout time.Duration `env:"CONFIRM_TIMEOUT" envDefault:"5s"`                // Publish confirm bound
	ConnectRetries int           `env:"CONNECT_RETRIES" envDefault:"0"`                 // Extra connect attempts
	DeclareQueue   bool          `env:"DECLARE_QUEUE"   envDefault:"false"`             // Create a missing queue
	Transport      string        `env:"TRANSPORT"       envDefault:"rabbitmq"`          // rabbitmq or memory
	HTTPAddr       string        `env:"HTTP_ADDR"       envDefault:":8080"`             // serve: HTTP listen address
	MetricsAddr    string        `env:"METRICS_ADDR"    envDefault:":9090"`             // serve: metrics listen address, empty disables
	LogLevel       string        `env:"LOG_LEVEL"       envDefault:"info"`              // debug, info, warn or error
	LogFormat      string        `env:"LOG_FORMAT"      envDefault:"text"`              // text or json
}

// LoadConfig reads the configuration from environ. A nil environ reads the
// process environment.
func LoadConfig(environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: envPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration
func (c Config) Validate() error {
	var errs []error
	if c.QueueManager == "" {
		errs = append(errs, errors.New("queue manager is required"))
	}
	if c.Queue == "" {
		errs = append(errs, errors.New("queue is required"))
	}
	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	}
	if c.WaitInterval < 0 || c.PollInterval < 0 || c.ConnectTimeout < 0 || c.ConfirmTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.ConnectRetries < 0 || c.Limit < 0 {
		errs = append(errs, errors.New("connect retries and limit must not be negative"))
	}
	if _, err := c.matchID(); err != nil {
		errs = append(errs, err)
	}
	if c.Transport != TransportRabbitMQ && c.Transport != TransportMemory {
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", messaging.ErrInvalidConfiguration, err)
	}
	return nil
}

// Identity returns the queue manager identity
func (c Config) Identity() messaging.Identity {
	return messaging.Identity{
		QueueManager: c.QueueManager,
		Endpoint:     c.Endpoint,
		Channel:      c.Channel,
		UserID:       c.UserID,
		Password:     c.Password,
		AppName:      c.AppName,
	}
}

// GetOptions returns the receive cycle options
func (c Config) GetOptions() (messaging.GetOptions, error) {
	id, err := c.matchID()
	if err != nil {
		return messaging.GetOptions{}, err
	}
	return messaging.GetOptions{WaitInterval: c.WaitInterval, MatchID: id, Limit: c.Limit}, nil
}

func (c Config) matchID() ([]byte, error) {
	if c.MatchID == "" {
		return nil, nil
	}
	return messaging.DecodeID(c.MatchID)
}

// NewLogger builds the process logger
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
