package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/vango-dev/acceptd/pkg/listener"
)

// ErrInvalidConfig is wrapped by every error returned from ValidateConfig.
var ErrInvalidConfig = errors.New("server: invalid config")

// ServerConfig holds configuration for the accept loop and its workers.
type ServerConfig struct {
	// IP is the address to bind, IPv4 or IPv6 literal.
	// Default: "0.0.0.0".
	IP string

	// Port is the TCP port to bind. 0 picks an ephemeral port.
	// Default: 8080 (only when the whole config is defaulted).
	Port int

	// Backlog is the listen backlog.
	// Default: 1.
	Backlog int

	// Workers is the number of request handlers serving dequeued connections.
	// Default: 4.
	Workers int

	// PollInterval bounds each readiness wait in the accept loop, and so how
	// long cancellation can go unnoticed.
	// Default: 1 second.
	PollInterval time.Duration

	// ReadBufferSize is the size of the single read performed per connection.
	// Default: 30720.
	ReadBufferSize int

	// ReadTimeout is the deadline for the request read. 0 disables it.
	// Default: 30 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the deadline for the response write. 0 disables it.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// ShutdownTimeout is how long Run waits for workers to drain after the
	// accept loop stops.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		IP:              "0.0.0.0",
		Port:            8080,
		Backlog:         listener.DefaultBacklog,
		Workers:         4,
		PollInterval:    time.Second,
		ReadBufferSize:  30720, // 30KB
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// applyDefaults fills zero-valued fields. Port and the read/write timeouts
// are left alone because zero is meaningful for them.
func (c *ServerConfig) applyDefaults() {
	defaults := DefaultServerConfig()
	if c.IP == "" {
		c.IP = defaults.IP
	}
	if c.Backlog == 0 {
		c.Backlog = defaults.Backlog
	}
	if c.Workers == 0 {
		c.Workers = defaults.Workers
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = defaults.ReadBufferSize
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
}

// ValidateConfig reports the first invalid field.
func (c *ServerConfig) ValidateConfig() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if net.ParseIP(c.IP) == nil {
		return fmt.Errorf("%w: ip %q is not an IP address", ErrInvalidConfig, c.IP)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.Backlog < 1 {
		return fmt.Errorf("%w: backlog must be at least 1, got %d", ErrInvalidConfig, c.Backlog)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalidConfig, c.Workers)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive, got %s", ErrInvalidConfig, c.PollInterval)
	}
	if c.ReadBufferSize < 1 {
		return fmt.Errorf("%w: read buffer size must be positive, got %d", ErrInvalidConfig, c.ReadBufferSize)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("%w: read/write timeouts must not be negative", ErrInvalidConfig)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: shutdown timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Address returns IP and Port joined as host:port.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// WithAddress sets the bind IP and port and returns the config for chaining.
func (c *ServerConfig) WithAddress(ip string, port int) *ServerConfig {
	c.IP = ip
	c.Port = port
	return c
}

// WithWorkers sets the worker count and returns the config for chaining.
func (c *ServerConfig) WithWorkers(n int) *ServerConfig {
	c.Workers = n
	return c
}

// WithPollInterval sets the accept loop poll interval and returns the config
// for chaining.
func (c *ServerConfig) WithPollInterval(d time.Duration) *ServerConfig {
	c.PollInterval = d
	return c
}

// WithTimeouts sets the read and write deadlines and returns the config for
// chaining.
func (c *ServerConfig) WithTimeouts(read, write time.Duration) *ServerConfig {
	c.ReadTimeout = read
	c.WriteTimeout = write
	return c
}
