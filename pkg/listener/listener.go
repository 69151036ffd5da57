package listener

import (
	"log/slog"
	"net"
	"strconv"
)

// DefaultBacklog is the number of pending connections the kernel queues for
// the listening socket.
const DefaultBacklog = 1

// Option configures a Listener.
type Option func(*options)

type options struct {
	backlog int
	logger  *slog.Logger
}

func defaultOptions() options {
	return options{
		backlog: DefaultBacklog,
		logger:  slog.Default().With("component", "listener"),
	}
}

// WithBacklog sets the listen backlog. Values below 1 are ignored.
func WithBacklog(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.backlog = n
		}
	}
}

// WithLogger sets the logger used for the listening line.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func hostPort(ip string, port int) string {
	return net.JoinHostPort(ip, strconv.Itoa(port))
}

// logListening reports the bound address in host byte order.
func logListening(logger *slog.Logger, addr *net.TCPAddr, backlog int) {
	logger.Info("listening",
		"address", addr.IP.String(),
		"port", addr.Port,
		"backlog", backlog)
}
