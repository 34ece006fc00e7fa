package websocket

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Config configures a Client (spec.md §6 Configuration options).
//
// Every field is optional: Dial and NewPool replace each zero-valued field
// with its DefaultConfig value, so the zero value is usable as is. This
// follows the teacher's UpgradeOptions/DialOptions convention of an
// all-optional struct with documented defaults.
type Config struct {
	// MaxFrameSize bounds any single data frame's payload. Default 100 MiB.
	MaxFrameSize uint64

	// MaxControlFrameSize bounds any control frame's payload. Must be <=125
	// per RFC 6455 Section 5.5; values above 125 are clamped. Default 125.
	MaxControlFrameSize uint64

	// PingInterval is the keepalive period: a Ping is sent on every tick of
	// this interval, whether or not other traffic arrived, until
	// IdleTimeout has passed with nothing received. Default 30s.
	PingInterval time.Duration

	// IdleTimeout is the no-traffic threshold past which the connection
	// initiates a timeout close (1001). Default 60s.
	IdleTimeout time.Duration

	// Header carries additional request headers sent with the opening
	// handshake (e.g. Authorization, Cookie).
	Header http.Header

	// Subprotocols lists subprotocols the client offers; the value (if any)
	// the server selects is only echoed back in headers, per spec.md's
	// Non-goal "subprotocol negotiation beyond echoing a client-offered
	// value".
	Subprotocols []string

	// TLSConfig configures the TLS handshake for wss:// URLs. A nil value
	// uses Go's default configuration with the URL's hostname for SNI and
	// certificate verification.
	TLSConfig *tls.Config

	// DialTimeout bounds the TCP (and TLS) dial plus the opening handshake.
	// Zero means no timeout beyond the context passed to Dial.
	DialTimeout time.Duration

	// Logger receives structured log entries for handshake completion
	// (debug), each received frame (trace), and connection close (debug).
	// Handshake failures and keepalive pings are not logged. A nil Logger is replaced
	// with a logger that discards everything, so the core package never
	// logs unless the caller asks it to.
	Logger *logrus.Entry
}

// DefaultConfig returns a Config with spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxFrameSize:        defaultMaxFrameSize,
		MaxControlFrameSize: maxControlFrameSize,
		PingInterval:        30 * time.Second,
		IdleTimeout:         60 * time.Second,
	}
}

// normalize fills in zero-valued fields with their defaults and clamps
// MaxControlFrameSize to the RFC ceiling.
func (c Config) normalize() Config {
	d := DefaultConfig()

	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	if c.MaxControlFrameSize == 0 {
		c.MaxControlFrameSize = d.MaxControlFrameSize
	}
	if c.MaxControlFrameSize > maxControlFrameSize {
		c.MaxControlFrameSize = maxControlFrameSize
	}
	if c.PingInterval == 0 {
		c.PingInterval = d.PingInterval
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.Logger == nil {
		discard := logrus.New()
		discard.SetOutput(discardWriter{})
		c.Logger = logrus.NewEntry(discard)
	}

	return c
}

func (c Config) codecLimits() codecLimits {
	return codecLimits{
		maxFrameSize:        c.MaxFrameSize,
		maxControlFrameSize: c.MaxControlFrameSize,
	}
}

// discardWriter is an io.Writer that drops everything written to it, used
// as the default Logger sink so the core package is silent unless a caller
// opts in with Config.Logger.
type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
