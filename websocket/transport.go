package websocket

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Transport is the byte-stream collaborator the core consumes (spec.md §1,
// §6): a reliable, ordered, full-duplex byte pipe. TLS/TCP, DNS resolution,
// and certificate policy are handled by whatever produces a Transport —
// dialRawConn plus netTransport below for the normal ws:// / wss:// case —
// not by the state machine itself.
type Transport interface {
	// SendAll writes all of data or returns an error; it does not return
	// until every byte has been handed to the underlying connection (or an
	// error occurs), so frame atomicity on the wire is preserved.
	SendAll(ctx context.Context, data []byte) error

	// RecvSome returns between 1 and max bytes. It returns io.EOF (wrapped)
	// once the peer has closed the connection cleanly.
	RecvSome(ctx context.Context, max int) ([]byte, error)

	// Close tears down the underlying connection. Idempotent.
	Close() error
}

// netTransport adapts a net.Conn (plain TCP or TLS-wrapped) to Transport.
type netTransport struct {
	conn net.Conn
}

func (t *netTransport) SendAll(ctx context.Context, data []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
	} else {
		_ = t.conn.SetWriteDeadline(time.Time{})
	}

	for len(data) > 0 {
		n, err := t.conn.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (t *netTransport) RecvSome(ctx context.Context, max int) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(dl)
	} else {
		_ = t.conn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, max)
	n, err := t.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	return nil, err
}

func (t *netTransport) Close() error {
	return t.conn.Close()
}

// dialRawConn opens a TCP connection to u (performing a TLS handshake first
// for wss://). Client.Dial wraps the result in netTransport itself, after
// running the opening handshake directly against the connection so any
// bytes buffered past the HTTP response can be recovered.
//
// Grounded on _examples/picatz-websocket/websocket.go's Dial: plain
// net.Dialer for ws://, tls.Client with SNI set to the URL's hostname for
// wss://. The teacher repo (coregx-stream) has no client-side Dial in its
// library surface to ground this on, only a server-side Upgrade.
func dialRawConn(ctx context.Context, u *url.URL, tlsConfig *tls.Config) (net.Conn, error) {
	host := u.Host
	if u.Port() == "" {
		if u.Scheme == "wss" {
			host = net.JoinHostPort(u.Hostname(), "443")
		} else {
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", host, err)
	}

	if u.Scheme == "wss" {
		cfg := tlsConfig.Clone()
		if cfg == nil {
			cfg = &tls.Config{} //nolint:gosec // ServerName set below; MinVersion left to Go's secure default
		}
		if cfg.ServerName == "" {
			cfg.ServerName = u.Hostname()
		}

		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		conn = tlsConn
	}

	return conn, nil
}
