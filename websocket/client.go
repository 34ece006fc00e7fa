package websocket

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// State is one of the connection lifecycle states spec.md §4.4 names.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client is a single WebSocket connection: the C4 connection state machine
// of spec.md §4.4, driving Disconnected → Connecting → Open → Closing →
// Closed.
//
// Generalized from the teacher's Conn, which folds fragment reassembly,
// control-frame dispatch, and writes into one mutex-guarded struct with a
// blocking Read() loop. Here those responsibilities are driven by a single
// actor goroutine, which owns the keepalive ticker and exchanges frames
// over channels with independent reader and writer goroutines (spec.md
// §5), so State() and Send*/Close never block
// on I/O and a slow consumer of Stream() only ever backpressures itself.
type Client struct {
	u      *url.URL
	cfg    Config
	limits codecLimits
	log    *logrus.Entry

	transport Transport
	stream    *Stream

	state atomic.Int32

	sendReqCh  chan sendRequest
	closeReqCh chan closeRequest
	frameCh    chan frameEvent
	outboundCh chan outboundItem
	writeErrCh chan error

	runCancel context.CancelFunc
	doneCh    chan struct{}
}

// outboundItem is one write handed from the actor to the writer goroutine.
// result, when non-nil, is how the actor reports the write's outcome back
// to the caller that asked for it (SendText/SendBinary); internally
// generated control frames (Pong, Close, keepalive Ping) pass a nil result
// and instead surface failures via Client.writeErrCh.
type outboundItem struct {
	bytes  []byte
	result chan error
}

type sendRequest struct {
	msgType MessageType
	data    []byte
	result  chan error
}

type closeRequest struct {
	code   CloseCode
	reason string
	result chan error
}

type frameEvent struct {
	f   *frame
	err error
}

// Dial opens a transport to u, performs the opening handshake, and starts
// the connection's actor, reader, and writer goroutines; the keepalive
// timer is a ticker inside the actor.
// It blocks until the handshake either succeeds (Client reaches Open) or
// fails (Client stays Disconnected and the transport is torn down).
//
// u must use the ws or wss scheme.
func Dial(ctx context.Context, rawURL string, cfg Config) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse URL: %w", ErrHandshakeFailed, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrHandshakeFailed, u.Scheme)
	}

	cfg = cfg.normalize()

	c := &Client{
		u:          u,
		cfg:        cfg,
		limits:     cfg.codecLimits(),
		log:        cfg.Logger.WithField("component", "websocket.client"),
		stream:     newStream(),
		sendReqCh:  make(chan sendRequest),
		closeReqCh: make(chan closeRequest),
		frameCh:    make(chan frameEvent, 1),
		outboundCh: make(chan outboundItem, 4),
		writeErrCh: make(chan error, 1),
		doneCh:     make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))

	dialCtx := ctx
	var cancelDial context.CancelFunc
	if cfg.DialTimeout > 0 {
		dialCtx, cancelDial = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancelDial()
	}

	conn, err := dialRawConn(dialCtx, u, cfg.TLSConfig)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return nil, newTransportError("dial", err)
	}

	key, err := generateHandshakeKey()
	if err != nil {
		_ = conn.Close()
		c.state.Store(int32(StateDisconnected))
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	if dl, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	req := buildHandshakeRequest(u, key, cfg.Header, cfg.Subprotocols)
	if _, err := conn.Write(req); err != nil {
		_ = conn.Close()
		c.state.Store(int32(StateDisconnected))
		return nil, newTransportError("handshake write", err)
	}

	br := bufio.NewReader(conn)
	if _, err := validateHandshakeResponse(br, key); err != nil {
		_ = conn.Close()
		c.state.Store(int32(StateDisconnected))
		return nil, err
	}

	_ = conn.SetDeadline(time.Time{})

	// validateHandshakeResponse's bufio.Reader may have read past the HTTP
	// headers into the start of the first WebSocket frame; whatever it
	// buffered belongs at the front of the reader loop's accumulator, not
	// discarded.
	leftover := make([]byte, br.Buffered())
	_, _ = br.Read(leftover)

	c.transport = &netTransport{conn: conn}
	c.log.WithField("url", u.Redacted()).Debug("handshake complete")
	c.state.Store(int32(StateOpen))

	runCtx, cancel := context.WithCancel(context.Background())
	c.runCancel = cancel
	eg, egCtx := errgroup.WithContext(runCtx)

	eg.Go(func() error { return c.readerLoop(egCtx, leftover) })
	eg.Go(func() error { return c.writerLoop(egCtx) })
	eg.Go(func() error { return c.actorLoop(runCtx) })

	go func() {
		if err := eg.Wait(); err != nil {
			c.log.WithError(err).Debug("connection goroutines exited")
		}
	}()

	return c, nil
}

// State returns the connection's current lifecycle state. Safe to call
// from any goroutine.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Stream returns the channel of completed messages and terminal errors
// (spec.md §4.5). It is the same Stream for the life of the Client.
func (c *Client) Stream() *Stream {
	return c.stream
}

// SendText sends a single-frame masked Text message. It fails without
// sending anything if the connection is not Open: with ErrNotConnected
// while it is Closing, and with ErrConnectionClosed once it is Closed.
func (c *Client) SendText(ctx context.Context, text string) error {
	return c.send(ctx, TextMessage, []byte(text))
}

// SendBinary sends a single-frame masked Binary message. It fails without
// sending anything if the connection is not Open: with ErrNotConnected
// while it is Closing, and with ErrConnectionClosed once it is Closed.
func (c *Client) SendBinary(ctx context.Context, data []byte) error {
	return c.send(ctx, BinaryMessage, data)
}

func (c *Client) send(ctx context.Context, msgType MessageType, data []byte) error {
	req := sendRequest{msgType: msgType, data: data, result: make(chan error, 1)}
	select {
	case c.sendReqCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.doneCh:
		return ErrConnectionClosed
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close sends a normal-closure (1000) Close frame and waits for the
// connection to finish its closing handshake. Idempotent: calling it again
// after the connection is Closed is a no-op.
func (c *Client) Close() error {
	return c.CloseWithCode(context.Background(), CloseNormalClosure, "")
}

// CloseWithCode sends a Close frame carrying code and reason (spec.md
// §4.4's close rules govern validation and truncation) and waits for the
// connection to reach Closed.
func (c *Client) CloseWithCode(ctx context.Context, code CloseCode, reason string) error {
	req := closeRequest{code: code, reason: reason, result: make(chan error, 1)}
	select {
	case c.closeReqCh <- req:
	case <-c.doneCh:
		return nil
	}

	select {
	case err := <-req.result:
		if err != nil {
			return err
		}
	case <-c.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	<-c.doneCh
	return nil
}
