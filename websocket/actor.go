package websocket

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// readChunkSize is how many bytes readerLoop asks the transport for at a
// time. It only bounds syscall granularity, not message size.
const readChunkSize = 4096

// readerLoop owns the receive buffer (spec.md §5: "the receive buffer
// ...is owned by the reader path", not the actor). It accumulates bytes
// from the transport, decodes as many complete frames as it can, and
// forwards each one (or a terminal decode/transport error) to the actor
// over frameCh. leftover seeds the buffer with any bytes
// validateHandshakeResponse's bufio.Reader read past the HTTP response.
func (c *Client) readerLoop(ctx context.Context, leftover []byte) error {
	buf := leftover

	for {
		for {
			f, consumed, err := decodeFrame(buf, c.limits)
			if errors.Is(err, errInsufficientData) {
				break
			}
			if err != nil {
				return c.reportFrame(ctx, frameEvent{err: err})
			}
			buf = buf[consumed:]
			if err := c.reportFrame(ctx, frameEvent{f: f}); err != nil {
				return err
			}
		}

		data, err := c.transport.RecvSome(ctx, readChunkSize)
		if err != nil {
			return c.reportFrame(ctx, frameEvent{err: newTransportError("recv", err)})
		}
		buf = append(buf, data...)
	}
}

func (c *Client) reportFrame(ctx context.Context, ev frameEvent) error {
	select {
	case c.frameCh <- ev:
		return ev.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writerLoop is the cooperative task spec.md §5 names: it is the only
// goroutine that ever calls transport.SendAll, so outbound frames are
// always serialized on the wire in the order the actor enqueued them —
// including a control frame the actor enqueues while a data send from
// SendText/SendBinary is sitting ahead of it in outboundCh.
func (c *Client) writerLoop(ctx context.Context) error {
	for {
		select {
		case item, ok := <-c.outboundCh:
			if !ok {
				return nil
			}
			err := c.transport.SendAll(ctx, item.bytes)
			if item.result != nil {
				item.result <- err
			}
			if err != nil {
				select {
				case c.writeErrCh <- err:
				case <-ctx.Done():
				}
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// actorLoop is the single per-connection logical actor (spec.md §5): every
// mutation of connection state, the fragmentation buffer, and what goes on
// the wire is decided here, serialized by this goroutine's own select
// loop. ctx is cancelled only by this loop itself, via finish, once the
// connection reaches Closed.
//
//nolint:gocyclo,cyclop,gocognit // one event loop driving the whole C4 state machine
func (c *Client) actorLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	lastRx := time.Now()
	var frag fragmentAssembler
	closeSent := false

	finish := func(err error) {
		c.state.Store(int32(StateClosed))
		_ = c.transport.Close()
		c.runCancel()
		if err != nil {
			c.log.WithError(err).Debug("connection closed")
			c.stream.closeWithError(err)
		} else {
			c.log.Debug("connection closed cleanly")
			c.stream.closeClean()
		}
		close(c.doneCh)
	}

	for {
		select {
		case <-ctx.Done():
			finish(nil)
			return nil

		case req := <-c.sendReqCh:
			c.handleSendRequest(ctx, req)

		case req := <-c.closeReqCh:
			if State(c.state.Load()) == StateClosed {
				req.result <- nil
				continue
			}
			if !closeSent {
				c.sendClose(ctx, req.code, req.reason)
				closeSent = true
			}
			c.state.Store(int32(StateClosing))
			req.result <- nil

		case ev := <-c.frameCh:
			lastRx = time.Now()

			if ev.err != nil {
				var te *TransportError
				if errors.As(ev.err, &te) && closeSent {
					finish(nil)
					return nil
				}
				if !closeSent {
					c.sendClose(ctx, closeCodeForError(ev.err), "")
					closeSent = true
				}
				finish(ev.err)
				return ev.err
			}

			done, herr := c.handleFrame(ctx, ev.f, &frag, &closeSent)
			if done {
				finish(herr)
				return herr
			}

		case err := <-c.writeErrCh:
			finish(newTransportError("send", err))
			return err

		case <-ticker.C:
			if time.Since(lastRx) > c.cfg.IdleTimeout {
				if !closeSent {
					c.sendClose(ctx, CloseGoingAway, "timeout")
					closeSent = true
					c.state.Store(int32(StateClosing))
				}
			} else {
				c.sendPing(ctx)
			}
		}
	}
}

func (c *Client) handleSendRequest(ctx context.Context, req sendRequest) {
	if State(c.state.Load()) != StateOpen {
		req.result <- ErrNotConnected
		return
	}

	opcode := byte(opcodeBinary)
	if req.msgType == TextMessage {
		opcode = opcodeText
	}

	key, err := newMaskingKey()
	if err != nil {
		req.result <- err
		return
	}

	bytes, err := encodeFrame(&frame{fin: true, opcode: opcode, masked: true, mask: key, payload: req.data}, c.limits)
	if err != nil {
		req.result <- err
		return
	}

	select {
	case c.outboundCh <- outboundItem{bytes: bytes, result: req.result}:
	case <-ctx.Done():
		req.result <- ErrConnectionClosed
	}
}

// handleFrame dispatches one decoded frame per spec.md §4.4's transition
// table and returns whether the connection should finish, plus the
// terminal error (nil for a clean close) to finish with if so.
func (c *Client) handleFrame(ctx context.Context, f *frame, frag *fragmentAssembler, closeSent *bool) (done bool, err error) {
	c.log.WithFields(logrus.Fields{"opcode": opcodeName(f.opcode), "fin": f.fin, "bytes": len(f.payload)}).Trace("frame received")

	if f.rsv1 || f.rsv2 || f.rsv3 {
		c.closeOnce(ctx, closeSent, CloseProtocolError, "reserved bits must be 0")
		return true, ErrReservedBits
	}

	switch f.opcode {
	case opcodeClose:
		return c.handleCloseFrame(ctx, f.payload, closeSent)
	case opcodePing:
		c.sendPong(ctx, f.payload)
		return false, nil
	case opcodePong:
		return false, nil
	case opcodeText, opcodeBinary:
		return c.handleDataFrame(ctx, f, frag, closeSent)
	case opcodeContinuation:
		return c.handleContinuationFrame(ctx, f, frag, closeSent)
	default:
		// Unreachable: decodeFrame already rejects opcodes that are neither
		// a data frame (isDataFrame) nor one of the control opcodes handled
		// above.
		if isDataFrame(f.opcode) {
			return c.handleDataFrame(ctx, f, frag, closeSent)
		}
		return false, nil
	}
}

func (c *Client) handleDataFrame(ctx context.Context, f *frame, frag *fragmentAssembler, closeSent *bool) (bool, error) {
	if frag.active {
		c.closeOnce(ctx, closeSent, CloseProtocolError, "data frame received mid-fragmentation")
		return true, ErrUnexpectedOpcode
	}

	if f.fin {
		c.stream.deliver(ctx, messageFromPayload(MessageType(f.opcode), f.payload))
		return false, nil
	}

	if err := frag.start(f.opcode, f.payload); err != nil {
		c.closeOnce(ctx, closeSent, CloseInvalidFramePayloadData, "invalid UTF-8")
		return true, err
	}
	return false, nil
}

func (c *Client) handleContinuationFrame(ctx context.Context, f *frame, frag *fragmentAssembler, closeSent *bool) (bool, error) {
	if !frag.active {
		c.closeOnce(ctx, closeSent, CloseProtocolError, "unexpected continuation frame")
		return true, ErrUnexpectedContinuation
	}

	if err := frag.append(f.payload, f.fin); err != nil {
		c.closeOnce(ctx, closeSent, CloseInvalidFramePayloadData, "invalid UTF-8")
		return true, err
	}

	if f.fin {
		msgType, payload := frag.finish()
		c.stream.deliver(ctx, messageFromPayload(msgType, payload))
	}
	return false, nil
}

// handleCloseFrame applies spec.md §4.4's close frame payload rules and
// always reports done=true: receiving a Close frame always ends the
// connection, whether the peer's close was clean or itself malformed.
func (c *Client) handleCloseFrame(ctx context.Context, payload []byte, closeSent *bool) (bool, error) {
	switch {
	case len(payload) == 0:
		c.closeOnce(ctx, closeSent, CloseNoStatusReceived, "")
		return true, nil

	case len(payload) == 1:
		c.closeOnce(ctx, closeSent, CloseProtocolError, "")
		return true, ErrInvalidCloseFramePayload

	default:
		code := CloseCode(uint16(payload[0])<<8 | uint16(payload[1]))
		reason := payload[2:]

		if !utf8.Valid(reason) {
			c.closeOnce(ctx, closeSent, CloseInvalidFramePayloadData, "")
			return true, ErrInvalidUTF8
		}
		if !isValidWireCloseCode(code) {
			c.closeOnce(ctx, closeSent, CloseProtocolError, "")
			return true, ErrInvalidCloseCode
		}

		c.closeOnce(ctx, closeSent, code, "")
		return true, nil
	}
}

// closeOnce sends a Close frame with the given code/reason only if one
// hasn't already gone out on this connection, and marks closeSent so
// later calls (including our own reciprocal-close path) become no-ops.
func (c *Client) closeOnce(ctx context.Context, closeSent *bool, code CloseCode, reason string) {
	if *closeSent {
		return
	}
	c.sendClose(ctx, code, reason)
	*closeSent = true
}

func messageFromPayload(t MessageType, payload []byte) Message {
	if t == TextMessage {
		return textMessage(string(payload))
	}
	return binaryMessage(payload)
}

// closeCodeForError maps a decode-time error to the close status code the
// state machine sends in response: a *ProtocolError's own Code,
// ErrInvalidUTF8 → 1007, ErrFrameTooLarge → 1009, and 1002 for anything
// else. 1011 is never produced here.
func closeCodeForError(err error) CloseCode {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code
	}

	switch {
	case errors.Is(err, ErrInvalidUTF8):
		return CloseInvalidFramePayloadData
	case errors.Is(err, ErrFrameTooLarge):
		return CloseMessageTooBig
	default:
		return CloseProtocolError
	}
}

func (c *Client) sendClose(ctx context.Context, code CloseCode, reason string) {
	payload := buildClosePayload(code, reason, c.limits.maxControlFrameSize)

	key, err := newMaskingKey()
	if err != nil {
		return
	}
	bytes, err := encodeFrame(&frame{fin: true, opcode: opcodeClose, masked: true, mask: key, payload: payload}, c.limits)
	if err != nil {
		return
	}

	select {
	case c.outboundCh <- outboundItem{bytes: bytes}:
	case <-ctx.Done():
	}
}

func (c *Client) sendPong(ctx context.Context, payload []byte) {
	key, err := newMaskingKey()
	if err != nil {
		return
	}
	bytes, err := encodeFrame(&frame{fin: true, opcode: opcodePong, masked: true, mask: key, payload: payload}, c.limits)
	if err != nil {
		return
	}

	select {
	case c.outboundCh <- outboundItem{bytes: bytes}:
	case <-ctx.Done():
	}
}

func (c *Client) sendPing(ctx context.Context) {
	key, err := newMaskingKey()
	if err != nil {
		return
	}
	bytes, err := encodeFrame(&frame{fin: true, opcode: opcodePing, masked: true, mask: key}, c.limits)
	if err != nil {
		return
	}

	select {
	case c.outboundCh <- outboundItem{bytes: bytes}:
	case <-ctx.Done():
	}
}

// buildClosePayload renders a close code plus reason into a close frame
// payload, substituting and truncating per spec.md §4.4 ("Outgoing
// close...").
func buildClosePayload(code CloseCode, reason string, maxLen uint64) []byte {
	code = outgoingCloseCode(code)

	payload := make([]byte, 2, 2+len(reason))
	payload[0] = byte(code >> 8)
	payload[1] = byte(code)
	payload = append(payload, reason...)

	if uint64(len(payload)) > maxLen {
		payload = truncateCloseReason(payload, maxLen)
	}
	return payload
}

// truncateCloseReason shortens payload's reason (the bytes after the
// 2-byte code) to fit within maxLen total bytes, on a UTF-8 rune boundary;
// if no prefix of the reason both fits and is valid UTF-8, the reason is
// dropped entirely.
func truncateCloseReason(payload []byte, maxLen uint64) []byte {
	limit := int(maxLen) - 2
	if limit <= 0 {
		return payload[:2:2]
	}

	reason := payload[2:]
	if len(reason) <= limit {
		return payload
	}

	k := limit
	for k > 0 && !utf8.Valid(reason[:k]) {
		k--
	}
	return append(payload[:2:2], reason[:k]...)
}
