package websocket

import "sync"

// streamBuffer bounds how many completed messages may sit in a Stream's
// channel before the actor blocks on delivery. The actor is the sole
// producer, so a slow consumer applies backpressure to the connection's
// read loop rather than growing memory without bound.
const streamBuffer = 32

// Message is one item delivered on a Client's Stream: a completed Text or
// Binary message, or a terminal error that ends the stream (spec.md §4.5).
//
// Exactly one of the accessors is meaningful for a given Message: Err
// returns non-nil only for the final item of a stream that ended
// abnormally.
type Message struct {
	kind MessageType
	text string
	data []byte
	err  error
}

// IsText reports whether the message is a Text message.
func (m Message) IsText() bool { return m.err == nil && m.kind == TextMessage }

// IsBinary reports whether the message is a Binary message.
func (m Message) IsBinary() bool { return m.err == nil && m.kind == BinaryMessage }

// IsError reports whether the message is the stream's terminal error item.
func (m Message) IsError() bool { return m.err != nil }

// Text returns the message payload as a string. It only has meaningful
// content when IsText reports true.
func (m Message) Text() string { return m.text }

// Binary returns the message payload. It only has meaningful content when
// IsBinary reports true.
func (m Message) Binary() []byte { return m.data }

// Err returns the terminal error ending the stream, or nil for a regular
// message. See IsError.
func (m Message) Err() error { return m.err }

func textMessage(s string) Message   { return Message{kind: TextMessage, text: s} }
func binaryMessage(b []byte) Message { return Message{kind: BinaryMessage, data: b} }
func errorMessage(err error) Message { return Message{err: err} }

// Stream is the single-consumer delivery queue a Client hands completed
// messages to (spec.md §3 "the message stream surface owns a
// single-producer/single-consumer delivery queue closed exactly once").
//
// Grounded on coregx-stream's sse.Conn delivery channel and done-channel
// close-once discipline, and on hub.go's channel idiom; generalized here to
// carry typed Message values instead of raw SSE event bytes.
type Stream struct {
	ch        chan Message
	closeOnce sync.Once
}

func newStream() *Stream {
	return &Stream{ch: make(chan Message, streamBuffer)}
}

// Messages returns the channel of delivered messages. It is closed exactly
// once, after its final item (if any) has been sent, when the owning
// Client reaches Closed.
func (s *Stream) Messages() <-chan Message {
	return s.ch
}

// deliver enqueues msg, blocking if the consumer hasn't drained the
// buffer. Blocking here is a suspension point (spec.md §5), not a spin
// wait: the actor is idle until either the consumer reads or ctx is done.
func (s *Stream) deliver(ctx doneAwaiter, msg Message) {
	select {
	case s.ch <- msg:
	case <-ctx.Done():
	}
}

// closeClean ends the stream with no terminal error item: the consumer
// simply sees the channel close after the last delivered message.
func (s *Stream) closeClean() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// closeWithError delivers a single terminal error item and then closes the
// channel. Safe to call at most meaningfully once; later calls are no-ops
// because closeOnce only runs the first closure.
func (s *Stream) closeWithError(err error) {
	s.closeOnce.Do(func() {
		s.ch <- errorMessage(err)
		close(s.ch)
	})
}

// doneAwaiter is the subset of context.Context that deliver needs; declared
// separately so stream.go doesn't import context for a single method.
type doneAwaiter interface {
	Done() <-chan struct{}
}
