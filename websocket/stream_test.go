package websocket

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessage_Accessors(t *testing.T) {
	text := textMessage("hi")
	require.True(t, text.IsText())
	require.False(t, text.IsBinary())
	require.False(t, text.IsError())
	require.Equal(t, "hi", text.Text())

	bin := binaryMessage([]byte{1, 2, 3})
	require.True(t, bin.IsBinary())
	require.False(t, bin.IsText())
	require.Equal(t, []byte{1, 2, 3}, bin.Binary())

	terminalErr := errors.New("boom")
	errMsg := errorMessage(terminalErr)
	require.True(t, errMsg.IsError())
	require.False(t, errMsg.IsText())
	require.False(t, errMsg.IsBinary())
	require.Equal(t, terminalErr, errMsg.Err())
}

func TestStream_CloseCleanEndsWithNoItems(t *testing.T) {
	s := newStream()
	s.deliver(context.Background(), textMessage("one"))
	s.closeClean()

	msg, ok := <-s.Messages()
	require.True(t, ok)
	require.Equal(t, "one", msg.Text())

	_, ok = <-s.Messages()
	require.False(t, ok)
}

func TestStream_CloseWithErrorDeliversTerminalItem(t *testing.T) {
	s := newStream()
	terminalErr := errors.New("connection died")
	s.closeWithError(terminalErr)

	msg, ok := <-s.Messages()
	require.True(t, ok)
	require.True(t, msg.IsError())
	require.ErrorIs(t, msg.Err(), terminalErr)

	_, ok = <-s.Messages()
	require.False(t, ok)
}

func TestStream_CloseIsIdempotent(t *testing.T) {
	s := newStream()
	s.closeClean()
	require.NotPanics(t, func() {
		s.closeClean()
		s.closeWithError(errors.New("ignored: already closed"))
	})
}

func TestStream_DeliverRespectsContextCancellation(t *testing.T) {
	s := newStream()
	for i := 0; i < streamBuffer; i++ {
		s.deliver(context.Background(), textMessage("fill"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		s.deliver(ctx, textMessage("dropped"))
		close(done)
	}()
	<-done // deliver must return once ctx is done rather than blocking forever
}
