package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pws "github.com/picatz/websocket"
)

// newEchoServer starts an httptest server that upgrades every request and
// echoes back whatever message it reads, using picatz/websocket's server
// side as the test fixture's peer (this package implements only the client
// side of RFC 6455, so exercising Dial end to end needs a real server on
// the other end of the wire).
func newEchoServer(t *testing.T) (wsURL string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := pws.Upgrade(w, r)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// newCloseImmediatelyServer starts a server that upgrades then immediately
// sends a normal-closure Close frame, via conn.Close(), without reading
// anything first.
func newCloseImmediatelyServer(t *testing.T) (wsURL string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := pws.Upgrade(w, r)
		if err != nil {
			return
		}
		conn.Close()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// newHeaderCheckServer starts a server that records the request headers it
// received, so tests can assert on what Dial actually sent.
func newHeaderCheckServer(t *testing.T) (wsURL string, headers <-chan http.Header) {
	t.Helper()
	ch := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch <- r.Header.Clone()
		conn, err := pws.Upgrade(w, r)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), ch
}
