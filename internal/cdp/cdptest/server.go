// Package cdptest provides an in-process debug endpoint stub for
// exercising the protocol client against scripted browser behavior.
package cdptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
)

// Handler scripts the server side of one CDP connection. It is called
// once per decoded incoming message; replies and events go to writeCh.
// Closing done tears the connection down.
type Handler func(conn *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, done chan struct{})

// Server is a websocket debug endpoint stub backed by httptest.
type Server struct {
	t          testing.TB
	ServerHTTP *httptest.Server
	Mux        *http.ServeMux

	mu      sync.Mutex
	writeCh chan cdproto.Message
	done    chan struct{}
}

// Option configures the stub before it starts serving.
type Option func(*Server)

// NewServer starts a stub server and registers its shutdown with the
// test cleanup.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		t:       t,
		Mux:     http.NewServeMux(),
		writeCh: make(chan cdproto.Message, 64),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ServerHTTP = httptest.NewServer(s.Mux)
	t.Cleanup(func() {
		s.Close()
		s.ServerHTTP.Close()
	})
	return s
}

// Close stops all scripted connection loops.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Host returns the host:port the stub listens on.
func (s *Server) Host() string {
	u, err := url.Parse(s.ServerHTTP.URL)
	if err != nil {
		s.t.Fatalf("parsing stub URL: %v", err)
	}
	return u.Host
}

// WSURL returns the ws:// URL for the given path.
func (s *Server) WSURL(path string) string {
	return fmt.Sprintf("ws://%s%s", s.Host(), path)
}

// Emit injects a server-initiated event into every connection served
// by a CDP handler.
func (s *Server) Emit(method string, params string) {
	s.writeCh <- cdproto.Message{
		Method: cdproto.MethodType(method),
		Params: easyjson.RawMessage(params),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WithEchoHandler registers a handler that echoes every text message
// back verbatim.
func WithEchoHandler(path string) Option {
	return func(s *Server) {
		s.Mux.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
			conn, err := upgrader.Upgrade(w, req, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			for {
				mt, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if err := conn.WriteMessage(mt, data); err != nil {
					return
				}
			}
		})
	}
}

// WithClosureAbnormalHandler registers a handler that accepts the
// upgrade and immediately drops the underlying TCP connection, so the
// client observes an abnormal closure.
func WithClosureAbnormalHandler(path string) Option {
	return func(s *Server) {
		s.Mux.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
			conn, err := upgrader.Upgrade(w, req, nil)
			if err != nil {
				return
			}
			_ = conn.UnderlyingConn().Close()
		})
	}
}

// WithSilentHandler registers a handler that reads messages and never
// answers, for exercising call timeouts.
func WithSilentHandler(path string) Option {
	return func(s *Server) {
		s.Mux.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
			conn, err := upgrader.Upgrade(w, req, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		})
	}
}

// WithCDPHandler registers a scripted CDP endpoint at path. Received
// commands are appended to cmdsReceived when it is non-nil.
func WithCDPHandler(path string, handler Handler, cmdsReceived *[]cdproto.MethodType) Option {
	return func(s *Server) {
		s.Mux.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
			conn, err := upgrader.Upgrade(w, req, nil)
			if err != nil {
				return
			}
			s.serveCDP(conn, handler, cmdsReceived)
		})
	}
}

// WithDiscoveryHandler registers an HTTP /json target list whose page
// entry points at wsPath on this server.
func WithDiscoveryHandler(wsPath string) Option {
	return func(s *Server) {
		s.Mux.HandleFunc("/json", func(w http.ResponseWriter, req *http.Request) {
			targets := []map[string]string{
				{
					"id":                   "E2E9B2F1D9A7C3B5A1F0E2D4C6B8A0F2",
					"type":                 "page",
					"title":                "stub page",
					"url":                  "about:blank",
					"webSocketDebuggerUrl": s.WSURL(wsPath),
				},
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(targets)
		})
	}
}

// CDPDefaultHandler acknowledges every command with an empty result.
func CDPDefaultHandler(_ *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, _ chan struct{}) {
	if msg.Method == "" {
		return
	}
	writeCh <- cdproto.Message{
		ID:     msg.ID,
		Result: easyjson.RawMessage("{}"),
	}
}

func (s *Server) serveCDP(conn *websocket.Conn, handler Handler, cmdsReceived *[]cdproto.MethodType) {
	defer conn.Close()

	readCh := make(chan cdproto.Message)
	go func() {
		defer close(readCh)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg cdproto.Message
			if err := easyjson.Unmarshal(data, &msg); err != nil {
				s.t.Logf("cdptest: malformed frame: %v", err)
				continue
			}
			select {
			case readCh <- msg:
			case <-s.done:
				return
			}
		}
	}()

	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-readCh:
			if !ok {
				return
			}
			if msg.Method != "" && cmdsReceived != nil {
				s.mu.Lock()
				*cmdsReceived = append(*cmdsReceived, msg.Method)
				s.mu.Unlock()
			}
			handler(conn, &msg, s.writeCh, s.done)
		case out := <-s.writeCh:
			data, err := easyjson.Marshal(&out)
			if err != nil {
				s.t.Logf("cdptest: marshaling frame: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
