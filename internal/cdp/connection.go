package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	cdppkg "github.com/chromedp/cdproto/cdp"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"

	"devtoolsbridge/internal/log"
)

// wsWriteBufferSize is the max size of a single outbound frame. Large
// enough for any command we build; inbound frames are unbounded reads.
const wsWriteBufferSize = 1 << 20

// EventHandler consumes a decoded protocol event. Handlers run
// synchronously on the read loop, in registration order, so they must be
// quick: typically a single ledger mutation.
type EventHandler func(method string, ev any)

// pendingCall correlates a sent command with its eventual response frame.
// Exactly one resolution is ever delivered on ch.
type pendingCall struct {
	id        int64
	createdAt time.Time
	ch        chan *cdproto.Message
}

// Connection owns the websocket to the browser's debug endpoint and
// multiplexes concurrent command/response pairs over it. Inbound frames
// carrying an id resolve the matching pending call; frames without an id
// are events, decoded and dispatched to registered handlers.
//
// A Connection is single-use: once closed (locally or by the peer) it
// cannot be reused, and a fresh one must be dialed.
type Connection struct {
	wsURL   string
	logger  *log.Logger
	conn    *websocket.Conn
	timeout time.Duration

	msgID int64

	sendCh    chan *cdproto.Message
	done      chan struct{}
	closeOnce sync.Once

	pendingMu sync.Mutex
	pending   map[int64]*pendingCall

	handlersMu sync.RWMutex
	handlers   map[string][]EventHandler

	wg sync.WaitGroup
}

// NewConnection dials the given websocket debugger URL and starts the
// read and send loops. The returned connection is ready for Execute.
func NewConnection(ctx context.Context, wsURL string, timeout time.Duration, logger *log.Logger) (*Connection, error) {
	var d websocket.Dialer
	d.EnableCompression = false
	d.HandshakeTimeout = 45 * time.Second
	d.WriteBufferSize = wsWriteBufferSize

	conn, _, connErr := d.DialContext(ctx, wsURL, nil)
	if connErr != nil {
		return nil, &ConnectionError{Endpoint: wsURL, Err: connErr}
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := Connection{
		wsURL:    wsURL,
		logger:   logger,
		conn:     conn,
		timeout:  timeout,
		sendCh:   make(chan *cdproto.Message, 32),
		done:     make(chan struct{}),
		pending:  make(map[int64]*pendingCall),
		handlers: make(map[string][]EventHandler),
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.sendLoop()

	return &c, nil
}

// OnEvent registers a handler for the given "Domain.event" method name.
// Handlers for the same method are invoked in registration order.
func (c *Connection) OnEvent(method string, handler EventHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[method] = append(c.handlers[method], handler)
}

// Execute sends a single command and blocks until its response arrives,
// the deadline elapses, or the connection goes away. It implements the
// cdp.Executor interface so typed cdproto actions can run against it.
func (c *Connection) Execute(
	ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler,
) error {
	select {
	case <-c.done:
		return ErrConnectionLost
	default:
	}

	// The reported timeout follows whichever deadline actually governs
	// the call: the caller's own, or the connection default.
	timeout := c.timeout
	if d, ok := ctx.Deadline(); ok {
		timeout = time.Until(d).Round(time.Millisecond)
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	id := atomic.AddInt64(&c.msgID, 1)

	var buf []byte
	if params != nil {
		var err error
		buf, err = easyjson.Marshal(params)
		if err != nil {
			return fmt.Errorf("%s: marshaling params: %w", method, err)
		}
	}
	msg := &cdproto.Message{
		ID:     id,
		Method: cdproto.MethodType(method),
		Params: buf,
	}

	call := &pendingCall{
		id:        id,
		createdAt: time.Now(),
		ch:        make(chan *cdproto.Message, 1),
	}
	c.pendingMu.Lock()
	c.pending[id] = call
	c.pendingMu.Unlock()

	c.logger.Tracef("cdp:execute", "-> id:%d method:%s", id, method)

	select {
	case c.sendCh <- msg:
	case <-c.done:
		c.removePending(id)
		return ErrConnectionLost
	case <-ctx.Done():
		c.removePending(id)
		return ctxError(ctx, method, timeout)
	}

	select {
	case reply := <-call.ch:
		if reply.Error != nil {
			return &ProtocolError{Method: method, Code: reply.Error.Code, Message: reply.Error.Message}
		}
		if res != nil && len(reply.Result) > 0 {
			if err := easyjson.Unmarshal(reply.Result, res); err != nil {
				return fmt.Errorf("%s: unmarshaling result: %w", method, err)
			}
		}
		return nil
	case <-c.done:
		c.removePending(id)
		return ErrConnectionLost
	case <-ctx.Done():
		c.removePending(id)
		return ctxError(ctx, method, timeout)
	}
}

func ctxError(ctx context.Context, method string, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Method: method, Timeout: timeout.String()}
	}
	return ctx.Err()
}

func (c *Connection) removePending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// Done returns a channel closed when the connection has gone away.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether the connection has gone away.
func (c *Connection) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close tears the connection down. It is idempotent and safe to call
// concurrently with in-flight commands, which fail with ErrConnectionLost.
func (c *Connection) Close() {
	c.teardown(nil)
	c.wg.Wait()
}

func (c *Connection) teardown(reason error) {
	c.closeOnce.Do(func() {
		if reason != nil {
			c.logger.Debugf("cdp:connection", "closing %s: %v", c.wsURL, reason)
		}
		close(c.done)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second),
		)
		_ = c.conn.Close()

		// Outstanding calls will never get a response frame now. Their
		// waiters observe the closed done channel; the table only needs
		// draining.
		c.pendingMu.Lock()
		n := len(c.pending)
		c.pending = make(map[int64]*pendingCall)
		c.pendingMu.Unlock()
		if n > 0 {
			c.logger.Debugf("cdp:connection", "failed %d outstanding calls: %v", n, ErrConnectionLost)
		}
	})
}

func (c *Connection) sendLoop() {
	defer c.wg.Done()
	for {
		select {
		case msg := <-c.sendCh:
			buf, err := easyjson.Marshal(msg)
			if err != nil {
				c.logger.Errorf("cdp:sendLoop", "marshaling message id:%d: %v", msg.ID, err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				c.teardown(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Connection) readLoop() {
	defer c.wg.Done()
	for {
		_, buf, err := c.conn.ReadMessage()
		if err != nil {
			c.teardown(err)
			return
		}

		var msg cdproto.Message
		if err := easyjson.Unmarshal(buf, &msg); err != nil {
			// A single malformed frame must never take the
			// connection down.
			c.logger.Warnf("cdp:readLoop", "skipping malformed frame: %v", err)
			continue
		}

		switch {
		case msg.ID != 0:
			c.resolve(&msg)
		case msg.Method != "":
			c.dispatch(&msg)
		default:
			c.logger.Warnf("cdp:readLoop", "skipping frame with neither id nor method")
		}

		select {
		case <-c.done:
			return
		default:
		}
	}
}

// resolve delivers a response frame to its pending call. Responses whose
// id is unknown (typically late arrivals after a timeout) are dropped.
func (c *Connection) resolve(msg *cdproto.Message) {
	c.pendingMu.Lock()
	call, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Warnf("cdp:resolve", "dropping response for unknown id:%d", msg.ID)
		return
	}
	c.logger.Tracef("cdp:resolve", "<- id:%d after %s", msg.ID, time.Since(call.createdAt))
	call.ch <- msg
}

// dispatch decodes an event frame and invokes the registered handlers for
// its method, synchronously and in registration order. Unknown events are
// ignored; a panicking handler is logged and does not stop the read loop.
func (c *Connection) dispatch(msg *cdproto.Message) {
	method := string(msg.Method)

	c.handlersMu.RLock()
	handlers := c.handlers[method]
	c.handlersMu.RUnlock()
	if len(handlers) == 0 {
		return
	}

	ev, err := cdproto.UnmarshalMessage(msg)
	if err != nil {
		var unknown cdppkg.ErrUnknownCommandOrEvent
		if errors.As(err, &unknown) {
			c.logger.Tracef("cdp:dispatch", "ignoring unknown event %s", method)
			return
		}
		c.logger.Warnf("cdp:dispatch", "cannot decode event %s: %v", method, err)
		return
	}

	for _, handler := range handlers {
		c.invoke(method, ev, handler)
	}
}

func (c *Connection) invoke(method string, ev any, handler EventHandler) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("cdp:dispatch", "handler for %s panicked: %v", method, r)
		}
	}()
	handler(method, ev)
}
