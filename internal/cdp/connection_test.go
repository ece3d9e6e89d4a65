package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"devtoolsbridge/internal/cdp/cdptest"
	"devtoolsbridge/internal/log"
)

func TestConnection(t *testing.T) {
	t.Parallel()

	server := cdptest.NewServer(t, cdptest.WithEchoHandler("/echo"))

	t.Run("connect", func(t *testing.T) {
		t.Parallel()

		conn, err := NewConnection(context.Background(), server.WSURL("/echo"), 0, log.NewNullLogger())
		require.NoError(t, err)
		conn.Close()
	})

	t.Run("dial failure", func(t *testing.T) {
		t.Parallel()

		_, err := NewConnection(context.Background(), "ws://127.0.0.1:1/nope", 0, log.NewNullLogger())
		require.Error(t, err)

		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, "ws://127.0.0.1:1/nope", connErr.Endpoint)
	})
}

func TestConnectionSendRecv(t *testing.T) {
	t.Parallel()

	server := cdptest.NewServer(t, cdptest.WithCDPHandler("/cdp", cdptest.CDPDefaultHandler, nil))

	conn, err := NewConnection(context.Background(), server.WSURL("/cdp"), 0, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	params := &target.SetDiscoverTargetsParams{Discover: true}
	require.NoError(t, conn.Execute(context.Background(), target.CommandSetDiscoverTargets, params, nil))
}

func TestConnectionProtocolError(t *testing.T) {
	t.Parallel()

	handler := func(_ *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, _ chan struct{}) {
		if msg.Method == "" {
			return
		}
		writeCh <- cdproto.Message{
			ID:    msg.ID,
			Error: &cdproto.Error{Code: -32601, Message: "'Bogus.method' wasn't found"},
		}
	}
	server := cdptest.NewServer(t, cdptest.WithCDPHandler("/cdp", handler, nil))

	conn, err := NewConnection(context.Background(), server.WSURL("/cdp"), 0, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	err = conn.Execute(context.Background(), "Bogus.method", nil, nil)
	require.Error(t, err)

	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, int64(-32601), protoErr.Code)
	assert.Equal(t, "'Bogus.method' wasn't found", protoErr.Message)
	assert.Equal(t, "Bogus.method", protoErr.Method)
}

func TestConnectionExecuteTimeout(t *testing.T) {
	t.Parallel()

	server := cdptest.NewServer(t, cdptest.WithSilentHandler("/silent"))

	conn, err := NewConnection(context.Background(), server.WSURL("/silent"), 50*time.Millisecond, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	start := time.Now()
	err = conn.Execute(context.Background(), "Page.navigate", nil, nil)
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Less(t, time.Since(start), 5*time.Second)

	// The pending table must not accumulate abandoned entries.
	conn.pendingMu.Lock()
	n := len(conn.pending)
	conn.pendingMu.Unlock()
	assert.Zero(t, n)
}

func TestConnectionExecuteCallerDeadline(t *testing.T) {
	t.Parallel()

	server := cdptest.NewServer(t, cdptest.WithSilentHandler("/silent"))

	// The connection default is generous, the caller's own deadline is
	// not: the error must report the deadline that actually fired.
	conn, err := NewConnection(context.Background(), server.WSURL("/silent"), time.Minute, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = conn.Execute(ctx, "Page.navigate", nil, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	reported, parseErr := time.ParseDuration(timeoutErr.Timeout)
	require.NoError(t, parseErr)
	assert.Greater(t, reported, time.Duration(0))
	assert.LessOrEqual(t, reported, 50*time.Millisecond)
}

func TestConnectionUnknownIDDropped(t *testing.T) {
	t.Parallel()

	// Answer with an id nobody asked for, then with the right one. The
	// stray frame must be discarded without disturbing the real call.
	handler := func(_ *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, _ chan struct{}) {
		if msg.Method == "" {
			return
		}
		writeCh <- cdproto.Message{ID: msg.ID + 1000, Result: easyjson.RawMessage("{}")}
		writeCh <- cdproto.Message{ID: msg.ID, Result: easyjson.RawMessage("{}")}
	}
	server := cdptest.NewServer(t, cdptest.WithCDPHandler("/cdp", handler, nil))

	conn, err := NewConnection(context.Background(), server.WSURL("/cdp"), 0, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	params := &target.SetDiscoverTargetsParams{Discover: true}
	require.NoError(t, conn.Execute(context.Background(), target.CommandSetDiscoverTargets, params, nil))
}

func TestConnectionConcurrentCallsReordered(t *testing.T) {
	t.Parallel()

	// Hold the first command's reply until the second arrives, then
	// answer them in reverse order. Each caller must still receive the
	// result for its own id.
	var (
		mu     sync.Mutex
		queued []cdproto.Message
	)
	reply := func(msg cdproto.Message) cdproto.Message {
		expr := gjson.GetBytes(msg.Params, "expression").String()
		result := fmt.Sprintf(`{"result": {"type": "string", "value": %q}}`, expr)
		return cdproto.Message{ID: msg.ID, Result: easyjson.RawMessage(result)}
	}
	handler := func(_ *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, _ chan struct{}) {
		if msg.Method == "" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		queued = append(queued, *msg)
		if len(queued) < 2 {
			return
		}
		writeCh <- reply(queued[1])
		writeCh <- reply(queued[0])
		queued = nil
	}
	server := cdptest.NewServer(t, cdptest.WithCDPHandler("/cdp", handler, nil))

	conn, err := NewConnection(context.Background(), server.WSURL("/cdp"), 0, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	var wg sync.WaitGroup
	for _, expr := range []string{"first", "second"} {
		expr := expr
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := new(runtime.EvaluateReturns)
			params := &runtime.EvaluateParams{Expression: expr}
			if !assert.NoError(t, conn.Execute(context.Background(), runtime.CommandEvaluate, params, res)) {
				return
			}
			if assert.NotNil(t, res.Result) {
				assert.Equal(t, fmt.Sprintf("%q", expr), string(res.Result.Value))
			}
		}()
	}
	wg.Wait()
}

func TestConnectionClosureAbnormal(t *testing.T) {
	t.Parallel()

	server := cdptest.NewServer(t, cdptest.WithClosureAbnormalHandler("/closure-abnormal"))

	conn, err := NewConnection(context.Background(), server.WSURL("/closure-abnormal"), 0, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	select {
	case <-conn.Done():
	case <-time.After(time.Minute):
		t.Fatal("connection did not close after abnormal closure")
	}

	err = conn.Execute(context.Background(), "Page.navigate", nil, nil)
	require.ErrorIs(t, err, ErrConnectionLost)
}

func TestConnectionClosureFailsPendingCall(t *testing.T) {
	t.Parallel()

	// Drop the connection as soon as the first command arrives, while
	// its caller is still blocked waiting for a reply.
	handler := func(conn *websocket.Conn, msg *cdproto.Message, _ chan cdproto.Message, _ chan struct{}) {
		if msg.Method != "" {
			_ = conn.UnderlyingConn().Close()
		}
	}
	server := cdptest.NewServer(t, cdptest.WithCDPHandler("/cdp", handler, nil))

	conn, err := NewConnection(context.Background(), server.WSURL("/cdp"), 0, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	err = conn.Execute(context.Background(), "Page.navigate", nil, nil)
	require.ErrorIs(t, err, ErrConnectionLost)

	select {
	case <-conn.Done():
	case <-time.After(time.Minute):
		t.Fatal("connection did not close with pending call")
	}
}

func TestConnectionExecuteAfterClose(t *testing.T) {
	t.Parallel()

	server := cdptest.NewServer(t, cdptest.WithCDPHandler("/cdp", cdptest.CDPDefaultHandler, nil))

	conn, err := NewConnection(context.Background(), server.WSURL("/cdp"), 0, log.NewNullLogger())
	require.NoError(t, err)
	conn.Close()

	err = conn.Execute(context.Background(), "Page.navigate", nil, nil)
	require.ErrorIs(t, err, ErrConnectionLost)
}

func TestConnectionEventDispatch(t *testing.T) {
	t.Parallel()

	server := cdptest.NewServer(t, cdptest.WithCDPHandler("/cdp", cdptest.CDPDefaultHandler, nil))

	conn, err := NewConnection(context.Background(), server.WSURL("/cdp"), 0, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	var calls atomic.Int64
	order := make(chan int, 2)
	conn.OnEvent("Runtime.consoleAPICalled", func(_ string, _ any) {
		calls.Add(1)
		order <- 1
	})
	conn.OnEvent("Runtime.consoleAPICalled", func(_ string, _ any) {
		calls.Add(1)
		order <- 2
	})

	server.Emit("Runtime.consoleAPICalled", `{
		"type": "log",
		"args": [{"type": "string", "value": "hello"}],
		"executionContextId": 1,
		"timestamp": 1700000000000
	}`)

	require.Eventually(t, func() bool { return calls.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, <-order)
	assert.Equal(t, 2, <-order)
}

func TestConnectionEventHandlerPanic(t *testing.T) {
	t.Parallel()

	server := cdptest.NewServer(t, cdptest.WithCDPHandler("/cdp", cdptest.CDPDefaultHandler, nil))

	conn, err := NewConnection(context.Background(), server.WSURL("/cdp"), 0, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	var after atomic.Bool
	conn.OnEvent("Runtime.consoleAPICalled", func(_ string, _ any) {
		panic("handler blew up")
	})
	conn.OnEvent("Runtime.consoleAPICalled", func(_ string, _ any) {
		after.Store(true)
	})

	server.Emit("Runtime.consoleAPICalled", `{
		"type": "log",
		"args": [],
		"executionContextId": 1,
		"timestamp": 1700000000000
	}`)

	// The panicking handler must not stop dispatch to the next handler,
	// and the read loop must stay alive for commands.
	require.Eventually(t, func() bool { return after.Load() }, 5*time.Second, 10*time.Millisecond)
	params := &target.SetDiscoverTargetsParams{Discover: true}
	require.NoError(t, conn.Execute(context.Background(), target.CommandSetDiscoverTargets, params, nil))
}

func TestConnectionUnknownEventIgnored(t *testing.T) {
	t.Parallel()

	server := cdptest.NewServer(t, cdptest.WithCDPHandler("/cdp", cdptest.CDPDefaultHandler, nil))

	conn, err := NewConnection(context.Background(), server.WSURL("/cdp"), 0, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	var called atomic.Bool
	conn.OnEvent("Madeup.event", func(_ string, _ any) { called.Store(true) })
	server.Emit("Madeup.event", `{}`)

	// The frame is undecodable, so the handler never runs, but the
	// connection keeps serving commands.
	params := &target.SetDiscoverTargetsParams{Discover: true}
	require.NoError(t, conn.Execute(context.Background(), target.CommandSetDiscoverTargets, params, nil))
	assert.False(t, called.Load())
}

func TestConnectionCanceledContext(t *testing.T) {
	t.Parallel()

	server := cdptest.NewServer(t, cdptest.WithSilentHandler("/silent"))

	conn, err := NewConnection(context.Background(), server.WSURL("/silent"), 0, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = conn.Execute(ctx, "Page.navigate", nil, nil)
	require.True(t, errors.Is(err, context.Canceled))
}
