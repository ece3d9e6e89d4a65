package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"devtoolsbridge/internal/cdp"
	"devtoolsbridge/internal/log"
)

func newBridge(t *testing.T) *Bridge {
	t.Helper()
	client := cdp.NewClient(cdp.Options{}, log.NewNullLogger())
	return New(client, log.NewNullLogger())
}

func TestBridgeDispatch(t *testing.T) {
	t.Parallel()

	b := newBridge(t)
	ctx := context.Background()

	t.Run("status works disconnected", func(t *testing.T) {
		t.Parallel()
		env := b.Dispatch(ctx, "status", nil)
		require.True(t, env.Success)
	})

	t.Run("unknown operation", func(t *testing.T) {
		t.Parallel()
		env := b.Dispatch(ctx, "make_coffee", nil)
		require.False(t, env.Success)
		assert.Contains(t, env.Error, `unknown operation "make_coffee"`)
	})

	t.Run("command without connection", func(t *testing.T) {
		t.Parallel()
		env := b.Dispatch(ctx, "navigate", []byte(`{"url": "https://example.com"}`))
		require.False(t, env.Success)
		assert.Contains(t, env.Error, "not connected")
	})

	t.Run("missing required parameter", func(t *testing.T) {
		t.Parallel()
		env := b.Dispatch(ctx, "navigate", []byte(`{}`))
		require.False(t, env.Success)
		assert.Contains(t, env.Error, "url parameter is required")

		env = b.Dispatch(ctx, "evaluate_in_all_frames", []byte(`{}`))
		require.False(t, env.Success)
		assert.Contains(t, env.Error, "code parameter is required")
	})

	t.Run("list operations", func(t *testing.T) {
		t.Parallel()
		env := b.Dispatch(ctx, "list_operations", nil)
		require.True(t, env.Success)
		ops := env.Data.(map[string]any)["operations"].([]string)
		assert.Contains(t, ops, "connect")
		assert.Contains(t, ops, "execute_js")
		assert.Contains(t, ops, "storage_quota")
		assert.Contains(t, ops, "list_frames")
		assert.Contains(t, ops, "monitor_console")
		assert.Contains(t, ops, "background_colors")
		assert.True(t, sortedStrings(ops))
	})
}

func sortedStrings(s []string) bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] > s[i] {
			return false
		}
	}
	return true
}

func TestBridgeRegisterOverride(t *testing.T) {
	t.Parallel()

	b := newBridge(t)
	b.Register("ping", func(_ context.Context, _ gjson.Result) cdp.Envelope {
		return cdp.OK("pong")
	})

	env := b.Dispatch(context.Background(), "ping", nil)
	require.True(t, env.Success)
	assert.Equal(t, "pong", env.Data)
}

func TestServe(t *testing.T) {
	t.Parallel()

	b := newBridge(t)

	in := strings.Join([]string{
		`{"id": 1, "op": "status"}`,
		``,
		`{"id": 2, "op": "navigate", "params": {"url": "https://example.com"}}`,
		`{"id": 3}`,
		`not json at all`,
		`{"id": 4, "method": "list_operations"}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, b.Serve(context.Background(), strings.NewReader(in), &out))

	type reply struct {
		ID      json.RawMessage `json:"id"`
		Success bool            `json:"success"`
		Error   string          `json:"error"`
	}
	var replies []reply
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var r reply
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		replies = append(replies, r)
	}
	require.Len(t, replies, 5, "one reply per non-empty request line")

	assert.Equal(t, "1", string(replies[0].ID))
	assert.True(t, replies[0].Success)

	assert.Equal(t, "2", string(replies[1].ID))
	assert.False(t, replies[1].Success)
	assert.Contains(t, replies[1].Error, "not connected")

	assert.Equal(t, "3", string(replies[2].ID))
	assert.False(t, replies[2].Success)
	assert.Contains(t, replies[2].Error, "names no operation")

	assert.False(t, replies[3].Success)
	assert.Contains(t, replies[3].Error, "malformed request")

	assert.Equal(t, "4", string(replies[4].ID))
	assert.True(t, replies[4].Success)
}

func TestServeCanceledContext(t *testing.T) {
	t.Parallel()

	b := newBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := b.Serve(ctx, strings.NewReader(`{"op": "status"}`+"\n"), &out)
	require.ErrorIs(t, err, context.Canceled)
}
