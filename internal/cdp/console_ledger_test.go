package cdp

import (
	"fmt"
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func consoleEvent(level runtime.APIType, values ...string) *runtime.EventConsoleAPICalled {
	ts := runtime.Timestamp(time.Now())
	args := make([]*runtime.RemoteObject, 0, len(values))
	for _, v := range values {
		args = append(args, &runtime.RemoteObject{
			Type:  "string",
			Value: easyjson.RawMessage(fmt.Sprintf("%q", v)),
		})
	}
	return &runtime.EventConsoleAPICalled{
		Type:      level,
		Args:      args,
		Timestamp: &ts,
	}
}

func TestConsoleLedgerRecordAPICall(t *testing.T) {
	t.Parallel()

	ledger := NewConsoleLedger(10)
	ev := consoleEvent(runtime.APITypeLog, "hello", "world")
	ev.StackTrace = &runtime.StackTrace{
		CallFrames: []*runtime.CallFrame{
			{FunctionName: "doLog", URL: "https://example.com/app.js", LineNumber: 41, ColumnNumber: 7},
		},
	}
	ledger.RecordAPICall(ev)

	records := ledger.Query(ConsoleFilter{})
	require.Len(t, records, 1)
	assert.Equal(t, "log", records[0].Level)
	assert.Equal(t, "hello world", records[0].Text)
	assert.Equal(t, []string{"hello", "world"}, records[0].Args)
	assert.Equal(t, "https://example.com/app.js", records[0].URL)
	assert.EqualValues(t, 41, records[0].Line)
	assert.False(t, records[0].Exception)
}

func TestConsoleLedgerRecordException(t *testing.T) {
	t.Parallel()

	ledger := NewConsoleLedger(10)
	ts := runtime.Timestamp(time.Now())
	ledger.RecordException(&runtime.EventExceptionThrown{
		Timestamp: &ts,
		ExceptionDetails: &runtime.ExceptionDetails{
			Text:         "Uncaught",
			URL:          "https://example.com/app.js",
			LineNumber:   12,
			ColumnNumber: 3,
			Exception: &runtime.RemoteObject{
				Type:        "object",
				Subtype:     "error",
				Description: "TypeError: x is not a function",
			},
		},
	})

	records := ledger.Query(ConsoleFilter{})
	require.Len(t, records, 1)
	assert.Equal(t, "error", records[0].Level)
	assert.Equal(t, "TypeError: x is not a function", records[0].Text)
	assert.True(t, records[0].Exception)
}

func TestConsoleLedgerCapacityEviction(t *testing.T) {
	t.Parallel()

	const capacity = 3
	ledger := NewConsoleLedger(capacity)
	for i := 0; i < capacity+2; i++ {
		ledger.RecordAPICall(consoleEvent(runtime.APITypeLog, fmt.Sprintf("msg-%d", i)))
	}

	require.Equal(t, capacity, ledger.Len())
	records := ledger.Query(ConsoleFilter{})
	texts := make([]string, 0, len(records))
	for _, rec := range records {
		texts = append(texts, rec.Text)
	}
	assert.Equal(t, []string{"msg-4", "msg-3", "msg-2"}, texts)
}

func TestConsoleLedgerTotal(t *testing.T) {
	t.Parallel()

	const capacity = 3
	ledger := NewConsoleLedger(capacity)
	assert.Zero(t, ledger.Total())

	for i := 0; i < capacity+2; i++ {
		ledger.RecordAPICall(consoleEvent(runtime.APITypeLog, fmt.Sprintf("msg-%d", i)))
	}
	assert.Equal(t, capacity+2, ledger.Total())
	assert.Equal(t, capacity, ledger.Len())

	// Clear drops the held records but not the lifetime count.
	ledger.Clear()
	assert.Zero(t, ledger.Len())
	assert.Equal(t, capacity+2, ledger.Total())

	ledger.RecordAPICall(consoleEvent(runtime.APITypeLog, "after"))
	assert.Equal(t, capacity+3, ledger.Total())
}

func TestConsoleLedgerFilters(t *testing.T) {
	t.Parallel()

	ledger := NewConsoleLedger(10)
	ledger.RecordAPICall(consoleEvent(runtime.APITypeLog, "plain"))
	ledger.RecordAPICall(consoleEvent(runtime.APITypeWarning, "careful"))
	ledger.RecordAPICall(consoleEvent(runtime.APITypeError, "broken"))
	ts := runtime.Timestamp(time.Now())
	ledger.RecordException(&runtime.EventExceptionThrown{
		Timestamp:        &ts,
		ExceptionDetails: &runtime.ExceptionDetails{Text: "Uncaught boom"},
	})

	assert.Len(t, ledger.Query(ConsoleFilter{Level: "warning"}), 1)
	assert.Len(t, ledger.Query(ConsoleFilter{ErrorsOnly: true}), 2)
	assert.Len(t, ledger.Query(ConsoleFilter{Limit: 2}), 2)

	records := ledger.Query(ConsoleFilter{ErrorsOnly: true})
	assert.Equal(t, "Uncaught boom", records[0].Text)
	assert.Equal(t, "broken", records[1].Text)
}
