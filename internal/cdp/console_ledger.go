package cdp

import (
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
)

// ConsoleMessageRecord is one captured console message or thrown
// exception.
type ConsoleMessageRecord struct {
	Level     string    `json:"level"`
	Text      string    `json:"text"`
	Args      []string  `json:"args,omitempty"`
	URL       string    `json:"url,omitempty"`
	Line      int64     `json:"line,omitempty"`
	Column    int64     `json:"column,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Exception bool      `json:"exception,omitempty"`
}

// ConsoleFilter narrows a console ledger query.
type ConsoleFilter struct {
	// Level matches records with exactly this level ("log", "warning",
	// "error", ...).
	Level string
	// ErrorsOnly keeps only error-level and exception records.
	ErrorsOnly bool
	// Limit caps the number of returned records, most recent first.
	Limit int
}

// ConsoleLedger is a capacity-bounded, FIFO-evicting store of console
// messages fed by the connection's event dispatch.
type ConsoleLedger struct {
	mu       sync.RWMutex
	capacity int
	total    int
	records  []ConsoleMessageRecord
}

// NewConsoleLedger creates a ledger holding at most capacity messages.
func NewConsoleLedger(capacity int) *ConsoleLedger {
	if capacity <= 0 {
		capacity = DefaultConsoleCapacity
	}
	return &ConsoleLedger{capacity: capacity}
}

// RecordAPICall appends a record for a consoleAPICalled event.
func (l *ConsoleLedger) RecordAPICall(ev *runtime.EventConsoleAPICalled) {
	if ev == nil {
		return
	}
	args := make([]string, 0, len(ev.Args))
	for _, arg := range ev.Args {
		args = append(args, FormatRemoteObject(arg))
	}
	rec := ConsoleMessageRecord{
		Level:     string(ev.Type),
		Text:      strings.Join(args, " "),
		Args:      args,
		Timestamp: runtimeTime(ev.Timestamp),
	}
	if ev.StackTrace != nil && len(ev.StackTrace.CallFrames) > 0 {
		top := ev.StackTrace.CallFrames[0]
		rec.URL = top.URL
		rec.Line = top.LineNumber
		rec.Column = top.ColumnNumber
	}
	l.append(rec)
}

// RecordException appends a record for an exceptionThrown event.
func (l *ConsoleLedger) RecordException(ev *runtime.EventExceptionThrown) {
	if ev == nil || ev.ExceptionDetails == nil {
		return
	}
	details := ev.ExceptionDetails
	rec := ConsoleMessageRecord{
		Level:     "error",
		Text:      ExceptionText(details),
		URL:       details.URL,
		Line:      details.LineNumber,
		Column:    details.ColumnNumber,
		Timestamp: runtimeTime(ev.Timestamp),
		Exception: true,
	}
	l.append(rec)
}

func (l *ConsoleLedger) append(rec ConsoleMessageRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) >= l.capacity {
		l.records = l.records[1:]
	}
	l.records = append(l.records, rec)
	l.total++
}

// Total reports the number of records appended over the ledger's
// lifetime. Neither eviction nor Clear decreases it.
func (l *ConsoleLedger) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Query returns the records matching the filter, most recent first.
func (l *ConsoleLedger) Query(filter ConsoleFilter) []ConsoleMessageRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]ConsoleMessageRecord, 0, len(l.records))
	for i := len(l.records) - 1; i >= 0; i-- {
		rec := l.records[i]
		if filter.Level != "" && rec.Level != filter.Level {
			continue
		}
		if filter.ErrorsOnly && rec.Level != "error" && !rec.Exception {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Len returns the number of records currently held.
func (l *ConsoleLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Clear empties the ledger.
func (l *ConsoleLedger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
}

func runtimeTime(ts *runtime.Timestamp) time.Time {
	if ts == nil {
		return time.Now()
	}
	return ts.Time()
}
