package cdp

import (
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"gopkg.in/guregu/null.v3"
)

// Request lifecycle states tracked by the ledger.
const (
	RequestStatePending   = "pending"
	RequestStateResponded = "responded"
	RequestStateCompleted = "completed"
	RequestStateFailed    = "failed"
)

// NetworkRequestRecord accumulates the lifecycle of one browser request.
// It is created by a requestWillBeSent event and mutated in place as the
// response/finished/failed events for the same request id arrive.
type NetworkRequestRecord struct {
	RequestID       string            `json:"requestId"`
	DocumentURL     string            `json:"documentUrl,omitempty"`
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	ResourceType    string            `json:"resourceType,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`

	// Status stays null until a responseReceived event arrives.
	Status            null.Int `json:"status"`
	StatusText        string   `json:"statusText,omitempty"`
	MimeType          string   `json:"mimeType,omitempty"`
	Protocol          string   `json:"protocol,omitempty"`
	RemoteIPAddress   string   `json:"remoteIPAddress,omitempty"`
	EncodedDataLength float64  `json:"encodedDataLength,omitempty"`

	State     string `json:"state"`
	ErrorText string `json:"errorText,omitempty"`
	Canceled  bool   `json:"canceled,omitempty"`

	StartedAt   time.Time `json:"startedAt"`
	RespondedAt time.Time `json:"respondedAt,omitempty"`
	FinishedAt  time.Time `json:"finishedAt,omitempty"`

	// The protocol timestamps are monotonic (relative to machine boot),
	// while wallTime is epoch-based. The difference between the two on
	// the initial event converts later monotonic timestamps.
	offset time.Duration
}

// NetworkFilter narrows a ledger query. Zero fields match everything.
type NetworkFilter struct {
	// HostContains matches records whose URL host contains the substring.
	HostContains string
	// Status matches records with exactly this response status.
	Status null.Int
	// Limit caps the number of returned records, most recent first.
	Limit int
}

// NetworkLedger is a capacity-bounded store of request records keyed by
// request id. Once at capacity, appending a new record evicts the oldest.
// It is written only by the connection's event dispatch and read by any
// number of concurrent queries.
type NetworkLedger struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	byID     map[string]*NetworkRequestRecord
}

// NewNetworkLedger creates a ledger holding at most capacity records.
func NewNetworkLedger(capacity int) *NetworkLedger {
	if capacity <= 0 {
		capacity = DefaultNetworkCapacity
	}
	return &NetworkLedger{
		capacity: capacity,
		byID:     make(map[string]*NetworkRequestRecord, capacity),
	}
}

// RecordRequest creates the record for a requestWillBeSent event. A
// repeated event for the same request id (a redirect hop) updates the
// existing record rather than appending a second one.
func (l *NetworkLedger) RecordRequest(ev *network.EventRequestWillBeSent) {
	if ev == nil || ev.Request == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	id := string(ev.RequestID)
	if rec, ok := l.byID[id]; ok {
		rec.URL = ev.Request.URL
		rec.Method = ev.Request.Method
		rec.Headers = headerStrings(ev.Request.Headers)
		return
	}

	rec := &NetworkRequestRecord{
		RequestID:    id,
		DocumentURL:  ev.DocumentURL,
		URL:          ev.Request.URL,
		Method:       ev.Request.Method,
		ResourceType: ev.Type.String(),
		Headers:      headerStrings(ev.Request.Headers),
		State:        RequestStatePending,
	}
	if ev.WallTime != nil {
		rec.StartedAt = ev.WallTime.Time()
		if ev.Timestamp != nil {
			rec.offset = ev.WallTime.Time().Sub(ev.Timestamp.Time())
		}
	} else {
		rec.StartedAt = time.Now()
	}

	if len(l.order) >= l.capacity {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.byID, oldest)
	}
	l.order = append(l.order, id)
	l.byID[id] = rec
}

// RecordResponse fills in the response half of the record.
func (l *NetworkLedger) RecordResponse(ev *network.EventResponseReceived) {
	if ev == nil || ev.Response == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byID[string(ev.RequestID)]
	if !ok {
		return
	}
	rec.Status = null.IntFrom(ev.Response.Status)
	rec.StatusText = ev.Response.StatusText
	rec.MimeType = ev.Response.MimeType
	rec.Protocol = ev.Response.Protocol
	rec.RemoteIPAddress = ev.Response.RemoteIPAddress
	rec.ResponseHeaders = headerStrings(ev.Response.Headers)
	rec.State = RequestStateResponded
	if ev.Timestamp != nil {
		rec.RespondedAt = ev.Timestamp.Time().Add(rec.offset)
	}
}

// RecordFinished marks the record completed.
func (l *NetworkLedger) RecordFinished(ev *network.EventLoadingFinished) {
	if ev == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byID[string(ev.RequestID)]
	if !ok {
		return
	}
	rec.State = RequestStateCompleted
	rec.EncodedDataLength = ev.EncodedDataLength
	if ev.Timestamp != nil {
		rec.FinishedAt = ev.Timestamp.Time().Add(rec.offset)
	}
}

// RecordFailed marks the record failed.
func (l *NetworkLedger) RecordFailed(ev *network.EventLoadingFailed) {
	if ev == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byID[string(ev.RequestID)]
	if !ok {
		return
	}
	rec.State = RequestStateFailed
	rec.ErrorText = ev.ErrorText
	rec.Canceled = ev.Canceled
	if ev.Timestamp != nil {
		rec.FinishedAt = ev.Timestamp.Time().Add(rec.offset)
	}
}

// Query returns copies of the records matching the filter, most recent
// first.
func (l *NetworkLedger) Query(filter NetworkFilter) []NetworkRequestRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]NetworkRequestRecord, 0, len(l.order))
	for i := len(l.order) - 1; i >= 0; i-- {
		rec := l.byID[l.order[i]]
		if filter.HostContains != "" && !strings.Contains(hostOf(rec.URL), filter.HostContains) {
			continue
		}
		if filter.Status.Valid && (!rec.Status.Valid || rec.Status.Int64 != filter.Status.Int64) {
			continue
		}
		out = append(out, *rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Len returns the number of records currently held.
func (l *NetworkLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Clear empties the ledger.
func (l *NetworkLedger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = nil
	l.byID = make(map[string]*NetworkRequestRecord, l.capacity)
}

// headerStrings keeps only the string-valued protocol headers, the same
// way the browser reports them for the common case.
func headerStrings(h network.Headers) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for name, value := range h {
		if s, ok := value.(string); ok {
			out[name] = s
		}
	}
	return out
}
