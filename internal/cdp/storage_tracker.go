package cdp

import (
	"sync"
	"time"

	"github.com/chromedp/cdproto/domstorage"
)

// Storage mutation kinds tracked by the StorageTracker.
const (
	StorageItemAdded   = "added"
	StorageItemRemoved = "removed"
	StorageItemUpdated = "updated"
	StorageCleared     = "cleared"
)

// StorageEventRecord is one observed DOM storage mutation.
type StorageEventRecord struct {
	Kind           string    `json:"kind"`
	SecurityOrigin string    `json:"securityOrigin"`
	IsLocalStorage bool      `json:"isLocalStorage"`
	Key            string    `json:"key,omitempty"`
	OldValue       string    `json:"oldValue,omitempty"`
	NewValue       string    `json:"newValue,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// StorageFilter narrows a tracker query.
type StorageFilter struct {
	// Origin matches records with exactly this security origin.
	Origin string
	// Limit caps the number of returned records, most recent first.
	Limit int
}

// StorageTracker is a capacity-bounded, FIFO-evicting store of DOM
// storage mutation events.
type StorageTracker struct {
	mu       sync.RWMutex
	capacity int
	records  []StorageEventRecord
}

// NewStorageTracker creates a tracker holding at most capacity records.
func NewStorageTracker(capacity int) *StorageTracker {
	if capacity <= 0 {
		capacity = DefaultStorageCapacity
	}
	return &StorageTracker{capacity: capacity}
}

// RecordAdded appends a record for a domStorageItemAdded event.
func (t *StorageTracker) RecordAdded(ev *domstorage.EventDomStorageItemAdded) {
	if ev == nil || ev.StorageID == nil {
		return
	}
	t.append(StorageEventRecord{
		Kind:           StorageItemAdded,
		SecurityOrigin: ev.StorageID.SecurityOrigin,
		IsLocalStorage: ev.StorageID.IsLocalStorage,
		Key:            ev.Key,
		NewValue:       ev.NewValue,
		Timestamp:      time.Now(),
	})
}

// RecordRemoved appends a record for a domStorageItemRemoved event.
func (t *StorageTracker) RecordRemoved(ev *domstorage.EventDomStorageItemRemoved) {
	if ev == nil || ev.StorageID == nil {
		return
	}
	t.append(StorageEventRecord{
		Kind:           StorageItemRemoved,
		SecurityOrigin: ev.StorageID.SecurityOrigin,
		IsLocalStorage: ev.StorageID.IsLocalStorage,
		Key:            ev.Key,
		Timestamp:      time.Now(),
	})
}

// RecordUpdated appends a record for a domStorageItemUpdated event.
func (t *StorageTracker) RecordUpdated(ev *domstorage.EventDomStorageItemUpdated) {
	if ev == nil || ev.StorageID == nil {
		return
	}
	t.append(StorageEventRecord{
		Kind:           StorageItemUpdated,
		SecurityOrigin: ev.StorageID.SecurityOrigin,
		IsLocalStorage: ev.StorageID.IsLocalStorage,
		Key:            ev.Key,
		OldValue:       ev.OldValue,
		NewValue:       ev.NewValue,
		Timestamp:      time.Now(),
	})
}

// RecordCleared appends a record for a domStorageItemsCleared event.
func (t *StorageTracker) RecordCleared(ev *domstorage.EventDomStorageItemsCleared) {
	if ev == nil || ev.StorageID == nil {
		return
	}
	t.append(StorageEventRecord{
		Kind:           StorageCleared,
		SecurityOrigin: ev.StorageID.SecurityOrigin,
		IsLocalStorage: ev.StorageID.IsLocalStorage,
		Timestamp:      time.Now(),
	})
}

func (t *StorageTracker) append(rec StorageEventRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.records) >= t.capacity {
		t.records = t.records[1:]
	}
	t.records = append(t.records, rec)
}

// Query returns the records matching the filter, most recent first.
func (t *StorageTracker) Query(filter StorageFilter) []StorageEventRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]StorageEventRecord, 0, len(t.records))
	for i := len(t.records) - 1; i >= 0; i-- {
		rec := t.records[i]
		if filter.Origin != "" && rec.SecurityOrigin != filter.Origin {
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
func (t *StorageTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Clear empties the tracker.
func (t *StorageTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = nil
}
