package cdp

import (
	"fmt"
	"testing"

	"github.com/chromedp/cdproto/domstorage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageTrackerRecords(t *testing.T) {
	t.Parallel()

	tracker := NewStorageTracker(10)
	id := &domstorage.StorageID{SecurityOrigin: "https://example.com", IsLocalStorage: true}

	tracker.RecordAdded(&domstorage.EventDomStorageItemAdded{
		StorageID: id, Key: "theme", NewValue: "dark",
	})
	tracker.RecordUpdated(&domstorage.EventDomStorageItemUpdated{
		StorageID: id, Key: "theme", OldValue: "dark", NewValue: "light",
	})
	tracker.RecordRemoved(&domstorage.EventDomStorageItemRemoved{
		StorageID: id, Key: "theme",
	})
	tracker.RecordCleared(&domstorage.EventDomStorageItemsCleared{StorageID: id})

	records := tracker.Query(StorageFilter{})
	require.Len(t, records, 4)
	assert.Equal(t, StorageCleared, records[0].Kind)
	assert.Equal(t, StorageItemRemoved, records[1].Kind)
	assert.Equal(t, StorageItemUpdated, records[2].Kind)
	assert.Equal(t, "light", records[2].NewValue)
	assert.Equal(t, StorageItemAdded, records[3].Kind)
	assert.True(t, records[3].IsLocalStorage)
}

func TestStorageTrackerOriginFilter(t *testing.T) {
	t.Parallel()

	tracker := NewStorageTracker(10)
	tracker.RecordAdded(&domstorage.EventDomStorageItemAdded{
		StorageID: &domstorage.StorageID{SecurityOrigin: "https://a.test"}, Key: "k",
	})
	tracker.RecordAdded(&domstorage.EventDomStorageItemAdded{
		StorageID: &domstorage.StorageID{SecurityOrigin: "https://b.test"}, Key: "k",
	})

	records := tracker.Query(StorageFilter{Origin: "https://a.test"})
	require.Len(t, records, 1)
	assert.Equal(t, "https://a.test", records[0].SecurityOrigin)
}

func TestStorageTrackerCapacityEviction(t *testing.T) {
	t.Parallel()

	const capacity = 2
	tracker := NewStorageTracker(capacity)
	for i := 0; i < capacity+1; i++ {
		tracker.RecordAdded(&domstorage.EventDomStorageItemAdded{
			StorageID: &domstorage.StorageID{SecurityOrigin: "https://example.com"},
			Key:       fmt.Sprintf("k%d", i),
		})
	}

	require.Equal(t, capacity, tracker.Len())
	records := tracker.Query(StorageFilter{})
	assert.Equal(t, "k2", records[0].Key)
	assert.Equal(t, "k1", records[1].Key)
}

func TestStorageTrackerNilEvents(t *testing.T) {
	t.Parallel()

	tracker := NewStorageTracker(10)
	tracker.RecordAdded(nil)
	tracker.RecordAdded(&domstorage.EventDomStorageItemAdded{Key: "no-storage-id"})
	assert.Zero(t, tracker.Len())
}
