package cdp

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/domstorage"
)

func storageID(origin string, local bool) *domstorage.StorageID {
	return &domstorage.StorageID{
		SecurityOrigin: origin,
		IsLocalStorage: local,
	}
}

// GetStorageItems reads the local or session storage area of an origin
// as a key/value map. Requires the DOMStorage domain.
func (c *Client) GetStorageItems(ctx context.Context, origin string, local bool) Envelope {
	if err := c.requireDomain(DomainDOMStorage); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}
	if origin == "" {
		return failure(fmt.Errorf("origin is required"))
	}

	res := new(domstorage.GetDOMStorageItemsReturns)
	params := &domstorage.GetDOMStorageItemsParams{StorageID: storageID(origin, local)}
	if err := conn.Execute(ctx, domstorage.CommandGetDOMStorageItems, params, res); err != nil {
		return failure(fmt.Errorf("reading storage of %q: %w", origin, err))
	}

	items := make(map[string]string, len(res.Entries))
	for _, entry := range res.Entries {
		if len(entry) >= 2 {
			items[entry[0]] = entry[1]
		}
	}
	return success(map[string]any{
		"origin":         origin,
		"isLocalStorage": local,
		"count":          len(items),
		"items":          items,
	})
}

// SetStorageItem writes one key into the local or session storage area
// of an origin. Requires the DOMStorage domain.
func (c *Client) SetStorageItem(ctx context.Context, origin string, local bool, key, value string) Envelope {
	if err := c.requireDomain(DomainDOMStorage); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}
	if origin == "" || key == "" {
		return failure(fmt.Errorf("origin and key are required"))
	}

	params := &domstorage.SetDOMStorageItemParams{
		StorageID: storageID(origin, local),
		Key:       key,
		Value:     value,
	}
	if err := conn.Execute(ctx, domstorage.CommandSetDOMStorageItem, params, nil); err != nil {
		return failure(fmt.Errorf("writing storage key %q of %q: %w", key, origin, err))
	}
	return success(map[string]any{"origin": origin, "key": key, "set": true})
}

// RemoveStorageItem deletes one key from the local or session storage
// area of an origin. Requires the DOMStorage domain.
func (c *Client) RemoveStorageItem(ctx context.Context, origin string, local bool, key string) Envelope {
	if err := c.requireDomain(DomainDOMStorage); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}
	if origin == "" || key == "" {
		return failure(fmt.Errorf("origin and key are required"))
	}

	params := &domstorage.RemoveDOMStorageItemParams{
		StorageID: storageID(origin, local),
		Key:       key,
	}
	if err := conn.Execute(ctx, domstorage.CommandRemoveDOMStorageItem, params, nil); err != nil {
		return failure(fmt.Errorf("removing storage key %q of %q: %w", key, origin, err))
	}
	return success(map[string]any{"origin": origin, "key": key, "removed": true})
}

// ClearStorage empties the local or session storage area of an origin.
// Requires the DOMStorage domain.
func (c *Client) ClearStorage(ctx context.Context, origin string, local bool) Envelope {
	if err := c.requireDomain(DomainDOMStorage); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}
	if origin == "" {
		return failure(fmt.Errorf("origin is required"))
	}

	params := &domstorage.ClearParams{StorageID: storageID(origin, local)}
	if err := conn.Execute(ctx, domstorage.CommandClear, params, nil); err != nil {
		return failure(fmt.Errorf("clearing storage of %q: %w", origin, err))
	}
	return success(map[string]any{"origin": origin, "isLocalStorage": local, "cleared": true})
}

// StorageEvents returns the captured storage mutation records matching
// the filter. Requires the DOMStorage domain, which feeds the tracker.
func (c *Client) StorageEvents(filter StorageFilter) Envelope {
	if _, err := c.connected(); err != nil {
		return failure(err)
	}
	if err := c.requireDomain(DomainDOMStorage); err != nil {
		return failure(err)
	}
	_, _, tracker := c.ledgers()
	records := tracker.Query(filter)
	return success(map[string]any{
		"count":  len(records),
		"held":   tracker.Len(),
		"events": records,
	})
}
