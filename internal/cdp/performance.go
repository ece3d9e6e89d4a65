package cdp

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/performance"
	"github.com/chromedp/cdproto/storage"
)

// GetPerformanceMetrics returns the browser's runtime metrics as a
// name/value map. Requires the Performance domain, which starts metric
// collection when enabled.
func (c *Client) GetPerformanceMetrics(ctx context.Context) Envelope {
	if err := c.requireDomain(DomainPerformance); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(performance.GetMetricsReturns)
	if err := conn.Execute(ctx, performance.CommandGetMetrics, nil, res); err != nil {
		return failure(fmt.Errorf("reading performance metrics: %w", err))
	}

	metrics := make(map[string]float64, len(res.Metrics))
	for _, m := range res.Metrics {
		if m != nil {
			metrics[m.Name] = m.Value
		}
	}
	return success(map[string]any{
		"count":   len(metrics),
		"metrics": metrics,
	})
}

// GetStorageQuota reports usage and quota for an origin, with
// human-readable sizes alongside the raw byte counts.
func (c *Client) GetStorageQuota(ctx context.Context, origin string) Envelope {
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}
	if origin == "" {
		return failure(fmt.Errorf("origin is required"))
	}

	res := new(storage.GetUsageAndQuotaReturns)
	params := &storage.GetUsageAndQuotaParams{Origin: origin}
	if err := conn.Execute(ctx, storage.CommandGetUsageAndQuota, params, res); err != nil {
		return failure(fmt.Errorf("reading storage quota for %q: %w", origin, err))
	}

	breakdown := make([]map[string]any, 0, len(res.UsageBreakdown))
	for _, u := range res.UsageBreakdown {
		if u == nil {
			continue
		}
		breakdown = append(breakdown, map[string]any{
			"storageType": string(u.StorageType),
			"usage":       u.Usage,
			"usageText":   formatBytes(u.Usage),
		})
	}

	var pct float64
	if res.Quota > 0 {
		pct = res.Usage / res.Quota * 100
	}
	return success(map[string]any{
		"origin":         origin,
		"usage":          res.Usage,
		"usageText":      formatBytes(res.Usage),
		"quota":          res.Quota,
		"quotaText":      formatBytes(res.Quota),
		"usagePercent":   pct,
		"overrideActive": res.OverrideActive,
		"breakdown":      breakdown,
	})
}
