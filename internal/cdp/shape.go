package cdp

import (
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/tidwall/gjson"
)

// Pure transformation helpers shared by the operation surface. None of
// them perform protocol I/O, so they can be exercised with canned
// payloads.

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// FormatRemoteObject renders a protocol remote object as a short
// human-readable string: primitive values verbatim, everything else by
// its description or class name.
func FormatRemoteObject(obj *runtime.RemoteObject) string {
	if obj == nil {
		return ""
	}
	if len(obj.Value) > 0 {
		return gjson.ParseBytes(obj.Value).String()
	}
	if obj.UnserializableValue != "" {
		return string(obj.UnserializableValue)
	}
	if obj.Description != "" {
		return obj.Description
	}
	if obj.ClassName != "" {
		return obj.ClassName
	}
	return string(obj.Type)
}

// ExceptionText builds the console text for a thrown exception,
// preferring the exception object's own description over the generic
// "Uncaught" text.
func ExceptionText(details *runtime.ExceptionDetails) string {
	if details == nil {
		return ""
	}
	if details.Exception != nil {
		if s := FormatRemoteObject(details.Exception); s != "" {
			return s
		}
	}
	return details.Text
}

// NormalizeTimestamp converts a protocol timestamp into a time.Time.
// Browsers report either seconds or milliseconds since the epoch
// depending on the domain; anything above 1e10 is treated as
// milliseconds.
func NormalizeTimestamp(ts float64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	if ts > 1e10 {
		ts /= 1000
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// formatBytes renders a byte count the way the storage quota surface
// reports it.
func formatBytes(n float64) string {
	const unit = 1024.0
	switch {
	case n >= unit*unit*unit:
		return fmt.Sprintf("%.2f GB", n/(unit*unit*unit))
	case n >= unit*unit:
		return fmt.Sprintf("%.2f MB", n/(unit*unit))
	case n >= unit:
		return fmt.Sprintf("%.2f KB", n/unit)
	default:
		return fmt.Sprintf("%.0f B", n)
	}
}

// attributePairs folds the protocol's flat [name, value, ...] attribute
// list into a map, ignoring a trailing odd entry.
func attributePairs(attrs []string) map[string]string {
	if len(attrs) < 2 {
		return nil
	}
	out := make(map[string]string, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		out[attrs[i]] = attrs[i+1]
	}
	return out
}
