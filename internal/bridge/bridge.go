// Package bridge exposes the protocol client as a named-operation
// surface for tool-calling agents: requests name an operation and carry
// loosely typed parameters, replies are uniform envelopes.
package bridge

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tidwall/gjson"
	"gopkg.in/guregu/null.v3"

	"devtoolsbridge/internal/cdp"
	"devtoolsbridge/internal/log"
)

// Handler executes one named operation with its raw parameters.
type Handler func(ctx context.Context, params gjson.Result) cdp.Envelope

// Bridge routes operation requests to the client.
type Bridge struct {
	client   *cdp.Client
	logger   *log.Logger
	handlers map[string]Handler
}

// New creates a bridge with the full operation set registered.
func New(client *cdp.Client, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	b := &Bridge{
		client:   client,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
	b.registerAll()
	return b
}

// Register adds or replaces a named operation.
func (b *Bridge) Register(name string, handler Handler) {
	b.handlers[name] = handler
}

// Operations returns the registered operation names, sorted.
func (b *Bridge) Operations() []string {
	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the named operation. Unknown names fail in the same
// envelope shape as any other error, so callers have one decode path.
func (b *Bridge) Dispatch(ctx context.Context, name string, rawParams []byte) cdp.Envelope {
	handler, ok := b.handlers[name]
	if !ok {
		return cdp.Fail(fmt.Errorf("unknown operation %q", name))
	}
	params := gjson.ParseBytes(rawParams)
	b.logger.Debugf("bridge", "dispatching %s", name)
	return handler(ctx, params)
}

//nolint:funlen
func (b *Bridge) registerAll() {
	c := b.client

	b.Register("connect", func(ctx context.Context, _ gjson.Result) cdp.Envelope {
		return c.Connect(ctx)
	})
	b.Register("disconnect", func(_ context.Context, _ gjson.Result) cdp.Envelope {
		return c.Disconnect()
	})
	b.Register("status", func(_ context.Context, _ gjson.Result) cdp.Envelope {
		return c.Status()
	})
	b.Register("list_operations", func(_ context.Context, _ gjson.Result) cdp.Envelope {
		return cdp.OK(map[string]any{"operations": b.Operations()})
	})

	b.Register("enable_domain", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.EnableDomain(ctx, p.Get("domain").String())
	})
	b.Register("disable_domain", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.DisableDomain(ctx, p.Get("domain").String())
	})
	b.Register("enable_domains", func(ctx context.Context, _ gjson.Result) cdp.Envelope {
		return c.EnableDomains(ctx)
	})

	b.Register("navigate", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		url := p.Get("url").String()
		if url == "" {
			return cdp.Fail(fmt.Errorf("navigate: url parameter is required"))
		}
		return c.Navigate(ctx, url)
	})
	b.Register("reload", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.Reload(ctx, p.Get("ignoreCache").Bool())
	})
	b.Register("navigation_history", func(ctx context.Context, _ gjson.Result) cdp.Envelope {
		return c.GetNavigationHistory(ctx)
	})
	b.Register("page_info", func(ctx context.Context, _ gjson.Result) cdp.Envelope {
		return c.GetPageInfo(ctx)
	})
	b.Register("target_info", func(ctx context.Context, _ gjson.Result) cdp.Envelope {
		return c.GetTargetInfo(ctx)
	})
	b.Register("list_frames", func(ctx context.Context, _ gjson.Result) cdp.Envelope {
		return c.ListFrames(ctx)
	})
	b.Register("evaluate_in_all_frames", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		code := p.Get("code").String()
		if code == "" {
			return cdp.Fail(fmt.Errorf("evaluate_in_all_frames: code parameter is required"))
		}
		return c.EvaluateInAllFrames(ctx, code)
	})

	b.Register("execute_js", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		code := p.Get("code").String()
		if code == "" {
			return cdp.Fail(fmt.Errorf("execute_js: code parameter is required"))
		}
		return c.ExecuteJavaScript(ctx, code)
	})
	b.Register("inspect_object", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		expr := p.Get("expression").String()
		if expr == "" {
			return cdp.Fail(fmt.Errorf("inspect_object: expression parameter is required"))
		}
		return c.InspectConsoleObject(ctx, expr)
	})
	b.Register("console_logs", func(_ context.Context, p gjson.Result) cdp.Envelope {
		return c.ConsoleLogs(cdp.ConsoleFilter{
			Level:      p.Get("level").String(),
			ErrorsOnly: p.Get("errorsOnly").Bool(),
			Limit:      int(p.Get("limit").Int()),
		})
	})
	b.Register("console_error_summary", func(_ context.Context, p gjson.Result) cdp.Envelope {
		return c.ConsoleErrorSummary(int(p.Get("limit").Int()))
	})
	b.Register("clear_console", func(ctx context.Context, _ gjson.Result) cdp.Envelope {
		return c.ClearConsole(ctx)
	})
	b.Register("monitor_console", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.MonitorConsole(ctx, time.Duration(p.Get("seconds").Float()*float64(time.Second)))
	})

	b.Register("network_requests", func(_ context.Context, p gjson.Result) cdp.Envelope {
		filter := cdp.NetworkFilter{
			HostContains: p.Get("host").String(),
			Limit:        int(p.Get("limit").Int()),
		}
		if status := p.Get("status"); status.Exists() {
			filter.Status = null.IntFrom(status.Int())
		}
		return c.NetworkRequests(filter)
	})
	b.Register("clear_network", func(_ context.Context, _ gjson.Result) cdp.Envelope {
		return c.ClearNetworkLog()
	})
	b.Register("get_cookies", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.GetCookies(ctx, p.Get("domain").String())
	})

	b.Register("get_document", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		depth := int64(2)
		if d := p.Get("depth"); d.Exists() {
			depth = d.Int()
		}
		return c.GetDocument(ctx, depth)
	})
	b.Register("query_selector", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		selector := p.Get("selector").String()
		if selector == "" {
			return cdp.Fail(fmt.Errorf("query_selector: selector parameter is required"))
		}
		return c.QuerySelector(ctx, selector)
	})
	b.Register("query_selector_all", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		selector := p.Get("selector").String()
		if selector == "" {
			return cdp.Fail(fmt.Errorf("query_selector_all: selector parameter is required"))
		}
		return c.QuerySelectorAll(ctx, selector)
	})
	b.Register("get_attributes", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.GetElementAttributes(ctx, p.Get("nodeId").Int())
	})
	b.Register("get_outer_html", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.GetElementOuterHTML(ctx, p.Get("nodeId").Int())
	})
	b.Register("get_box_model", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.GetElementBoxModel(ctx, p.Get("nodeId").Int())
	})
	b.Register("describe_element", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		depth := int64(1)
		if d := p.Get("depth"); d.Exists() {
			depth = d.Int()
		}
		return c.DescribeElement(ctx, p.Get("nodeId").Int(), depth)
	})
	b.Register("focus_element", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.FocusElement(ctx, p.Get("nodeId").Int())
	})
	b.Register("search_elements", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		query := p.Get("query").String()
		if query == "" {
			return cdp.Fail(fmt.Errorf("search_elements: query parameter is required"))
		}
		return c.SearchElements(ctx, query, p.Get("limit").Int())
	})
	b.Register("element_at_position", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.GetElementAtPosition(ctx, p.Get("x").Int(), p.Get("y").Int())
	})

	b.Register("computed_styles", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.GetComputedStyles(ctx, p.Get("nodeId").Int())
	})
	b.Register("inline_styles", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.GetInlineStyles(ctx, p.Get("nodeId").Int())
	})
	b.Register("matched_styles", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.GetMatchedStyles(ctx, p.Get("nodeId").Int())
	})
	b.Register("stylesheet_text", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.GetStylesheetText(ctx, p.Get("styleSheetId").String())
	})
	b.Register("css_class_names", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.CollectCSSClassNames(ctx, p.Get("styleSheetId").String())
	})
	b.Register("media_queries", func(ctx context.Context, _ gjson.Result) cdp.Envelope {
		return c.GetMediaQueries(ctx)
	})
	b.Register("platform_fonts", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.GetPlatformFonts(ctx, p.Get("nodeId").Int())
	})
	b.Register("background_colors", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.GetBackgroundColors(ctx, p.Get("nodeId").Int())
	})
	b.Register("start_css_coverage", func(ctx context.Context, _ gjson.Result) cdp.Envelope {
		return c.StartCSSCoverage(ctx)
	})
	b.Register("stop_css_coverage", func(ctx context.Context, _ gjson.Result) cdp.Envelope {
		return c.StopCSSCoverage(ctx)
	})

	b.Register("performance_metrics", func(ctx context.Context, _ gjson.Result) cdp.Envelope {
		return c.GetPerformanceMetrics(ctx)
	})
	b.Register("storage_quota", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.GetStorageQuota(ctx, p.Get("origin").String())
	})
	b.Register("storage_items", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.GetStorageItems(ctx, p.Get("origin").String(), isLocal(p))
	})
	b.Register("set_storage_item", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.SetStorageItem(ctx,
			p.Get("origin").String(), isLocal(p),
			p.Get("key").String(), p.Get("value").String())
	})
	b.Register("remove_storage_item", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.RemoveStorageItem(ctx, p.Get("origin").String(), isLocal(p), p.Get("key").String())
	})
	b.Register("clear_storage", func(ctx context.Context, p gjson.Result) cdp.Envelope {
		return c.ClearStorage(ctx, p.Get("origin").String(), isLocal(p))
	})
	b.Register("storage_events", func(_ context.Context, p gjson.Result) cdp.Envelope {
		return c.StorageEvents(cdp.StorageFilter{
			Origin: p.Get("origin").String(),
			Limit:  int(p.Get("limit").Int()),
		})
	})
}

// isLocal defaults to local storage unless sessionStorage is asked for
// explicitly.
func isLocal(p gjson.Result) bool {
	if v := p.Get("isLocalStorage"); v.Exists() {
		return v.Bool()
	}
	return true
}
