package cdp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
)

// NavigationResult is the shaped reply for a navigate call. Note that
// command completion does not imply the page finished loading: a caller
// that needs load completion must watch for the lifecycle event, not
// infer it from this reply.
type NavigationResult struct {
	URL      string `json:"url"`
	FrameID  string `json:"frameId"`
	LoaderID string `json:"loaderId,omitempty"`
}

// NavigationEntry is one shaped history entry.
type NavigationEntry struct {
	Index   int    `json:"index"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Current bool   `json:"current"`
}

// Navigate drives the page to the given URL. It needs no domain
// activation. When the clear-on-navigate policy is active, the network
// and console ledgers are reset before the command is issued.
func (c *Client) Navigate(ctx context.Context, url string) Envelope {
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	if c.opts.clearOnNavigate() {
		network0, console0, _ := c.ledgers()
		network0.Clear()
		console0.Clear()
	}

	res := new(page.NavigateReturns)
	if err := conn.Execute(ctx, page.CommandNavigate, &page.NavigateParams{URL: url}, res); err != nil {
		return failure(fmt.Errorf("navigating to %q: %w", url, err))
	}
	if res.ErrorText != "" {
		return failure(fmt.Errorf("navigating to %q: %s", url, res.ErrorText))
	}
	return success(NavigationResult{
		URL:      url,
		FrameID:  string(res.FrameID),
		LoaderID: string(res.LoaderID),
	})
}

// Reload reloads the current page, optionally bypassing the cache.
func (c *Client) Reload(ctx context.Context, ignoreCache bool) Envelope {
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	if c.opts.clearOnNavigate() {
		network0, console0, _ := c.ledgers()
		network0.Clear()
		console0.Clear()
	}

	params := &page.ReloadParams{IgnoreCache: ignoreCache}
	if err := conn.Execute(ctx, page.CommandReload, params, nil); err != nil {
		return failure(fmt.Errorf("reloading page: %w", err))
	}
	return success(map[string]any{"reloaded": true, "ignoreCache": ignoreCache})
}

// GetNavigationHistory returns the session history, newest entry last.
func (c *Client) GetNavigationHistory(ctx context.Context) Envelope {
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(page.GetNavigationHistoryReturns)
	if err := conn.Execute(ctx, page.CommandGetNavigationHistory, nil, res); err != nil {
		return failure(fmt.Errorf("reading navigation history: %w", err))
	}

	entries := make([]NavigationEntry, 0, len(res.Entries))
	for i, e := range res.Entries {
		entries = append(entries, NavigationEntry{
			Index:   i,
			URL:     e.URL,
			Title:   e.Title,
			Current: int64(i) == res.CurrentIndex,
		})
	}
	return success(map[string]any{
		"currentIndex": res.CurrentIndex,
		"entries":      entries,
	})
}

// GetTargetInfo reports what the browser knows about the attached
// target.
func (c *Client) GetTargetInfo(ctx context.Context) Envelope {
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(target.GetTargetInfoReturns)
	if err := conn.Execute(ctx, target.CommandGetTargetInfo, &target.GetTargetInfoParams{}, res); err != nil {
		return failure(fmt.Errorf("reading target info: %w", err))
	}
	if res.TargetInfo == nil {
		return failure(fmt.Errorf("browser returned no target info"))
	}
	return success(map[string]any{
		"targetId": string(res.TargetInfo.TargetID),
		"type":     res.TargetInfo.Type,
		"title":    res.TargetInfo.Title,
		"url":      res.TargetInfo.URL,
		"attached": res.TargetInfo.Attached,
	})
}

// FrameShape is one shaped frame of the page's frame tree.
type FrameShape struct {
	FrameID        string `json:"frameId"`
	ParentID       string `json:"parentId,omitempty"`
	Name           string `json:"name,omitempty"`
	URL            string `json:"url"`
	SecurityOrigin string `json:"securityOrigin,omitempty"`
	MimeType       string `json:"mimeType,omitempty"`
}

func flattenFrameTree(node *page.FrameTree, out []FrameShape) []FrameShape {
	if node == nil || node.Frame == nil {
		return out
	}
	f := node.Frame
	out = append(out, FrameShape{
		FrameID:        string(f.ID),
		ParentID:       string(f.ParentID),
		Name:           f.Name,
		URL:            f.URL,
		SecurityOrigin: f.SecurityOrigin,
		MimeType:       f.MimeType,
	})
	for _, child := range node.ChildFrames {
		out = flattenFrameTree(child, out)
	}
	return out
}

// ListFrames returns every frame of the page in depth-first order,
// main frame first. It needs no domain activation.
func (c *Client) ListFrames(ctx context.Context) Envelope {
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(page.GetFrameTreeReturns)
	if err := conn.Execute(ctx, page.CommandGetFrameTree, nil, res); err != nil {
		return failure(fmt.Errorf("reading frame tree: %w", err))
	}
	frames := flattenFrameTree(res.FrameTree, nil)
	return success(map[string]any{
		"count":  len(frames),
		"frames": frames,
	})
}

// FrameEvaluation is the per-frame outcome of evaluating an expression
// across the frame tree.
type FrameEvaluation struct {
	FrameID string          `json:"frameId"`
	URL     string          `json:"frameUrl"`
	Success bool            `json:"success"`
	Value   json.RawMessage `json:"value,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// EvaluateInAllFrames runs the expression once per frame of the page
// and collects every per-frame outcome, failures included. Requires
// the Runtime domain.
func (c *Client) EvaluateInAllFrames(ctx context.Context, expression string) Envelope {
	if err := c.requireDomain(DomainRuntime); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	tree := new(page.GetFrameTreeReturns)
	if err := conn.Execute(ctx, page.CommandGetFrameTree, nil, tree); err != nil {
		return failure(fmt.Errorf("reading frame tree: %w", err))
	}
	frames := flattenFrameTree(tree.FrameTree, nil)

	results := make([]FrameEvaluation, 0, len(frames))
	for _, frame := range frames {
		entry := FrameEvaluation{FrameID: frame.FrameID, URL: frame.URL}
		params := &runtime.EvaluateParams{Expression: expression, ReturnByValue: true}
		res := new(runtime.EvaluateReturns)
		switch err := conn.Execute(ctx, runtime.CommandEvaluate, params, res); {
		case err != nil:
			entry.Error = err.Error()
		case res.ExceptionDetails != nil:
			entry.Error = ExceptionText(res.ExceptionDetails)
		default:
			entry.Success = true
			if res.Result != nil && len(res.Result.Value) > 0 {
				entry.Value = json.RawMessage(res.Result.Value)
			}
		}
		results = append(results, entry)
	}
	return success(map[string]any{
		"frameCount": len(frames),
		"results":    results,
	})
}

// GetPageInfo reports the document's title, URL and ready state.
// Requires the Runtime domain.
func (c *Client) GetPageInfo(ctx context.Context) Envelope {
	if err := c.requireDomain(DomainRuntime); err != nil {
		return failure(err)
	}
	const expr = `JSON.stringify({
		title: document.title,
		url: window.location.href,
		readyState: document.readyState,
		characterSet: document.characterSet
	})`
	return c.evaluateJSON(ctx, expr)
}
