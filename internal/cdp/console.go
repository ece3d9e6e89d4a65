package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/runtime"
)

// PropertyShape is one shaped property of an inspected object.
type PropertyShape struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Value    string `json:"value"`
	Writable bool   `json:"writable"`
}

// ExecuteJavaScript evaluates the expression in the page and returns
// its value by copy. Thrown exceptions surface as a failed envelope
// carrying the exception text. Requires the Runtime domain.
func (c *Client) ExecuteJavaScript(ctx context.Context, expression string) Envelope {
	if err := c.requireDomain(DomainRuntime); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	params := &runtime.EvaluateParams{
		Expression:    expression,
		ReturnByValue: true,
		AwaitPromise:  true,
	}
	res := new(runtime.EvaluateReturns)
	if err := conn.Execute(ctx, runtime.CommandEvaluate, params, res); err != nil {
		return failure(fmt.Errorf("evaluating expression: %w", err))
	}
	if res.ExceptionDetails != nil {
		return failure(fmt.Errorf("uncaught exception: %s", ExceptionText(res.ExceptionDetails)))
	}
	if res.Result == nil {
		return success(nil)
	}
	if len(res.Result.Value) > 0 {
		return success(json.RawMessage(res.Result.Value))
	}
	return success(map[string]any{
		"type":        string(res.Result.Type),
		"description": FormatRemoteObject(res.Result),
	})
}

// evaluateJSON evaluates an expression expected to produce a JSON
// string and returns the decoded document.
func (c *Client) evaluateJSON(ctx context.Context, expression string) Envelope {
	env := c.ExecuteJavaScript(ctx, expression)
	if !env.Success {
		return env
	}
	raw, ok := env.Data.(json.RawMessage)
	if !ok {
		return env
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return env
	}
	return success(json.RawMessage(encoded))
}

// InspectConsoleObject evaluates the expression and lists the own
// properties of the resulting object, releasing the remote handle
// afterwards. Requires the Runtime domain.
func (c *Client) InspectConsoleObject(ctx context.Context, expression string) Envelope {
	if err := c.requireDomain(DomainRuntime); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	eval := new(runtime.EvaluateReturns)
	if err := conn.Execute(ctx, runtime.CommandEvaluate, &runtime.EvaluateParams{Expression: expression}, eval); err != nil {
		return failure(fmt.Errorf("evaluating expression: %w", err))
	}
	if eval.ExceptionDetails != nil {
		return failure(fmt.Errorf("uncaught exception: %s", ExceptionText(eval.ExceptionDetails)))
	}
	if eval.Result == nil || eval.Result.ObjectID == "" {
		// Primitive result, nothing to walk.
		return success(map[string]any{
			"type":       string(typeOf(eval.Result)),
			"value":      FormatRemoteObject(eval.Result),
			"properties": []PropertyShape{},
		})
	}

	props := new(runtime.GetPropertiesReturns)
	getParams := &runtime.GetPropertiesParams{
		ObjectID:      eval.Result.ObjectID,
		OwnProperties: true,
	}
	if err := conn.Execute(ctx, runtime.CommandGetProperties, getParams, props); err != nil {
		return failure(fmt.Errorf("reading object properties: %w", err))
	}

	release := &runtime.ReleaseObjectParams{ObjectID: eval.Result.ObjectID}
	if err := conn.Execute(ctx, runtime.CommandReleaseObject, release, nil); err != nil {
		c.logger.Warnf("cdp:client", "releasing remote object: %v", err)
	}

	shaped := make([]PropertyShape, 0, len(props.Result))
	for _, p := range props.Result {
		if p == nil {
			continue
		}
		shape := PropertyShape{Name: p.Name, Writable: p.Writable}
		if p.Value != nil {
			shape.Type = string(p.Value.Type)
			shape.Value = FormatRemoteObject(p.Value)
		}
		shaped = append(shaped, shape)
	}
	return success(map[string]any{
		"type":        string(eval.Result.Type),
		"className":   eval.Result.ClassName,
		"description": eval.Result.Description,
		"properties":  shaped,
	})
}

func typeOf(obj *runtime.RemoteObject) runtime.Type {
	if obj == nil {
		return ""
	}
	return obj.Type
}

// ConsoleLogs returns captured console messages matching the filter.
// Requires the Runtime domain, which is what feeds the ledger.
func (c *Client) ConsoleLogs(filter ConsoleFilter) Envelope {
	if _, err := c.connected(); err != nil {
		return failure(err)
	}
	if err := c.requireDomain(DomainRuntime); err != nil {
		return failure(err)
	}
	_, ledger, _ := c.ledgers()
	records := ledger.Query(filter)
	return success(map[string]any{
		"count":    len(records),
		"held":     ledger.Len(),
		"messages": records,
	})
}

// ConsoleErrorSummary aggregates the captured error-level messages and
// exceptions: totals plus the most recent entries. Requires the
// Runtime domain.
func (c *Client) ConsoleErrorSummary(limit int) Envelope {
	if _, err := c.connected(); err != nil {
		return failure(err)
	}
	if err := c.requireDomain(DomainRuntime); err != nil {
		return failure(err)
	}
	if limit <= 0 {
		limit = 10
	}

	_, ledger, _ := c.ledgers()
	errors := ledger.Query(ConsoleFilter{ErrorsOnly: true})
	exceptions := 0
	for _, rec := range errors {
		if rec.Exception {
			exceptions++
		}
	}
	recent := errors
	if len(recent) > limit {
		recent = recent[:limit]
	}
	return success(map[string]any{
		"errorCount":     len(errors),
		"exceptionCount": exceptions,
		"recent":         recent,
	})
}

// MonitorConsole watches the console for the given duration and
// returns only the messages that arrived while watching, oldest first.
// Requires the Runtime domain, which feeds the ledger.
func (c *Client) MonitorConsole(ctx context.Context, duration time.Duration) Envelope {
	if _, err := c.connected(); err != nil {
		return failure(err)
	}
	if err := c.requireDomain(DomainRuntime); err != nil {
		return failure(err)
	}
	if duration <= 0 {
		duration = 10 * time.Second
	}

	_, ledger, _ := c.ledgers()
	before := ledger.Total()

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return failure(ctx.Err())
	case <-timer.C:
	}

	added := ledger.Total() - before
	messages := []ConsoleMessageRecord{}
	if added > 0 {
		recent := ledger.Query(ConsoleFilter{Limit: added})
		// Query reports most recent first, flip back to arrival order.
		for i := len(recent) - 1; i >= 0; i-- {
			messages = append(messages, recent[i])
		}
	}
	return success(map[string]any{
		"durationSeconds": duration.Seconds(),
		"initialCount":    before,
		"finalCount":      before + added,
		"newCount":        added,
		"messages":        messages,
	})
}

// ClearConsole empties the console ledger and asks the browser to
// discard its own buffered entries. Requires the Runtime domain.
func (c *Client) ClearConsole(ctx context.Context) Envelope {
	if err := c.requireDomain(DomainRuntime); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	_, ledger, _ := c.ledgers()
	ledger.Clear()
	if err := conn.Execute(ctx, runtime.CommandDiscardConsoleEntries, nil, nil); err != nil {
		return failure(fmt.Errorf("discarding browser console entries: %w", err))
	}
	return success(map[string]any{"cleared": true})
}
