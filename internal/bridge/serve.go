package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"devtoolsbridge/internal/cdp"
)

// maxRequestLine bounds a single request frame. Large payloads travel
// the other way; requests are operation names plus small parameters.
const maxRequestLine = 1 << 20

// Request is one line-delimited JSON request frame.
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Op     string          `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the reply frame: the operation's envelope plus the
// request id echoed back for correlation.
type Response struct {
	ID json.RawMessage `json:"id,omitempty"`
	cdp.Envelope
}

// Serve reads newline-delimited JSON requests from r and writes one
// reply line per request to w, in order. It returns when r is
// exhausted, ctx is canceled, or w fails.
func (b *Bridge) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestLine)

	enc := json.NewEncoder(w)
	var writeMu sync.Mutex

	reply := func(id json.RawMessage, env cdp.Envelope) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return enc.Encode(Response{ID: id, Envelope: env})
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			if err := reply(nil, cdp.Fail(fmt.Errorf("malformed request: %w", err))); err != nil {
				return fmt.Errorf("writing reply: %w", err)
			}
			continue
		}
		if req.Op == "" {
			req.Op = gjson.Parse(line).Get("method").String()
		}
		if req.Op == "" {
			if err := reply(req.ID, cdp.Fail(fmt.Errorf("request names no operation"))); err != nil {
				return fmt.Errorf("writing reply: %w", err)
			}
			continue
		}

		env := b.Dispatch(ctx, req.Op, req.Params)
		if err := reply(req.ID, env); err != nil {
			return fmt.Errorf("writing reply: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading requests: %w", err)
	}
	return nil
}
