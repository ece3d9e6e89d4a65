package cdp

import (
	"context"
	"fmt"

	cdppkg "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"gopkg.in/guregu/null.v3"
)

// NodeSummary is the shaped form of a document node. Children are
// included only to the depth the backend returned them.
type NodeSummary struct {
	NodeID        int64             `json:"nodeId"`
	BackendNodeID int64             `json:"backendNodeId,omitempty"`
	NodeType      int64             `json:"nodeType"`
	NodeName      string            `json:"nodeName"`
	LocalName     string            `json:"localName,omitempty"`
	NodeValue     string            `json:"nodeValue,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	ChildCount    int64             `json:"childCount,omitempty"`
	Children      []NodeSummary     `json:"children,omitempty"`
	DocumentURL   string            `json:"documentUrl,omitempty"`
}

// BoxModelShape reports element geometry. The quads stay null when the
// backend omits them, so a caller can tell "absent" from "zero".
type BoxModelShape struct {
	Width   int64      `json:"width"`
	Height  int64      `json:"height"`
	Content []float64  `json:"content,omitempty"`
	Padding []float64  `json:"padding,omitempty"`
	Border  []float64  `json:"border,omitempty"`
	Margin  []float64  `json:"margin,omitempty"`
	X       null.Float `json:"x"`
	Y       null.Float `json:"y"`
}

func summarizeNode(node *cdppkg.Node) NodeSummary {
	out := NodeSummary{
		NodeID:        int64(node.NodeID),
		BackendNodeID: int64(node.BackendNodeID),
		NodeType:      int64(node.NodeType),
		NodeName:      node.NodeName,
		LocalName:     node.LocalName,
		NodeValue:     node.NodeValue,
		Attributes:    attributePairs(node.Attributes),
		ChildCount:    node.ChildNodeCount,
		DocumentURL:   node.DocumentURL,
	}
	for _, child := range node.Children {
		if child != nil {
			out.Children = append(out.Children, summarizeNode(child))
		}
	}
	return out
}

// GetDocument returns the document tree to the requested depth
// (depth < 0 means the entire tree). Requires the DOM domain.
func (c *Client) GetDocument(ctx context.Context, depth int64) Envelope {
	if err := c.requireDomain(DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(dom.GetDocumentReturns)
	if err := conn.Execute(ctx, dom.CommandGetDocument, &dom.GetDocumentParams{Depth: depth}, res); err != nil {
		return failure(fmt.Errorf("reading document: %w", err))
	}
	if res.Root == nil {
		return failure(fmt.Errorf("browser returned no document root"))
	}
	return success(summarizeNode(res.Root))
}

func (c *Client) documentRoot(ctx context.Context, conn *Connection) (cdppkg.NodeID, error) {
	res := new(dom.GetDocumentReturns)
	if err := conn.Execute(ctx, dom.CommandGetDocument, &dom.GetDocumentParams{Depth: 0}, res); err != nil {
		return 0, fmt.Errorf("reading document root: %w", err)
	}
	if res.Root == nil {
		return 0, fmt.Errorf("browser returned no document root")
	}
	return res.Root.NodeID, nil
}

// QuerySelector resolves the first element matching the CSS selector
// against the document root. A selector with no match returns a zero
// node id, not an error. Requires the DOM domain.
func (c *Client) QuerySelector(ctx context.Context, selector string) Envelope {
	if err := c.requireDomain(DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	root, err := c.documentRoot(ctx, conn)
	if err != nil {
		return failure(err)
	}
	res := new(dom.QuerySelectorReturns)
	params := &dom.QuerySelectorParams{NodeID: root, Selector: selector}
	if err := conn.Execute(ctx, dom.CommandQuerySelector, params, res); err != nil {
		return failure(fmt.Errorf("querying selector %q: %w", selector, err))
	}
	return success(map[string]any{
		"selector": selector,
		"nodeId":   int64(res.NodeID),
		"found":    res.NodeID != 0,
	})
}

// QuerySelectorAll resolves every element matching the CSS selector
// against the document root. Requires the DOM domain.
func (c *Client) QuerySelectorAll(ctx context.Context, selector string) Envelope {
	if err := c.requireDomain(DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	root, err := c.documentRoot(ctx, conn)
	if err != nil {
		return failure(err)
	}
	res := new(dom.QuerySelectorAllReturns)
	params := &dom.QuerySelectorAllParams{NodeID: root, Selector: selector}
	if err := conn.Execute(ctx, dom.CommandQuerySelectorAll, params, res); err != nil {
		return failure(fmt.Errorf("querying selector %q: %w", selector, err))
	}
	ids := make([]int64, 0, len(res.NodeIDs))
	for _, id := range res.NodeIDs {
		ids = append(ids, int64(id))
	}
	return success(map[string]any{
		"selector": selector,
		"count":    len(ids),
		"nodeIds":  ids,
	})
}

// GetElementAttributes returns the attributes of a node as a map.
// Requires the DOM domain.
func (c *Client) GetElementAttributes(ctx context.Context, nodeID int64) Envelope {
	if err := c.requireDomain(DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(dom.GetAttributesReturns)
	params := &dom.GetAttributesParams{NodeID: cdppkg.NodeID(nodeID)}
	if err := conn.Execute(ctx, dom.CommandGetAttributes, params, res); err != nil {
		return failure(fmt.Errorf("reading attributes of node %d: %w", nodeID, err))
	}
	return success(map[string]any{
		"nodeId":     nodeID,
		"attributes": attributePairs(res.Attributes),
	})
}

// GetElementOuterHTML returns the serialized markup of a node.
// Requires the DOM domain.
func (c *Client) GetElementOuterHTML(ctx context.Context, nodeID int64) Envelope {
	if err := c.requireDomain(DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(dom.GetOuterHTMLReturns)
	params := &dom.GetOuterHTMLParams{NodeID: cdppkg.NodeID(nodeID)}
	if err := conn.Execute(ctx, dom.CommandGetOuterHTML, params, res); err != nil {
		return failure(fmt.Errorf("reading outer HTML of node %d: %w", nodeID, err))
	}
	return success(map[string]any{
		"nodeId":    nodeID,
		"outerHTML": res.OuterHTML,
	})
}

// GetElementBoxModel returns element geometry. Hidden elements have no
// box model; the browser's error for that case is passed through.
// Requires the DOM domain.
func (c *Client) GetElementBoxModel(ctx context.Context, nodeID int64) Envelope {
	if err := c.requireDomain(DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(dom.GetBoxModelReturns)
	params := &dom.GetBoxModelParams{NodeID: cdppkg.NodeID(nodeID)}
	if err := conn.Execute(ctx, dom.CommandGetBoxModel, params, res); err != nil {
		return failure(fmt.Errorf("reading box model of node %d: %w", nodeID, err))
	}
	if res.Model == nil {
		return failure(fmt.Errorf("node %d has no box model", nodeID))
	}

	shape := BoxModelShape{
		Width:   res.Model.Width,
		Height:  res.Model.Height,
		Content: res.Model.Content,
		Padding: res.Model.Padding,
		Border:  res.Model.Border,
		Margin:  res.Model.Margin,
	}
	// The content quad is [x1,y1, x2,y2, x3,y3, x4,y4]; its first
	// corner is the element's position.
	if len(res.Model.Content) >= 2 {
		shape.X = null.FloatFrom(res.Model.Content[0])
		shape.Y = null.FloatFrom(res.Model.Content[1])
	}
	return success(shape)
}

// DescribeElement returns the node subtree to the requested depth
// without affecting DOM agent state. Requires the DOM domain.
func (c *Client) DescribeElement(ctx context.Context, nodeID, depth int64) Envelope {
	if err := c.requireDomain(DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(dom.DescribeNodeReturns)
	params := &dom.DescribeNodeParams{NodeID: cdppkg.NodeID(nodeID), Depth: depth}
	if err := conn.Execute(ctx, dom.CommandDescribeNode, params, res); err != nil {
		return failure(fmt.Errorf("describing node %d: %w", nodeID, err))
	}
	if res.Node == nil {
		return failure(fmt.Errorf("browser returned no description for node %d", nodeID))
	}
	return success(summarizeNode(res.Node))
}

// FocusElement moves input focus to the node. Requires the DOM domain.
func (c *Client) FocusElement(ctx context.Context, nodeID int64) Envelope {
	if err := c.requireDomain(DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	params := &dom.FocusParams{NodeID: cdppkg.NodeID(nodeID)}
	if err := conn.Execute(ctx, dom.CommandFocus, params, nil); err != nil {
		return failure(fmt.Errorf("focusing node %d: %w", nodeID, err))
	}
	return success(map[string]any{"nodeId": nodeID, "focused": true})
}

// SearchElements runs a plain-text or XPath search over the document
// and returns the matching node ids. The search session is discarded
// before returning. Requires the DOM domain.
func (c *Client) SearchElements(ctx context.Context, query string, limit int64) Envelope {
	if err := c.requireDomain(DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	search := new(dom.PerformSearchReturns)
	if err := conn.Execute(ctx, dom.CommandPerformSearch, &dom.PerformSearchParams{Query: query}, search); err != nil {
		return failure(fmt.Errorf("searching for %q: %w", query, err))
	}
	defer func() {
		discard := &dom.DiscardSearchResultsParams{SearchID: search.SearchID}
		if err := conn.Execute(ctx, dom.CommandDiscardSearchResults, discard, nil); err != nil {
			c.logger.Warnf("cdp:client", "discarding search %q: %v", search.SearchID, err)
		}
	}()

	total := search.ResultCount
	if total == 0 {
		return success(map[string]any{"query": query, "total": 0, "nodeIds": []int64{}})
	}
	to := total
	if limit > 0 && limit < to {
		to = limit
	}
	results := new(dom.GetSearchResultsReturns)
	params := &dom.GetSearchResultsParams{SearchID: search.SearchID, FromIndex: 0, ToIndex: to}
	if err := conn.Execute(ctx, dom.CommandGetSearchResults, params, results); err != nil {
		return failure(fmt.Errorf("collecting search results for %q: %w", query, err))
	}
	ids := make([]int64, 0, len(results.NodeIDs))
	for _, id := range results.NodeIDs {
		ids = append(ids, int64(id))
	}
	return success(map[string]any{
		"query":   query,
		"total":   total,
		"nodeIds": ids,
	})
}

// GetElementAtPosition resolves the node at viewport coordinates.
// Requires the DOM domain.
func (c *Client) GetElementAtPosition(ctx context.Context, x, y int64) Envelope {
	if err := c.requireDomain(DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(dom.GetNodeForLocationReturns)
	params := &dom.GetNodeForLocationParams{X: x, Y: y}
	if err := conn.Execute(ctx, dom.CommandGetNodeForLocation, params, res); err != nil {
		return failure(fmt.Errorf("resolving node at (%d,%d): %w", x, y, err))
	}
	return success(map[string]any{
		"x":             x,
		"y":             y,
		"nodeId":        int64(res.NodeID),
		"backendNodeId": int64(res.BackendNodeID),
		"frameId":       string(res.FrameID),
	})
}
