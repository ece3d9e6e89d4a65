package cdp

import (
	"context"
	"fmt"

	cdppkg "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/css"
)

// StyleProperty is one shaped CSS declaration.
type StyleProperty struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Important bool   `json:"important,omitempty"`
}

// RuleShape is one shaped style rule with its matching selectors.
type RuleShape struct {
	Selector     string          `json:"selector"`
	Origin       string          `json:"origin"`
	StyleSheetID string          `json:"styleSheetId,omitempty"`
	Properties   []StyleProperty `json:"properties"`
}

// MediaQueryShape is one shaped media query expression.
type MediaQueryShape struct {
	Text         string  `json:"text"`
	Source       string  `json:"source"`
	StyleSheetID string  `json:"styleSheetId,omitempty"`
	Feature      string  `json:"feature,omitempty"`
	Value        float64 `json:"value,omitempty"`
	Unit         string  `json:"unit,omitempty"`
}

// CoverageShape is one shaped stylesheet usage entry.
type CoverageShape struct {
	StyleSheetID string  `json:"styleSheetId"`
	StartOffset  float64 `json:"startOffset"`
	EndOffset    float64 `json:"endOffset"`
	Used         bool    `json:"used"`
}

func styleProperties(style *css.Style) []StyleProperty {
	if style == nil {
		return nil
	}
	out := make([]StyleProperty, 0, len(style.CSSProperties))
	for _, p := range style.CSSProperties {
		if p == nil {
			continue
		}
		out = append(out, StyleProperty{Name: p.Name, Value: p.Value, Important: p.Important})
	}
	return out
}

func shapeRuleMatch(match *css.RuleMatch) (RuleShape, bool) {
	if match == nil || match.Rule == nil {
		return RuleShape{}, false
	}
	rule := match.Rule
	shape := RuleShape{
		Origin:       string(rule.Origin),
		StyleSheetID: string(rule.StyleSheetID),
		Properties:   styleProperties(rule.Style),
	}
	if rule.SelectorList != nil {
		shape.Selector = rule.SelectorList.Text
	}
	return shape, true
}

// GetComputedStyles returns the resolved value of every computed
// property for a node, flattened to a name/value map. Requires the CSS
// and DOM domains.
func (c *Client) GetComputedStyles(ctx context.Context, nodeID int64) Envelope {
	if err := c.requireDomains(DomainCSS, DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(css.GetComputedStyleForNodeReturns)
	params := &css.GetComputedStyleForNodeParams{NodeID: cdppkg.NodeID(nodeID)}
	if err := conn.Execute(ctx, css.CommandGetComputedStyleForNode, params, res); err != nil {
		return failure(fmt.Errorf("reading computed style of node %d: %w", nodeID, err))
	}

	styles := make(map[string]string, len(res.ComputedStyle))
	for _, p := range res.ComputedStyle {
		if p != nil {
			styles[p.Name] = p.Value
		}
	}
	return success(map[string]any{
		"nodeId": nodeID,
		"count":  len(styles),
		"styles": styles,
	})
}

// GetInlineStyles returns the style attribute declarations and
// attribute-derived styles of a node. Requires the CSS and DOM domains.
func (c *Client) GetInlineStyles(ctx context.Context, nodeID int64) Envelope {
	if err := c.requireDomains(DomainCSS, DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(css.GetInlineStylesForNodeReturns)
	params := &css.GetInlineStylesForNodeParams{NodeID: cdppkg.NodeID(nodeID)}
	if err := conn.Execute(ctx, css.CommandGetInlineStylesForNode, params, res); err != nil {
		return failure(fmt.Errorf("reading inline style of node %d: %w", nodeID, err))
	}
	return success(map[string]any{
		"nodeId":          nodeID,
		"inline":          styleProperties(res.InlineStyle),
		"attributesStyle": styleProperties(res.AttributesStyle),
	})
}

// GetMatchedStyles returns every rule matching a node: inline
// declarations, matched stylesheet rules and inherited entries.
// Requires the CSS and DOM domains.
func (c *Client) GetMatchedStyles(ctx context.Context, nodeID int64) Envelope {
	if err := c.requireDomains(DomainCSS, DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(css.GetMatchedStylesForNodeReturns)
	params := &css.GetMatchedStylesForNodeParams{NodeID: cdppkg.NodeID(nodeID)}
	if err := conn.Execute(ctx, css.CommandGetMatchedStylesForNode, params, res); err != nil {
		return failure(fmt.Errorf("reading matched styles of node %d: %w", nodeID, err))
	}

	matched := make([]RuleShape, 0, len(res.MatchedCSSRules))
	for _, m := range res.MatchedCSSRules {
		if shape, ok := shapeRuleMatch(m); ok {
			matched = append(matched, shape)
		}
	}
	inherited := make([][]RuleShape, 0, len(res.Inherited))
	for _, entry := range res.Inherited {
		if entry == nil {
			continue
		}
		rules := make([]RuleShape, 0, len(entry.MatchedCSSRules))
		for _, m := range entry.MatchedCSSRules {
			if shape, ok := shapeRuleMatch(m); ok {
				rules = append(rules, shape)
			}
		}
		inherited = append(inherited, rules)
	}
	return success(map[string]any{
		"nodeId":    nodeID,
		"inline":    styleProperties(res.InlineStyle),
		"matched":   matched,
		"inherited": inherited,
	})
}

// GetStylesheetText returns the full source text of a stylesheet.
// Requires the CSS and DOM domains.
func (c *Client) GetStylesheetText(ctx context.Context, styleSheetID string) Envelope {
	if err := c.requireDomains(DomainCSS, DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(css.GetStyleSheetTextReturns)
	params := &css.GetStyleSheetTextParams{StyleSheetID: css.StyleSheetID(styleSheetID)}
	if err := conn.Execute(ctx, css.CommandGetStyleSheetText, params, res); err != nil {
		return failure(fmt.Errorf("reading stylesheet %s: %w", styleSheetID, err))
	}
	return success(map[string]any{
		"styleSheetId": styleSheetID,
		"text":         res.Text,
		"length":       len(res.Text),
	})
}

// CollectCSSClassNames lists the class names defined by a stylesheet.
// Requires the CSS and DOM domains.
func (c *Client) CollectCSSClassNames(ctx context.Context, styleSheetID string) Envelope {
	if err := c.requireDomains(DomainCSS, DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(css.CollectClassNamesReturns)
	params := &css.CollectClassNamesParams{StyleSheetID: css.StyleSheetID(styleSheetID)}
	if err := conn.Execute(ctx, css.CommandCollectClassNames, params, res); err != nil {
		return failure(fmt.Errorf("collecting class names of stylesheet %s: %w", styleSheetID, err))
	}
	return success(map[string]any{
		"styleSheetId": styleSheetID,
		"count":        len(res.ClassNames),
		"classNames":   res.ClassNames,
	})
}

// GetMediaQueries lists the media queries across all stylesheets,
// one shaped entry per parsed expression. Requires the CSS and DOM
// domains.
func (c *Client) GetMediaQueries(ctx context.Context) Envelope {
	if err := c.requireDomains(DomainCSS, DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(css.GetMediaQueriesReturns)
	if err := conn.Execute(ctx, css.CommandGetMediaQueries, nil, res); err != nil {
		return failure(fmt.Errorf("reading media queries: %w", err))
	}

	queries := make([]MediaQueryShape, 0, len(res.Medias))
	for _, media := range res.Medias {
		if media == nil {
			continue
		}
		base := MediaQueryShape{
			Text:         media.Text,
			Source:       string(media.Source),
			StyleSheetID: string(media.StyleSheetID),
		}
		if len(media.MediaList) == 0 {
			queries = append(queries, base)
			continue
		}
		for _, q := range media.MediaList {
			if q == nil {
				continue
			}
			for _, expr := range q.Expressions {
				if expr == nil {
					continue
				}
				shaped := base
				shaped.Feature = expr.Feature
				shaped.Value = expr.Value
				shaped.Unit = expr.Unit
				queries = append(queries, shaped)
			}
		}
	}
	return success(map[string]any{
		"count":   len(queries),
		"queries": queries,
	})
}

// GetPlatformFonts reports the platform fonts actually used to render
// a node's text. Requires the CSS and DOM domains.
func (c *Client) GetPlatformFonts(ctx context.Context, nodeID int64) Envelope {
	if err := c.requireDomains(DomainCSS, DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(css.GetPlatformFontsForNodeReturns)
	params := &css.GetPlatformFontsForNodeParams{NodeID: cdppkg.NodeID(nodeID)}
	if err := conn.Execute(ctx, css.CommandGetPlatformFontsForNode, params, res); err != nil {
		return failure(fmt.Errorf("reading platform fonts of node %d: %w", nodeID, err))
	}

	fonts := make([]map[string]any, 0, len(res.Fonts))
	for _, f := range res.Fonts {
		if f == nil {
			continue
		}
		fonts = append(fonts, map[string]any{
			"familyName":   f.FamilyName,
			"isCustomFont": f.IsCustomFont,
			"glyphCount":   f.GlyphCount,
		})
	}
	return success(map[string]any{
		"nodeId": nodeID,
		"fonts":  fonts,
	})
}

// GetBackgroundColors reports the range of background colors behind a
// node's visible text along with its computed font metrics. Requires
// the CSS and DOM domains.
func (c *Client) GetBackgroundColors(ctx context.Context, nodeID int64) Envelope {
	if err := c.requireDomains(DomainCSS, DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(css.GetBackgroundColorsReturns)
	params := &css.GetBackgroundColorsParams{NodeID: cdppkg.NodeID(nodeID)}
	if err := conn.Execute(ctx, css.CommandGetBackgroundColors, params, res); err != nil {
		return failure(fmt.Errorf("reading background colors of node %d: %w", nodeID, err))
	}

	colors := res.BackgroundColors
	if colors == nil {
		colors = []string{}
	}
	return success(map[string]any{
		"nodeId":              nodeID,
		"backgroundColors":    colors,
		"computedFontSize":    res.ComputedFontSize,
		"computedFontWeight":  res.ComputedFontWeight,
		"hasBackgroundColors": len(colors) > 0,
	})
}

// StartCSSCoverage begins rule usage tracking. Requires the CSS and
// DOM domains.
func (c *Client) StartCSSCoverage(ctx context.Context) Envelope {
	if err := c.requireDomains(DomainCSS, DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	if err := conn.Execute(ctx, css.CommandStartRuleUsageTracking, nil, nil); err != nil {
		return failure(fmt.Errorf("starting CSS coverage: %w", err))
	}
	return success(map[string]any{"tracking": true})
}

// StopCSSCoverage ends rule usage tracking and returns the usage
// deltas collected since it started. Requires the CSS and DOM domains.
func (c *Client) StopCSSCoverage(ctx context.Context) Envelope {
	if err := c.requireDomains(DomainCSS, DomainDOM); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(css.StopRuleUsageTrackingReturns)
	if err := conn.Execute(ctx, css.CommandStopRuleUsageTracking, nil, res); err != nil {
		return failure(fmt.Errorf("stopping CSS coverage: %w", err))
	}

	used := 0
	entries := make([]CoverageShape, 0, len(res.RuleUsage))
	for _, u := range res.RuleUsage {
		if u == nil {
			continue
		}
		if u.Used {
			used++
		}
		entries = append(entries, CoverageShape{
			StyleSheetID: string(u.StyleSheetID),
			StartOffset:  u.StartOffset,
			EndOffset:    u.EndOffset,
			Used:         u.Used,
		})
	}
	return success(map[string]any{
		"ruleCount": len(entries),
		"usedCount": used,
		"rules":     entries,
	})
}
