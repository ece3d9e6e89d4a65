package cdp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
)

// CookieShape is one shaped browser cookie. ExpiresAt is only set for
// cookies with a real expiry, session cookies report -1 on the wire.
type CookieShape struct {
	Name      string     `json:"name"`
	Value     string     `json:"value"`
	Domain    string     `json:"domain"`
	Path      string     `json:"path"`
	Expires   float64    `json:"expires"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Size      int64      `json:"size"`
	HTTPOnly  bool       `json:"httpOnly"`
	Secure    bool       `json:"secure"`
	Session   bool       `json:"session"`
	SameSite  string     `json:"sameSite,omitempty"`
}

// NetworkRequests returns captured request records matching the
// filter. Requires the Network domain, which is what feeds the ledger.
func (c *Client) NetworkRequests(filter NetworkFilter) Envelope {
	if _, err := c.connected(); err != nil {
		return failure(err)
	}
	if err := c.requireDomain(DomainNetwork); err != nil {
		return failure(err)
	}
	ledger, _, _ := c.ledgers()
	records := ledger.Query(filter)
	return success(map[string]any{
		"count":    len(records),
		"held":     ledger.Len(),
		"requests": records,
	})
}

// ClearNetworkLog empties the request ledger.
func (c *Client) ClearNetworkLog() Envelope {
	if _, err := c.connected(); err != nil {
		return failure(err)
	}
	if err := c.requireDomain(DomainNetwork); err != nil {
		return failure(err)
	}
	ledger, _, _ := c.ledgers()
	ledger.Clear()
	return success(map[string]any{"cleared": true})
}

// GetCookies returns the cookies visible to the current page,
// optionally narrowed to cookie domains containing the given
// substring. Requires the Network domain.
func (c *Client) GetCookies(ctx context.Context, domainContains string) Envelope {
	if err := c.requireDomain(DomainNetwork); err != nil {
		return failure(err)
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	res := new(network.GetCookiesReturns)
	if err := conn.Execute(ctx, network.CommandGetCookies, &network.GetCookiesParams{}, res); err != nil {
		return failure(fmt.Errorf("reading cookies: %w", err))
	}

	cookies := make([]CookieShape, 0, len(res.Cookies))
	for _, ck := range res.Cookies {
		if ck == nil {
			continue
		}
		if domainContains != "" && !strings.Contains(ck.Domain, domainContains) {
			continue
		}
		shape := CookieShape{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  ck.Expires,
			Size:     ck.Size,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
			Session:  ck.Session,
			SameSite: string(ck.SameSite),
		}
		if when := NormalizeTimestamp(ck.Expires); !when.IsZero() {
			shape.ExpiresAt = &when
		}
		cookies = append(cookies, shape)
	}
	return success(map[string]any{
		"count":   len(cookies),
		"cookies": cookies,
	})
}
