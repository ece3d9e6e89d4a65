package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/domstorage"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"

	"devtoolsbridge/internal/log"
)

// State is the client connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// Protocol domains the client knows how to enable.
const (
	DomainNetwork     = "Network"
	DomainRuntime     = "Runtime"
	DomainPage        = "Page"
	DomainPerformance = "Performance"
	DomainDOM         = "DOM"
	DomainCSS         = "CSS"
	DomainSecurity    = "Security"
	DomainDOMStorage  = "DOMStorage"
)

// AllDomains lists every supported domain in enable order.
func AllDomains() []string {
	return []string{
		DomainNetwork, DomainRuntime, DomainPage, DomainPerformance,
		DomainDOM, DomainCSS, DomainSecurity, DomainDOMStorage,
	}
}

// Envelope is the uniform result wrapper returned by every operation.
// Failures are data, not panics: a caller batching operations can report
// individual failures upstream without aborting.
type Envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func success(data any) Envelope {
	return Envelope{Success: true, Data: data, Timestamp: time.Now()}
}

func failure(err error) Envelope {
	return Envelope{Success: false, Error: err.Error(), Timestamp: time.Now()}
}

// OK wraps data in a successful envelope, for layers composing their
// own replies on top of the client.
func OK(data any) Envelope { return success(data) }

// Fail wraps err in a failed envelope.
func Fail(err error) Envelope { return failure(err) }

// TargetInfo describes one debuggable target reported by the endpoint.
type TargetInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Client is the façade over one debugging connection. All operation
// methods are safe for concurrent use; commands in flight at the same
// time are multiplexed over the single connection by id.
//
// The lifecycle is Idle → Connecting → Connected → Disconnecting → Idle.
// Only Status is valid in every state; operations issued while not
// Connected fail with ErrNotConnected (or ErrConnecting during the
// transitional states) without touching the transport. Reconnecting
// builds a fresh connection and fresh, empty ledgers.
type Client struct {
	opts       Options
	logger     *log.Logger
	httpClient *http.Client

	mu      sync.Mutex
	state   State
	conn    *Connection
	target  TargetInfo
	domains map[string]bool

	network *NetworkLedger
	console *ConsoleLedger
	storage *StorageTracker
}

// NewClient creates a disconnected client.
func NewClient(opts Options, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &Client{
		opts:       opts,
		logger:     logger,
		// Discovery is one GET per connect, so keep-alives only pin
		// idle connections to the endpoint.
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: &http.Transport{DisableKeepAlives: true},
		},
		domains:    make(map[string]bool),
		network:    NewNetworkLedger(opts.networkCapacity()),
		console:    NewConsoleLedger(opts.consoleCapacity()),
		storage:    NewStorageTracker(opts.storageCapacity()),
	}
}

// Endpoint returns the debug endpoint the client targets.
func (c *Client) Endpoint() string {
	return fmt.Sprintf("%s:%d", c.opts.host(), c.opts.port())
}

// Connect discovers the first page target on the debug endpoint and
// dials its websocket debugger URL.
func (c *Client) Connect(ctx context.Context) Envelope {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return failure(fmt.Errorf("cannot connect while %s", state))
	}
	c.state = StateConnecting
	c.mu.Unlock()

	target, err := c.discoverTarget(ctx)
	if err != nil {
		c.setIdle()
		return failure(err)
	}

	conn, err := NewConnection(ctx, target.WebSocketDebuggerURL, c.opts.timeout(), c.logger)
	if err != nil {
		c.setIdle()
		return failure(err)
	}

	c.mu.Lock()
	c.conn = conn
	c.target = target
	c.state = StateConnected
	c.domains = make(map[string]bool)
	c.network = NewNetworkLedger(c.opts.networkCapacity())
	c.console = NewConsoleLedger(c.opts.consoleCapacity())
	c.storage = NewStorageTracker(c.opts.storageCapacity())
	c.mu.Unlock()

	c.initEvents(conn)
	go c.supervise(conn)

	c.logger.Infof("cdp:client", "connected to target %q (%s)", target.Title, target.URL)
	return success(map[string]any{
		"target":   target,
		"endpoint": c.Endpoint(),
	})
}

// Disconnect closes the connection. Ledgers and domain activations do
// not survive it.
func (c *Client) Disconnect() Envelope {
	c.mu.Lock()
	if c.state != StateConnected {
		state := c.state
		c.mu.Unlock()
		return failure(fmt.Errorf("cannot disconnect while %s", state))
	}
	c.state = StateDisconnecting
	conn := c.conn
	c.mu.Unlock()

	conn.Close()
	c.reset(conn)

	c.logger.Infof("cdp:client", "disconnected from %s", c.Endpoint())
	return success(map[string]any{"disconnected": true})
}

// Status reports the lifecycle state. It is valid in every state,
// including the transitional ones, and never blocks on the transport.
func (c *Client) Status() Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()

	enabled := make([]string, 0, len(c.domains))
	for _, d := range AllDomains() {
		if c.domains[d] {
			enabled = append(enabled, d)
		}
	}
	return success(map[string]any{
		"state":           c.state.String(),
		"connected":       c.state == StateConnected,
		"endpoint":        c.Endpoint(),
		"target":          c.target,
		"enabledDomains":  enabled,
		"networkRecords":  c.network.Len(),
		"consoleMessages": c.console.Len(),
		"storageEvents":   c.storage.Len(),
	})
}

// connected returns the live connection, or the per-state error for
// operations that require one.
func (c *Client) connected() (*Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateConnected:
		return c.conn, nil
	case StateConnecting, StateDisconnecting:
		return nil, fmt.Errorf("%w (%s)", ErrConnecting, c.state)
	default:
		return nil, ErrNotConnected
	}
}

// requireDomain fails fast when a prerequisite domain is not enabled,
// instead of letting the operation silently return empty data.
func (c *Client) requireDomain(domain string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.domains[domain] {
		return &DomainNotEnabledError{Domain: domain}
	}
	return nil
}

// ledgers snapshots the store pointers under the lock, so a query
// cannot race a concurrent reconnect swapping in fresh stores.
func (c *Client) ledgers() (*NetworkLedger, *ConsoleLedger, *StorageTracker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.network, c.console, c.storage
}

func (c *Client) requireDomains(domains ...string) error {
	for _, domain := range domains {
		if err := c.requireDomain(domain); err != nil {
			return err
		}
	}
	return nil
}

// EnableDomain enables one protocol domain. Enabling twice is a no-op.
func (c *Client) EnableDomain(ctx context.Context, domain string) Envelope {
	if !knownDomain(domain) {
		return failure(fmt.Errorf("unknown domain %q", domain))
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	c.mu.Lock()
	already := c.domains[domain]
	c.mu.Unlock()
	if already {
		return success(map[string]any{"domain": domain, "enabled": true})
	}

	if err := conn.Execute(ctx, domain+".enable", nil, nil); err != nil {
		return failure(fmt.Errorf("enabling %s: %w", domain, err))
	}
	c.mu.Lock()
	c.domains[domain] = true
	c.mu.Unlock()

	c.logger.Debugf("cdp:client", "%s domain enabled", domain)
	return success(map[string]any{"domain": domain, "enabled": true})
}

// DisableDomain disables one protocol domain.
func (c *Client) DisableDomain(ctx context.Context, domain string) Envelope {
	if !knownDomain(domain) {
		return failure(fmt.Errorf("unknown domain %q", domain))
	}
	conn, err := c.connected()
	if err != nil {
		return failure(err)
	}

	if err := conn.Execute(ctx, domain+".disable", nil, nil); err != nil {
		return failure(fmt.Errorf("disabling %s: %w", domain, err))
	}
	c.mu.Lock()
	delete(c.domains, domain)
	c.mu.Unlock()

	return success(map[string]any{"domain": domain, "enabled": false})
}

// EnableDomains enables every supported domain, tolerating individual
// failures: a browser that lacks one domain should not block the rest.
func (c *Client) EnableDomains(ctx context.Context) Envelope {
	if _, err := c.connected(); err != nil {
		return failure(err)
	}

	enabled := make([]string, 0, len(AllDomains()))
	failed := make(map[string]string)
	for _, domain := range AllDomains() {
		if env := c.EnableDomain(ctx, domain); env.Success {
			enabled = append(enabled, domain)
		} else {
			failed[domain] = env.Error
			c.logger.Warnf("cdp:client", "failed to enable %s domain: %s", domain, env.Error)
		}
	}
	return success(map[string]any{"enabled": enabled, "failed": failed})
}

func knownDomain(domain string) bool {
	for _, d := range AllDomains() {
		if d == domain {
			return true
		}
	}
	return false
}

// initEvents wires the ledgers to the connection's event dispatch. Each
// handler is a plain event-to-store mutation.
func (c *Client) initEvents(conn *Connection) {
	network0, console0, storage0 := c.ledgers()

	conn.OnEvent("Network.requestWillBeSent", func(_ string, ev any) {
		if e, ok := ev.(*network.EventRequestWillBeSent); ok {
			network0.RecordRequest(e)
		}
	})
	conn.OnEvent("Network.responseReceived", func(_ string, ev any) {
		if e, ok := ev.(*network.EventResponseReceived); ok {
			network0.RecordResponse(e)
		}
	})
	conn.OnEvent("Network.loadingFinished", func(_ string, ev any) {
		if e, ok := ev.(*network.EventLoadingFinished); ok {
			network0.RecordFinished(e)
		}
	})
	conn.OnEvent("Network.loadingFailed", func(_ string, ev any) {
		if e, ok := ev.(*network.EventLoadingFailed); ok {
			network0.RecordFailed(e)
		}
	})
	conn.OnEvent("Runtime.consoleAPICalled", func(_ string, ev any) {
		if e, ok := ev.(*runtime.EventConsoleAPICalled); ok {
			console0.RecordAPICall(e)
		}
	})
	conn.OnEvent("Runtime.exceptionThrown", func(_ string, ev any) {
		if e, ok := ev.(*runtime.EventExceptionThrown); ok {
			console0.RecordException(e)
		}
	})
	conn.OnEvent("DOMStorage.domStorageItemAdded", func(_ string, ev any) {
		if e, ok := ev.(*domstorage.EventDomStorageItemAdded); ok {
			storage0.RecordAdded(e)
		}
	})
	conn.OnEvent("DOMStorage.domStorageItemRemoved", func(_ string, ev any) {
		if e, ok := ev.(*domstorage.EventDomStorageItemRemoved); ok {
			storage0.RecordRemoved(e)
		}
	})
	conn.OnEvent("DOMStorage.domStorageItemUpdated", func(_ string, ev any) {
		if e, ok := ev.(*domstorage.EventDomStorageItemUpdated); ok {
			storage0.RecordUpdated(e)
		}
	})
	conn.OnEvent("DOMStorage.domStorageItemsCleared", func(_ string, ev any) {
		if e, ok := ev.(*domstorage.EventDomStorageItemsCleared); ok {
			storage0.RecordCleared(e)
		}
	})

	if c.opts.clearOnNavigate() {
		conn.OnEvent("Page.frameNavigated", func(_ string, ev any) {
			e, ok := ev.(*page.EventFrameNavigated)
			if !ok || e.Frame == nil || e.Frame.ParentID != "" {
				return
			}
			network0.Clear()
			console0.Clear()
		})
	}
}

// supervise resets the client once its connection goes away, however
// that happened.
func (c *Client) supervise(conn *Connection) {
	<-conn.Done()
	c.reset(conn)
}

// reset transitions back to Idle and empties per-connection state, but
// only if conn is still the client's current connection.
func (c *Client) reset(conn *Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn = nil
	c.state = StateIdle
	c.target = TargetInfo{}
	c.domains = make(map[string]bool)
	c.network.Clear()
	c.console.Clear()
	c.storage.Clear()
}

func (c *Client) setIdle() {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

// discoverTarget asks the endpoint's HTTP surface for attachable
// targets and picks the first page.
func (c *Client) discoverTarget(ctx context.Context) (TargetInfo, error) {
	endpoint := fmt.Sprintf("http://%s/json", c.Endpoint())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return TargetInfo{}, &ConnectionError{Endpoint: endpoint, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TargetInfo{}, &ConnectionError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return TargetInfo{}, &ConnectionError{
			Endpoint: endpoint,
			Err:      fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var targets []TargetInfo
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return TargetInfo{}, &ConnectionError{Endpoint: endpoint, Err: err}
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t, nil
		}
	}
	return TargetInfo{}, &ConnectionError{Endpoint: endpoint, Err: ErrNoTargets}
}
