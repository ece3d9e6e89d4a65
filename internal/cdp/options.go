package cdp

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mstoykov/envconfig"
	"gopkg.in/guregu/null.v3"
)

const (
	// DefaultTimeout is the default deadline for a single command.
	// Some browser operations (full page loads, large object
	// serialization) are legitimately slow, so this is deliberately in
	// the tens of seconds.
	DefaultTimeout = 30 * time.Second

	// DefaultDebugPort is the conventional Chrome remote debugging port.
	DefaultDebugPort = 9222

	// DefaultNetworkCapacity bounds the network request ledger.
	DefaultNetworkCapacity = 1000

	// DefaultConsoleCapacity bounds the console message ledger.
	DefaultConsoleCapacity = 500

	// DefaultStorageCapacity bounds the storage event tracker.
	DefaultStorageCapacity = 200
)

// Options configures a Client. Zero values fall back to the defaults
// above; the environment can override them at construction time.
//
//nolint:lll
type Options struct {
	Host            null.String `json:"host" envconfig:"CDP_BRIDGE_DEBUG_HOST"`
	Port            null.Int    `json:"port" envconfig:"CDP_BRIDGE_DEBUG_PORT"`
	Timeout         null.String `json:"timeout" envconfig:"CDP_BRIDGE_TIMEOUT"`
	NetworkCapacity null.Int    `json:"networkCapacity" envconfig:"CDP_BRIDGE_NETWORK_CAPACITY"`
	ConsoleCapacity null.Int    `json:"consoleCapacity" envconfig:"CDP_BRIDGE_CONSOLE_CAPACITY"`
	StorageCapacity null.Int    `json:"storageCapacity" envconfig:"CDP_BRIDGE_STORAGE_CAPACITY"`

	// ClearOnNavigate selects the ledger policy on main frame
	// navigation: clear the network/console ledgers, or keep
	// accumulating until capacity eviction. Default is to accumulate.
	ClearOnNavigate null.Bool `json:"clearOnNavigate" envconfig:"CDP_BRIDGE_CLEAR_ON_NAVIGATE"`
}

// NewOptions returns Options populated from the process environment.
func NewOptions() (Options, error) {
	var opts Options
	if err := envconfig.Process("", &opts); err != nil {
		return opts, fmt.Errorf("reading options from environment: %w", err)
	}
	// CHROME_DEBUG_PORT is the legacy override and keeps working, but
	// the CDP_BRIDGE_DEBUG_PORT value wins when both are set.
	if !opts.Port.Valid {
		if v, ok := os.LookupEnv("CHROME_DEBUG_PORT"); ok {
			p, err := strconv.Atoi(v)
			if err != nil {
				return opts, fmt.Errorf("parsing CHROME_DEBUG_PORT %q: %w", v, err)
			}
			opts.Port = null.IntFrom(int64(p))
		}
	}
	return opts, nil
}

func (o Options) host() string {
	if o.Host.Valid && o.Host.String != "" {
		return o.Host.String
	}
	return "localhost"
}

func (o Options) port() int {
	if o.Port.Valid && o.Port.Int64 > 0 {
		return int(o.Port.Int64)
	}
	return DefaultDebugPort
}

func (o Options) timeout() time.Duration {
	if o.Timeout.Valid {
		if d, err := time.ParseDuration(o.Timeout.String); err == nil && d > 0 {
			return d
		}
	}
	return DefaultTimeout
}

func (o Options) networkCapacity() int {
	if o.NetworkCapacity.Valid && o.NetworkCapacity.Int64 > 0 {
		return int(o.NetworkCapacity.Int64)
	}
	return DefaultNetworkCapacity
}

func (o Options) consoleCapacity() int {
	if o.ConsoleCapacity.Valid && o.ConsoleCapacity.Int64 > 0 {
		return int(o.ConsoleCapacity.Int64)
	}
	return DefaultConsoleCapacity
}

func (o Options) storageCapacity() int {
	if o.StorageCapacity.Valid && o.StorageCapacity.Int64 > 0 {
		return int(o.StorageCapacity.Int64)
	}
	return DefaultStorageCapacity
}

func (o Options) clearOnNavigate() bool {
	return o.ClearOnNavigate.Valid && o.ClearOnNavigate.Bool
}
