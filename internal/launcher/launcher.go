// Package launcher starts and supervises a local Chromium-family
// browser with the remote debugging port open, for use when no
// externally managed browser is available.
package launcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"

	"devtoolsbridge/internal/log"
)

var (
	// ErrBrowserNotInstalled is returned when no Chromium-family
	// executable can be found on this system.
	ErrBrowserNotInstalled = errors.New(
		"couldn't detect google chrome or a chromium-supported browser on this system")

	// ErrBrowserNotFoundAtPath is returned when the configured
	// executable path does not resolve to a browser.
	ErrBrowserNotFoundAtPath = errors.New(
		"couldn't detect google chrome or a chromium-supported browser on the given path")
)

// Options configures a launch.
type Options struct {
	// ExecutablePath overrides browser discovery when set.
	ExecutablePath string
	// Port is the remote debugging port to request. Zero lets the
	// browser pick a free one.
	Port int
	// Headless starts the browser without a window.
	Headless bool
	// Args are extra command line arguments, with or without the
	// leading dashes.
	Args []string
	// LaunchTimeout bounds how long to wait for the debug endpoint to
	// come up.
	LaunchTimeout time.Duration
}

// Launcher starts local browser processes.
type Launcher struct {
	fs       afero.Fs
	logger   *log.Logger
	lookPath func(string) (string, error)
}

// New creates a launcher using the real filesystem and PATH lookup.
func New(logger *log.Logger) *Launcher {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &Launcher{
		fs:       afero.NewOsFs(),
		logger:   logger,
		lookPath: exec.LookPath,
	}
}

// Process is a running browser owned by the launcher.
type Process struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	fs      afero.Fs
	dataDir string
	wsURL   string
	port    int
	logger  *log.Logger
	done    chan struct{}
}

// WSURL returns the browser's websocket debugger URL.
func (p *Process) WSURL() string { return p.wsURL }

// Port returns the remote debugging port the browser is serving.
func (p *Process) Port() int { return p.port }

// Done returns a channel closed when the browser process exits.
func (p *Process) Done() <-chan struct{} { return p.done }

// Launch starts the browser and waits until its debug endpoint answers.
// The returned process must be stopped by the caller.
func (l *Launcher) Launch(ctx context.Context, opts Options) (_ *Process, rerr error) {
	path, err := executablePath(opts.ExecutablePath, l.lookPath)
	if err != nil {
		return nil, err
	}

	dataDir, err := afero.TempDir(l.fs, "", "devtoolsbridge-chrome-")
	if err != nil {
		return nil, fmt.Errorf("creating user data dir: %w", err)
	}
	defer func() {
		if rerr != nil {
			_ = l.fs.RemoveAll(dataDir)
		}
	}()

	procCtx, cancel := context.WithCancel(ctx)
	defer func() {
		if rerr != nil {
			cancel()
		}
	}()

	args := buildArgs(opts, dataDir)
	l.logger.Debugf("launcher", "starting %s %s", path, strings.Join(args, " "))

	cmd := exec.CommandContext(procCtx, path, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("piping browser stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting browser %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = cmd.Wait()
	}()

	timeout := opts.LaunchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	waitCtx, waitCancel := context.WithTimeout(ctx, timeout)
	defer waitCancel()

	wsURL, err := waitForDevTools(waitCtx, stderr, done)
	if err != nil {
		cancel()
		<-done
		return nil, err
	}
	port, err := portFromWSURL(wsURL)
	if err != nil {
		cancel()
		<-done
		return nil, err
	}

	p := &Process{
		cmd:     cmd,
		cancel:  cancel,
		fs:      l.fs,
		dataDir: dataDir,
		wsURL:   wsURL,
		port:    port,
		logger:  l.logger,
		done:    done,
	}
	l.logger.Infof("launcher", "browser up, devtools at %s", wsURL)
	return p, nil
}

// Stop terminates the browser and removes its user data dir. Safe to
// call more than once.
func (p *Process) Stop() {
	p.cancel()
	select {
	case <-p.done:
	case <-time.After(10 * time.Second):
		p.logger.Warnf("launcher", "browser did not exit in time, killing")
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		<-p.done
	}
	if p.dataDir != "" {
		if err := p.fs.RemoveAll(p.dataDir); err != nil {
			p.logger.Warnf("launcher", "removing user data dir: %v", err)
		}
		p.dataDir = ""
	}
}

// devToolsLine matches the line Chromium prints once the debug
// endpoint is listening.
var devToolsLine = regexp.MustCompile(`DevTools listening on (ws://\S+)`)

// waitForDevTools scans the browser's stderr for the DevTools
// announcement line.
func waitForDevTools(ctx context.Context, stderr io.Reader, done <-chan struct{}) (string, error) {
	type result struct {
		wsURL string
		err   error
	}
	resCh := make(chan result, 1)
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if m := devToolsLine.FindStringSubmatch(scanner.Text()); m != nil {
				resCh <- result{wsURL: m[1]}
				return
			}
		}
		resCh <- result{err: errors.New("browser exited before devtools endpoint came up")}
	}()

	select {
	case res := <-resCh:
		return res.wsURL, res.err
	case <-done:
		return "", errors.New("browser exited before devtools endpoint came up")
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for devtools endpoint: %w", ctx.Err())
	}
}

func portFromWSURL(wsURL string) (int, error) {
	host := strings.TrimPrefix(wsURL, "ws://")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	i := strings.LastIndexByte(host, ':')
	if i < 0 {
		return 0, fmt.Errorf("devtools URL %q has no port", wsURL)
	}
	var port int
	if _, err := fmt.Sscanf(host[i+1:], "%d", &port); err != nil {
		return 0, fmt.Errorf("devtools URL %q has no port: %w", wsURL, err)
	}
	return port, nil
}

// WaitReady polls the endpoint's HTTP version surface until it
// answers, as a cross-check that target discovery will succeed.
func WaitReady(ctx context.Context, host string, port int) error {
	url := fmt.Sprintf("http://%s:%d/json/version", host, port)
	client := &http.Client{
		Timeout:   time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("building readiness request: %w", err)
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("debug endpoint %s not ready: %w", url, ctx.Err())
		case <-ticker.C:
		}
	}
}

// executablePath resolves the browser binary, either at the explicit
// path or by walking the conventional install locations.
func executablePath(path string, lookPath func(string) (string, error)) (string, error) {
	if path := strings.TrimSpace(path); path != "" {
		if _, err := lookPath(path); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("%w: %s", ErrBrowserNotFoundAtPath, path)
	}

	paths := []string{
		// Unix-like
		"headless_shell",
		"headless-shell",
		"chromium",
		"chromium-browser",
		"google-chrome",
		"google-chrome-stable",
		"google-chrome-beta",
		"google-chrome-unstable",
		"/usr/bin/google-chrome",
		// Windows
		"chrome",
		"chrome.exe",
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		// Mac
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	}
	for _, p := range paths {
		if _, err := lookPath(p); err == nil {
			return p, nil
		}
	}
	return "", ErrBrowserNotInstalled
}

// buildArgs turns launch options into the browser command line. The
// defaults follow Puppeteer's and Playwright's behavior.
func buildArgs(opts Options, dataDir string) []string {
	flags := map[string]any{
		"disable-background-networking":          true,
		"enable-features":                        "NetworkService,NetworkServiceInProcess",
		"disable-background-timer-throttling":    true,
		"disable-backgrounding-occluded-windows": true,
		"disable-breakpad":                       true,
		"disable-default-apps":                   true,
		"disable-dev-shm-usage":                  true,
		"disable-extensions":                     true,
		"disable-hang-monitor":                   true,
		"disable-popup-blocking":                 true,
		"disable-prompt-on-repost":               true,
		"disable-renderer-backgrounding":         true,
		"metrics-recording-only":                 true,
		"no-first-run":                           true,
		"no-default-browser-check":               true,
		"password-store":                         "basic",
		"use-mock-keychain":                      true,
		"user-data-dir":                          dataDir,
		"remote-debugging-port":                  fmt.Sprintf("%d", opts.Port),
		"headless":                               opts.Headless,
	}
	if opts.Headless {
		flags["hide-scrollbars"] = true
		flags["mute-audio"] = true
	}
	for _, arg := range opts.Args {
		name, value, _ := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if value == "" {
			flags[name] = true
		} else {
			flags[name] = value
		}
	}

	args := make([]string, 0, len(flags)+1)
	for name, value := range flags {
		switch value := value.(type) {
		case string:
			if strings.TrimSpace(value) == "" {
				args = append(args, "--"+name)
				continue
			}
			args = append(args, fmt.Sprintf("--%s=%s", name, value))
		case bool:
			if value {
				args = append(args, "--"+name)
			}
		}
	}
	args = append(args, "about:blank")
	return args
}
