package launcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutablePath(t *testing.T) {
	t.Parallel()

	found := func(want ...string) func(string) (string, error) {
		return func(file string) (string, error) {
			for _, w := range want {
				if file == w {
					return file, nil
				}
			}
			return "", errors.New("not found")
		}
	}

	t.Run("explicit path", func(t *testing.T) {
		t.Parallel()
		path, err := executablePath("/opt/chrome", found("/opt/chrome"))
		require.NoError(t, err)
		assert.Equal(t, "/opt/chrome", path)
	})

	t.Run("explicit path missing", func(t *testing.T) {
		t.Parallel()
		_, err := executablePath("/opt/chrome", found())
		require.ErrorIs(t, err, ErrBrowserNotFoundAtPath)
	})

	t.Run("discovered", func(t *testing.T) {
		t.Parallel()
		path, err := executablePath("", found("google-chrome"))
		require.NoError(t, err)
		assert.Equal(t, "google-chrome", path)
	})

	t.Run("nothing installed", func(t *testing.T) {
		t.Parallel()
		_, err := executablePath("", found())
		require.ErrorIs(t, err, ErrBrowserNotInstalled)
	})

	t.Run("whitespace path falls back to discovery", func(t *testing.T) {
		t.Parallel()
		path, err := executablePath("   ", found("chromium"))
		require.NoError(t, err)
		assert.Equal(t, "chromium", path)
	})
}

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	args := buildArgs(Options{Port: 9222, Headless: true, Args: []string{"--window-size=800,600", "incognito"}}, "/tmp/data")

	assert.Contains(t, args, "--remote-debugging-port=9222")
	assert.Contains(t, args, "--user-data-dir=/tmp/data")
	assert.Contains(t, args, "--headless")
	assert.Contains(t, args, "--mute-audio")
	assert.Contains(t, args, "--window-size=800,600")
	assert.Contains(t, args, "--incognito")
	assert.Equal(t, "about:blank", args[len(args)-1])

	headed := buildArgs(Options{}, "/tmp/data")
	assert.NotContains(t, headed, "--headless")
	assert.Contains(t, headed, "--remote-debugging-port=0")
}

func TestPortFromWSURL(t *testing.T) {
	t.Parallel()

	port, err := portFromWSURL("ws://127.0.0.1:9222/devtools/browser/abc")
	require.NoError(t, err)
	assert.Equal(t, 9222, port)

	_, err = portFromWSURL("ws://nohost/devtools")
	require.Error(t, err)
}

func TestWaitForDevTools(t *testing.T) {
	t.Parallel()

	t.Run("announced", func(t *testing.T) {
		t.Parallel()
		stderr := strings.NewReader(
			"some startup noise\nDevTools listening on ws://127.0.0.1:9222/devtools/browser/abc\n")
		wsURL, err := waitForDevTools(context.Background(), stderr, make(chan struct{}))
		require.NoError(t, err)
		assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", wsURL)
	})

	t.Run("exit without announcement", func(t *testing.T) {
		t.Parallel()
		stderr := strings.NewReader("crash\n")
		_, err := waitForDevTools(context.Background(), stderr, make(chan struct{}))
		require.Error(t, err)
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		// A reader that never produces the line and never finishes.
		_, err := waitForDevTools(ctx, blockedReader(t), make(chan struct{}))
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestWaitReady(t *testing.T) {
	t.Parallel()

	t.Run("ready", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(srv.Close)

		host, port := hostPort(t, srv.URL)
		require.NoError(t, WaitReady(context.Background(), host, port))
	})

	t.Run("never ready", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		err := WaitReady(ctx, "127.0.0.1", 1)
		require.Error(t, err)
	})
}

func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}

func blockedReader(t *testing.T) *blockingReader {
	t.Helper()
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	return &blockingReader{done: done}
}

type blockingReader struct{ done chan struct{} }

func (r *blockingReader) Read([]byte) (int, error) {
	<-r.done
	return 0, errors.New("closed")
}
