package log

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cwd(t *testing.T) func() (string, error) {
	t.Helper()
	return func() (string, error) { return "/work", nil }
}

func TestFileHookFromConfigLine(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		line   string
		err    string
		levels int
	}{
		"default":        {line: "file=/work/bridge.log", levels: len(logrus.AllLevels)},
		"relative path":  {line: "file=bridge.log", levels: len(logrus.AllLevels)},
		"level filter":   {line: "file=/work/bridge.log,level=warning", levels: 4},
		"not file":       {line: "stackdriver=something", err: "logfile configuration"},
		"empty path":     {line: "file=", err: "filepath must not be empty"},
		"unknown key":    {line: "file=/work/bridge.log,color=red", err: "unknown logfile config key color"},
		"bad level":      {line: "file=/work/bridge.log,level=shout", err: "unknown log level shout"},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()
			require.NoError(t, fs.MkdirAll("/work", 0o755))

			hook, err := FileHookFromConfigLine(fs, cwd(t), logrus.New(), tt.line)
			if tt.err != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, hook.Levels(), tt.levels)
		})
	}
}

func TestFileHookFireAndListen(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/work", 0o755))

	hook, err := FileHookFromConfigLine(fs, cwd(t), logrus.New(), "file=/work/bridge.log")
	require.NoError(t, err)

	l := logrus.New()
	entry := l.WithField("category", "cdp")
	entry.Level = logrus.InfoLevel
	entry.Message = "connected to endpoint"
	require.NoError(t, hook.Fire(entry))

	// Cancelling the listen context drains queued lines and closes the file.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hook.Listen(ctx)

	content, err := afero.ReadFile(fs, "/work/bridge.log")
	require.NoError(t, err)
	assert.Contains(t, string(content), "connected to endpoint")
	assert.Contains(t, string(content), "category=cdp")
}
