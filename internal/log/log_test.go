package log

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerCategoryFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)

	logger := New(l, regexp.MustCompile("^cdp$"))
	logger.Infof("cdp", "kept")
	logger.Infof("bridge", "dropped")

	out := buf.String()
	assert.Contains(t, out, "kept")
	assert.NotContains(t, out, "dropped")
}

func TestLoggerSetCategoryFilter(t *testing.T) {
	t.Parallel()

	logger := NewNullLogger()
	require.NoError(t, logger.SetCategoryFilter("cdp|bridge"))
	require.NoError(t, logger.SetCategoryFilter(""))
	assert.Nil(t, logger.categoryFilter)

	err := logger.SetCategoryFilter("(")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid category filter")
}

func TestLoggerSetLevel(t *testing.T) {
	t.Parallel()

	logger := NewNullLogger()
	require.NoError(t, logger.SetLevel("debug"))
	assert.True(t, logger.DebugMode())
	require.NoError(t, logger.SetLevel("warn"))
	assert.False(t, logger.DebugMode())
	require.Error(t, logger.SetLevel("shout"))
}

func TestLoggerLevelSkipsBelowThreshold(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(logrus.InfoLevel)

	logger := New(l, nil)
	logger.Debugf("cdp", "invisible")
	logger.Warnf("cdp", "visible")

	out := buf.String()
	assert.NotContains(t, out, "invisible")
	assert.Contains(t, out, "visible")
}

func TestParseLevels(t *testing.T) {
	t.Parallel()

	levels, err := parseLevels("warning")
	require.NoError(t, err)
	assert.Equal(t, []logrus.Level{
		logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel,
	}, levels)

	_, err = parseLevels("unknown")
	require.Error(t, err)
}
