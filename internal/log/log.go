// Package log provides a category-aware logger used across the bridge.
package log

import (
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus logger with a per-call category and an optional
// category filter, so noisy subsystems can be silenced independently of
// the global log level.
type Logger struct {
	Log            *logrus.Logger
	mu             sync.Mutex
	lastLogCall    int64
	categoryFilter *regexp.Regexp
}

// NewNullLogger will create a logger where log lines will
// be discarded and not logged anywhere.
func NewNullLogger() *Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return New(log, nil)
}

// New creates a new logger.
func New(logger *logrus.Logger, categoryFilter *regexp.Regexp) *Logger {
	return &Logger{
		Log:            logger,
		categoryFilter: categoryFilter,
	}
}

func (l *Logger) Tracef(category string, msg string, args ...any) {
	l.Logf(logrus.TraceLevel, category, msg, args...)
}

func (l *Logger) Debugf(category string, msg string, args ...any) {
	l.Logf(logrus.DebugLevel, category, msg, args...)
}

func (l *Logger) Infof(category string, msg string, args ...any) {
	l.Logf(logrus.InfoLevel, category, msg, args...)
}

func (l *Logger) Warnf(category string, msg string, args ...any) {
	l.Logf(logrus.WarnLevel, category, msg, args...)
}

func (l *Logger) Errorf(category string, msg string, args ...any) {
	l.Logf(logrus.ErrorLevel, category, msg, args...)
}

func (l *Logger) Logf(level logrus.Level, category string, msg string, args ...any) {
	if l == nil {
		return
	}
	if l.Log != nil && l.Log.GetLevel() < level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UnixNano() / 1000000
	elapsed := now - l.lastLogCall
	if now == elapsed {
		elapsed = 0
	}
	defer func() {
		l.lastLogCall = now
	}()

	if l.categoryFilter != nil && !l.categoryFilter.MatchString(category) {
		return
	}
	if l.Log == nil {
		magenta := color.New(color.FgMagenta).SprintFunc()
		fmt.Printf("%s: %s - %s ms\n", magenta(category), msg, magenta(elapsed))
		return
	}
	entry := l.Log.WithFields(logrus.Fields{
		"category": category,
		"elapsed":  fmt.Sprintf("%d ms", elapsed),
	})
	entry.Logf(level, msg, args...)
}

// SetLevel sets the logger level from a level string.
func (l *Logger) SetLevel(level string) error {
	pl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	l.Log.SetLevel(pl)
	return nil
}

// SetCategoryFilter restricts logging to categories matching the pattern.
// An empty pattern removes any existing filter.
func (l *Logger) SetCategoryFilter(pattern string) error {
	if pattern == "" {
		l.categoryFilter = nil
		return nil
	}
	filter, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid category filter %q: %w", pattern, err)
	}
	l.categoryFilter = filter
	return nil
}

// DebugMode returns true if the logger level is set to Debug or higher.
func (l *Logger) DebugMode() bool {
	return l.Log.GetLevel() >= logrus.DebugLevel
}
