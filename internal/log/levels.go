package log

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// parseLevels expands a minimum level name into the list of levels at
// or above it, in logrus severity order (panic first). The file hook
// consumes the list as its Levels() filter.
func parseLevels(level string) ([]logrus.Level, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		// The logrus error text leaks the Go type; keep the message plain.
		return nil, fmt.Errorf("unknown log level %s", level)
	}
	index := sort.Search(len(logrus.AllLevels), func(i int) bool {
		return logrus.AllLevels[i] > lvl
	})

	return logrus.AllLevels[:index], nil
}
