// Package hooks holds logrus hooks shared by the binaries.
package hooks

import (
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"
)

const pathMarker = "genomics-sub000/"

// NewContextHook returns a hook that annotates every log entry with
// the file:line of the logging call, trimmed relative to the
// repository root.
func NewContextHook() logrus.Hook {
	return contextHook{}
}

type contextHook struct{}

func (hook contextHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire scans the stack for the first repository frame past this hook
// and the logrus internals; that frame is the application call site.
func (hook contextHook) Fire(entry *logrus.Entry) error {
	for _, line := range strings.Split(string(debug.Stack()), "\n") {
		if !strings.Contains(line, ".go:") || strings.Contains(line, "context_hook.go:") {
			continue
		}
		i := strings.Index(line, pathMarker)
		if i < 0 {
			continue
		}
		entry.Data["file:line"] = strings.Fields(line[i+len(pathMarker):])[0]
		return nil
	}
	return nil
}
