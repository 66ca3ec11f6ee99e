package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	logrusPackage = "sirupsen/logrus"
	selfPackage   = "liqstream/logger."
)

// callerHook points entry.Caller at the first frame outside logrus and the
// wrappers in this package.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 24)
	n := runtime.Callers(4, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isWrapperFrame(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func isWrapperFrame(fn string) bool {
	return strings.Contains(fn, logrusPackage) || strings.Contains(fn, selfPackage)
}
