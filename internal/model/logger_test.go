package model

import "testing"

func TestDiscardLogger(t *testing.T) {
	// Just ensure we can invoke all the methods.
	logger := DiscardLogger
	logger.Debug("foo")
	logger.Debugf("%s", "foo")
	logger.Info("foo")
	logger.Infof("%s", "foo")
	logger.Warn("foo")
	logger.Warnf("%s", "foo")
}

func TestValidLoggerOrDefault(t *testing.T) {
	t.Run("with nil logger", func(t *testing.T) {
		if logger := ValidLoggerOrDefault(nil); logger != DiscardLogger {
			t.Fatal("expected the discard logger")
		}
	})

	t.Run("with a non-nil logger", func(t *testing.T) {
		logger := Logger(logDiscarder{})
		if got := ValidLoggerOrDefault(logger); got != logger {
			t.Fatal("expected the given logger")
		}
	})
}
