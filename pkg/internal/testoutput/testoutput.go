package testoutput

import (
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/edgefleet/otawatch/pkg/logging"
)

// New returns a writer that forwards line-oriented output to the test log.
func New(t testing.TB) io.Writer {
	return &testoutput{t}
}

// Logger redirects logger's output into the test log so assertions and log
// lines interleave in failure output.
func Logger(t testing.TB, logger logging.Logger) logging.Logger {
	l := logger.WithFields(logrus.Fields{})
	l.Logger.SetOutput(New(t))
	l.Logger.SetLevel(logrus.DebugLevel)
	return l
}

// Setter configures the shared root logger to write to the test log. The
// root logger is process-wide state, so tests using this must not run in
// parallel or output lands on the wrong test, or on a Revert'd writer.
func Setter(t testing.TB) func(*logrus.Logger) error {
	return func(l *logrus.Logger) error {
		l.SetOutput(New(t))
		l.SetLevel(logrus.DebugLevel)
		return nil
	}
}

// Revert restores the logger output to write to stderr.
func Revert() func(*logrus.Logger) error {
	return func(l *logrus.Logger) error {
		l.SetOutput(os.Stderr)
		return nil
	}
}

type testoutput struct {
	t testing.TB
}

func (l *testoutput) Write(p []byte) (n int, err error) {
	l.t.Logf("%s", p)
	return len(p), nil
}
