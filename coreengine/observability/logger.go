package observability

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// LogrusLogger adapts logrus to the key/value Logger interface used by the
// kernel and gRPC packages.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger returns a JSON logger at level writing to out (stderr when
// nil). Unknown levels fall back to info.
func NewLogrusLogger(level string, out io.Writer) *LogrusLogger {
	if out == nil {
		out = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

// With returns a logger that adds keysAndValues to every entry.
func (l *LogrusLogger) With(keysAndValues ...any) *LogrusLogger {
	return &LogrusLogger{entry: l.entry.WithFields(fields(keysAndValues))}
}

func (l *LogrusLogger) Debug(msg string, keysAndValues ...any) {
	l.entry.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l *LogrusLogger) Info(msg string, keysAndValues ...any) {
	l.entry.WithFields(fields(keysAndValues)).Info(msg)
}

func (l *LogrusLogger) Warn(msg string, keysAndValues ...any) {
	l.entry.WithFields(fields(keysAndValues)).Warn(msg)
}

func (l *LogrusLogger) Error(msg string, keysAndValues ...any) {
	l.entry.WithFields(fields(keysAndValues)).Error(msg)
}

// fields pairs up keysAndValues. A trailing key without a value is kept
// under "!BADKEY" rather than dropped.
func fields(keysAndValues []any) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 >= len(keysAndValues) {
			f["!BADKEY"] = key
			break
		}
		f[key] = keysAndValues[i+1]
	}
	return f
}
