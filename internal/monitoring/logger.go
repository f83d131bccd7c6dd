package monitoring

import (
	"fmt"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// cronLogger routes gocron's key/value logging through logrus.
type cronLogger struct {
	entry *logrus.Entry
}

var _ gocron.Logger = (*cronLogger)(nil)

func newCronLogger() *cronLogger {
	return &cronLogger{entry: logrus.WithField("component", "gocron")}
}

func (l *cronLogger) fields(args []any) *logrus.Entry {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(args); i += 2 {
		fields[fmt.Sprint(args[i])] = args[i+1]
	}
	return l.entry.WithFields(fields)
}

func (l *cronLogger) Debug(msg string, args ...any) { l.fields(args).Debug(msg) }
func (l *cronLogger) Info(msg string, args ...any)  { l.fields(args).Info(msg) }
func (l *cronLogger) Warn(msg string, args ...any)  { l.fields(args).Warn(msg) }
func (l *cronLogger) Error(msg string, args ...any) { l.fields(args).Error(msg) }
