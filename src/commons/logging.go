// Package commons holds the plumbing shared by the predict and api binaries.
package commons

import (
	"github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// SetupLogging sets the logrus level and, when dsn is not empty, forwards
// errors to Sentry.
func SetupLogging(level string, dsn string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	log.SetLevel(lvl)

	if dsn == "" {
		return nil
	}
	if err := raven.SetDSN(dsn); err != nil {
		return errors.Wrap(err, "set sentry dsn")
	}
	log.AddHook(NewSentryHook(log.ErrorLevel))
	log.Debug("[Main] Reporting errors to Sentry")
	return nil
}

// SentryHook reports log entries at or above a level to Sentry.
type SentryHook struct {
	levels  []log.Level
	capture func(msg string, tags map[string]string)
}

func NewSentryHook(minLevel log.Level) *SentryHook {
	var levels []log.Level
	for _, l := range log.AllLevels {
		if l <= minLevel {
			levels = append(levels, l)
		}
	}
	return &SentryHook{
		levels: levels,
		capture: func(msg string, tags map[string]string) {
			raven.CaptureMessageAndWait(msg, tags)
		},
	}
}

func (h *SentryHook) Levels() []log.Level {
	return h.levels
}

func (h *SentryHook) Fire(entry *log.Entry) error {
	tags := map[string]string{"level": entry.Level.String()}
	for k, v := range entry.Data {
		if s, ok := v.(string); ok {
			tags[k] = s
		}
	}
	h.capture(entry.Message, tags)
	return nil
}
