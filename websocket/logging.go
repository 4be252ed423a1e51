package websocket

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// baseLogger is the package-wide logrus instance connections derive their
// per-connection entry from. Applications that want the core's log lines
// routed into their own pipeline can mutate it (SetLogger) before Upgrade
// is called; it is not guarded because it is meant to be configured once at
// startup, the same way a global logger is elsewhere.
var baseLogger = logrus.New()

// SetLogger replaces the logrus instance used for every subsequently
// created Conn. Existing connections keep the entry they were built with.
func SetLogger(l *logrus.Logger) {
	if l != nil {
		baseLogger = l
	}
}

// newConnLogger builds the per-connection *logrus.Entry, tagged with a
// fresh connection id so log lines from concurrent connections can be
// correlated.
func newConnLogger(id uuid.UUID, isServer bool) *logrus.Entry {
	return baseLogger.WithFields(logrus.Fields{
		"conn_id":   id.String(),
		"is_server": isServer,
	})
}
