package alert

import (
	"context"

	"go.uber.org/zap"
)

// NoopNotifier logs alerts to zap instead of delivering them.
// Use in development or when SMTP is not configured.
type NoopNotifier struct {
	logger *zap.Logger
}

// NewNoopNotifier creates a NoopNotifier backed by the given logger.
func NewNoopNotifier(logger *zap.Logger) *NoopNotifier {
	return &NoopNotifier{logger: logger}
}

// Send logs the alert and returns nil.
func (n *NoopNotifier) Send(_ context.Context, subject, body string) error {
	n.logger.Warn("security alert (noop — not delivered)",
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}
