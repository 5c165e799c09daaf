package alert

import "context"

// Notifier delivers security alerts raised by the settlement engine, such as
// an integrity-seal mismatch detected at approval time.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}
