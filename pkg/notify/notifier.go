package notify

import "context"

// Message is one outbound notification.
type Message struct {
	Recipient string
	Subject   string
	Body      string
}

// Notifier delivers a notification to one recipient. Delivery is
// best-effort: callers must treat a returned error as advisory and never
// roll back the operation that triggered the notification.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NopNotifier discards all messages. Installed when SMTP is disabled.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(ctx context.Context, msg Message) error { return nil }
