package notification

import (
	"context"
	"log/slog"
)

// Message describes a notification payload. Kind is the ledger event status,
// Destination the user it concerns and Key the event's message id.
type Message struct {
	Kind        string
	Destination string
	Key         string
	Body        []byte
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"kind", message.Kind,
		"destination", message.Destination,
		"key", message.Key,
		"body", string(message.Body),
	)
	return nil
}
