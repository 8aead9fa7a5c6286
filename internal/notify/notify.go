// Package notify delivers emergency request alerts to vault owners.
package notify

import (
	"context"
	"log/slog"
)

// Notifier sends a short summary to an owner
type Notifier interface {
	Notify(ctx context.Context, ownerID, summary string) error
}

// Func adapts a function to Notifier
type Func func(ctx context.Context, ownerID, summary string) error

// Notify implements Notifier
func (f Func) Notify(ctx context.Context, ownerID, summary string) error {
	return f(ctx, ownerID, summary)
}

// LogNotifier writes notifications to a logger. It is the default when no
// delivery channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier logging through logger
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier
func (n *LogNotifier) Notify(ctx context.Context, ownerID, summary string) error {
	n.logger.InfoContext(ctx, "owner notification", "owner_id", ownerID, "summary", summary)
	return nil
}
