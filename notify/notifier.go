// Package notify delivers user-facing event messages. The scheduler and the
// status monitor emit exactly one message per terminal state or observed
// transition; delivery failures are logged, never propagated into the
// emitting component.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Notifier sends a single user-visible message.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// LogNotifier writes notifications to the process log. It is the fallback
// when no chat channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, message string) error {
	n.logger.Info().Msg(message)
	return nil
}

// Multi fans a notification out to several sinks. Errors from individual
// sinks are swallowed after logging so one broken channel cannot silence the
// others.
type Multi struct {
	logger    zerolog.Logger
	notifiers []Notifier
}

func NewMulti(logger zerolog.Logger, notifiers ...Notifier) *Multi {
	return &Multi{
		logger:    logger.With().Str("component", "notifier").Logger(),
		notifiers: notifiers,
	}
}

func (m *Multi) Notify(ctx context.Context, message string) error {
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, message); err != nil {
			m.logger.Warn().Err(err).Msg("notification delivery failed")
		}
	}
	return nil
}
