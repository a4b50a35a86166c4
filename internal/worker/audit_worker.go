package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/auth-session/internal/events"
)

// StartAuditWorker logs every auth state change published on dispatcher.
// The returned func detaches it.
func StartAuditWorker(dispatcher events.Dispatcher, logger *zap.Logger) func() {
	if dispatcher == nil || logger == nil {
		return func() {}
	}
	logger = logger.Named("audit")
	return dispatcher.Subscribe(events.AllEvents, func(_ context.Context, e events.Event) error {
		fields := []zap.Field{
			zap.String("event_id", e.ID),
			zap.String("event", string(e.Type)),
			zap.Time("at", e.Timestamp),
		}
		if e.Session != nil {
			fields = append(fields,
				zap.String("user_id", e.Session.UserID()),
				zap.String("session_id", e.Session.ID),
				zap.Time("expires_at", e.Session.ExpiresAt))
		}
		logger.Info("auth event", fields...)
		return nil
	})
}
