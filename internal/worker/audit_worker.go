package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/admissions-auth/internal/events"
)

// StartAuditWorker subscribes an audit log sink to the security-relevant
// auth events.
func StartAuditWorker(dispatcher events.Dispatcher, logger *zap.Logger) {
	if dispatcher == nil {
		return
	}

	audit := logger.Named("audit")
	handler := func(_ context.Context, event events.Event) error {
		audit.Info("auth event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("account_id", event.AccountID),
			zap.Time("timestamp", event.Timestamp),
			zap.Any("payload", event.Payload))
		return nil
	}

	dispatcher.Subscribe(events.EventAccountRegistered, handler)
	dispatcher.Subscribe(events.EventAccountLoggedOut, handler)
	dispatcher.Subscribe(events.EventTokenFamilyRevoked, handler)
	dispatcher.Subscribe(events.EventPasswordChanged, handler)
}
