package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/auth-session/internal/domain"
	"github.com/spec-kit/auth-session/internal/events"
)

func TestAuditWorker_LogsEvents(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	dispatcher := events.NewInMemoryDispatcher()

	stop := StartAuditWorker(dispatcher, zap.New(core))
	sess := &domain.Session{ID: "sess-1", User: &domain.User{ID: "user-1"}}
	require.NoError(t, dispatcher.Publish(context.Background(), events.NewEvent(domain.EventSignedIn, sess)))
	require.NoError(t, dispatcher.Publish(context.Background(), events.NewEvent(domain.EventSignedOut, nil)))

	entries := logs.FilterMessage("auth event").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "SIGNED_IN", entries[0].ContextMap()["event"])
	assert.Equal(t, "user-1", entries[0].ContextMap()["user_id"])
	assert.NotContains(t, entries[1].ContextMap(), "user_id")

	stop()
	require.NoError(t, dispatcher.Publish(context.Background(), events.NewEvent(domain.EventSignedIn, sess)))
	assert.Len(t, logs.FilterMessage("auth event").All(), 2)
}

func TestAuditWorker_NilDispatcher(t *testing.T) {
	stop := StartAuditWorker(nil, zap.NewNop())
	stop()
}
