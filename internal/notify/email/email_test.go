package email

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	to, subject, body string
}

func newTestService(cfg config.EmailConfig) (*NotificationService, *[]sent) {
	var mails []sent
	n := New(&cfg)
	n.send = func(to, subject, body string) error {
		mails = append(mails, sent{to, subject, body})
		return nil
	}
	return n, &mails
}

func failure(title string) engine.Event {
	return engine.Event{
		Title:   title,
		From:    database.StateAdding,
		To:      database.StateBlacklisted,
		Reason:  "no usable result after 24 wakes",
		Failure: true,
		At:      time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestDigest(t *testing.T) {
	n, mails := newTestService(config.EmailConfig{Enabled: true, To: "ops@example.com"})
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, failure("Akira (1988)")))
	require.NoError(t, n.Notify(ctx, failure("Heat (1995)")))
	require.NoError(t, n.Notify(ctx, engine.Event{Title: "Collected", To: database.StateCollected}))

	require.NoError(t, n.Flush(ctx))
	require.Len(t, *mails, 1)
	m := (*mails)[0]
	assert.Equal(t, "ops@example.com", m.to)
	assert.Equal(t, "[Jellyfetch] 2 items need attention", m.subject)
	assert.Contains(t, m.body, "Akira (1988)")
	assert.Contains(t, m.body, "Heat (1995)")
	assert.Contains(t, m.body, "2024-05-10 12:00")
	assert.NotContains(t, m.body, "Collected</td>")

	require.NoError(t, n.Flush(ctx))
	assert.Len(t, *mails, 1, "an empty queue sends nothing")
}

func TestDigest_Disabled(t *testing.T) {
	n, mails := newTestService(config.EmailConfig{Enabled: false, To: "ops@example.com"})
	require.NoError(t, n.Notify(context.Background(), failure("Akira (1988)")))
	require.NoError(t, n.Flush(context.Background()))
	assert.Empty(t, *mails)
}

func TestDigest_RequeuesOnSendFailure(t *testing.T) {
	n, mails := newTestService(config.EmailConfig{Enabled: true, To: "ops@example.com"})
	ctx := context.Background()
	deliver := n.send
	n.send = func(string, string, string) error { return errors.New("smtp down") }

	require.NoError(t, n.Notify(ctx, failure("Akira (1988)")))
	require.Error(t, n.Flush(ctx))
	assert.Empty(t, *mails)

	n.send = deliver
	require.NoError(t, n.Flush(ctx))
	require.Len(t, *mails, 1)
	assert.Contains(t, (*mails)[0].body, "Akira (1988)")
}

func TestDigest_Bounded(t *testing.T) {
	n, mails := newTestService(config.EmailConfig{Enabled: true, To: "ops@example.com"})
	ctx := context.Background()
	for range maxPending + 3 {
		require.NoError(t, n.Notify(ctx, failure("Akira (1988)")))
	}
	require.NoError(t, n.Flush(ctx))
	require.Len(t, *mails, 1)
	assert.Contains(t, (*mails)[0].body, "3 further events were dropped")
}
