package creatives

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationPayload(t *testing.T) {
	payload := newNotificationPayload("abc123", "guild-1")
	id, value := parseNotificationPayload(payload)
	assert.Equal(t, "abc123", id)
	assert.Equal(t, "guild-1", value)

	id, value = parseNotificationPayload(newNotificationPayload("abc123", ""))
	assert.Equal(t, "abc123", id)
	assert.Empty(t, value)
}

func TestLocalNotifier(t *testing.T) {
	signals := newNotifySignals()
	n, err := newDBNotifier(dbTypeSQLite, "", nil, signals, nil)
	require.NoError(t, err)
	assert.Len(t, n.ID(), 16)
	assert.Empty(t, n.Channels())

	ctx := context.Background()
	assert.True(t, n.SettingsUpdated(ctx, "g1"))
	assert.Equal(t, "g1", <-signals.settingsUpdated)

	assert.True(t, n.BotStateUpdated(ctx))
	<-signals.botStateUpdated

	assert.True(t, n.Stop(ctx))
	select {
	case <-signals.stop:
	default:
		t.Fatal("expected stop signal")
	}
}

func TestLocalNotifier_Timeout(t *testing.T) {
	signals := newNotifySignals()
	n, err := newDBNotifier(dbTypeSQLite, "", nil, signals, nil)
	require.NoError(t, err)

	require.True(t, n.Stop(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, n.Stop(ctx))
}

func TestNewDBNotifier_InvalidType(t *testing.T) {
	_, err := newDBNotifier("mysql", "", nil, newNotifySignals(), nil)
	assert.Error(t, err)
}
