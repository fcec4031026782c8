package services

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"
	"github.com/phonginreallife/oncall/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNotificationMessage_Priorities(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		kind     NotificationKind
		priority string
		channels []string
	}{
		{NotificationAssigned, "high", []string{"slack", "push"}},
		{NotificationEscalated, "high", []string{"slack", "push"}},
		{NotificationAcknowledged, "medium", []string{"slack"}},
		{NotificationResolved, "low", []string{"slack"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			msg := newNotificationMessage("user-1", "inc-1", tt.kind, now)
			assert.Equal(t, string(tt.kind), msg.Type)
			assert.Equal(t, tt.priority, msg.Priority)
			assert.Equal(t, tt.channels, msg.Channels)
			assert.Zero(t, msg.RetryCount)
		})
	}
}

// payloadFor matches the JSON message argument of pgmq.send.
type payloadFor struct {
	userID string
	kind   NotificationKind
}

func (p payloadFor) Match(v driver.Value) bool {
	raw, ok := v.(string)
	if !ok {
		return false
	}
	var msg NotificationMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return false
	}
	return msg.UserID == p.userID && msg.Type == string(p.kind)
}

func TestPGMQNotificationSender(t *testing.T) {
	pg, sqlMock := newMockDB(t)
	sender := NewPGMQNotificationSender(pg, "")

	sqlMock.ExpectExec("SELECT pgmq.send\\(\\$1, \\$2\\)").
		WithArgs(DefaultNotificationQueue, payloadFor{userID: "user-1", kind: NotificationEscalated}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, sender.Notify(context.Background(), "user-1", "inc-1", NotificationEscalated))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestPGMQNotificationSender_Error(t *testing.T) {
	pg, sqlMock := newMockDB(t)
	sender := NewPGMQNotificationSender(pg, "alerts")

	sqlMock.ExpectExec("pgmq.send").
		WithArgs("alerts", sqlmock.AnyArg()).
		WillReturnError(errors.New("queue does not exist"))

	err := sender.Notify(context.Background(), "user-1", "inc-1", NotificationAssigned)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue does not exist")
}

func TestRedisNotificationSender_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })

	sender := NewRedisNotificationSender(client, "")
	assert.Equal(t, DefaultNotificationQueue, sender.Queue)

	err := sender.Notify(context.Background(), "user-1", "inc-1", NotificationAssigned)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to push notification to redis")
}

func TestNewNotificationSender(t *testing.T) {
	pg, _ := newMockDB(t)
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { client.Close() })

	sender, err := NewNotificationSender("pgmq", "", pg, nil)
	require.NoError(t, err)
	assert.IsType(t, &PGMQNotificationSender{}, sender)

	sender, err = NewNotificationSender("", "", pg, nil)
	require.NoError(t, err)
	assert.IsType(t, &PGMQNotificationSender{}, sender)

	sender, err = NewNotificationSender("redis", "q", pg, client)
	require.NoError(t, err)
	assert.IsType(t, &RedisNotificationSender{}, sender)

	_, err = NewNotificationSender("redis", "q", pg, nil)
	assert.Error(t, err)

	sender, err = NewNotificationSender("none", "", pg, nil)
	require.NoError(t, err)
	assert.Nil(t, sender)

	_, err = NewNotificationSender("carrier-pigeon", "", pg, nil)
	assert.Error(t, err)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestNotificationDispatcher_FailureIsCounted(t *testing.T) {
	sender := newMockSender()
	sender.On("Notify", "user-1", "inc-1", NotificationResolved).Return(errors.New("queue down"))
	dispatcher := NewNotificationDispatcher(sender, time.Second)

	failures := metrics.NotificationFailures.WithLabelValues(string(NotificationResolved))
	before := counterValue(t, failures)

	dispatcher.Dispatch("user-1", "inc-1", NotificationResolved)
	sender.waitForCall(t)

	assert.Eventually(t, func() bool {
		return counterValue(t, failures) == before+1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotificationDispatcher_SkipsEmptyUser(t *testing.T) {
	sender := newMockSender()
	dispatcher := NewNotificationDispatcher(sender, 0)
	assert.Equal(t, 10*time.Second, dispatcher.Timeout)

	dispatcher.Dispatch("", "inc-1", NotificationAssigned)

	var nilDispatcher *NotificationDispatcher
	nilDispatcher.Dispatch("user-1", "inc-1", NotificationAssigned)

	select {
	case <-sender.calls:
		t.Fatal("no notification expected")
	case <-time.After(50 * time.Millisecond):
	}
}
