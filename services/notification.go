package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/phonginreallife/oncall/internal/metrics"
	"github.com/sirupsen/logrus"
)

// NotificationKind names the incident event a notification is about
type NotificationKind string

const (
	NotificationAssigned     NotificationKind = "assigned"
	NotificationEscalated    NotificationKind = "escalated"
	NotificationAcknowledged NotificationKind = "acknowledged"
	NotificationResolved     NotificationKind = "resolved"
)

// DefaultNotificationQueue is the queue name used by both queue-backed senders.
const DefaultNotificationQueue = "incident_notifications"

// NotificationSender delivers an incident notification to a user. Delivery and
// retries belong to whatever consumes the queue.
type NotificationSender interface {
	Notify(ctx context.Context, userID, incidentID string, kind NotificationKind) error
}

// NotificationMessage is the queued payload
type NotificationMessage struct {
	UserID     string    `json:"user_id"`
	IncidentID string    `json:"incident_id"`
	Type       string    `json:"type"`     // "assigned", "escalated", "resolved", "acknowledged"
	Priority   string    `json:"priority"` // "high", "medium", "low"
	Channels   []string  `json:"channels"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
}

func newNotificationMessage(userID, incidentID string, kind NotificationKind, now time.Time) NotificationMessage {
	msg := NotificationMessage{
		UserID:     userID,
		IncidentID: incidentID,
		Type:       string(kind),
		Priority:   "high",
		Channels:   []string{"slack", "push"},
		CreatedAt:  now,
	}
	switch kind {
	case NotificationAcknowledged:
		msg.Priority = "medium"
		msg.Channels = []string{"slack"}
	case NotificationResolved:
		msg.Priority = "low"
		msg.Channels = []string{"slack"}
	}
	return msg
}

// RedisNotificationSender pushes JSON messages onto a Redis list
type RedisNotificationSender struct {
	Redis *redis.Client
	Queue string
}

func NewRedisNotificationSender(client *redis.Client, queue string) *RedisNotificationSender {
	if queue == "" {
		queue = DefaultNotificationQueue
	}
	return &RedisNotificationSender{Redis: client, Queue: queue}
}

func (r *RedisNotificationSender) Notify(ctx context.Context, userID, incidentID string, kind NotificationKind) error {
	payload, err := json.Marshal(newNotificationMessage(userID, incidentID, kind, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := r.Redis.LPush(ctx, r.Queue, payload).Err(); err != nil {
		return fmt.Errorf("failed to push notification to redis: %w", err)
	}
	return nil
}

// PGMQNotificationSender sends messages to a PGMQ queue in PostgreSQL
type PGMQNotificationSender struct {
	PG    *sql.DB
	Queue string
}

func NewPGMQNotificationSender(pg *sql.DB, queue string) *PGMQNotificationSender {
	if queue == "" {
		queue = DefaultNotificationQueue
	}
	return &PGMQNotificationSender{PG: pg, Queue: queue}
}

func (p *PGMQNotificationSender) Notify(ctx context.Context, userID, incidentID string, kind NotificationKind) error {
	payload, err := json.Marshal(newNotificationMessage(userID, incidentID, kind, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if _, err := p.PG.ExecContext(ctx, `SELECT pgmq.send($1, $2)`, p.Queue, string(payload)); err != nil {
		return fmt.Errorf("failed to send notification to queue: %w", err)
	}
	return nil
}

// NotificationDispatcher fires notifications without blocking the caller.
type NotificationDispatcher struct {
	Sender  NotificationSender
	Timeout time.Duration
}

func NewNotificationDispatcher(sender NotificationSender, timeout time.Duration) *NotificationDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NotificationDispatcher{Sender: sender, Timeout: timeout}
}

// Dispatch sends in the background. Failures are logged as DependencyErrors.
func (d *NotificationDispatcher) Dispatch(userID, incidentID string, kind NotificationKind) {
	if d == nil || d.Sender == nil || userID == "" {
		return
	}
	go d.send(userID, incidentID, kind)
}

func (d *NotificationDispatcher) send(userID, incidentID string, kind NotificationKind) {
	ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
	defer cancel()

	if err := d.Sender.Notify(ctx, userID, incidentID, kind); err != nil {
		depErr := &DependencyError{Dependency: "notification", Err: err}
		metrics.NotificationFailures.WithLabelValues(string(kind)).Inc()
		logrus.WithFields(logrus.Fields{
			"user_id":     userID,
			"incident_id": incidentID,
			"kind":        kind,
		}).Errorf("Failed to send %s notification: %v", kind, depErr)
	}
}

// NewNotificationSender picks the sender for a configured backend: "redis",
// "pgmq" or "none". A nil sender disables notifications.
func NewNotificationSender(backend, queue string, pg *sql.DB, client *redis.Client) (NotificationSender, error) {
	switch backend {
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("notification backend redis requires a redis client")
		}
		return NewRedisNotificationSender(client, queue), nil
	case "pgmq", "":
		return NewPGMQNotificationSender(pg, queue), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown notification backend %q", backend)
	}
}
