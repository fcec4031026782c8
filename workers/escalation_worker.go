package workers

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/internal/metrics"
	"github.com/phonginreallife/oncall/services"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SystemActor is recorded as the actor of timeout-driven escalations.
const SystemActor = "system"

// Escalator advances an incident to its next escalation level, provided it is
// still at the level it was found due at.
type Escalator interface {
	AdvanceEscalationFrom(ctx context.Context, incidentID string, expectedLevel int, actor string) (*db.EscalationResult, error)
}

// dueIncident is an incident whose current level has timed out.
type dueIncident struct {
	ID    string
	Level int
}

// EscalationWorker advances triggered incidents whose current level timed out
type EscalationWorker struct {
	PG           *sql.DB
	Escalator    Escalator
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
}

func NewEscalationWorker(pg *sql.DB, escalator Escalator, pollInterval time.Duration, batchSize, concurrency int) *EscalationWorker {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &EscalationWorker{
		PG:           pg,
		Escalator:    escalator,
		PollInterval: pollInterval,
		BatchSize:    batchSize,
		Concurrency:  concurrency,
	}
}

// Run polls until ctx is cancelled.
func (w *EscalationWorker) Run(ctx context.Context) {
	logrus.Infof("Escalation worker started (interval %s, batch %d, concurrency %d)", w.PollInterval, w.BatchSize, w.Concurrency)

	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Escalation worker stopped")
			return
		case <-ticker.C:
			if _, err := w.ProcessEscalations(ctx); err != nil {
				logrus.Errorf("Escalation worker: %v", err)
			}
		}
	}
}

// ProcessEscalations runs one polling cycle and returns how many incidents advanced.
func (w *EscalationWorker) ProcessEscalations(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.WorkerCycleDuration.Observe(time.Since(start).Seconds()) }()

	due, err := w.incidentsNeedingEscalation(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}
	logrus.Debugf("Escalation worker: found %d incidents needing escalation", len(due))

	var advanced int64
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.Concurrency)
	for _, incident := range due {
		incident := incident
		g.Go(func() error {
			result, err := w.Escalator.AdvanceEscalationFrom(gCtx, incident.ID, incident.Level, SystemActor)
			switch {
			case err == nil:
				atomic.AddInt64(&advanced, 1)
				logrus.Infof("Escalation worker: incident %s escalated to level %d (%s)", incident.ID, result.NewLevel, result.EscalationStatus)
			case services.IsConflict(err):
				// Another advance or an acknowledgement got there first.
				logrus.Debugf("Escalation worker: skipped incident %s: %v", incident.ID, err)
			default:
				logrus.Errorf("Escalation worker: failed to escalate incident %s: %v", incident.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(advanced), nil
}

// incidentsNeedingEscalation returns triggered incidents whose current level has
// timed out and whose policy has a next level.
func (w *EscalationWorker) incidentsNeedingEscalation(ctx context.Context, now time.Time) ([]dueIncident, error) {
	rows, err := w.PG.QueryContext(ctx, `
		SELECT i.id, i.current_escalation_level
		FROM incidents i
		JOIN escalation_levels el_current
		  ON el_current.policy_id = i.escalation_policy_id
		 AND el_current.level_number = i.current_escalation_level
		WHERE i.status = 'triggered'
		  AND i.escalation_policy_id IS NOT NULL
		  AND i.escalation_status IN ('none', 'pending')
		  AND COALESCE(i.last_escalated_at, i.created_at) < $1::timestamptz - INTERVAL '1 minute' * el_current.timeout_minutes
		  AND EXISTS (
			SELECT 1 FROM escalation_levels el_next
			WHERE el_next.policy_id = i.escalation_policy_id
			  AND el_next.level_number = i.current_escalation_level + 1
		  )
		ORDER BY i.created_at ASC
		LIMIT $2
	`, now, w.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to get incidents needing escalation: %w", err)
	}
	defer rows.Close()

	var due []dueIncident
	for rows.Next() {
		var incident dueIncident
		if err := rows.Scan(&incident.ID, &incident.Level); err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		due = append(due, incident)
	}
	return due, rows.Err()
}
