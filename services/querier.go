package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// querier is satisfied by both *sql.DB and *sql.Tx so store helpers can run
// inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func stringPtr(s string) *string {
	return &s
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

// recordScheduleEvent appends a row to the schedule audit log.
func recordScheduleEvent(ctx context.Context, q querier, entityType, entityID, action, actor string, data map[string]interface{}) error {
	var payload interface{}
	if len(data) > 0 {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		payload = string(raw)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO schedule_events (id, entity_type, entity_id, action, actor, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New().String(), entityType, entityID, action, actor, payload, time.Now().UTC())
	return err
}
