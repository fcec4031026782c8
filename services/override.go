package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/phonginreallife/oncall/db"
	"github.com/sirupsen/logrus"
)

const overrideColumns = `so.id, so.original_schedule_id, so.group_id, so.new_user_id, so.override_reason,
	so.override_type, so.override_start_time, so.override_end_time, so.is_active,
	so.created_at, so.updated_at, so.created_by`

// OverrideStore persists schedule overrides.
type OverrideStore struct{}

func NewOverrideStore() *OverrideStore {
	return &OverrideStore{}
}

func scanOverride(row rowScanner) (db.ScheduleOverride, error) {
	var o db.ScheduleOverride
	var reason sql.NullString
	err := row.Scan(
		&o.ID, &o.OriginalScheduleID, &o.GroupID, &o.NewUserID, &reason,
		&o.OverrideType, &o.OverrideStartTime, &o.OverrideEndTime, &o.IsActive,
		&o.CreatedAt, &o.UpdatedAt, &o.CreatedBy,
	)
	o.OverrideReason = nullStringPtr(reason)
	return o, err
}

func scanOverrideRows(rows *sql.Rows) ([]db.ScheduleOverride, error) {
	defer rows.Close()
	var overrides []db.ScheduleOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

func (s *OverrideStore) Insert(ctx context.Context, q querier, o db.ScheduleOverride) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO schedule_overrides (id, original_schedule_id, group_id, new_user_id, override_reason,
		                                override_type, override_start_time, override_end_time, is_active,
		                                created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, o.ID, o.OriginalScheduleID, o.GroupID, o.NewUserID, o.OverrideReason,
		o.OverrideType, o.OverrideStartTime, o.OverrideEndTime, o.IsActive,
		o.CreatedAt, o.UpdatedAt, o.CreatedBy)
	if err != nil {
		return fmt.Errorf("failed to insert override: %w", err)
	}
	return nil
}

// Deactivate marks the given overrides inactive.
func (s *OverrideStore) Deactivate(ctx context.Context, q querier, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := q.ExecContext(ctx, `
		UPDATE schedule_overrides SET is_active = false, updated_at = $1
		WHERE id = ANY($2) AND is_active = true
	`, now, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to deactivate overrides: %w", err)
	}
	return nil
}

// ListActiveForScheduler returns active overrides attached to the scheduler's active shifts.
func (s *OverrideStore) ListActiveForScheduler(ctx context.Context, q querier, schedulerID string) ([]db.ScheduleOverride, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+overrideColumns+`
		FROM schedule_overrides so
		JOIN shifts s ON so.original_schedule_id = s.id
		WHERE s.scheduler_id = $1 AND s.is_active = true AND so.is_active = true
		ORDER BY so.override_start_time ASC, so.created_at ASC
	`, schedulerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active overrides: %w", err)
	}
	return scanOverrideRows(rows)
}

// FindCovering returns the newest active override of the shift covering at, or nil.
func (s *OverrideStore) FindCovering(ctx context.Context, q querier, shiftID string, at time.Time) (*db.ScheduleOverride, error) {
	o, err := scanOverride(q.QueryRowContext(ctx, `
		SELECT `+overrideColumns+`
		FROM schedule_overrides so
		WHERE so.original_schedule_id = $1 AND so.is_active = true
		  AND so.override_start_time <= $2 AND so.override_end_time > $2
		ORDER BY so.created_at DESC
		LIMIT 1
	`, shiftID, at))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find override: %w", err)
	}
	return &o, nil
}

// FindOverlapping returns an active override of the shift intersecting [start, end), or nil.
func (s *OverrideStore) FindOverlapping(ctx context.Context, q querier, shiftID string, start, end time.Time) (*db.ScheduleOverride, error) {
	o, err := scanOverride(q.QueryRowContext(ctx, `
		SELECT `+overrideColumns+`
		FROM schedule_overrides so
		WHERE so.original_schedule_id = $1 AND so.is_active = true
		  AND so.override_start_time < $3 AND so.override_end_time > $2
		LIMIT 1
	`, shiftID, start, end))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check overlapping overrides: %w", err)
	}
	return &o, nil
}

// OverrideService handles override creation, listing and removal
type OverrideService struct {
	PG        *sql.DB
	Shifts    *ShiftStore
	Overrides *OverrideStore
}

func NewOverrideService(pg *sql.DB, shifts *ShiftStore, overrides *OverrideStore) *OverrideService {
	return &OverrideService{PG: pg, Shifts: shifts, Overrides: overrides}
}

// CreateOverride attaches a new override to an active shift.
func (s *OverrideService) CreateOverride(ctx context.Context, req db.CreateScheduleOverrideRequest, createdBy string) (db.ScheduleOverride, error) {
	var override db.ScheduleOverride

	if strings.TrimSpace(req.NewUserID) == "" {
		return override, validationErrorf("new_user_id", "is required")
	}
	if !req.OverrideEndTime.After(req.OverrideStartTime) {
		return override, validationErrorf("override_end_time", "must be after override_start_time")
	}
	if req.OverrideType == "" {
		req.OverrideType = db.OverrideTypeTemporary
	}
	switch req.OverrideType {
	case db.OverrideTypeTemporary, db.OverrideTypePermanent, db.OverrideTypeEmergency:
	default:
		return override, validationErrorf("override_type", "unknown type %q", req.OverrideType)
	}

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return override, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	shift, err := s.Shifts.getActiveShiftForUpdate(ctx, tx, req.OriginalScheduleID)
	if err != nil {
		return override, err
	}
	if shift.UserID == req.NewUserID {
		return override, validationErrorf("new_user_id", "override user is already assigned to the shift")
	}
	if req.OverrideStartTime.Before(shift.StartTime) || req.OverrideEndTime.After(shift.EndTime) {
		return override, validationErrorf("override_start_time", "override must fall within the shift interval %s - %s",
			shift.StartTime.Format(time.RFC3339), shift.EndTime.Format(time.RFC3339))
	}

	existing, err := s.Overrides.FindOverlapping(ctx, tx, shift.ID, req.OverrideStartTime, req.OverrideEndTime)
	if err != nil {
		return override, err
	}
	if existing != nil {
		return override, &ConflictError{
			Message:            fmt.Sprintf("shift already has an active override %s in that interval", existing.ID),
			ConflictingShiftID: shift.ID,
		}
	}

	now := time.Now().UTC()
	override = db.ScheduleOverride{
		ID:                 uuid.New().String(),
		OriginalScheduleID: shift.ID,
		GroupID:            shift.GroupID,
		NewUserID:          req.NewUserID,
		OverrideReason:     req.OverrideReason,
		OverrideType:       req.OverrideType,
		OverrideStartTime:  req.OverrideStartTime,
		OverrideEndTime:    req.OverrideEndTime,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
		CreatedBy:          createdBy,
	}
	if err := s.Overrides.Insert(ctx, tx, override); err != nil {
		return db.ScheduleOverride{}, err
	}

	if err := recordScheduleEvent(ctx, tx, "override", override.ID, "created", createdBy, map[string]interface{}{
		"shift_id":      shift.ID,
		"new_user_id":   override.NewUserID,
		"original_user": shift.UserID,
	}); err != nil {
		return db.ScheduleOverride{}, fmt.Errorf("failed to record override: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return db.ScheduleOverride{}, fmt.Errorf("failed to commit override: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"override_id": override.ID,
		"shift_id":    shift.ID,
		"new_user_id": override.NewUserID,
	}).Info("Created schedule override")
	return override, nil
}

// ListOverrides returns active overrides for a group, optionally narrowed to a window.
func (s *OverrideService) ListOverrides(ctx context.Context, groupID string, from, to *time.Time) ([]db.ScheduleOverride, error) {
	query := `SELECT ` + overrideColumns + `
		FROM schedule_overrides so
		WHERE so.group_id = $1 AND so.is_active = true`
	args := []interface{}{groupID}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND so.override_end_time > $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND so.override_start_time < $%d", len(args))
	}
	query += " ORDER BY so.override_start_time ASC"

	rows, err := s.PG.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	overrides, err := scanOverrideRows(rows)
	if err != nil {
		return nil, err
	}
	if overrides == nil {
		overrides = []db.ScheduleOverride{}
	}
	return overrides, nil
}

// DeleteOverride soft-deletes an override.
func (s *OverrideService) DeleteOverride(ctx context.Context, overrideID, actor string) error {
	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE schedule_overrides SET is_active = false, updated_at = $1
		WHERE id = $2 AND is_active = true
	`, time.Now().UTC(), overrideID)
	if err != nil {
		return fmt.Errorf("failed to delete override: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return &NotFoundError{Resource: "override", ID: overrideID}
	}

	if err := recordScheduleEvent(ctx, tx, "override", overrideID, "deleted", actor, nil); err != nil {
		return fmt.Errorf("failed to record override deletion: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit override deletion: %w", err)
	}
	return nil
}
