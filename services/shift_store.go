package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/phonginreallife/oncall/db"
)

const shiftColumns = `id, scheduler_id, rotation_cycle_id, group_id, user_id, shift_type, start_time, end_time,
	is_active, service_id, schedule_scope, created_at, updated_at, created_by`

// ShiftStore persists shifts. Every method takes the querier to run on so the
// lifecycle manager can compose them inside one transaction.
type ShiftStore struct{}

func NewShiftStore() *ShiftStore {
	return &ShiftStore{}
}

// shiftFilter narrows covering-shift lookups.
type shiftFilter struct {
	GroupID     string
	SchedulerID string
	ServiceID   string
	Scope       string
}

func scanShift(row rowScanner) (db.Shift, error) {
	var shift db.Shift
	var cycleID, serviceID sql.NullString
	err := row.Scan(
		&shift.ID, &shift.SchedulerID, &cycleID, &shift.GroupID, &shift.UserID, &shift.ShiftType,
		&shift.StartTime, &shift.EndTime, &shift.IsActive, &serviceID, &shift.ScheduleScope,
		&shift.CreatedAt, &shift.UpdatedAt, &shift.CreatedBy,
	)
	shift.RotationCycleID = nullStringPtr(cycleID)
	shift.ServiceID = nullStringPtr(serviceID)
	return shift, err
}

func scanShiftRows(rows *sql.Rows) ([]db.Shift, error) {
	defer rows.Close()
	var shifts []db.Shift
	for rows.Next() {
		shift, err := scanShift(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shift: %w", err)
		}
		shifts = append(shifts, shift)
	}
	return shifts, rows.Err()
}

// InsertShifts writes all shifts with a single multi-row INSERT.
func (s *ShiftStore) InsertShifts(ctx context.Context, q querier, shifts []db.Shift) error {
	if len(shifts) == 0 {
		return nil
	}

	const columnsPerRow = 14
	valueStrings := make([]string, 0, len(shifts))
	valueArgs := make([]interface{}, 0, len(shifts)*columnsPerRow)
	for i, shift := range shifts {
		base := i * columnsPerRow
		placeholders := make([]string, columnsPerRow)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ", ")+")")
		valueArgs = append(valueArgs,
			shift.ID, shift.SchedulerID, shift.RotationCycleID, shift.GroupID, shift.UserID, shift.ShiftType,
			shift.StartTime, shift.EndTime, shift.IsActive, shift.ServiceID, shift.ScheduleScope,
			shift.CreatedAt, shift.UpdatedAt, shift.CreatedBy,
		)
	}

	query := fmt.Sprintf(`INSERT INTO shifts (%s) VALUES %s`, shiftColumns, strings.Join(valueStrings, ", "))
	if _, err := q.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("failed to batch insert %d shifts: %w", len(shifts), err)
	}
	return nil
}

// DeactivateSchedulerShifts marks every active shift of the scheduler inactive.
func (s *ShiftStore) DeactivateSchedulerShifts(ctx context.Context, q querier, schedulerID string, now time.Time) (int64, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE shifts SET is_active = false, updated_at = $1
		WHERE scheduler_id = $2 AND is_active = true
	`, now, schedulerID)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate shifts: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

// GetShift returns an active shift by id.
func (s *ShiftStore) GetShift(ctx context.Context, q querier, shiftID string) (db.Shift, error) {
	shift, err := scanShift(q.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts WHERE id = $1 AND is_active = true
	`, shiftID))
	if err != nil {
		if err == sql.ErrNoRows {
			return shift, &NotFoundError{Resource: "shift", ID: shiftID}
		}
		return shift, fmt.Errorf("failed to get shift: %w", err)
	}
	return shift, nil
}

func (s *ShiftStore) getActiveShiftForUpdate(ctx context.Context, q querier, shiftID string) (db.Shift, error) {
	shift, err := scanShift(q.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts WHERE id = $1 AND is_active = true FOR UPDATE
	`, shiftID))
	if err != nil {
		if err == sql.ErrNoRows {
			return shift, &NotFoundError{Resource: "shift", ID: shiftID}
		}
		return shift, fmt.Errorf("failed to lock shift: %w", err)
	}
	return shift, nil
}

func (s *ShiftStore) setShiftUser(ctx context.Context, q querier, shiftID, userID string, now time.Time) error {
	if _, err := q.ExecContext(ctx, `
		UPDATE shifts SET user_id = $1, updated_at = $2 WHERE id = $3
	`, userID, now, shiftID); err != nil {
		return fmt.Errorf("failed to update shift %s: %w", shiftID, err)
	}
	return nil
}

// ListSchedulerShifts returns the active shifts of a scheduler in start order.
func (s *ShiftStore) ListSchedulerShifts(ctx context.Context, q querier, schedulerID string) ([]db.Shift, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts
		WHERE scheduler_id = $1 AND is_active = true
		ORDER BY start_time ASC
	`, schedulerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shifts: %w", err)
	}
	return scanShiftRows(rows)
}

// ListGroupShifts returns active shifts of a group intersecting [from, to).
func (s *ShiftStore) ListGroupShifts(ctx context.Context, q querier, groupID string, from, to time.Time) ([]db.Shift, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts
		WHERE group_id = $1 AND is_active = true AND start_time < $3 AND end_time > $2
		ORDER BY start_time ASC
	`, groupID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list group shifts: %w", err)
	}
	return scanShiftRows(rows)
}

// FindCovering returns the active shift covering at for the filter, or nil.
// Ties resolve to the earliest start, then the oldest row.
func (s *ShiftStore) FindCovering(ctx context.Context, q querier, filter shiftFilter, at time.Time) (*db.Shift, error) {
	conditions := []string{"is_active = true", "start_time <= $1", "end_time > $1"}
	args := []interface{}{at}
	add := func(cond string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter.GroupID != "" {
		add("group_id = $%d", filter.GroupID)
	}
	if filter.SchedulerID != "" {
		add("scheduler_id = $%d", filter.SchedulerID)
	}
	if filter.Scope != "" {
		add("schedule_scope = $%d", filter.Scope)
	}
	if filter.ServiceID != "" {
		add("service_id = $%d", filter.ServiceID)
	}

	query := `SELECT ` + shiftColumns + ` FROM shifts WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY start_time ASC, created_at ASC LIMIT 1`

	shift, err := scanShift(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find covering shift: %w", err)
	}
	return &shift, nil
}

// FindOverlapping returns an active shift of the scheduler on the same scope
// target that intersects [start, end), or nil.
func (s *ShiftStore) FindOverlapping(ctx context.Context, q querier, schedulerID, scope string, serviceID *string, start, end time.Time) (*db.Shift, error) {
	query := `SELECT ` + shiftColumns + ` FROM shifts
		WHERE scheduler_id = $1 AND is_active = true AND start_time < $3 AND end_time > $2 AND schedule_scope = $4`
	args := []interface{}{schedulerID, start, end, scope}
	if serviceID != nil {
		query += ` AND service_id = $5`
		args = append(args, *serviceID)
	}
	query += ` ORDER BY start_time ASC LIMIT 1`

	shift, err := scanShift(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check overlapping shifts: %w", err)
	}
	return &shift, nil
}
