package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/phonginreallife/oncall/db"
	"github.com/sirupsen/logrus"
)

// GeneratedShift is one interval produced by GenerateRotation.
type GeneratedShift struct {
	UserID    string    `json:"user_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// GenerateRotation builds a gap-free sequence of shifts.
//
// The first shift runs from StartDateTime to the next handoff: the next
// HandoffWeekday at HandoffTime when a weekday is set, otherwise HandoffTime on
// the day ShiftLengthDays after the start date. Every later shift starts at the
// previous shift's end and lasts exactly ShiftLengthDays. Members rotate by
// shift index. The number of shifts is ceil(WeeksAhead*7 / ShiftLengthDays).
func GenerateRotation(params db.RotationParams) ([]GeneratedShift, error) {
	if params.ShiftLengthDays <= 0 {
		return nil, validationErrorf("shift_length_days", "must be positive, got %d", params.ShiftLengthDays)
	}
	if params.StartDateTime.IsZero() {
		return nil, validationErrorf("start_date_time", "is required")
	}
	if params.WeeksAhead <= 0 {
		return nil, validationErrorf("weeks_ahead", "must be positive, got %d", params.WeeksAhead)
	}
	if len(params.MemberOrder) == 0 {
		return nil, validationErrorf("member_order", "rotation requires at least one member")
	}
	for i, member := range params.MemberOrder {
		if strings.TrimSpace(member) == "" {
			return nil, validationErrorf("member_order", "member %d has an empty user id", i+1)
		}
	}
	if params.HandoffWeekday != nil && (*params.HandoffWeekday < time.Sunday || *params.HandoffWeekday > time.Saturday) {
		return nil, validationErrorf("handoff_weekday", "must be between 0 (Sunday) and 6 (Saturday)")
	}

	hour, minute, err := parseHandoffTime(params.HandoffTime, params.StartDateTime)
	if err != nil {
		return nil, err
	}

	horizonDays := params.WeeksAhead * 7
	count := (horizonDays + params.ShiftLengthDays - 1) / params.ShiftLengthDays

	shifts := make([]GeneratedShift, 0, count)
	start := params.StartDateTime
	end := firstHandoff(params.StartDateTime, hour, minute, params.ShiftLengthDays, params.HandoffWeekday)
	for i := 0; i < count; i++ {
		if !end.After(start) {
			return nil, validationErrorf("handoff_time", "shift %d would end at or before its start (%s)", i+1, start.Format(time.RFC3339))
		}
		shifts = append(shifts, GeneratedShift{
			UserID:    params.MemberOrder[i%len(params.MemberOrder)],
			StartTime: start,
			EndTime:   end,
		})
		start = end
		end = start.AddDate(0, 0, params.ShiftLengthDays)
	}

	return shifts, nil
}

// parseHandoffTime parses "HH:MM"; an empty value keeps the start's clock time.
func parseHandoffTime(value string, start time.Time) (int, int, error) {
	if strings.TrimSpace(value) == "" {
		return start.Hour(), start.Minute(), nil
	}
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, 0, validationErrorf("handoff_time", "expected HH:MM, got %q", value)
	}
	return t.Hour(), t.Minute(), nil
}

func firstHandoff(start time.Time, hour, minute, lengthDays int, weekday *time.Weekday) time.Time {
	y, m, d := start.Date()
	loc := start.Location()
	if weekday == nil {
		return time.Date(y, m, d+lengthDays, hour, minute, 0, 0, loc)
	}

	candidate := time.Date(y, m, d, hour, minute, 0, 0, loc)
	ahead := (int(*weekday) - int(candidate.Weekday()) + 7) % 7
	candidate = candidate.AddDate(0, 0, ahead)
	if !candidate.After(start) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

// RotationService manages rotation cycles and shift swaps
type RotationService struct {
	PG                *sql.DB
	Shifts            *ShiftStore
	DefaultWeeksAhead int
}

func NewRotationService(pg *sql.DB, shifts *ShiftStore, defaultWeeksAhead int) *RotationService {
	if defaultWeeksAhead <= 0 {
		defaultWeeksAhead = 52
	}
	return &RotationService{PG: pg, Shifts: shifts, DefaultWeeksAhead: defaultWeeksAhead}
}

// applyDefaults fills optional rotation fields.
func (s *RotationService) applyDefaults(params db.RotationParams) db.RotationParams {
	if params.ShiftLengthDays == 0 {
		params.ShiftLengthDays = 7
	}
	if params.WeeksAhead == 0 {
		params.WeeksAhead = s.DefaultWeeksAhead
	}
	if params.ScheduleScope == "" {
		params.ScheduleScope = db.ScheduleScopeGroup
	}
	return params
}

// PreviewRotation runs the generator without persisting anything
func (s *RotationService) PreviewRotation(params db.RotationParams) ([]GeneratedShift, error) {
	return GenerateRotation(s.applyDefaults(params))
}

// GetActiveRotationCycle returns the active rotation cycle of a scheduler, or nil.
func (s *RotationService) GetActiveRotationCycle(ctx context.Context, schedulerID string) (*db.RotationCycle, error) {
	row := s.PG.QueryRowContext(ctx, `
		SELECT id, scheduler_id, group_id, shift_length_days, start_time, handoff_time, handoff_weekday,
		       member_order::text, is_active, created_at, updated_at, created_by
		FROM rotation_cycles
		WHERE scheduler_id = $1 AND is_active = true
		ORDER BY created_at DESC
		LIMIT 1
	`, schedulerID)

	var cycle db.RotationCycle
	var weekday sql.NullInt64
	var memberOrderJSON string
	err := row.Scan(
		&cycle.ID, &cycle.SchedulerID, &cycle.GroupID, &cycle.ShiftLengthDays, &cycle.StartTime,
		&cycle.HandoffTime, &weekday, &memberOrderJSON, &cycle.IsActive,
		&cycle.CreatedAt, &cycle.UpdatedAt, &cycle.CreatedBy,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rotation cycle: %w", err)
	}
	if weekday.Valid {
		wd := time.Weekday(weekday.Int64)
		cycle.HandoffWeekday = &wd
	}
	if err := json.Unmarshal([]byte(memberOrderJSON), &cycle.MemberOrder); err != nil {
		return nil, fmt.Errorf("failed to parse member order: %w", err)
	}
	return &cycle, nil
}

// replaceRotationCycle deactivates the scheduler's current cycles and records a new one.
func (s *RotationService) replaceRotationCycle(ctx context.Context, q querier, scheduler db.Scheduler, params db.RotationParams, actor string) (string, error) {
	now := time.Now().UTC()
	if _, err := q.ExecContext(ctx, `
		UPDATE rotation_cycles SET is_active = false, updated_at = $1
		WHERE scheduler_id = $2 AND is_active = true
	`, now, scheduler.ID); err != nil {
		return "", fmt.Errorf("failed to deactivate rotation cycles: %w", err)
	}

	memberOrderJSON, err := json.Marshal(params.MemberOrder)
	if err != nil {
		return "", fmt.Errorf("failed to marshal member order: %w", err)
	}

	handoff := params.HandoffTime
	if handoff == "" {
		handoff = params.StartDateTime.Format("15:04")
	}
	var weekday interface{}
	if params.HandoffWeekday != nil {
		weekday = int(*params.HandoffWeekday)
	}

	cycleID := uuid.New().String()
	if _, err := q.ExecContext(ctx, `
		INSERT INTO rotation_cycles (id, scheduler_id, group_id, shift_length_days, start_time, handoff_time,
		                             handoff_weekday, member_order, is_active, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, $9, $9, $10)
	`, cycleID, scheduler.ID, scheduler.GroupID, params.ShiftLengthDays, params.StartDateTime, handoff,
		weekday, string(memberOrderJSON), now, actor); err != nil {
		return "", fmt.Errorf("failed to create rotation cycle: %w", err)
	}

	return cycleID, nil
}

// SwapShifts exchanges the users of two shifts and keeps every linked rotation
// cycle ordering in sync
func (s *RotationService) SwapShifts(ctx context.Context, req db.ShiftSwapRequest, actor string) (db.ShiftSwapResponse, error) {
	var response db.ShiftSwapResponse
	if req.CurrentShiftID == req.TargetShiftID {
		return response, validationErrorf("target_shift_id", "cannot swap a shift with itself")
	}

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return response, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	first, err := s.Shifts.getActiveShiftForUpdate(ctx, tx, req.CurrentShiftID)
	if err != nil {
		return response, err
	}
	second, err := s.Shifts.getActiveShiftForUpdate(ctx, tx, req.TargetShiftID)
	if err != nil {
		return response, err
	}
	if first.GroupID != second.GroupID {
		return response, validationErrorf("target_shift_id", "cannot swap shifts from different groups")
	}

	now := time.Now().UTC()
	if err := s.Shifts.setShiftUser(ctx, tx, first.ID, second.UserID, now); err != nil {
		return response, err
	}
	if err := s.Shifts.setShiftUser(ctx, tx, second.ID, first.UserID, now); err != nil {
		return response, err
	}

	updated, err := s.swapMembersInCycles(ctx, tx, first, second, now)
	if err != nil {
		return response, err
	}

	if err := recordScheduleEvent(ctx, tx, "shift", first.ID, "swapped", actor, map[string]interface{}{
		"target_shift_id": second.ID,
		"users":           []string{first.UserID, second.UserID},
		"cycles_updated":  updated,
	}); err != nil {
		return response, fmt.Errorf("failed to record swap: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return response, fmt.Errorf("failed to commit swap: %w", err)
	}

	first.UserID, second.UserID = second.UserID, first.UserID
	first.UpdatedAt, second.UpdatedAt = now, now
	response.CurrentShift = first
	response.TargetShift = second
	response.CyclesUpdated = updated
	response.SwappedAt = now

	logrus.WithFields(logrus.Fields{
		"current_shift": first.ID,
		"target_shift":  second.ID,
		"actor":         actor,
	}).Info("Swapped shifts")
	return response, nil
}

// swapMembersInCycles applies MemberOrder.Swap to every active cycle linked to either shift.
func (s *RotationService) swapMembersInCycles(ctx context.Context, tx *sql.Tx, first, second db.Shift, now time.Time) (int, error) {
	var cycleIDs []string
	for _, shift := range []db.Shift{first, second} {
		if shift.RotationCycleID != nil && !containsString(cycleIDs, *shift.RotationCycleID) {
			cycleIDs = append(cycleIDs, *shift.RotationCycleID)
		}
	}
	if len(cycleIDs) == 0 {
		return 0, nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, member_order::text FROM rotation_cycles
		WHERE id = ANY($1) AND is_active = true
		FOR UPDATE
	`, pq.Array(cycleIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to load rotation cycles: %w", err)
	}

	orders := make(map[string]db.MemberOrder)
	var loaded []string
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan rotation cycle: %w", err)
		}
		var order db.MemberOrder
		if err := json.Unmarshal([]byte(raw), &order); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to parse member order of cycle %s: %w", id, err)
		}
		orders[id] = order
		loaded = append(loaded, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read rotation cycles: %w", err)
	}

	updated := 0
	for _, id := range loaded {
		order := orders[id]
		if !order.Swap(first.UserID, second.UserID) {
			continue
		}
		raw, err := json.Marshal(order)
		if err != nil {
			return updated, fmt.Errorf("failed to marshal member order: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE rotation_cycles SET member_order = $1, updated_at = $2 WHERE id = $3
		`, string(raw), now, id); err != nil {
			return updated, fmt.Errorf("failed to update rotation cycle %s: %w", id, err)
		}
		updated++
	}
	return updated, nil
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
