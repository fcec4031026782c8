package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/internal/metrics"
	"github.com/sirupsen/logrus"
)

const schedulerColumns = `id, name, display_name, group_id, description, is_active, rotation_type,
	created_at, updated_at, created_by`

// SchedulerService owns the scheduler lifecycle and its shift set
type SchedulerService struct {
	PG        *sql.DB
	Shifts    *ShiftStore
	Overrides *OverrideStore
	Rotations *RotationService
}

func NewSchedulerService(pg *sql.DB, shifts *ShiftStore, overrides *OverrideStore, rotations *RotationService) *SchedulerService {
	return &SchedulerService{PG: pg, Shifts: shifts, Overrides: overrides, Rotations: rotations}
}

// ReplaceResult is returned by ReplaceSchedulerShifts.
type ReplaceResult struct {
	Scheduler         db.Scheduler          `json:"scheduler"`
	Shifts            []db.Shift            `json:"shifts"`
	OverridesRestored int                   `json:"overrides_restored"`
	Warnings          []PreservationWarning `json:"warnings,omitempty"`
}

func scanScheduler(row rowScanner) (db.Scheduler, error) {
	var s db.Scheduler
	err := row.Scan(&s.ID, &s.Name, &s.DisplayName, &s.GroupID, &s.Description, &s.IsActive,
		&s.RotationType, &s.CreatedAt, &s.UpdatedAt, &s.CreatedBy)
	return s, err
}

// CreateScheduler creates a scheduler, suffixing the name when it is already taken in the group.
func (s *SchedulerService) CreateScheduler(ctx context.Context, groupID string, req db.CreateSchedulerRequest, createdBy string) (db.Scheduler, error) {
	var scheduler db.Scheduler
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return scheduler, validationErrorf("name", "is required")
	}
	if groupID == "" {
		return scheduler, validationErrorf("group_id", "is required")
	}
	if req.RotationType == "" {
		req.RotationType = db.RotationTypeManual
	}
	if !validRotationType(req.RotationType) {
		return scheduler, validationErrorf("rotation_type", "unknown rotation type %q", req.RotationType)
	}
	if req.DisplayName == "" {
		req.DisplayName = name
	}

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return scheduler, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	uniqueName, err := s.uniqueSchedulerName(ctx, tx, groupID, name)
	if err != nil {
		return scheduler, err
	}

	now := time.Now().UTC()
	scheduler = db.Scheduler{
		ID:           uuid.New().String(),
		Name:         uniqueName,
		DisplayName:  req.DisplayName,
		GroupID:      groupID,
		Description:  req.Description,
		IsActive:     true,
		RotationType: req.RotationType,
		CreatedAt:    now,
		UpdatedAt:    now,
		CreatedBy:    createdBy,
	}
	if err := insertScheduler(ctx, tx, scheduler); err != nil {
		return db.Scheduler{}, err
	}
	if err := recordScheduleEvent(ctx, tx, "scheduler", scheduler.ID, "created", createdBy, map[string]interface{}{
		"name": scheduler.Name,
	}); err != nil {
		return db.Scheduler{}, fmt.Errorf("failed to record scheduler creation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return db.Scheduler{}, fmt.Errorf("failed to commit scheduler: %w", err)
	}

	if uniqueName != name {
		logrus.Infof("Scheduler name %q taken in group %s, using %q", name, groupID, uniqueName)
	}
	return scheduler, nil
}

func insertScheduler(ctx context.Context, q querier, scheduler db.Scheduler) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO schedulers (`+schedulerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, scheduler.ID, scheduler.Name, scheduler.DisplayName, scheduler.GroupID, scheduler.Description,
		scheduler.IsActive, scheduler.RotationType, scheduler.CreatedAt, scheduler.UpdatedAt, scheduler.CreatedBy)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	return nil
}

func (s *SchedulerService) uniqueSchedulerName(ctx context.Context, q querier, groupID, base string) (string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT name FROM schedulers
		WHERE group_id = $1 AND is_active = true AND (name = $2 OR name LIKE $3)
	`, groupID, base, base+"-%")
	if err != nil {
		return "", fmt.Errorf("failed to check scheduler names: %w", err)
	}
	defer rows.Close()

	taken := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", fmt.Errorf("failed to scan scheduler name: %w", err)
		}
		taken[name] = true
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to read scheduler names: %w", err)
	}
	return nextAvailableName(base, taken, time.Now()), nil
}

// nextAvailableName returns base, or base-1..base-100, or a timestamped name.
func nextAvailableName(base string, taken map[string]bool, now time.Time) string {
	if !taken[base] {
		return base
	}
	for i := 1; i <= 100; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if !taken[candidate] {
			return candidate
		}
	}
	return fmt.Sprintf("%s-%d", base, now.Unix())
}

// GetOrCreateDefaultScheduler returns the group's default scheduler, reactivating
// or creating it when needed.
func (s *SchedulerService) GetOrCreateDefaultScheduler(ctx context.Context, groupID, createdBy string) (db.Scheduler, error) {
	scheduler, err := scanScheduler(s.PG.QueryRowContext(ctx, `
		SELECT `+schedulerColumns+` FROM schedulers
		WHERE group_id = $1 AND name = $2 AND is_active = true
	`, groupID, db.DefaultSchedulerName))
	if err == nil {
		return scheduler, nil
	}
	if err != sql.ErrNoRows {
		return scheduler, fmt.Errorf("failed to get default scheduler: %w", err)
	}

	now := time.Now().UTC()
	scheduler, err = scanScheduler(s.PG.QueryRowContext(ctx, `
		UPDATE schedulers SET is_active = true, updated_at = $3
		WHERE id = (
			SELECT id FROM schedulers WHERE group_id = $1 AND name = $2 AND is_active = false
			ORDER BY updated_at DESC LIMIT 1
		)
		RETURNING `+schedulerColumns, groupID, db.DefaultSchedulerName, now))
	if err == nil {
		logrus.Infof("Reactivated default scheduler %s for group %s", scheduler.ID, groupID)
		return scheduler, nil
	}
	if err != sql.ErrNoRows {
		return scheduler, fmt.Errorf("failed to reactivate default scheduler: %w", err)
	}

	scheduler = db.Scheduler{
		ID:           uuid.New().String(),
		Name:         db.DefaultSchedulerName,
		DisplayName:  "Default Schedule",
		GroupID:      groupID,
		Description:  "Default scheduler for group",
		IsActive:     true,
		RotationType: db.RotationTypeManual,
		CreatedAt:    now,
		UpdatedAt:    now,
		CreatedBy:    createdBy,
	}
	if err := insertScheduler(ctx, s.PG, scheduler); err != nil {
		return db.Scheduler{}, err
	}
	logrus.Infof("Created default scheduler %s for group %s", scheduler.ID, groupID)
	return scheduler, nil
}

// ListSchedulers returns the active schedulers of a group.
func (s *SchedulerService) ListSchedulers(ctx context.Context, groupID string) ([]db.Scheduler, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT `+schedulerColumns+` FROM schedulers
		WHERE group_id = $1 AND is_active = true
		ORDER BY created_at ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedulers: %w", err)
	}
	defer rows.Close()

	schedulers := []db.Scheduler{}
	for rows.Next() {
		scheduler, err := scanScheduler(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduler: %w", err)
		}
		schedulers = append(schedulers, scheduler)
	}
	return schedulers, rows.Err()
}

func (s *SchedulerService) getActiveScheduler(ctx context.Context, q querier, schedulerID string, forUpdate bool) (db.Scheduler, error) {
	query := `SELECT ` + schedulerColumns + ` FROM schedulers WHERE id = $1 AND is_active = true`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	scheduler, err := scanScheduler(q.QueryRowContext(ctx, query, schedulerID))
	if err != nil {
		if err == sql.ErrNoRows {
			return scheduler, &NotFoundError{Resource: "scheduler", ID: schedulerID}
		}
		return scheduler, fmt.Errorf("failed to get scheduler: %w", err)
	}
	return scheduler, nil
}

// GetSchedulerWithShifts returns an active scheduler and its active shifts.
func (s *SchedulerService) GetSchedulerWithShifts(ctx context.Context, schedulerID string) (db.Scheduler, error) {
	scheduler, err := s.getActiveScheduler(ctx, s.PG, schedulerID, false)
	if err != nil {
		return scheduler, err
	}
	shifts, err := s.Shifts.ListSchedulerShifts(ctx, s.PG, schedulerID)
	if err != nil {
		return scheduler, err
	}
	scheduler.Shifts = shifts
	return scheduler, nil
}

// DeleteScheduler deactivates the scheduler with its shifts, rotation cycles and
// the active overrides on those shifts.
func (s *SchedulerService) DeleteScheduler(ctx context.Context, schedulerID, actor string) error {
	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE schedulers SET is_active = false, updated_at = $1
		WHERE id = $2 AND is_active = true
	`, now, schedulerID)
	if err != nil {
		return fmt.Errorf("failed to delete scheduler: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return &NotFoundError{Resource: "scheduler", ID: schedulerID}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE schedule_overrides SET is_active = false, updated_at = $1
		WHERE is_active = true AND original_schedule_id IN (
			SELECT id FROM shifts WHERE scheduler_id = $2 AND is_active = true
		)
	`, now, schedulerID); err != nil {
		return fmt.Errorf("failed to deactivate scheduler overrides: %w", err)
	}

	deactivated, err := s.Shifts.DeactivateSchedulerShifts(ctx, tx, schedulerID, now)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE rotation_cycles SET is_active = false, updated_at = $1
		WHERE scheduler_id = $2 AND is_active = true
	`, now, schedulerID); err != nil {
		return fmt.Errorf("failed to deactivate rotation cycles: %w", err)
	}

	if err := recordScheduleEvent(ctx, tx, "scheduler", schedulerID, "deleted", actor, map[string]interface{}{
		"shifts_deactivated": deactivated,
	}); err != nil {
		return fmt.Errorf("failed to record scheduler deletion: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scheduler deletion: %w", err)
	}
	logrus.Infof("Deleted scheduler %s (%d shifts deactivated)", schedulerID, deactivated)
	return nil
}

// normalizeShiftRequest validates one explicit shift and fills defaults.
func normalizeShiftRequest(req db.CreateShiftRequest) (db.CreateShiftRequest, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return req, validationErrorf("user_id", "is required")
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		return req, validationErrorf("start_time", "start_time and end_time are required")
	}
	if !req.EndTime.After(req.StartTime) {
		return req, validationErrorf("end_time", "must be after start_time")
	}
	if req.ShiftType == "" {
		req.ShiftType = db.ShiftTypeCustom
	}
	if req.ShiftType != db.ShiftTypeCustom && req.ShiftType != db.ShiftTypeRotation {
		return req, validationErrorf("shift_type", "unknown shift type %q", req.ShiftType)
	}
	scope, err := validateScope(req.ScheduleScope, req.ServiceID)
	if err != nil {
		return req, err
	}
	req.ScheduleScope = scope
	return req, nil
}

// validateScope enforces that service-scoped shifts carry a service id and group-scoped ones do not.
func validateScope(scope string, serviceID *string) (string, error) {
	if scope == "" {
		scope = db.ScheduleScopeGroup
	}
	switch scope {
	case db.ScheduleScopeGroup:
		if serviceID != nil && *serviceID != "" {
			return "", validationErrorf("service_id", "must be empty for group-scoped shifts")
		}
	case db.ScheduleScopeService:
		if serviceID == nil || *serviceID == "" {
			return "", validationErrorf("service_id", "is required for service-scoped shifts")
		}
	default:
		return "", validationErrorf("schedule_scope", "must be 'group' or 'service', got %q", scope)
	}
	return scope, nil
}

func scopeKey(scope string, serviceID *string) string {
	if serviceID == nil {
		return scope
	}
	return scope + "/" + *serviceID
}

// checkBatchOverlaps rejects explicit shift batches whose shifts overlap on the same scope target.
func checkBatchOverlaps(shifts []db.CreateShiftRequest) error {
	byScope := make(map[string][]db.CreateShiftRequest)
	for _, shift := range shifts {
		key := scopeKey(shift.ScheduleScope, shift.ServiceID)
		byScope[key] = append(byScope[key], shift)
	}
	for key, group := range byScope {
		sort.SliceStable(group, func(i, j int) bool { return group[i].StartTime.Before(group[j].StartTime) })
		for i := 1; i < len(group); i++ {
			if group[i].StartTime.Before(group[i-1].EndTime) {
				return validationErrorf("shifts", "shifts overlap on %s at %s", key, group[i].StartTime.Format(time.RFC3339))
			}
		}
	}
	return nil
}

// plannedShifts builds the new shift set for a replacement. Nothing is written here.
func validRotationType(rotationType string) bool {
	return rotationType == db.RotationTypeManual || rotationType == db.RotationTypeRoundRobin
}

func (s *SchedulerService) plannedShifts(req db.ReplaceShiftsRequest) ([]db.CreateShiftRequest, *db.RotationParams, error) {
	if req.RotationType != "" && !validRotationType(req.RotationType) {
		return nil, nil, validationErrorf("rotation_type", "unknown rotation type %q", req.RotationType)
	}
	if req.Rotation != nil && len(req.Shifts) > 0 {
		return nil, nil, validationErrorf("rotation", "provide rotation parameters or explicit shifts, not both")
	}

	if req.Rotation != nil {
		params := s.Rotations.applyDefaults(*req.Rotation)
		scope, err := validateScope(params.ScheduleScope, params.ServiceID)
		if err != nil {
			return nil, nil, err
		}
		params.ScheduleScope = scope

		generated, err := GenerateRotation(params)
		if err != nil {
			return nil, nil, err
		}
		planned := make([]db.CreateShiftRequest, 0, len(generated))
		for _, g := range generated {
			planned = append(planned, db.CreateShiftRequest{
				UserID:        g.UserID,
				ShiftType:     db.ShiftTypeRotation,
				StartTime:     g.StartTime,
				EndTime:       g.EndTime,
				ServiceID:     params.ServiceID,
				ScheduleScope: params.ScheduleScope,
			})
		}
		return planned, &params, nil
	}

	planned := make([]db.CreateShiftRequest, 0, len(req.Shifts))
	for i, shift := range req.Shifts {
		normalized, err := normalizeShiftRequest(shift)
		if err != nil {
			if ve, ok := err.(*ValidationError); ok {
				ve.Field = fmt.Sprintf("shifts[%d].%s", i, ve.Field)
			}
			return nil, nil, err
		}
		planned = append(planned, normalized)
	}
	if err := checkBatchOverlaps(planned); err != nil {
		return nil, nil, err
	}
	return planned, nil, nil
}

// ReplaceSchedulerShifts swaps the scheduler's entire shift set for a new one in
// a single transaction, carrying live overrides over to the new shifts. Overrides
// that cannot be reattached come back as warnings next to a successful result.
func (s *SchedulerService) ReplaceSchedulerShifts(ctx context.Context, schedulerID string, req db.ReplaceShiftsRequest, actor string) (ReplaceResult, error) {
	var result ReplaceResult

	planned, rotation, err := s.plannedShifts(req)
	if err != nil {
		return result, err
	}

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	scheduler, err := s.getActiveScheduler(ctx, tx, schedulerID, true)
	if err != nil {
		return result, err
	}

	now := time.Now().UTC()
	if req.DisplayName != "" {
		scheduler.DisplayName = req.DisplayName
	}
	if req.Description != "" {
		scheduler.Description = req.Description
	}
	if req.RotationType != "" {
		scheduler.RotationType = req.RotationType
	} else if rotation != nil {
		scheduler.RotationType = db.RotationTypeRoundRobin
	}
	scheduler.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `
		UPDATE schedulers SET display_name = $1, description = $2, rotation_type = $3, updated_at = $4
		WHERE id = $5
	`, scheduler.DisplayName, scheduler.Description, scheduler.RotationType, now, scheduler.ID); err != nil {
		return result, fmt.Errorf("failed to update scheduler: %w", err)
	}

	snapshot, err := s.Overrides.ListActiveForScheduler(ctx, tx, scheduler.ID)
	if err != nil {
		return result, err
	}

	deactivated, err := s.Shifts.DeactivateSchedulerShifts(ctx, tx, scheduler.ID, now)
	if err != nil {
		return result, err
	}

	var cycleID *string
	if rotation != nil {
		id, err := s.Rotations.replaceRotationCycle(ctx, tx, scheduler, *rotation, actor)
		if err != nil {
			return result, err
		}
		cycleID = &id
	}

	newShifts := make([]db.Shift, 0, len(planned))
	for _, p := range planned {
		newShifts = append(newShifts, db.Shift{
			ID:              uuid.New().String(),
			SchedulerID:     scheduler.ID,
			RotationCycleID: cycleID,
			GroupID:         scheduler.GroupID,
			UserID:          p.UserID,
			ShiftType:       p.ShiftType,
			StartTime:       p.StartTime,
			EndTime:         p.EndTime,
			IsActive:        true,
			ServiceID:       p.ServiceID,
			ScheduleScope:   p.ScheduleScope,
			CreatedAt:       now,
			UpdatedAt:       now,
			CreatedBy:       actor,
		})
	}
	if err := s.Shifts.InsertShifts(ctx, tx, newShifts); err != nil {
		return result, err
	}

	matches, warnings := matchPreservedOverrides(snapshot, newShifts)
	restored := 0
	var restoredIDs []string
	for _, m := range matches {
		newID, err := s.reattachOverride(ctx, tx, m, now)
		if err != nil {
			warnings = append(warnings, preservationWarning(m.Old, err.Error()))
			continue
		}
		restored++
		restoredIDs = append(restoredIDs, newID)
	}

	var dropped []string
	for _, w := range warnings {
		dropped = append(dropped, w.OverrideID)
	}
	if err := s.Overrides.Deactivate(ctx, tx, dropped, now); err != nil {
		return result, err
	}

	source := "explicit"
	if rotation != nil {
		source = "rotation"
	}
	if err := recordScheduleEvent(ctx, tx, "scheduler", scheduler.ID, "shifts_replaced", actor, map[string]interface{}{
		"source":             source,
		"shifts_deactivated": deactivated,
		"shifts_created":     len(newShifts),
		"overrides_restored": restoredIDs,
		"overrides_dropped":  dropped,
	}); err != nil {
		return result, fmt.Errorf("failed to record shift replacement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit shift replacement: %w", err)
	}

	metrics.ScheduleReplacements.WithLabelValues(source).Inc()
	metrics.OverridesPreserved.WithLabelValues("restored").Add(float64(restored))
	metrics.OverridesPreserved.WithLabelValues("dropped").Add(float64(len(warnings)))
	for _, w := range warnings {
		logrus.WithFields(logrus.Fields{
			"scheduler_id": scheduler.ID,
			"override_id":  w.OverrideID,
			"new_user_id":  w.NewUserID,
		}).Warnf("Override not preserved: %s", w.Reason)
	}
	logrus.Infof("Replaced shifts of scheduler %s: %d deactivated, %d created, %d/%d overrides restored",
		scheduler.ID, deactivated, len(newShifts), restored, len(snapshot))

	scheduler.Shifts = newShifts
	result.Scheduler = scheduler
	result.Shifts = newShifts
	result.OverridesRestored = restored
	result.Warnings = warnings
	return result, nil
}

// reattachOverride copies an override onto its new shift and retires the old one.
// A savepoint keeps a failure here from aborting the surrounding transaction.
func (s *SchedulerService) reattachOverride(ctx context.Context, tx *sql.Tx, m overrideReattachment, now time.Time) (string, error) {
	if _, err := tx.ExecContext(ctx, `SAVEPOINT reattach_override`); err != nil {
		return "", fmt.Errorf("failed to create savepoint: %w", err)
	}

	moved := m.Old
	moved.ID = uuid.New().String()
	moved.OriginalScheduleID = m.Shift.ID
	moved.IsActive = true
	moved.CreatedAt = now
	moved.UpdatedAt = now

	err := s.Overrides.Insert(ctx, tx, moved)
	if err == nil {
		err = s.Overrides.Deactivate(ctx, tx, []string{m.Old.ID}, now)
	}
	if err != nil {
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT reattach_override`); rbErr != nil {
			return "", fmt.Errorf("%v (savepoint rollback failed: %v)", err, rbErr)
		}
		return "", err
	}

	if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT reattach_override`); err != nil {
		return "", fmt.Errorf("failed to release savepoint: %w", err)
	}
	return moved.ID, nil
}

// CreateShift adds one manual shift, rejecting overlaps on the same scope target.
func (s *SchedulerService) CreateShift(ctx context.Context, schedulerID string, req db.CreateShiftRequest, createdBy string) (db.Shift, error) {
	var shift db.Shift
	req, err := normalizeShiftRequest(req)
	if err != nil {
		return shift, err
	}

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return shift, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	scheduler, err := s.getActiveScheduler(ctx, tx, schedulerID, true)
	if err != nil {
		return shift, err
	}

	existing, err := s.Shifts.FindOverlapping(ctx, tx, scheduler.ID, req.ScheduleScope, req.ServiceID, req.StartTime, req.EndTime)
	if err != nil {
		return shift, err
	}
	if existing != nil {
		return shift, &ConflictError{
			Message: fmt.Sprintf("shift overlaps existing shift %s (%s - %s)", existing.ID,
				existing.StartTime.Format(time.RFC3339), existing.EndTime.Format(time.RFC3339)),
			ConflictingShiftID: existing.ID,
		}
	}

	now := time.Now().UTC()
	shift = db.Shift{
		ID:            uuid.New().String(),
		SchedulerID:   scheduler.ID,
		GroupID:       scheduler.GroupID,
		UserID:        req.UserID,
		ShiftType:     req.ShiftType,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		IsActive:      true,
		ServiceID:     req.ServiceID,
		ScheduleScope: req.ScheduleScope,
		CreatedAt:     now,
		UpdatedAt:     now,
		CreatedBy:     createdBy,
	}
	if err := s.Shifts.InsertShifts(ctx, tx, []db.Shift{shift}); err != nil {
		return db.Shift{}, err
	}
	if err := recordScheduleEvent(ctx, tx, "shift", shift.ID, "created", createdBy, map[string]interface{}{
		"scheduler_id": scheduler.ID,
		"user_id":      shift.UserID,
	}); err != nil {
		return db.Shift{}, fmt.Errorf("failed to record shift creation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return db.Shift{}, fmt.Errorf("failed to commit shift: %w", err)
	}
	return shift, nil
}

// CreateGroupShift adds a manual shift to the group's default scheduler, which is
// created on first use.
func (s *SchedulerService) CreateGroupShift(ctx context.Context, groupID string, req db.CreateShiftRequest, createdBy string) (db.Shift, error) {
	if groupID == "" {
		return db.Shift{}, validationErrorf("group_id", "is required")
	}
	if _, err := normalizeShiftRequest(req); err != nil {
		return db.Shift{}, err
	}

	scheduler, err := s.GetOrCreateDefaultScheduler(ctx, groupID, createdBy)
	if err != nil {
		return db.Shift{}, err
	}
	return s.CreateShift(ctx, scheduler.ID, req, createdBy)
}

// GetShift returns an active shift.
func (s *SchedulerService) GetShift(ctx context.Context, shiftID string) (db.Shift, error) {
	return s.Shifts.GetShift(ctx, s.PG, shiftID)
}

// ListGroupShifts returns the active shifts of a group intersecting [from, to).
func (s *SchedulerService) ListGroupShifts(ctx context.Context, groupID string, from, to time.Time) ([]db.Shift, error) {
	if !to.After(from) {
		return nil, validationErrorf("to", "must be after from")
	}
	shifts, err := s.Shifts.ListGroupShifts(ctx, s.PG, groupID, from, to)
	if err != nil {
		return nil, err
	}
	if shifts == nil {
		shifts = []db.Shift{}
	}
	return shifts, nil
}
