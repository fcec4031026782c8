package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/internal/metrics"
	"github.com/sirupsen/logrus"
)

// OnCallService answers "who is on call" for a group, a service or a scheduler.
// A nil assignment with a nil error means nobody is on call.
type OnCallService struct {
	PG        *sql.DB
	Shifts    *ShiftStore
	Overrides *OverrideStore
}

func NewOnCallService(pg *sql.DB, shifts *ShiftStore, overrides *OverrideStore) *OnCallService {
	return &OnCallService{PG: pg, Shifts: shifts, Overrides: overrides}
}

// GetEffectiveAssignment resolves the on-call user of a group at an instant.
// A service-scoped shift covering at wins over a group-scoped one.
func (s *OnCallService) GetEffectiveAssignment(ctx context.Context, groupID string, serviceID *string, at time.Time) (*db.EffectiveAssignment, error) {
	if groupID == "" {
		return nil, validationErrorf("group_id", "is required")
	}
	return s.resolveGroup(ctx, s.PG, groupID, serviceID, at)
}

// GetSchedulerAssignment resolves the on-call user of one scheduler at an instant.
func (s *OnCallService) GetSchedulerAssignment(ctx context.Context, schedulerID string, at time.Time) (*db.EffectiveAssignment, error) {
	return s.resolveScheduler(ctx, s.PG, schedulerID, at)
}

func (s *OnCallService) resolveGroup(ctx context.Context, q querier, groupID string, serviceID *string, at time.Time) (*db.EffectiveAssignment, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	if serviceID != nil && *serviceID != "" {
		shift, err := s.Shifts.FindCovering(ctx, q, shiftFilter{
			GroupID:   groupID,
			Scope:     db.ScheduleScopeService,
			ServiceID: *serviceID,
		}, at)
		if err != nil {
			return nil, err
		}
		if shift != nil {
			return s.applyOverride(ctx, q, *shift, at, db.ScheduleScopeService)
		}
		logrus.Debugf("No service shift for service %s at %s, falling back to group %s", *serviceID, at.Format(time.RFC3339), groupID)
	}

	shift, err := s.Shifts.FindCovering(ctx, q, shiftFilter{
		GroupID: groupID,
		Scope:   db.ScheduleScopeGroup,
	}, at)
	if err != nil {
		return nil, err
	}
	if shift == nil {
		metrics.Resolutions.WithLabelValues(db.ScheduleScopeGroup, "none").Inc()
		return nil, nil
	}
	return s.applyOverride(ctx, q, *shift, at, db.ScheduleScopeGroup)
}

func (s *OnCallService) resolveScheduler(ctx context.Context, q querier, schedulerID string, at time.Time) (*db.EffectiveAssignment, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	shift, err := s.Shifts.FindCovering(ctx, q, shiftFilter{SchedulerID: schedulerID}, at)
	if err != nil {
		return nil, err
	}
	if shift == nil {
		metrics.Resolutions.WithLabelValues("scheduler", "none").Inc()
		return nil, nil
	}
	return s.applyOverride(ctx, q, *shift, at, "scheduler")
}

func (s *OnCallService) applyOverride(ctx context.Context, q querier, shift db.Shift, at time.Time, scopeLabel string) (*db.EffectiveAssignment, error) {
	assignment := &db.EffectiveAssignment{
		EffectiveUserID: shift.UserID,
		OriginalUserID:  shift.UserID,
		ShiftID:         shift.ID,
		SchedulerID:     shift.SchedulerID,
		ScheduleScope:   shift.ScheduleScope,
		At:              at,
	}

	override, err := s.Overrides.FindCovering(ctx, q, shift.ID, at)
	if err != nil {
		return nil, err
	}
	if override != nil {
		assignment.EffectiveUserID = override.NewUserID
		assignment.IsOverridden = true
		assignment.OverrideID = stringPtr(override.ID)
		metrics.Resolutions.WithLabelValues(scopeLabel, "overridden").Inc()
	} else {
		metrics.Resolutions.WithLabelValues(scopeLabel, "shift").Inc()
	}
	return assignment, nil
}
