package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/phonginreallife/oncall/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOnCallService(t *testing.T) (*OnCallService, sqlmock.Sqlmock) {
	pg, mock := newMockDB(t)
	return NewOnCallService(pg, NewShiftStore(), NewOverrideStore()), mock
}

func TestGetEffectiveAssignment_ServiceShiftWins(t *testing.T) {
	svc, mock := newTestOnCallService(t)
	at := mustTime(t, "2025-01-09T12:00:00Z")
	serviceID := "svc-1"

	serviceShift := db.Shift{
		ID:            "shift-svc",
		SchedulerID:   "sched-1",
		GroupID:       "group-1",
		UserID:        "user-s",
		StartTime:     mustTime(t, "2025-01-09T00:00:00Z"),
		EndTime:       mustTime(t, "2025-01-10T00:00:00Z"),
		ServiceID:     &serviceID,
		ScheduleScope: db.ScheduleScopeService,
	}

	mock.ExpectQuery("FROM shifts WHERE is_active = true AND start_time <= \\$1 AND end_time > \\$1 AND group_id = \\$2 AND schedule_scope = \\$3 AND service_id = \\$4").
		WithArgs(at, "group-1", db.ScheduleScopeService, serviceID).
		WillReturnRows(addShiftRow(sqlmock.NewRows(shiftCols), serviceShift))
	mock.ExpectQuery("FROM schedule_overrides so").
		WithArgs("shift-svc", at).
		WillReturnRows(sqlmock.NewRows(overrideCols))

	assignment, err := svc.GetEffectiveAssignment(context.Background(), "group-1", &serviceID, at)
	require.NoError(t, err)
	require.NotNil(t, assignment)
	assert.Equal(t, "user-s", assignment.EffectiveUserID)
	assert.Equal(t, "user-s", assignment.OriginalUserID)
	assert.False(t, assignment.IsOverridden)
	assert.Nil(t, assignment.OverrideID)
	assert.Equal(t, db.ScheduleScopeService, assignment.ScheduleScope)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEffectiveAssignment_FallsBackToGroupWithOverride(t *testing.T) {
	svc, mock := newTestOnCallService(t)
	at := mustTime(t, "2025-01-09T12:00:00Z")
	serviceID := "svc-1"

	groupShift := db.Shift{
		ID:          "shift-group",
		SchedulerID: "sched-1",
		GroupID:     "group-1",
		UserID:      "user-b",
		StartTime:   mustTime(t, "2025-01-08T02:00:00Z"),
		EndTime:     mustTime(t, "2025-01-15T02:00:00Z"),
	}
	override := db.ScheduleOverride{
		ID:                 "ov-1",
		OriginalScheduleID: "shift-group",
		GroupID:            "group-1",
		NewUserID:          "user-x",
		OverrideStartTime:  mustTime(t, "2025-01-09T00:00:00Z"),
		OverrideEndTime:    mustTime(t, "2025-01-10T00:00:00Z"),
	}

	mock.ExpectQuery("FROM shifts").
		WithArgs(at, "group-1", db.ScheduleScopeService, serviceID).
		WillReturnRows(sqlmock.NewRows(shiftCols))
	mock.ExpectQuery("FROM shifts WHERE is_active = true AND start_time <= \\$1 AND end_time > \\$1 AND group_id = \\$2 AND schedule_scope = \\$3 ORDER BY").
		WithArgs(at, "group-1", db.ScheduleScopeGroup).
		WillReturnRows(addShiftRow(sqlmock.NewRows(shiftCols), groupShift))
	mock.ExpectQuery("FROM schedule_overrides so").
		WithArgs("shift-group", at).
		WillReturnRows(addOverrideRow(sqlmock.NewRows(overrideCols), override))

	assignment, err := svc.GetEffectiveAssignment(context.Background(), "group-1", &serviceID, at)
	require.NoError(t, err)
	require.NotNil(t, assignment)
	assert.Equal(t, "user-x", assignment.EffectiveUserID)
	assert.Equal(t, "user-b", assignment.OriginalUserID)
	assert.True(t, assignment.IsOverridden)
	require.NotNil(t, assignment.OverrideID)
	assert.Equal(t, "ov-1", *assignment.OverrideID)
	assert.Equal(t, "shift-group", assignment.ShiftID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEffectiveAssignment_NobodyOnCall(t *testing.T) {
	svc, mock := newTestOnCallService(t)
	at := mustTime(t, "2025-01-09T12:00:00Z")

	mock.ExpectQuery("FROM shifts").
		WithArgs(at, "group-1", db.ScheduleScopeGroup).
		WillReturnRows(sqlmock.NewRows(shiftCols))

	assignment, err := svc.GetEffectiveAssignment(context.Background(), "group-1", nil, at)
	require.NoError(t, err)
	assert.Nil(t, assignment)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEffectiveAssignment_RequiresGroup(t *testing.T) {
	svc, mock := newTestOnCallService(t)

	_, err := svc.GetEffectiveAssignment(context.Background(), "", nil, mustTime(t, "2025-01-09T12:00:00Z"))
	assert.True(t, IsValidation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSchedulerAssignment(t *testing.T) {
	svc, mock := newTestOnCallService(t)
	at := mustTime(t, "2025-01-09T12:00:00Z")

	shift := db.Shift{
		ID:          "shift-1",
		SchedulerID: "sched-1",
		GroupID:     "group-1",
		UserID:      "user-a",
		StartTime:   mustTime(t, "2025-01-09T00:00:00Z"),
		EndTime:     mustTime(t, "2025-01-10T00:00:00Z"),
	}

	mock.ExpectQuery("FROM shifts WHERE is_active = true AND start_time <= \\$1 AND end_time > \\$1 AND scheduler_id = \\$2").
		WithArgs(at, "sched-1").
		WillReturnRows(addShiftRow(sqlmock.NewRows(shiftCols), shift))
	mock.ExpectQuery("FROM schedule_overrides so").
		WithArgs("shift-1", at).
		WillReturnRows(sqlmock.NewRows(overrideCols))

	assignment, err := svc.GetSchedulerAssignment(context.Background(), "sched-1", at)
	require.NoError(t, err)
	require.NotNil(t, assignment)
	assert.Equal(t, "user-a", assignment.EffectiveUserID)
	assert.Equal(t, "sched-1", assignment.SchedulerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
