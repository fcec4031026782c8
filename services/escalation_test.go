package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/phonginreallife/oncall/db"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const incidentLockQuery = "SELECT status, escalation_policy_id, current_escalation_level, group_id FROM incidents WHERE id = \\$1 FOR UPDATE"

func newTestEscalationService(t *testing.T, sender NotificationSender) (*EscalationService, sqlmock.Sqlmock) {
	pg, mock := newMockDB(t)
	onCall := NewOnCallService(pg, NewShiftStore(), NewOverrideStore())
	var notifier *NotificationDispatcher
	if sender != nil {
		notifier = NewNotificationDispatcher(sender, time.Second)
	}
	return NewEscalationService(pg, onCall, notifier), mock
}

func incidentLockRow(status string, policyID interface{}, level int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"status", "escalation_policy_id", "current_escalation_level", "group_id"}).
		AddRow(status, policyID, level, "group-1")
}

func levelRows(levels ...db.EscalationLevel) *sqlmock.Rows {
	rows := sqlmock.NewRows(levelCols)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, l := range levels {
		rows.AddRow(l.ID, "pol-1", l.LevelNumber, l.TargetType, l.TargetID, 5, created)
	}
	return rows
}

func twoLevelPolicy() *sqlmock.Rows {
	return levelRows(
		db.EscalationLevel{ID: "lvl-1", LevelNumber: 1, TargetType: db.TargetTypeUser, TargetID: "user-x"},
		db.EscalationLevel{ID: "lvl-2", LevelNumber: 2, TargetType: db.TargetTypeScheduler, TargetID: "sched-s"},
	)
}

func TestAdvanceEscalation_ToSchedulerCompletesPolicy(t *testing.T) {
	sender := newMockSender()
	sender.On("Notify", "user-y", "inc-1", NotificationEscalated).Return(nil)
	svc, mock := newTestEscalationService(t, sender)

	shift := db.Shift{
		ID:          "shift-y",
		SchedulerID: "sched-s",
		GroupID:     "group-1",
		UserID:      "user-y",
		StartTime:   time.Now().Add(-time.Hour),
		EndTime:     time.Now().Add(time.Hour),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(incidentLockQuery).
		WithArgs("inc-1").
		WillReturnRows(incidentLockRow(db.IncidentStatusTriggered, "pol-1", 1))
	mock.ExpectQuery("FROM escalation_levels WHERE policy_id = \\$1").
		WithArgs("pol-1").
		WillReturnRows(twoLevelPolicy())
	mock.ExpectQuery("FROM shifts WHERE .* scheduler_id = \\$2").
		WithArgs(sqlmock.AnyArg(), "sched-s").
		WillReturnRows(addShiftRow(sqlmock.NewRows(shiftCols), shift))
	mock.ExpectQuery("FROM schedule_overrides so").
		WithArgs("shift-y", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(overrideCols))
	mock.ExpectExec("UPDATE incidents SET current_escalation_level = \\$1").
		WithArgs(2, db.EscalationStatusCompleted, sqlmock.AnyArg(), "user-y", "inc-1", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COALESCE\\(name, email, 'Unknown'\\) FROM users WHERE id = \\$1").
		WithArgs("user-y").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Yasmin"))
	mock.ExpectExec("INSERT INTO incident_events").
		WithArgs(sqlmock.AnyArg(), "inc-1", db.IncidentEventEscalated, sqlmock.AnyArg(), sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO incident_events").
		WithArgs(sqlmock.AnyArg(), "inc-1", db.IncidentEventEscalationCompleted, sqlmock.AnyArg(), sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := svc.AdvanceEscalation(context.Background(), "inc-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.NewLevel)
	assert.Equal(t, "user-y", result.AssignedUserID)
	assert.Equal(t, "Yasmin", result.AssignedToName)
	assert.Equal(t, db.EscalationStatusCompleted, result.EscalationStatus)
	assert.Equal(t, db.TargetTypeScheduler, result.TargetType)
	assert.False(t, result.HasMoreLevels)

	assert.Equal(t, NotificationEscalated, sender.waitForCall(t))
	sender.AssertExpectations(t)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceEscalation_ExternalTargetKeepsAssignee(t *testing.T) {
	sender := newMockSender()
	svc, sqlMock := newTestEscalationService(t, sender)

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery(incidentLockQuery).
		WillReturnRows(incidentLockRow(db.IncidentStatusAcknowledged, "pol-1", 1))
	sqlMock.ExpectQuery("FROM escalation_levels").
		WillReturnRows(levelRows(
			db.EscalationLevel{ID: "lvl-1", LevelNumber: 1, TargetType: db.TargetTypeUser, TargetID: "user-x"},
			db.EscalationLevel{ID: "lvl-2", LevelNumber: 2, TargetType: db.TargetTypeExternal, TargetID: "webhook-1"},
			db.EscalationLevel{ID: "lvl-3", LevelNumber: 3, TargetType: db.TargetTypeUser, TargetID: "user-z"},
		))
	sqlMock.ExpectExec("UPDATE incidents SET current_escalation_level = \\$1.* WHERE id = \\$4 AND current_escalation_level = \\$5").
		WithArgs(2, db.EscalationStatusPending, sqlmock.AnyArg(), "inc-1", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	sqlMock.ExpectExec("INSERT INTO incident_events").
		WithArgs(sqlmock.AnyArg(), "inc-1", db.IncidentEventEscalated, sqlmock.AnyArg(), sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	sqlMock.ExpectCommit()

	result, err := svc.AdvanceEscalation(context.Background(), "inc-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.NewLevel)
	assert.Empty(t, result.AssignedUserID)
	assert.Equal(t, db.EscalationStatusPending, result.EscalationStatus)
	assert.True(t, result.HasMoreLevels)

	sender.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestAdvanceEscalation_Rejections(t *testing.T) {
	tests := []struct {
		name         string
		status       string
		policyID     interface{}
		level        int
		withLevels   bool
		currentLevel int
	}{
		{name: "already at max level", status: db.IncidentStatusTriggered, policyID: "pol-1", level: 2, withLevels: true, currentLevel: 2},
		{name: "resolved incident", status: db.IncidentStatusResolved, policyID: "pol-1", level: 1, currentLevel: 1},
		{name: "no policy", status: db.IncidentStatusTriggered, policyID: nil, level: 0, currentLevel: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, sqlMock := newTestEscalationService(t, nil)

			sqlMock.ExpectBegin()
			sqlMock.ExpectQuery(incidentLockQuery).
				WithArgs("inc-1").
				WillReturnRows(incidentLockRow(tt.status, tt.policyID, tt.level))
			if tt.withLevels {
				sqlMock.ExpectQuery("FROM escalation_levels").WillReturnRows(twoLevelPolicy())
			}
			sqlMock.ExpectRollback()

			result, err := svc.AdvanceEscalation(context.Background(), "inc-1", "user-1")
			assert.Nil(t, result)

			var conflict *ConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, tt.currentLevel, conflict.CurrentLevel)
			assert.NoError(t, sqlMock.ExpectationsWereMet())
		})
	}
}

func TestAdvanceEscalation_ConcurrentChange(t *testing.T) {
	svc, sqlMock := newTestEscalationService(t, nil)

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery(incidentLockQuery).
		WillReturnRows(incidentLockRow(db.IncidentStatusTriggered, "pol-1", 0))
	sqlMock.ExpectQuery("FROM escalation_levels").WillReturnRows(twoLevelPolicy())
	sqlMock.ExpectExec("UPDATE incidents").
		WithArgs(1, db.EscalationStatusPending, sqlmock.AnyArg(), "user-x", "inc-1", 0).
		WillReturnResult(sqlmock.NewResult(0, 0))
	sqlMock.ExpectRollback()

	_, err := svc.AdvanceEscalation(context.Background(), "inc-1", "user-1")
	assert.True(t, IsConflict(err))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestAdvanceEscalationFrom_RejectsStaleTimeout(t *testing.T) {
	tests := []struct {
		name          string
		status        string
		lockedLevel   int
		expectedLevel int
	}{
		{name: "manual advance committed first", status: db.IncidentStatusTriggered, lockedLevel: 2, expectedLevel: 1},
		{name: "acknowledged after it was due", status: db.IncidentStatusAcknowledged, lockedLevel: 1, expectedLevel: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, sqlMock := newTestEscalationService(t, nil)

			sqlMock.ExpectBegin()
			sqlMock.ExpectQuery(incidentLockQuery).
				WithArgs("inc-1").
				WillReturnRows(incidentLockRow(tt.status, "pol-1", tt.lockedLevel))
			sqlMock.ExpectRollback()

			result, err := svc.AdvanceEscalationFrom(context.Background(), "inc-1", tt.expectedLevel, "system")
			assert.Nil(t, result)

			var conflict *ConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, tt.lockedLevel, conflict.CurrentLevel)
			assert.NoError(t, sqlMock.ExpectationsWereMet())
		})
	}
}

func TestAdvanceEscalationFrom_AdvancesAtExpectedLevel(t *testing.T) {
	svc, sqlMock := newTestEscalationService(t, nil)
	hook := logtest.NewGlobal()
	defer hook.Reset()

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery(incidentLockQuery).
		WithArgs("inc-1").
		WillReturnRows(incidentLockRow(db.IncidentStatusTriggered, "pol-1", 1))
	sqlMock.ExpectQuery("FROM escalation_levels").
		WillReturnRows(levelRows(
			db.EscalationLevel{ID: "lvl-1", LevelNumber: 1, TargetType: db.TargetTypeUser, TargetID: "user-x"},
			db.EscalationLevel{ID: "lvl-2", LevelNumber: 2, TargetType: db.TargetTypeExternal, TargetID: "webhook-1"},
			db.EscalationLevel{ID: "lvl-3", LevelNumber: 3, TargetType: db.TargetTypeUser, TargetID: "user-z"},
		))
	sqlMock.ExpectExec("UPDATE incidents SET current_escalation_level = \\$1").
		WithArgs(2, db.EscalationStatusPending, sqlmock.AnyArg(), "inc-1", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	sqlMock.ExpectExec("INSERT INTO incident_events").
		WithArgs(sqlmock.AnyArg(), "inc-1", db.IncidentEventEscalated, sqlmock.AnyArg(), sqlmock.AnyArg(), "system").
		WillReturnResult(sqlmock.NewResult(0, 1))
	sqlMock.ExpectCommit()

	result, err := svc.AdvanceEscalationFrom(context.Background(), "inc-1", 1, "system")
	require.NoError(t, err)
	assert.Equal(t, 2, result.NewLevel)
	assert.True(t, result.HasMoreLevels)
	assert.NoError(t, sqlMock.ExpectationsWereMet())

	var logged bool
	for _, entry := range hook.AllEntries() {
		if entry.Message != "Escalated incident" {
			continue
		}
		logged = true
		assert.Equal(t, 2, entry.Data["escalation_level"])
		assert.NotContains(t, entry.Data, "level")
	}
	assert.True(t, logged, "escalation was not logged")
}

func TestAdvanceEscalation_IncidentNotFound(t *testing.T) {
	svc, sqlMock := newTestEscalationService(t, nil)

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery(incidentLockQuery).
		WillReturnRows(sqlmock.NewRows([]string{"status", "escalation_policy_id", "current_escalation_level", "group_id"}))
	sqlMock.ExpectRollback()

	_, err := svc.AdvanceEscalation(context.Background(), "missing", "user-1")
	assert.True(t, IsNotFound(err))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestNormalizeLevels(t *testing.T) {
	t.Run("orders and defaults", func(t *testing.T) {
		levels, err := normalizeLevels([]db.CreateEscalationLevelRequest{
			{LevelNumber: 2, TargetType: db.TargetTypeGroup},
			{LevelNumber: 1, TargetType: db.TargetTypeUser, TargetID: "user-x", TimeoutMinutes: 10},
		})
		require.NoError(t, err)
		require.Len(t, levels, 2)
		assert.Equal(t, 1, levels[0].LevelNumber)
		assert.Equal(t, 10, levels[0].TimeoutMinutes)
		assert.Equal(t, defaultLevelTimeoutMinutes, levels[1].TimeoutMinutes)
	})

	invalid := []struct {
		name   string
		levels []db.CreateEscalationLevelRequest
	}{
		{"empty", nil},
		{"gap", []db.CreateEscalationLevelRequest{
			{LevelNumber: 1, TargetType: db.TargetTypeGroup},
			{LevelNumber: 3, TargetType: db.TargetTypeGroup},
		}},
		{"duplicate", []db.CreateEscalationLevelRequest{
			{LevelNumber: 1, TargetType: db.TargetTypeGroup},
			{LevelNumber: 1, TargetType: db.TargetTypeGroup},
		}},
		{"user without id", []db.CreateEscalationLevelRequest{{LevelNumber: 1, TargetType: db.TargetTypeUser}}},
		{"scheduler without id", []db.CreateEscalationLevelRequest{{LevelNumber: 1, TargetType: db.TargetTypeScheduler}}},
		{"unknown target", []db.CreateEscalationLevelRequest{{LevelNumber: 1, TargetType: "pager"}}},
		{"negative timeout", []db.CreateEscalationLevelRequest{{LevelNumber: 1, TargetType: db.TargetTypeGroup, TimeoutMinutes: -1}}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := normalizeLevels(tt.levels)
			assert.True(t, IsValidation(err))
		})
	}
}

func TestCreateEscalationPolicy(t *testing.T) {
	svc, sqlMock := newTestEscalationService(t, nil)

	sqlMock.ExpectBegin()
	sqlMock.ExpectExec("INSERT INTO escalation_policies").
		WithArgs(sqlmock.AnyArg(), "Primary", "", "group-1", sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	sqlMock.ExpectExec("INSERT INTO escalation_levels").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 1, db.TargetTypeUser, "user-x", 5, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	sqlMock.ExpectExec("INSERT INTO escalation_levels").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 2, db.TargetTypeScheduler, "sched-s", 15, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	sqlMock.ExpectCommit()

	policy, err := svc.CreateEscalationPolicy(context.Background(), "group-1", db.CreateEscalationPolicyRequest{
		Name: "Primary",
		Levels: []db.CreateEscalationLevelRequest{
			{LevelNumber: 2, TargetType: db.TargetTypeScheduler, TargetID: "sched-s", TimeoutMinutes: 15},
			{LevelNumber: 1, TargetType: db.TargetTypeUser, TargetID: "user-x"},
		},
	}, "user-1")
	require.NoError(t, err)
	require.Len(t, policy.Levels, 2)
	assert.Equal(t, policy.ID, policy.Levels[0].PolicyID)
	assert.Equal(t, "user-x", policy.Levels[0].TargetID)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestGetEscalationPolicy_NotFound(t *testing.T) {
	svc, sqlMock := newTestEscalationService(t, nil)

	sqlMock.ExpectQuery("FROM escalation_policies WHERE id = \\$1").
		WithArgs("pol-missing").
		WillReturnRows(sqlmock.NewRows(policyCols))

	_, err := svc.GetEscalationPolicy(context.Background(), "pol-missing")
	assert.True(t, IsNotFound(err))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestResolveInitialAssignment_UserLevel(t *testing.T) {
	svc, sqlMock := newTestEscalationService(t, nil)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	sqlMock.ExpectQuery("FROM escalation_policies").
		WithArgs("pol-1").
		WillReturnRows(sqlmock.NewRows(policyCols).AddRow("pol-1", "Primary", "", "group-1", true, created, created, "user-1"))
	sqlMock.ExpectQuery("FROM escalation_levels").
		WithArgs("pol-1").
		WillReturnRows(twoLevelPolicy())

	userID, err := svc.ResolveInitialAssignment(context.Background(), "pol-1", "")
	require.NoError(t, err)
	assert.Equal(t, "user-x", userID)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}
