package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/phonginreallife/oncall/db"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	shiftCols = []string{"id", "scheduler_id", "rotation_cycle_id", "group_id", "user_id", "shift_type",
		"start_time", "end_time", "is_active", "service_id", "schedule_scope", "created_at", "updated_at", "created_by"}
	overrideCols = []string{"id", "original_schedule_id", "group_id", "new_user_id", "override_reason",
		"override_type", "override_start_time", "override_end_time", "is_active", "created_at", "updated_at", "created_by"}
	schedulerCols = []string{"id", "name", "display_name", "group_id", "description", "is_active", "rotation_type",
		"created_at", "updated_at", "created_by"}
	levelCols  = []string{"id", "policy_id", "level_number", "target_type", "target_id", "timeout_minutes", "created_at"}
	policyCols = []string{"id", "name", "description", "group_id", "is_active", "created_at", "updated_at", "created_by"}
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { pg.Close() })
	return pg, mock
}

func addShiftRow(rows *sqlmock.Rows, s db.Shift) *sqlmock.Rows {
	var serviceID, cycleID interface{}
	if s.ServiceID != nil {
		serviceID = *s.ServiceID
	}
	if s.RotationCycleID != nil {
		cycleID = *s.RotationCycleID
	}
	scope := s.ScheduleScope
	if scope == "" {
		scope = db.ScheduleScopeGroup
	}
	return rows.AddRow(s.ID, s.SchedulerID, cycleID, s.GroupID, s.UserID, db.ShiftTypeRotation,
		s.StartTime, s.EndTime, true, serviceID, scope, s.StartTime, s.StartTime, "creator")
}

func addOverrideRow(rows *sqlmock.Rows, o db.ScheduleOverride) *sqlmock.Rows {
	return rows.AddRow(o.ID, o.OriginalScheduleID, o.GroupID, o.NewUserID, "vacation",
		db.OverrideTypeTemporary, o.OverrideStartTime, o.OverrideEndTime, true, o.OverrideStartTime, o.OverrideStartTime, "creator")
}

func schedulerRow(id, groupID string) *sqlmock.Rows {
	now := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(schedulerCols).
		AddRow(id, "backend", "Backend", groupID, "", true, db.RotationTypeManual, now, now, "creator")
}

// mockSender records notifications and signals each call on a channel.
type mockSender struct {
	mock.Mock
	calls chan NotificationKind
}

func newMockSender() *mockSender {
	return &mockSender{calls: make(chan NotificationKind, 8)}
}

func (m *mockSender) Notify(ctx context.Context, userID, incidentID string, kind NotificationKind) error {
	args := m.Called(userID, incidentID, kind)
	m.calls <- kind
	return args.Error(0)
}

func (m *mockSender) waitForCall(t *testing.T) NotificationKind {
	t.Helper()
	select {
	case kind := <-m.calls:
		return kind
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not sent")
		return ""
	}
}
