package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/internal/metrics"
	"github.com/sirupsen/logrus"
)

const defaultLevelTimeoutMinutes = 5

// EscalationService manages escalation policies and drives incident escalation
type EscalationService struct {
	PG       *sql.DB
	OnCall   *OnCallService
	Notifier *NotificationDispatcher
}

func NewEscalationService(pg *sql.DB, onCall *OnCallService, notifier *NotificationDispatcher) *EscalationService {
	return &EscalationService{PG: pg, OnCall: onCall, Notifier: notifier}
}

// normalizeLevels validates policy levels and returns them ordered by level number.
func normalizeLevels(levels []db.CreateEscalationLevelRequest) ([]db.CreateEscalationLevelRequest, error) {
	if len(levels) == 0 {
		return nil, validationErrorf("levels", "policy requires at least one level")
	}

	ordered := make([]db.CreateEscalationLevelRequest, len(levels))
	copy(ordered, levels)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].LevelNumber < ordered[j].LevelNumber })

	for i := range ordered {
		level := &ordered[i]
		if level.LevelNumber != i+1 {
			return nil, validationErrorf("levels", "level numbers must be unique and sequential from 1, got %d at position %d", level.LevelNumber, i+1)
		}
		switch level.TargetType {
		case db.TargetTypeUser, db.TargetTypeScheduler:
			if strings.TrimSpace(level.TargetID) == "" {
				return nil, validationErrorf("levels", "level %d: target_id is required for %s targets", level.LevelNumber, level.TargetType)
			}
		case db.TargetTypeGroup, db.TargetTypeCurrentSchedule, db.TargetTypeExternal:
		default:
			return nil, validationErrorf("levels", "level %d: unknown target type %q", level.LevelNumber, level.TargetType)
		}
		if level.TimeoutMinutes < 0 {
			return nil, validationErrorf("levels", "level %d: timeout_minutes cannot be negative", level.LevelNumber)
		}
		if level.TimeoutMinutes == 0 {
			level.TimeoutMinutes = defaultLevelTimeoutMinutes
		}
	}
	return ordered, nil
}

// CreateEscalationPolicy stores a policy with its levels.
func (s *EscalationService) CreateEscalationPolicy(ctx context.Context, groupID string, req db.CreateEscalationPolicyRequest, createdBy string) (db.EscalationPolicy, error) {
	var policy db.EscalationPolicy
	if strings.TrimSpace(req.Name) == "" {
		return policy, validationErrorf("name", "is required")
	}
	if groupID == "" {
		return policy, validationErrorf("group_id", "is required")
	}
	levels, err := normalizeLevels(req.Levels)
	if err != nil {
		return policy, err
	}

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return policy, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	policy = db.EscalationPolicy{
		ID:          uuid.New().String(),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		GroupID:     groupID,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   createdBy,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO escalation_policies (id, name, description, group_id, is_active, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, true, $5, $5, $6)
	`, policy.ID, policy.Name, policy.Description, policy.GroupID, now, createdBy); err != nil {
		return db.EscalationPolicy{}, fmt.Errorf("failed to create escalation policy: %w", err)
	}

	for _, l := range levels {
		level := db.EscalationLevel{
			ID:             uuid.New().String(),
			PolicyID:       policy.ID,
			LevelNumber:    l.LevelNumber,
			TargetType:     l.TargetType,
			TargetID:       l.TargetID,
			TimeoutMinutes: l.TimeoutMinutes,
			CreatedAt:      now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO escalation_levels (id, policy_id, level_number, target_type, target_id, timeout_minutes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, level.ID, level.PolicyID, level.LevelNumber, level.TargetType, level.TargetID, level.TimeoutMinutes, now); err != nil {
			return db.EscalationPolicy{}, fmt.Errorf("failed to create escalation level %d: %w", level.LevelNumber, err)
		}
		policy.Levels = append(policy.Levels, level)
	}

	if err := tx.Commit(); err != nil {
		return db.EscalationPolicy{}, fmt.Errorf("failed to commit escalation policy: %w", err)
	}
	return policy, nil
}

// GetEscalationPolicy returns an active policy with its levels.
func (s *EscalationService) GetEscalationPolicy(ctx context.Context, policyID string) (db.EscalationPolicy, error) {
	var policy db.EscalationPolicy
	err := s.PG.QueryRowContext(ctx, `
		SELECT id, name, description, group_id, is_active, created_at, updated_at, created_by
		FROM escalation_policies
		WHERE id = $1 AND is_active = true
	`, policyID).Scan(&policy.ID, &policy.Name, &policy.Description, &policy.GroupID, &policy.IsActive,
		&policy.CreatedAt, &policy.UpdatedAt, &policy.CreatedBy)
	if err != nil {
		if err == sql.ErrNoRows {
			return policy, &NotFoundError{Resource: "escalation policy", ID: policyID}
		}
		return policy, fmt.Errorf("failed to get escalation policy: %w", err)
	}

	levels, err := s.getEscalationLevels(ctx, s.PG, policyID)
	if err != nil {
		return policy, err
	}
	policy.Levels = levels
	return policy, nil
}

func (s *EscalationService) getEscalationLevels(ctx context.Context, q querier, policyID string) ([]db.EscalationLevel, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, policy_id, level_number, target_type, target_id, timeout_minutes, created_at
		FROM escalation_levels
		WHERE policy_id = $1
		ORDER BY level_number ASC
	`, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get escalation levels: %w", err)
	}
	defer rows.Close()

	var levels []db.EscalationLevel
	for rows.Next() {
		var level db.EscalationLevel
		if err := rows.Scan(&level.ID, &level.PolicyID, &level.LevelNumber, &level.TargetType,
			&level.TargetID, &level.TimeoutMinutes, &level.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan escalation level: %w", err)
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

// resolveLevelTarget maps an escalation level to a user id. An empty id with a
// nil error means the level has nobody to assign.
func (s *EscalationService) resolveLevelTarget(ctx context.Context, q querier, level db.EscalationLevel, groupID string, at time.Time) (string, error) {
	var assignment *db.EffectiveAssignment
	var err error

	switch level.TargetType {
	case db.TargetTypeUser:
		return level.TargetID, nil
	case db.TargetTypeScheduler:
		assignment, err = s.OnCall.resolveScheduler(ctx, q, level.TargetID, at)
	case db.TargetTypeGroup, db.TargetTypeCurrentSchedule:
		targetGroup := groupID
		if level.TargetType == db.TargetTypeGroup && level.TargetID != "" {
			targetGroup = level.TargetID
		}
		if targetGroup == "" {
			logrus.Warnf("Escalation level %d targets %s but no group is known", level.LevelNumber, level.TargetType)
			return "", nil
		}
		assignment, err = s.OnCall.resolveGroup(ctx, q, targetGroup, nil, at)
	case db.TargetTypeExternal:
		logrus.Debugf("External escalation to target %s", level.TargetID)
		return "", nil
	default:
		logrus.Warnf("Unknown escalation target type: %s", level.TargetType)
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("failed to resolve %s target: %w", level.TargetType, err)
	}
	if assignment == nil {
		return "", nil
	}
	return assignment.EffectiveUserID, nil
}

// ResolveInitialAssignment resolves the level 1 target of a policy, used when an
// incident is created. An empty id means nobody could be resolved.
func (s *EscalationService) ResolveInitialAssignment(ctx context.Context, policyID, groupID string) (string, error) {
	policy, err := s.GetEscalationPolicy(ctx, policyID)
	if err != nil {
		return "", err
	}
	if groupID == "" {
		groupID = policy.GroupID
	}
	return s.initialAssignee(ctx, policy, groupID, time.Now().UTC())
}

func (s *EscalationService) initialAssignee(ctx context.Context, policy db.EscalationPolicy, groupID string, at time.Time) (string, error) {
	for _, level := range policy.Levels {
		if level.LevelNumber == 1 {
			return s.resolveLevelTarget(ctx, s.PG, level, groupID, at)
		}
	}
	return "", nil
}

// AdvanceEscalation moves an incident to its next escalation level. The incident
// row is locked for the whole transition so concurrent advances serialize and
// exactly one of them moves from level L to L+1.
func (s *EscalationService) AdvanceEscalation(ctx context.Context, incidentID, actor string) (*db.EscalationResult, error) {
	return s.advanceEscalation(ctx, incidentID, nil, actor)
}

// AdvanceEscalationFrom advances only while the incident is still triggered at
// expectedLevel. Timeout-driven advances use it so a level that moved after the
// incident was found due is never skipped.
func (s *EscalationService) AdvanceEscalationFrom(ctx context.Context, incidentID string, expectedLevel int, actor string) (*db.EscalationResult, error) {
	return s.advanceEscalation(ctx, incidentID, &expectedLevel, actor)
}

func (s *EscalationService) advanceEscalation(ctx context.Context, incidentID string, expectedLevel *int, actor string) (*db.EscalationResult, error) {
	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var incident struct {
		Status                 string
		EscalationPolicyID     sql.NullString
		CurrentEscalationLevel int
		GroupID                sql.NullString
	}
	err = tx.QueryRowContext(ctx, `
		SELECT status, escalation_policy_id, current_escalation_level, group_id
		FROM incidents
		WHERE id = $1
		FOR UPDATE
	`, incidentID).Scan(&incident.Status, &incident.EscalationPolicyID, &incident.CurrentEscalationLevel, &incident.GroupID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Resource: "incident", ID: incidentID}
		}
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}

	current := incident.CurrentEscalationLevel
	if incident.Status == db.IncidentStatusResolved {
		metrics.EscalationRejections.WithLabelValues("resolved").Inc()
		return nil, &ConflictError{Message: "cannot escalate resolved incident", CurrentLevel: current}
	}
	if expectedLevel != nil {
		if current != *expectedLevel {
			metrics.EscalationRejections.WithLabelValues("stale_level").Inc()
			return nil, &ConflictError{
				Message:      fmt.Sprintf("incident escalation level changed from %d", *expectedLevel),
				CurrentLevel: current,
			}
		}
		if incident.Status != db.IncidentStatusTriggered {
			metrics.EscalationRejections.WithLabelValues("not_triggered").Inc()
			return nil, &ConflictError{Message: "incident is no longer triggered", CurrentLevel: current}
		}
	}
	if !incident.EscalationPolicyID.Valid || incident.EscalationPolicyID.String == "" {
		metrics.EscalationRejections.WithLabelValues("no_policy").Inc()
		return nil, &ConflictError{Message: "incident has no escalation policy", CurrentLevel: current}
	}

	levels, err := s.getEscalationLevels(ctx, tx, incident.EscalationPolicyID.String)
	if err != nil {
		return nil, err
	}

	nextLevel := current + 1
	var target *db.EscalationLevel
	hasMoreLevels := false
	for i := range levels {
		switch levels[i].LevelNumber {
		case nextLevel:
			target = &levels[i]
		case nextLevel + 1:
			hasMoreLevels = true
		}
	}
	if target == nil {
		metrics.EscalationRejections.WithLabelValues("max_level").Inc()
		return nil, &ConflictError{
			Message:      fmt.Sprintf("already at maximum escalation level (%d)", current),
			CurrentLevel: current,
		}
	}

	now := time.Now().UTC()
	assignedUserID, err := s.resolveLevelTarget(ctx, tx, *target, incident.GroupID.String, now)
	if err != nil {
		return nil, err
	}

	newStatus := db.EscalationStatusPending
	if !hasMoreLevels {
		newStatus = db.EscalationStatusCompleted
	}

	updateQuery := `
		UPDATE incidents
		SET current_escalation_level = $1,
		    escalation_status = $2,
		    last_escalated_at = $3,
		    updated_at = $3`
	args := []interface{}{nextLevel, newStatus, now}
	if assignedUserID != "" {
		args = append(args, assignedUserID)
		updateQuery += fmt.Sprintf(", assigned_to = $%d, assigned_at = $3", len(args))
	}
	args = append(args, incidentID, current)
	updateQuery += fmt.Sprintf(" WHERE id = $%d AND current_escalation_level = $%d", len(args)-1, len(args))

	result, err := tx.ExecContext(ctx, updateQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update incident: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, &ConflictError{Message: "incident escalation level changed concurrently", CurrentLevel: current}
	}

	var assignedToName string
	if assignedUserID != "" {
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(name, email, 'Unknown') FROM users WHERE id = $1`,
			assignedUserID).Scan(&assignedToName); err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to look up assignee: %w", err)
		}
	}

	eventData := map[string]interface{}{
		"escalation_level": nextLevel,
		"previous_level":   current,
		"target_type":      target.TargetType,
		"target_id":        target.TargetID,
		"escalated_by":     actor,
	}
	if assignedUserID != "" {
		eventData["assigned_to_id"] = assignedUserID
		eventData["assigned_to"] = assignedToName
	}
	if err := createIncidentEvent(ctx, tx, incidentID, db.IncidentEventEscalated, eventData, actor); err != nil {
		return nil, err
	}

	if !hasMoreLevels {
		completion := map[string]interface{}{
			"escalation_status": db.EscalationStatusCompleted,
			"final_level":       nextLevel,
		}
		if assignedUserID != "" {
			completion["final_assignee_id"] = assignedUserID
			completion["final_assignee"] = assignedToName
		}
		if err := createIncidentEvent(ctx, tx, incidentID, db.IncidentEventEscalationCompleted, completion, actor); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit escalation: %w", err)
	}

	metrics.EscalationsTotal.WithLabelValues(target.TargetType, newStatus).Inc()
	s.Notifier.Dispatch(assignedUserID, incidentID, NotificationEscalated)

	logrus.WithFields(logrus.Fields{
		"incident_id":      incidentID,
		"escalation_level": nextLevel,
		"assigned_to":      assignedUserID,
		"status":           newStatus,
		"actor":            actor,
	}).Info("Escalated incident")

	return &db.EscalationResult{
		NewLevel:         nextLevel,
		AssignedUserID:   assignedUserID,
		AssignedToName:   assignedToName,
		EscalationStatus: newStatus,
		TargetType:       target.TargetType,
		TargetID:         target.TargetID,
		HasMoreLevels:    hasMoreLevels,
	}, nil
}

// createIncidentEvent appends an entry to the incident timeline.
func createIncidentEvent(ctx context.Context, q querier, incidentID, eventType string, data map[string]interface{}, createdBy string) error {
	var payload interface{}
	if len(data) > 0 {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
		}
		payload = string(raw)
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO incident_events (id, incident_id, event_type, event_data, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New().String(), incidentID, eventType, payload, time.Now().UTC(), createdBy); err != nil {
		return fmt.Errorf("failed to create %s event: %w", eventType, err)
	}
	return nil
}
