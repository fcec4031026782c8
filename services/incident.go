package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phonginreallife/oncall/db"
	"github.com/sirupsen/logrus"
)

const incidentColumns = `id, title, description, status, urgency, group_id, service_id, created_at, updated_at,
	assigned_to, assigned_at, acknowledged_by, acknowledged_at, resolved_by, resolved_at,
	escalation_policy_id, current_escalation_level, last_escalated_at, escalation_status`

// IncidentService creates incidents and moves them through acknowledge/resolve
type IncidentService struct {
	PG         *sql.DB
	Escalation *EscalationService
	Notifier   *NotificationDispatcher
}

func NewIncidentService(pg *sql.DB, escalation *EscalationService, notifier *NotificationDispatcher) *IncidentService {
	return &IncidentService{PG: pg, Escalation: escalation, Notifier: notifier}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func scanIncident(row rowScanner) (db.Incident, error) {
	var inc db.Incident
	var groupID, serviceID, assignedTo, ackBy, resolvedBy, policyID sql.NullString
	var assignedAt, ackAt, resolvedAt, escalatedAt sql.NullTime
	err := row.Scan(&inc.ID, &inc.Title, &inc.Description, &inc.Status, &inc.Urgency, &groupID, &serviceID,
		&inc.CreatedAt, &inc.UpdatedAt, &assignedTo, &assignedAt, &ackBy, &ackAt, &resolvedBy, &resolvedAt,
		&policyID, &inc.CurrentEscalationLevel, &escalatedAt, &inc.EscalationStatus)
	inc.GroupID = groupID.String
	inc.ServiceID = serviceID.String
	inc.AssignedTo = assignedTo.String
	inc.AssignedAt = timePtr(assignedAt)
	inc.AcknowledgedBy = ackBy.String
	inc.AcknowledgedAt = timePtr(ackAt)
	inc.ResolvedBy = resolvedBy.String
	inc.ResolvedAt = timePtr(resolvedAt)
	inc.EscalationPolicyID = policyID.String
	inc.LastEscalatedAt = timePtr(escalatedAt)
	return inc, err
}

// GetIncident returns an incident by id.
func (s *IncidentService) GetIncident(ctx context.Context, incidentID string) (db.Incident, error) {
	inc, err := scanIncident(s.PG.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, incidentID))
	if err != nil {
		if err == sql.ErrNoRows {
			return inc, &NotFoundError{Resource: "incident", ID: incidentID}
		}
		return inc, fmt.Errorf("failed to get incident: %w", err)
	}
	return inc, nil
}

// CreateIncident inserts a triggered incident at escalation level 1, assigned to
// the policy's level 1 target when one resolves.
func (s *IncidentService) CreateIncident(ctx context.Context, req db.CreateIncidentRequest, createdBy string) (db.Incident, error) {
	var incident db.Incident
	if strings.TrimSpace(req.Title) == "" {
		return incident, validationErrorf("title", "is required")
	}
	if req.Urgency == "" {
		req.Urgency = "high"
	}
	if req.Urgency != "low" && req.Urgency != "high" {
		return incident, validationErrorf("urgency", "must be 'low' or 'high'")
	}

	now := time.Now().UTC()
	incident = db.Incident{
		ID:                     uuid.New().String(),
		Title:                  strings.TrimSpace(req.Title),
		Description:            req.Description,
		Status:                 db.IncidentStatusTriggered,
		Urgency:                req.Urgency,
		GroupID:                req.GroupID,
		ServiceID:              req.ServiceID,
		CreatedAt:              now,
		UpdatedAt:              now,
		EscalationPolicyID:     req.EscalationPolicyID,
		CurrentEscalationLevel: 1,
		EscalationStatus:       db.EscalationStatusNone,
	}

	if req.EscalationPolicyID != "" {
		policy, err := s.Escalation.GetEscalationPolicy(ctx, req.EscalationPolicyID)
		if err != nil {
			return db.Incident{}, err
		}
		if incident.GroupID == "" {
			incident.GroupID = policy.GroupID
		}
		incident.EscalationStatus = db.EscalationStatusPending

		assignee, err := s.Escalation.initialAssignee(ctx, policy, incident.GroupID, now)
		if err != nil {
			logrus.Warnf("Failed to resolve initial assignee for policy %s: %v", policy.ID, err)
		}
		if assignee != "" {
			incident.AssignedTo = assignee
			incident.AssignedAt = &now
		}
	}

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return db.Incident{}, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var assignedAt interface{}
	if incident.AssignedAt != nil {
		assignedAt = *incident.AssignedAt
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO incidents (id, title, description, status, urgency, group_id, service_id, created_at, updated_at,
		                       assigned_to, assigned_at, escalation_policy_id, current_escalation_level, escalation_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9, $10, $11, $12, $13)
	`, incident.ID, incident.Title, incident.Description, incident.Status, incident.Urgency,
		nullIfEmpty(incident.GroupID), nullIfEmpty(incident.ServiceID), now,
		nullIfEmpty(incident.AssignedTo), assignedAt, nullIfEmpty(incident.EscalationPolicyID),
		incident.CurrentEscalationLevel, incident.EscalationStatus); err != nil {
		return db.Incident{}, fmt.Errorf("failed to create incident: %w", err)
	}

	if err := createIncidentEvent(ctx, tx, incident.ID, db.IncidentEventCreated, map[string]interface{}{
		"urgency":              incident.Urgency,
		"escalation_policy_id": incident.EscalationPolicyID,
	}, createdBy); err != nil {
		return db.Incident{}, err
	}
	if incident.AssignedTo != "" {
		if err := createIncidentEvent(ctx, tx, incident.ID, db.IncidentEventAssigned, map[string]interface{}{
			"assigned_to_id":   incident.AssignedTo,
			"escalation_level": 1,
		}, createdBy); err != nil {
			return db.Incident{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return db.Incident{}, fmt.Errorf("failed to commit incident: %w", err)
	}

	s.Notifier.Dispatch(incident.AssignedTo, incident.ID, NotificationAssigned)
	logrus.Infof("Created incident %s (assigned to: %q)", incident.ID, incident.AssignedTo)
	return incident, nil
}

// lockIncident loads the status and assignee of an incident under a row lock.
func lockIncident(ctx context.Context, tx *sql.Tx, incidentID string) (string, string, error) {
	var status string
	var assignedTo sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT status, assigned_to FROM incidents WHERE id = $1 FOR UPDATE
	`, incidentID).Scan(&status, &assignedTo)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", "", &NotFoundError{Resource: "incident", ID: incidentID}
		}
		return "", "", fmt.Errorf("failed to get incident: %w", err)
	}
	return status, assignedTo.String, nil
}

// AcknowledgeIncident moves a triggered incident to acknowledged, which stops
// timeout-driven escalation.
func (s *IncidentService) AcknowledgeIncident(ctx context.Context, incidentID, userID string) error {
	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status, assignedTo, err := lockIncident(ctx, tx, incidentID)
	if err != nil {
		return err
	}
	if status != db.IncidentStatusTriggered {
		return &ConflictError{Message: fmt.Sprintf("cannot acknowledge %s incident", status)}
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE incidents SET status = $1, acknowledged_by = $2, acknowledged_at = $3, updated_at = $3
		WHERE id = $4
	`, db.IncidentStatusAcknowledged, userID, now, incidentID); err != nil {
		return fmt.Errorf("failed to acknowledge incident: %w", err)
	}
	if err := createIncidentEvent(ctx, tx, incidentID, db.IncidentEventAcknowledged, map[string]interface{}{
		"acknowledged_by": userID,
	}, userID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit acknowledgement: %w", err)
	}

	s.Notifier.Dispatch(assignedTo, incidentID, NotificationAcknowledged)
	return nil
}

// ResolveIncident closes a triggered or acknowledged incident.
func (s *IncidentService) ResolveIncident(ctx context.Context, incidentID, userID, resolution string) error {
	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status, assignedTo, err := lockIncident(ctx, tx, incidentID)
	if err != nil {
		return err
	}
	if status == db.IncidentStatusResolved {
		return &ConflictError{Message: "incident is already resolved"}
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE incidents SET status = $1, resolved_by = $2, resolved_at = $3, updated_at = $3
		WHERE id = $4
	`, db.IncidentStatusResolved, userID, now, incidentID); err != nil {
		return fmt.Errorf("failed to resolve incident: %w", err)
	}
	data := map[string]interface{}{"resolved_by": userID}
	if resolution != "" {
		data["resolution"] = resolution
	}
	if err := createIncidentEvent(ctx, tx, incidentID, db.IncidentEventResolved, data, userID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit resolution: %w", err)
	}

	s.Notifier.Dispatch(assignedTo, incidentID, NotificationResolved)
	return nil
}
