package db

import (
	"time"
)

// Shift scopes
const (
	ScheduleScopeGroup   = "group"
	ScheduleScopeService = "service"
)

// Shift types
const (
	ShiftTypeRotation = "rotation"
	ShiftTypeCustom   = "custom"
)

// Scheduler rotation types
const (
	RotationTypeManual     = "manual"
	RotationTypeRoundRobin = "round_robin"
)

// Override types
const (
	OverrideTypeTemporary = "temporary"
	OverrideTypePermanent = "permanent"
	OverrideTypeEmergency = "emergency"
)

// Escalation target types
const (
	TargetTypeUser            = "user"
	TargetTypeScheduler       = "scheduler"
	TargetTypeGroup           = "group"
	TargetTypeCurrentSchedule = "current_schedule"
	TargetTypeExternal        = "external"
)

// Incident escalation status
const (
	EscalationStatusNone      = "none"
	EscalationStatusPending   = "pending"
	EscalationStatusCompleted = "completed"
)

// Incident status
const (
	IncidentStatusTriggered    = "triggered"
	IncidentStatusAcknowledged = "acknowledged"
	IncidentStatusResolved     = "resolved"
)

// Incident event types
const (
	IncidentEventCreated             = "created"
	IncidentEventAssigned            = "assigned"
	IncidentEventEscalated           = "escalated"
	IncidentEventEscalationCompleted = "escalation_completed"
	IncidentEventAcknowledged        = "acknowledged"
	IncidentEventResolved            = "resolved"
)

// DefaultSchedulerName is the internal name of the lazily created group scheduler.
const DefaultSchedulerName = "default"

// Scheduler is a named rotation container scoped to a group
type Scheduler struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`         // unique within the group: "default", "backend-1"
	DisplayName  string    `json:"display_name"` // "Backend Team"
	GroupID      string    `json:"group_id"`
	Description  string    `json:"description,omitempty"`
	IsActive     bool      `json:"is_active"`
	RotationType string    `json:"rotation_type"` // 'manual', 'round_robin'
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	CreatedBy    string    `json:"created_by,omitempty"`

	// Nested shifts (populated when needed)
	Shifts []Shift `json:"shifts,omitempty"`
}

// Shift is a half-open interval [StartTime, EndTime) assigning one user to one scheduler
type Shift struct {
	ID              string    `json:"id"`
	SchedulerID     string    `json:"scheduler_id"`
	RotationCycleID *string   `json:"rotation_cycle_id,omitempty"`
	GroupID         string    `json:"group_id"`
	UserID          string    `json:"user_id"`
	ShiftType       string    `json:"shift_type"` // rotation, custom
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	CreatedBy       string    `json:"created_by,omitempty"`

	// Service-specific scheduling
	ServiceID     *string `json:"service_id,omitempty"`
	ScheduleScope string  `json:"schedule_scope"` // 'group' or 'service'
}

// Covers reports whether t falls inside [StartTime, EndTime).
func (s Shift) Covers(t time.Time) bool {
	return !t.Before(s.StartTime) && t.Before(s.EndTime)
}

// Overlaps reports whether [start, end) intersects the shift interval.
func (s Shift) Overlaps(start, end time.Time) bool {
	return start.Before(s.EndTime) && s.StartTime.Before(end)
}

// ScheduleOverride reassigns part or all of one shift to a different user
type ScheduleOverride struct {
	ID                 string    `json:"id"`
	OriginalScheduleID string    `json:"original_schedule_id"` // the overridden shift
	GroupID            string    `json:"group_id"`
	NewUserID          string    `json:"new_user_id"`
	OverrideReason     *string   `json:"override_reason,omitempty"`
	OverrideType       string    `json:"override_type"` // temporary, permanent, emergency
	OverrideStartTime  time.Time `json:"override_start_time"`
	OverrideEndTime    time.Time `json:"override_end_time"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	CreatedBy          string    `json:"created_by"`
}

// Covers reports whether t falls inside [OverrideStartTime, OverrideEndTime).
func (o ScheduleOverride) Covers(t time.Time) bool {
	return !t.Before(o.OverrideStartTime) && t.Before(o.OverrideEndTime)
}

// EffectiveAssignment is the override-resolved on-call user at an instant. Not stored.
type EffectiveAssignment struct {
	EffectiveUserID string    `json:"effective_user_id"`
	OriginalUserID  string    `json:"original_user_id"`
	IsOverridden    bool      `json:"is_overridden"`
	ShiftID         string    `json:"shift_id"`
	SchedulerID     string    `json:"scheduler_id"`
	ScheduleScope   string    `json:"schedule_scope"`
	OverrideID      *string   `json:"override_id,omitempty"`
	At              time.Time `json:"at"`
}

// MemberOrder is the ordered member list of a rotation cycle
type MemberOrder []string

// IndexOf returns the position of userID, or -1.
func (m MemberOrder) IndexOf(userID string) int {
	for i, id := range m {
		if id == userID {
			return i
		}
	}
	return -1
}

// Swap exchanges the positions of two members. It reports false and leaves
// the order untouched unless both are present.
func (m MemberOrder) Swap(userA, userB string) bool {
	a, b := m.IndexOf(userA), m.IndexOf(userB)
	if a < 0 || b < 0 {
		return false
	}
	m[a], m[b] = m[b], m[a]
	return true
}

// RotationCycle backs automatic rotations of a scheduler
type RotationCycle struct {
	ID              string        `json:"id"`
	SchedulerID     string        `json:"scheduler_id"`
	GroupID         string        `json:"group_id"`
	ShiftLengthDays int           `json:"shift_length_days"`
	StartTime       time.Time     `json:"start_time"`
	HandoffTime     string        `json:"handoff_time"` // "09:00"
	HandoffWeekday  *time.Weekday `json:"handoff_weekday,omitempty"`
	MemberOrder     MemberOrder   `json:"member_order"`
	IsActive        bool          `json:"is_active"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	CreatedBy       string        `json:"created_by,omitempty"`
}

// EscalationPolicy is an ordered list of escalation levels
type EscalationPolicy struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	GroupID     string    `json:"group_id"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedBy   string    `json:"created_by,omitempty"`

	Levels []EscalationLevel `json:"levels,omitempty"`
}

// EscalationLevel is a single step in the escalation chain
type EscalationLevel struct {
	ID             string    `json:"id"`
	PolicyID       string    `json:"policy_id"`
	LevelNumber    int       `json:"level_number"`
	TargetType     string    `json:"target_type"`         // user, scheduler, group, current_schedule, external
	TargetID       string    `json:"target_id,omitempty"` // user_id, scheduler_id, group_id, webhook id
	TimeoutMinutes int       `json:"timeout_minutes"`
	CreatedAt      time.Time `json:"created_at"`
}

// Incident carries the escalation state driven by the escalation engine
type Incident struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"` // triggered, acknowledged, resolved
	Urgency     string    `json:"urgency"`
	GroupID     string    `json:"group_id,omitempty"`
	ServiceID   string    `json:"service_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Assignment & Acknowledgment
	AssignedTo     string     `json:"assigned_to,omitempty"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`

	// Escalation
	EscalationPolicyID     string     `json:"escalation_policy_id,omitempty"`
	CurrentEscalationLevel int        `json:"current_escalation_level"`
	LastEscalatedAt        *time.Time `json:"last_escalated_at,omitempty"`
	EscalationStatus       string     `json:"escalation_status"`
}

// IncidentEvent is an entry in the incident timeline
type IncidentEvent struct {
	ID         string                 `json:"id"`
	IncidentID string                 `json:"incident_id"`
	EventType  string                 `json:"event_type"`
	EventData  map[string]interface{} `json:"event_data,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	CreatedBy  string                 `json:"created_by,omitempty"`
}

// EscalationResult is returned by a successful advance
type EscalationResult struct {
	NewLevel         int    `json:"new_level"`
	AssignedUserID   string `json:"assigned_user_id,omitempty"`
	AssignedToName   string `json:"assigned_to_name,omitempty"`
	EscalationStatus string `json:"escalation_status"`
	TargetType       string `json:"target_type"`
	TargetID         string `json:"target_id,omitempty"`
	HasMoreLevels    bool   `json:"has_more_levels"`
}
