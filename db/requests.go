package db

import "time"

// CreateSchedulerRequest represents the request body for creating a scheduler
type CreateSchedulerRequest struct {
	Name         string `json:"name" binding:"required"`
	DisplayName  string `json:"display_name"`
	Description  string `json:"description"`
	RotationType string `json:"rotation_type"` // defaults to 'manual'
}

// CreateShiftRequest represents one explicitly supplied shift
type CreateShiftRequest struct {
	UserID    string    `json:"user_id" binding:"required"`
	ShiftType string    `json:"shift_type"` // defaults to 'custom'
	StartTime time.Time `json:"start_time" binding:"required"`
	EndTime   time.Time `json:"end_time" binding:"required"`
	// Service scheduling support
	ServiceID     *string `json:"service_id,omitempty"`
	ScheduleScope string  `json:"schedule_scope"` // 'group' (default) or 'service'
}

// RotationParams describes an automatic rotation
type RotationParams struct {
	ShiftLengthDays int           `json:"shift_length_days"`
	StartDateTime   time.Time     `json:"start_date_time" binding:"required"`
	HandoffTime     string        `json:"handoff_time"` // "HH:MM", defaults to the start clock time
	HandoffWeekday  *time.Weekday `json:"handoff_weekday,omitempty"`
	WeeksAhead      int           `json:"weeks_ahead"`
	MemberOrder     []string      `json:"member_order" binding:"required"`
	// Service scheduling support
	ServiceID     *string `json:"service_id,omitempty"`
	ScheduleScope string  `json:"schedule_scope"`
}

// ReplaceShiftsRequest carries either rotation parameters or explicit shifts
type ReplaceShiftsRequest struct {
	DisplayName  string               `json:"display_name"`
	Description  string               `json:"description"`
	RotationType string               `json:"rotation_type"`
	Rotation     *RotationParams      `json:"rotation,omitempty"`
	Shifts       []CreateShiftRequest `json:"shifts,omitempty"`
}

// CreateScheduleOverrideRequest represents the request body for creating an override
type CreateScheduleOverrideRequest struct {
	OriginalScheduleID string    `json:"original_schedule_id" binding:"required"`
	NewUserID          string    `json:"new_user_id" binding:"required"`
	OverrideReason     *string   `json:"override_reason,omitempty"`
	OverrideType       string    `json:"override_type"` // temporary, permanent, emergency
	OverrideStartTime  time.Time `json:"override_start_time" binding:"required"`
	OverrideEndTime    time.Time `json:"override_end_time" binding:"required"`
}

// ShiftSwapRequest swaps the users of two shifts
type ShiftSwapRequest struct {
	CurrentShiftID string `json:"current_shift_id" binding:"required"`
	TargetShiftID  string `json:"target_shift_id" binding:"required"`
}

// ShiftSwapResponse is returned after a swap
type ShiftSwapResponse struct {
	CurrentShift  Shift     `json:"current_shift"`
	TargetShift   Shift     `json:"target_shift"`
	CyclesUpdated int       `json:"cycles_updated"`
	SwappedAt     time.Time `json:"swapped_at"`
}

// CreateEscalationPolicyRequest represents the request body for creating a policy
type CreateEscalationPolicyRequest struct {
	Name        string                         `json:"name" binding:"required"`
	Description string                         `json:"description"`
	Levels      []CreateEscalationLevelRequest `json:"levels" binding:"required"`
}

// CreateEscalationLevelRequest is one level of a new policy
type CreateEscalationLevelRequest struct {
	LevelNumber    int    `json:"level_number"`
	TargetType     string `json:"target_type"`
	TargetID       string `json:"target_id,omitempty"`
	TimeoutMinutes int    `json:"timeout_minutes"`
}

// CreateIncidentRequest for creating a new incident
type CreateIncidentRequest struct {
	Title              string `json:"title" binding:"required"`
	Description        string `json:"description"`
	Urgency            string `json:"urgency,omitempty" binding:"omitempty,oneof=low high"`
	GroupID            string `json:"group_id,omitempty"`
	ServiceID          string `json:"service_id,omitempty"`
	EscalationPolicyID string `json:"escalation_policy_id,omitempty"`
}
