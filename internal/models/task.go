package models

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Task status enums. EXPIRED is a transient label: a submission attempted
// past the deadline collapses into FAILED with the stake forfeited.
const (
	TaskStatusInProgress = "in_progress"
	TaskStatusSubmitted  = "submitted"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusExpired    = "expired"
)

// Judge verdict enums.
const (
	JudgeStatusPending  = "pending"
	JudgeStatusApproved = "approved"
	JudgeStatusRejected = "rejected"
)

// Recurrence frequency enums.
const (
	FrequencyDaily  = "daily"
	FrequencyWeekly = "weekly"
)

// TaskCategories is the fixed set of categories a task may carry.
var TaskCategories = map[string]bool{
	"学习": true,
	"运动": true,
	"工作": true,
	"生活": true,
	"其他": true,
}

const DefaultCategory = "其他"

// Stake bounds per task and per deposit call.
var (
	MinBetAmount = decimal.NewFromInt(1)
	MaxBetAmount = decimal.NewFromInt(10000)
)

var startTimeRe = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// Recurrence is the schedule spec carried by a template. EndDate and
// Occurrences are each optional caps; both absent means "repeat forever".
type Recurrence struct {
	Frequency   string     `json:"frequency"`
	DaysOfWeek  []int      `json:"days_of_week,omitempty"` // 0=Sunday .. 6=Saturday
	StartTime   string     `json:"start_time"`             // HH:MM, wall clock in the user's zone
	EndDate     *time.Time `json:"end_date,omitempty"`
	Occurrences *int       `json:"occurrences,omitempty"`
}

// Validate checks the recurrence spec. Weekly schedules require at least
// one weekday.
func (r *Recurrence) Validate() error {
	switch r.Frequency {
	case FrequencyDaily:
	case FrequencyWeekly:
		if len(r.DaysOfWeek) == 0 {
			return errors.New("weekly recurrence requires days_of_week")
		}
		for _, d := range r.DaysOfWeek {
			if d < 0 || d > 6 {
				return fmt.Errorf("days_of_week entry %d out of range 0-6", d)
			}
		}
	default:
		return fmt.Errorf("frequency must be %q or %q", FrequencyDaily, FrequencyWeekly)
	}
	if !startTimeRe.MatchString(r.StartTime) {
		return errors.New("start_time must be HH:MM")
	}
	if r.Occurrences != nil && (*r.Occurrences < 1 || *r.Occurrences > 365) {
		return errors.New("occurrences must be between 1 and 365")
	}
	return nil
}

// AppliesOn reports whether the schedule produces an occurrence on the
// given calendar date. The date must already be expressed in the user's
// time zone; weekday math happens on its wall clock.
func (r *Recurrence) AppliesOn(date time.Time) bool {
	switch r.Frequency {
	case FrequencyDaily:
		return true
	case FrequencyWeekly:
		wd := int(date.Weekday())
		for _, d := range r.DaysOfWeek {
			if d == wd {
				return true
			}
		}
	}
	return false
}

// StartClock returns the hour and minute parsed from StartTime. Validate
// must have accepted the spec first.
func (r *Recurrence) StartClock() (hour, minute int) {
	fmt.Sscanf(r.StartTime, "%d:%d", &hour, &minute)
	return hour, minute
}

// Template is a recurring commitment spec. It never carries a deadline and
// never locks funds itself; the recurrence generator materializes dated
// Task instances from it.
type Template struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	JudgeUserID uuid.UUID       `json:"judge_user_id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category"`
	BetAmount   decimal.Decimal `json:"bet_amount"`
	Recurrence  Recurrence      `json:"recurrence"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Task is one concrete, dated commitment instance, created ad hoc or
// materialized from a Template. The (UserID, ParentTemplateID, Deadline)
// triple is unique for generated instances.
type Task struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	JudgeUserID      uuid.UUID       `json:"judge_user_id"`
	ParentTemplateID *uuid.UUID      `json:"parent_template_id,omitempty"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	Category         string          `json:"category"`
	BetAmount        decimal.Decimal `json:"bet_amount"`
	Deadline         time.Time       `json:"deadline"`
	Status           string          `json:"status"`
	JudgeStatus      string          `json:"judge_status"`
	JudgeComment     string          `json:"judge_comment,omitempty"`
	EvidenceID       *uuid.UUID      `json:"evidence_id,omitempty"`
	Archived         bool            `json:"archived"`
	StartedAt        time.Time       `json:"started_at"`
	SubmittedAt      *time.Time      `json:"submitted_at,omitempty"`
	JudgedAt         *time.Time      `json:"judged_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Terminal reports whether the task has been settled.
func (t *Task) Terminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// Active reports whether the task's stake is currently locked.
func (t *Task) Active() bool {
	return t.Status == TaskStatusInProgress || t.Status == TaskStatusSubmitted
}
