package entity

import "time"

// Status of a project.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusOnHold     Status = "ON_HOLD"
	StatusCompleted  Status = "COMPLETED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusOnHold, StatusCompleted:
		return true
	}
	return false
}

// Priority is shared by projects and tasks.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Project represents a row in `projects` plus its read-only projections.
type Project struct {
	ID                int64      `db:"id" json:"id"`
	Name              string     `db:"name" json:"name"`
	Description       string     `db:"description" json:"description"`
	Status            Status     `db:"status" json:"status"`
	Priority          Priority   `db:"priority" json:"priority"`
	StartDate         *time.Time `db:"start_date" json:"start_date"`
	DueDate           *time.Time `db:"due_date" json:"due_date"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
	CreatedBy         int64      `db:"created_by" json:"created_by"`
	CreatedByUsername string     `db:"created_by_username" json:"created_by_username"`
	Members           []int64    `db:"-" json:"members"`
	MemberCount       int        `db:"member_count" json:"member_count"`
	TaskCount         int        `db:"task_count" json:"task_count"`
}

// HasMember reports whether userID is in Members.
func (p *Project) HasMember(userID int64) bool {
	for _, id := range p.Members {
		if id == userID {
			return true
		}
	}
	return false
}
