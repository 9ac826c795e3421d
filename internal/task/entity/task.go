package entity

import (
	"time"

	projectentity "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/project/entity"
	userentity "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/user/entity"
)

// Status of a task.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Task represents a row in `tasks` plus its read-only projections.
type Task struct {
	ID                int64                  `db:"id" json:"id"`
	Title             string                 `db:"title" json:"title"`
	Description       string                 `db:"description" json:"description"`
	Status            Status                 `db:"status" json:"status"`
	Priority          projectentity.Priority `db:"priority" json:"priority"`
	CreatedAt         time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time              `db:"updated_at" json:"updated_at"`
	DueDate           *time.Time             `db:"due_date" json:"due_date"`
	Assignees         []int64                `db:"-" json:"assignees"`
	CreatedBy         int64                  `db:"created_by" json:"created_by"`
	CreatedByUsername string                 `db:"created_by_username" json:"created_by_username"`
	ProjectID         *int64                 `db:"project_id" json:"project"`
	ProjectName       *string                `db:"project_name" json:"project_name"`
	AssigneeDetails   []userentity.Summary   `db:"-" json:"assignee_details"`
}

// Filter narrows a visible task listing. Nil fields do not filter.
type Filter struct {
	ProjectID *int64
	Status    *Status
	Priority  *projectentity.Priority
}
