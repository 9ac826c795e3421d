package notification

import (
	"fmt"
	"time"

	projectentity "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/project/entity"
	taskentity "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/task/entity"
)

// Type of a notification.
type Type string

const (
	TypeTaskAssigned   Type = "TASK_ASSIGNED"
	TypeTaskUpdated    Type = "TASK_UPDATED"
	TypeProjectUpdated Type = "PROJECT_UPDATED"
	TypeDeadline       Type = "DEADLINE"
)

// Event is the name of the realtime event notifications are sent as.
const Event = "notification"

// Notification is the payload pushed to clients. The id is derived from the
// event type, subject and actor, so repeated identical events share an id.
type Notification struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Read      bool           `json:"read"`
}

func projectRef(t *taskentity.Task) any {
	if t.ProjectID == nil {
		return nil
	}
	return *t.ProjectID
}

func taskAssigned(t *taskentity.Task, actorID int64) Notification {
	return Notification{
		ID:        fmt.Sprintf("task_assigned_%d_%d", t.ID, actorID),
		Type:      TypeTaskAssigned,
		Message:   "You have been assigned to task: " + t.Title,
		Timestamp: t.UpdatedAt,
		Data:      map[string]any{"task_id": t.ID, "project_id": projectRef(t)},
	}
}

func taskUpdated(t *taskentity.Task, actorID int64) Notification {
	return Notification{
		ID:        fmt.Sprintf("task_updated_%d_%d", t.ID, actorID),
		Type:      TypeTaskUpdated,
		Message:   "Task updated: " + t.Title,
		Timestamp: t.UpdatedAt,
		Data:      map[string]any{"task_id": t.ID, "project_id": projectRef(t)},
	}
}

func projectUpdated(p *projectentity.Project, actorID int64) Notification {
	return Notification{
		ID:        fmt.Sprintf("project_updated_%d_%d", p.ID, actorID),
		Type:      TypeProjectUpdated,
		Message:   "Project updated: " + p.Name,
		Timestamp: p.UpdatedAt,
		Data:      map[string]any{"project_id": p.ID},
	}
}

func deadline(t *taskentity.Task) Notification {
	var due any
	if t.DueDate != nil {
		due = t.DueDate.UTC().Format(time.RFC3339)
	}
	return Notification{
		ID:        fmt.Sprintf("deadline_%d", t.ID),
		Type:      TypeDeadline,
		Message:   "Deadline approaching for task: " + t.Title,
		Timestamp: t.UpdatedAt,
		Data:      map[string]any{"task_id": t.ID, "project_id": projectRef(t), "due_date": due},
	}
}
