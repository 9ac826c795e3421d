package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	projectentity "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/project/entity"
	projectrepo "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/project/repo"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/task/entity"
	taskrepo "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/task/repo"
	userrepo "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/optional"
)

// Notifier is told about committed task changes.
type Notifier interface {
	TaskAssigned(taskID, actorID int64)
	TaskUpdated(taskID, actorID int64)
}

var (
	ErrTaskNotFound    = apperr.NotFound("Not found.")
	ErrProjectNotFound = apperr.NotFound("Project not found")
	ErrUserNotFound    = apperr.NotFound("User not found")
)

const maxTitleLen = 200

// Input is the writable part of a task. Absent fields are left unchanged on
// update; "project": null detaches the task from its project.
type Input struct {
	Title       optional.Value[string]                 `json:"title"`
	Description optional.Value[string]                 `json:"description"`
	Status      optional.Value[entity.Status]          `json:"status"`
	Priority    optional.Value[projectentity.Priority] `json:"priority"`
	DueDate     optional.Time                          `json:"due_date"`
	Project     optional.Value[int64]                  `json:"project"`
	Assignees   optional.Value[[]int64]                `json:"assignees"`
}

// Query holds the raw listing filters from the request.
type Query struct {
	Project  string
	Status   string
	Priority string
}

// TaskService implements task CRUD scoped to the acting user.
type TaskService struct {
	repo     *taskrepo.TaskRepo
	projects *projectrepo.ProjectRepo
	users    *userrepo.UserRepo
	notifier Notifier
	now      func() time.Time
}

func NewTaskService(r *taskrepo.TaskRepo, projects *projectrepo.ProjectRepo, users *userrepo.UserRepo, notifier Notifier) *TaskService {
	return &TaskService{
		repo:     r,
		projects: projects,
		users:    users,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// ParseFilter validates the listing query. Empty values do not filter.
func ParseFilter(q Query) (entity.Filter, error) {
	var f entity.Filter
	fields := map[string]string{}
	if v := strings.TrimSpace(q.Project); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			fields["project"] = "Select a valid choice."
		} else {
			f.ProjectID = &id
		}
	}
	if v := strings.TrimSpace(q.Status); v != "" {
		st := entity.Status(v)
		if !st.Valid() {
			fields["status"] = fmt.Sprintf("Select a valid choice. %s is not one of the available choices.", v)
		} else {
			f.Status = &st
		}
	}
	if v := strings.TrimSpace(q.Priority); v != "" {
		pr := projectentity.Priority(v)
		if !pr.Valid() {
			fields["priority"] = fmt.Sprintf("Select a valid choice. %s is not one of the available choices.", v)
		} else {
			f.Priority = &pr
		}
	}
	if len(fields) > 0 {
		return entity.Filter{}, apperr.Validation("invalid filter", fields)
	}
	return f, nil
}

// List returns the tasks visible to actor narrowed by q.
func (s *TaskService) List(ctx context.Context, actor int64, q Query) ([]entity.Task, error) {
	f, err := ParseFilter(q)
	if err != nil {
		return nil, err
	}
	return s.repo.ListVisible(ctx, actor, f)
}

// Assigned returns the tasks actor is assigned to.
func (s *TaskService) Assigned(ctx context.Context, actor int64) ([]entity.Task, error) {
	return s.repo.ListAssigned(ctx, actor)
}

// ForProject returns the tasks of a project visible to actor.
func (s *TaskService) ForProject(ctx context.Context, actor, projectID int64) ([]entity.Task, error) {
	ok, err := s.projects.IsVisible(ctx, projectID, actor)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("Not found.")
	}
	return s.repo.ListByProject(ctx, projectID)
}

// Get returns a visible task; anything else is reported as not found.
func (s *TaskService) Get(ctx context.Context, actor, id int64) (*entity.Task, error) {
	t, err := s.repo.GetVisible(ctx, id, actor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return t, nil
}

// Create persists a task owned by actor. Initial assignees are notified.
func (s *TaskService) Create(ctx context.Context, actor int64, in Input) (*entity.Task, error) {
	if !in.Title.Set {
		return nil, apperr.Validation("invalid task", map[string]string{"title": "This field is required."})
	}
	ts := s.now()
	t := &entity.Task{
		Status:    entity.StatusTodo,
		Priority:  projectentity.PriorityMedium,
		CreatedBy: actor,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if err := apply(t, in); err != nil {
		return nil, err
	}
	if err := s.checkProject(ctx, actor, t.ProjectID); err != nil {
		return nil, err
	}
	if in.Assignees.Set {
		t.Assignees = dedupe(in.Assignees.V)
		if err := s.checkUsers(ctx, t.Assignees); err != nil {
			return nil, err
		}
	}
	if _, err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if len(t.Assignees) > 0 {
		s.notifier.TaskAssigned(t.ID, actor)
	}
	return s.repo.Get(ctx, t.ID)
}

// Update applies in to a visible task. A full update requires title.
func (s *TaskService) Update(ctx context.Context, actor, id int64, in Input, partial bool) (*entity.Task, error) {
	t, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !partial && !in.Title.Set {
		return nil, apperr.Validation("invalid task", map[string]string{"title": "This field is required."})
	}
	before := t.ProjectID
	if err := apply(t, in); err != nil {
		return nil, err
	}
	if in.Project.Set && !sameProject(before, t.ProjectID) {
		if err := s.checkProject(ctx, actor, t.ProjectID); err != nil {
			return nil, err
		}
	}
	var assignees []int64
	if in.Assignees.Set {
		assignees = dedupe(in.Assignees.V)
		if err := s.checkUsers(ctx, assignees); err != nil {
			return nil, err
		}
	}
	t.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, t, assignees); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("update task: %w", err)
	}
	s.notifier.TaskUpdated(t.ID, actor)
	return s.repo.Get(ctx, t.ID)
}

// Delete removes a visible task.
func (s *TaskService) Delete(ctx context.Context, actor, id int64) error {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// Assign adds userID to the assignees of a visible task and notifies them.
func (s *TaskService) Assign(ctx context.Context, actor, id, userID int64) error {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return err
	}
	if err := s.checkUser(ctx, userID); err != nil {
		return err
	}
	if err := s.repo.AddAssignee(ctx, id, userID, s.now()); err != nil {
		return fmt.Errorf("assign task: %w", err)
	}
	s.notifier.TaskAssigned(id, actor)
	return nil
}

// RemoveAssignee removes userID from the assignees of a visible task.
func (s *TaskService) RemoveAssignee(ctx context.Context, actor, id, userID int64) error {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return err
	}
	if err := s.checkUser(ctx, userID); err != nil {
		return err
	}
	if err := s.repo.RemoveAssignee(ctx, id, userID, s.now()); err != nil {
		return fmt.Errorf("remove assignee: %w", err)
	}
	s.notifier.TaskUpdated(id, actor)
	return nil
}

func (s *TaskService) checkProject(ctx context.Context, actor int64, projectID *int64) error {
	if projectID == nil {
		return nil
	}
	ok, err := s.projects.IsVisible(ctx, *projectID, actor)
	if err != nil {
		return err
	}
	if !ok {
		return ErrProjectNotFound
	}
	return nil
}

func (s *TaskService) checkUser(ctx context.Context, id int64) error {
	ok, err := s.users.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserNotFound
	}
	return nil
}

func (s *TaskService) checkUsers(ctx context.Context, ids []int64) error {
	missing, err := s.users.MissingIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return apperr.Validation("invalid task", map[string]string{
			"assignees": fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", missing[0]),
		})
	}
	return nil
}

// apply copies the set fields of in onto t and validates the result.
func apply(t *entity.Task, in Input) error {
	fields := map[string]string{}
	if in.Title.Set {
		t.Title = strings.TrimSpace(in.Title.V)
		switch {
		case in.Title.Null || t.Title == "":
			fields["title"] = "This field may not be blank."
		case len(t.Title) > maxTitleLen:
			fields["title"] = "Ensure this field has no more than 200 characters."
		}
	}
	if in.Description.Set {
		t.Description = in.Description.V
	}
	if in.Status.Set {
		if !in.Status.V.Valid() {
			fields["status"] = fmt.Sprintf("\"%s\" is not a valid choice.", in.Status.V)
		}
		t.Status = in.Status.V
	}
	if in.Priority.Set {
		if !in.Priority.V.Valid() {
			fields["priority"] = fmt.Sprintf("\"%s\" is not a valid choice.", in.Priority.V)
		}
		t.Priority = in.Priority.V
	}
	if in.DueDate.Set {
		t.DueDate = in.DueDate.Ptr()
	}
	if in.Project.Set {
		if in.Project.Null {
			t.ProjectID = nil
		} else {
			id := in.Project.V
			t.ProjectID = &id
		}
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid task", fields)
	}
	return nil
}

func sameProject(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
