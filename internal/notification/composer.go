package notification

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	projectrepo "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/project/repo"
	taskentity "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/task/entity"
	taskrepo "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/task/repo"
)

// Deliverer pushes an event to every live session of the given users.
type Deliverer interface {
	DeliverMany(ctx context.Context, userIDs []int64, event string, payload any)
}

// DefaultTimeout bounds one composition including its delivery.
const DefaultTimeout = 10 * time.Second

// Composer turns domain events into notifications and hands them to the
// Deliverer. The event methods return immediately; work runs on its own
// goroutine and Wait blocks until all of it has finished.
type Composer struct {
	tasks    *taskrepo.TaskRepo
	projects *projectrepo.ProjectRepo
	out      Deliverer
	logger   *zap.SugaredLogger
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewComposer(tasks *taskrepo.TaskRepo, projects *projectrepo.ProjectRepo, out Deliverer, logger *zap.SugaredLogger) *Composer {
	return &Composer{
		tasks:    tasks,
		projects: projects,
		out:      out,
		logger:   logger,
		timeout:  DefaultTimeout,
	}
}

// TaskAssigned notifies the task's current assignees.
func (c *Composer) TaskAssigned(taskID, actorID int64) {
	c.spawn("task_assigned", taskID, func(ctx context.Context) error {
		return c.ComposeTaskAssigned(ctx, taskID, actorID)
	})
}

// TaskUpdated notifies the task's assignees and its creator.
func (c *Composer) TaskUpdated(taskID, actorID int64) {
	c.spawn("task_updated", taskID, func(ctx context.Context) error {
		return c.ComposeTaskUpdated(ctx, taskID, actorID)
	})
}

// ProjectUpdated notifies the project's members.
func (c *Composer) ProjectUpdated(projectID, actorID int64) {
	c.spawn("project_updated", projectID, func(ctx context.Context) error {
		return c.ComposeProjectUpdated(ctx, projectID, actorID)
	})
}

// Wait blocks until every spawned composition has returned.
func (c *Composer) Wait() { c.wg.Wait() }

func (c *Composer) spawn(kind string, subject int64, fn func(ctx context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			c.logger.Warnw("notification failed", "kind", kind, "subject", subject, "err", err)
		}
	}()
}

// ComposeTaskAssigned builds and delivers TASK_ASSIGNED synchronously. A
// task that no longer exists is ignored.
func (c *Composer) ComposeTaskAssigned(ctx context.Context, taskID, actorID int64) error {
	t, err := c.loadTask(ctx, taskID)
	if err != nil || t == nil {
		return err
	}
	c.send(ctx, t.Assignees, taskAssigned(t, actorID))
	return nil
}

// ComposeTaskUpdated builds and delivers TASK_UPDATED synchronously.
func (c *Composer) ComposeTaskUpdated(ctx context.Context, taskID, actorID int64) error {
	t, err := c.loadTask(ctx, taskID)
	if err != nil || t == nil {
		return err
	}
	recipients := append([]int64{}, t.Assignees...)
	if !containsID(recipients, t.CreatedBy) {
		recipients = append(recipients, t.CreatedBy)
	}
	c.send(ctx, recipients, taskUpdated(t, actorID))
	return nil
}

// ComposeProjectUpdated builds and delivers PROJECT_UPDATED synchronously.
func (c *Composer) ComposeProjectUpdated(ctx context.Context, projectID, actorID int64) error {
	p, err := c.projects.Get(ctx, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.logger.Debugw("project gone before notification", "project_id", projectID)
			return nil
		}
		return err
	}
	c.send(ctx, p.Members, projectUpdated(p, actorID))
	return nil
}

// NotifyDeadlines sends DEADLINE to the assignees of every unfinished task
// due within window from now and returns how many tasks were notified.
func (c *Composer) NotifyDeadlines(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	due, err := c.tasks.DueBetween(ctx, now, now.Add(window))
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range due {
		t := &due[i]
		if len(t.Assignees) == 0 {
			continue
		}
		c.send(ctx, t.Assignees, deadline(t))
		n++
	}
	c.logger.Infow("deadline sweep", "window", window.String(), "due", len(due), "notified", n)
	return n, nil
}

func (c *Composer) loadTask(ctx context.Context, id int64) (*taskentity.Task, error) {
	t, err := c.tasks.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.logger.Debugw("task gone before notification", "task_id", id)
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (c *Composer) send(ctx context.Context, recipients []int64, n Notification) {
	if len(recipients) == 0 {
		return
	}
	c.logger.Debugw("notification composed", "id", n.ID, "type", n.Type, "recipients", len(recipients))
	c.out.DeliverMany(ctx, recipients, Event, n)
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
