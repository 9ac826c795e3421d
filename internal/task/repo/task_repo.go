package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/task/entity"
	userentity "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/database"
)

// TaskRepo provides data access for tasks and task_assignees.
type TaskRepo struct {
	db *sqlx.DB
}

func NewTaskRepo(db *sqlx.DB) *TaskRepo { return &TaskRepo{db: db} }

// EnsureTable creates the tasks and task_assignees tables if not exists.
// projects must exist first.
func (r *TaskRepo) EnsureTable(ctx context.Context) error {
	ts := database.Timestamp(r.db)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tasks (
  id %s,
  title VARCHAR(200) NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  status VARCHAR(20) NOT NULL DEFAULT 'TODO',
  priority VARCHAR(20) NOT NULL DEFAULT 'MEDIUM',
  due_date %s NULL,
  created_at %s NOT NULL,
  updated_at %s NOT NULL,
  created_by BIGINT NOT NULL REFERENCES users(id),
  project_id BIGINT NULL REFERENCES projects(id)
)`, database.SerialPK(r.db), ts, ts, ts),
		`CREATE INDEX IF NOT EXISTS tasks_project_idx ON tasks (project_id)`,
		`CREATE INDEX IF NOT EXISTS tasks_due_date_idx ON tasks (due_date)`,
		`CREATE TABLE IF NOT EXISTS task_assignees (
  task_id BIGINT NOT NULL REFERENCES tasks(id),
  user_id BIGINT NOT NULL REFERENCES users(id),
  PRIMARY KEY (task_id, user_id)
)`,
		`CREATE INDEX IF NOT EXISTS task_assignees_user_idx ON task_assignees (user_id)`,
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

const selectTask = `SELECT t.id, t.title, t.description, t.status, t.priority, t.due_date,
  t.created_at, t.updated_at, t.created_by, t.project_id,
  COALESCE(u.username, '') AS created_by_username,
  p.name AS project_name
FROM tasks t
LEFT JOIN users u ON u.id = t.created_by
LEFT JOIN projects p ON p.id = t.project_id`

// visibleTask matches tasks the user created, is assigned to, or whose
// project the user is a member of. Each task matches at most once.
const visibleTask = `(t.created_by = ?
  OR EXISTS (SELECT 1 FROM task_assignees va WHERE va.task_id = t.id AND va.user_id = ?)
  OR EXISTS (SELECT 1 FROM project_members vm WHERE vm.project_id = t.project_id AND vm.user_id = ?))`

const newestFirst = ` ORDER BY t.created_at DESC, t.id DESC`

// Create inserts the task and its assignees in one transaction.
func (r *TaskRepo) Create(ctx context.Context, t *entity.Task) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	q := tx.Rebind(`INSERT INTO tasks (title, description, status, priority, due_date, created_at, updated_at, created_by, project_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	if err := tx.GetContext(ctx, &t.ID, q, t.Title, t.Description, t.Status, t.Priority,
		t.DueDate, t.CreatedAt, t.UpdatedAt, t.CreatedBy, t.ProjectID); err != nil {
		return 0, err
	}
	if err := insertAssignees(ctx, tx, t.ID, t.Assignees); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return t.ID, nil
}

// ListVisible returns the tasks visible to userID narrowed by f, newest first.
func (r *TaskRepo) ListVisible(ctx context.Context, userID int64, f entity.Filter) ([]entity.Task, error) {
	where := []string{visibleTask}
	args := []any{userID, userID, userID}
	if f.ProjectID != nil {
		where = append(where, `t.project_id = ?`)
		args = append(args, *f.ProjectID)
	}
	if f.Status != nil {
		where = append(where, `t.status = ?`)
		args = append(args, *f.Status)
	}
	if f.Priority != nil {
		where = append(where, `t.priority = ?`)
		args = append(args, *f.Priority)
	}
	q := r.db.Rebind(selectTask + ` WHERE ` + strings.Join(where, ` AND `) + newestFirst)
	return r.list(ctx, q, args...)
}

// ListAssigned returns the tasks userID is assigned to, newest first.
func (r *TaskRepo) ListAssigned(ctx context.Context, userID int64) ([]entity.Task, error) {
	q := r.db.Rebind(selectTask + ` WHERE EXISTS (
  SELECT 1 FROM task_assignees a WHERE a.task_id = t.id AND a.user_id = ?)` + newestFirst)
	return r.list(ctx, q, userID)
}

// ListByProject returns every task of a project, newest first.
func (r *TaskRepo) ListByProject(ctx context.Context, projectID int64) ([]entity.Task, error) {
	return r.list(ctx, r.db.Rebind(selectTask+` WHERE t.project_id = ?`+newestFirst), projectID)
}

// DueBetween returns unfinished tasks whose due date falls in [from, to].
func (r *TaskRepo) DueBetween(ctx context.Context, from, to time.Time) ([]entity.Task, error) {
	q := r.db.Rebind(selectTask + ` WHERE t.due_date IS NOT NULL AND t.due_date >= ? AND t.due_date <= ?
  AND t.status <> ? ORDER BY t.due_date, t.id`)
	return r.list(ctx, q, from.UTC(), to.UTC(), entity.StatusDone)
}

// GetVisible fetches a task visible to userID or returns sql.ErrNoRows.
func (r *TaskRepo) GetVisible(ctx context.Context, id, userID int64) (*entity.Task, error) {
	return r.getOne(ctx, r.db.Rebind(selectTask+` WHERE t.id = ? AND `+visibleTask), id, userID, userID, userID)
}

// Get fetches a task regardless of visibility or returns sql.ErrNoRows.
func (r *TaskRepo) Get(ctx context.Context, id int64) (*entity.Task, error) {
	return r.getOne(ctx, r.db.Rebind(selectTask+` WHERE t.id = ?`), id)
}

// Update persists the editable fields. When assignees is non-nil the
// assignee set is replaced with it in the same transaction.
func (r *TaskRepo) Update(ctx context.Context, t *entity.Task, assignees []int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := tx.Rebind(`UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?,
		due_date = ?, project_id = ?, updated_at = ? WHERE id = ?`)
	res, err := tx.ExecContext(ctx, q, t.Title, t.Description, t.Status, t.Priority,
		t.DueDate, t.ProjectID, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	if assignees != nil {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM task_assignees WHERE task_id = ?`), t.ID); err != nil {
			return err
		}
		if err := insertAssignees(ctx, tx, t.ID, assignees); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AddAssignee assigns userID (no-op when already assigned) and refreshes updated_at.
func (r *TaskRepo) AddAssignee(ctx context.Context, taskID, userID int64, now time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := insertAssignees(ctx, tx, taskID, []int64{userID}); err != nil {
		return err
	}
	if err := touch(ctx, tx, taskID, now); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveAssignee unassigns userID and refreshes updated_at.
func (r *TaskRepo) RemoveAssignee(ctx context.Context, taskID, userID int64, now time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	q := tx.Rebind(`DELETE FROM task_assignees WHERE task_id = ? AND user_id = ?`)
	if _, err := tx.ExecContext(ctx, q, taskID, userID); err != nil {
		return err
	}
	if err := touch(ctx, tx, taskID, now); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes a task and its assignee rows.
func (r *TaskRepo) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM task_assignees WHERE task_id = ?`), id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

func (r *TaskRepo) getOne(ctx context.Context, q string, args ...any) (*entity.Task, error) {
	var t entity.Task
	if err := r.db.GetContext(ctx, &t, q, args...); err != nil {
		return nil, err
	}
	list := []entity.Task{t}
	if err := r.attachAssignees(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (r *TaskRepo) list(ctx context.Context, q string, args ...any) ([]entity.Task, error) {
	out := []entity.Task{}
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	if err := r.attachAssignees(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// attachAssignees loads assignee ids and details for list in one query.
func (r *TaskRepo) attachAssignees(ctx context.Context, list []entity.Task) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int64, len(list))
	index := make(map[int64]int, len(list))
	for i := range list {
		ids[i] = list[i].ID
		index[list[i].ID] = i
		list[i].Assignees = []int64{}
		list[i].AssigneeDetails = []userentity.Summary{}
	}
	q, args, err := sqlx.In(`SELECT ta.task_id, u.id, u.username, u.email, u.first_name, u.last_name
		FROM task_assignees ta JOIN users u ON u.id = ta.user_id
		WHERE ta.task_id IN (?) ORDER BY u.id`, ids)
	if err != nil {
		return err
	}
	var rows []struct {
		TaskID int64 `db:"task_id"`
		userentity.Summary
	}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), args...); err != nil {
		return err
	}
	for _, row := range rows {
		if i, ok := index[row.TaskID]; ok {
			list[i].Assignees = append(list[i].Assignees, row.ID)
			list[i].AssigneeDetails = append(list[i].AssigneeDetails, row.Summary)
		}
	}
	return nil
}

func insertAssignees(ctx context.Context, tx *sqlx.Tx, taskID int64, users []int64) error {
	q := tx.Rebind(`INSERT INTO task_assignees (task_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING`)
	for _, uid := range users {
		if _, err := tx.ExecContext(ctx, q, taskID, uid); err != nil {
			return err
		}
	}
	return nil
}

func touch(ctx context.Context, tx *sqlx.Tx, taskID int64, now time.Time) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE tasks SET updated_at = ? WHERE id = ?`), now, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
