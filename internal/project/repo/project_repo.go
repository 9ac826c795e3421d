package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/project/entity"
	userentity "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/database"
)

// ProjectRepo provides data access for projects and project_members.
type ProjectRepo struct {
	db *sqlx.DB
}

func NewProjectRepo(db *sqlx.DB) *ProjectRepo { return &ProjectRepo{db: db} }

// EnsureTable creates the projects and project_members tables if not exists.
func (r *ProjectRepo) EnsureTable(ctx context.Context) error {
	ts := database.Timestamp(r.db)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS projects (
  id %s,
  name VARCHAR(200) NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  status VARCHAR(20) NOT NULL DEFAULT 'NOT_STARTED',
  priority VARCHAR(20) NOT NULL DEFAULT 'MEDIUM',
  start_date %s NULL,
  due_date %s NULL,
  created_at %s NOT NULL,
  updated_at %s NOT NULL,
  created_by BIGINT NOT NULL REFERENCES users(id)
)`, database.SerialPK(r.db), ts, ts, ts, ts),
		`CREATE TABLE IF NOT EXISTS project_members (
  project_id BIGINT NOT NULL REFERENCES projects(id),
  user_id BIGINT NOT NULL REFERENCES users(id),
  PRIMARY KEY (project_id, user_id)
)`,
		`CREATE INDEX IF NOT EXISTS project_members_user_idx ON project_members (user_id)`,
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

const selectProject = `SELECT p.id, p.name, p.description, p.status, p.priority, p.start_date, p.due_date,
  p.created_at, p.updated_at, p.created_by,
  COALESCE(u.username, '') AS created_by_username,
  (SELECT COUNT(*) FROM project_members pm WHERE pm.project_id = p.id) AS member_count,
  (SELECT COUNT(*) FROM tasks t WHERE t.project_id = p.id) AS task_count
FROM projects p
LEFT JOIN users u ON u.id = p.created_by`

// visibleProject matches projects the user created or is a member of. EXISTS
// keeps one row per project.
const visibleProject = `(p.created_by = ? OR EXISTS (
  SELECT 1 FROM project_members vm WHERE vm.project_id = p.id AND vm.user_id = ?))`

// Create inserts the project and its initial members in one transaction.
func (r *ProjectRepo) Create(ctx context.Context, p *entity.Project) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	q := tx.Rebind(`INSERT INTO projects (name, description, status, priority, start_date, due_date, created_at, updated_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	if err := tx.GetContext(ctx, &p.ID, q, p.Name, p.Description, p.Status, p.Priority,
		p.StartDate, p.DueDate, p.CreatedAt, p.UpdatedAt, p.CreatedBy); err != nil {
		return 0, err
	}
	if err := insertMembers(ctx, tx, p.ID, p.Members); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return p.ID, nil
}

// ListVisible returns every project visible to userID, newest first.
func (r *ProjectRepo) ListVisible(ctx context.Context, userID int64) ([]entity.Project, error) {
	q := r.db.Rebind(selectProject + ` WHERE ` + visibleProject + ` ORDER BY p.created_at DESC, p.id DESC`)
	out := []entity.Project{}
	if err := r.db.SelectContext(ctx, &out, q, userID, userID); err != nil {
		return nil, err
	}
	if err := r.attachMembers(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetVisible fetches a project visible to userID or returns sql.ErrNoRows.
func (r *ProjectRepo) GetVisible(ctx context.Context, id, userID int64) (*entity.Project, error) {
	q := r.db.Rebind(selectProject + ` WHERE p.id = ? AND ` + visibleProject)
	return r.getOne(ctx, q, id, userID, userID)
}

// Get fetches a project regardless of visibility or returns sql.ErrNoRows.
func (r *ProjectRepo) Get(ctx context.Context, id int64) (*entity.Project, error) {
	return r.getOne(ctx, r.db.Rebind(selectProject+` WHERE p.id = ?`), id)
}

func (r *ProjectRepo) getOne(ctx context.Context, q string, args ...any) (*entity.Project, error) {
	var p entity.Project
	if err := r.db.GetContext(ctx, &p, q, args...); err != nil {
		return nil, err
	}
	list := []entity.Project{p}
	if err := r.attachMembers(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// IsVisible reports whether the project exists and userID may see it.
func (r *ProjectRepo) IsVisible(ctx context.Context, id, userID int64) (bool, error) {
	var n int
	q := r.db.Rebind(`SELECT COUNT(*) FROM projects p WHERE p.id = ? AND ` + visibleProject)
	if err := r.db.GetContext(ctx, &n, q, id, userID, userID); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Members returns the user summaries of a project's members ordered by username.
func (r *ProjectRepo) Members(ctx context.Context, projectID int64) ([]userentity.Summary, error) {
	q := r.db.Rebind(`SELECT u.id, u.username, u.email, u.first_name, u.last_name
		FROM users u JOIN project_members pm ON pm.user_id = u.id
		WHERE pm.project_id = ? ORDER BY u.username`)
	out := []userentity.Summary{}
	if err := r.db.SelectContext(ctx, &out, q, projectID); err != nil {
		return nil, err
	}
	return out, nil
}

// Update persists the editable fields. When members is non-nil the member set
// is replaced with it in the same transaction.
func (r *ProjectRepo) Update(ctx context.Context, p *entity.Project, members []int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := tx.Rebind(`UPDATE projects SET name = ?, description = ?, status = ?, priority = ?,
		start_date = ?, due_date = ?, updated_at = ? WHERE id = ?`)
	res, err := tx.ExecContext(ctx, q, p.Name, p.Description, p.Status, p.Priority,
		p.StartDate, p.DueDate, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	if members != nil {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM project_members WHERE project_id = ?`), p.ID); err != nil {
			return err
		}
		if err := insertMembers(ctx, tx, p.ID, members); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AddMember adds userID to the project (no-op when already a member) and
// refreshes updated_at.
func (r *ProjectRepo) AddMember(ctx context.Context, projectID, userID int64, now time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := insertMembers(ctx, tx, projectID, []int64{userID}); err != nil {
		return err
	}
	if err := touch(ctx, tx, projectID, now); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveMember removes userID from the project and refreshes updated_at.
func (r *ProjectRepo) RemoveMember(ctx context.Context, projectID, userID int64, now time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	q := tx.Rebind(`DELETE FROM project_members WHERE project_id = ? AND user_id = ?`)
	if _, err := tx.ExecContext(ctx, q, projectID, userID); err != nil {
		return err
	}
	if err := touch(ctx, tx, projectID, now); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes the project together with its tasks, their assignee rows
// and the membership rows.
func (r *ProjectRepo) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM task_assignees WHERE task_id IN (SELECT id FROM tasks WHERE project_id = ?)`,
		`DELETE FROM tasks WHERE project_id = ?`,
		`DELETE FROM project_members WHERE project_id = ?`,
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, tx.Rebind(s), id); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM projects WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

func (r *ProjectRepo) attachMembers(ctx context.Context, list []entity.Project) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int64, len(list))
	for i := range list {
		ids[i] = list[i].ID
		list[i].Members = []int64{}
	}
	q, args, err := sqlx.In(`SELECT project_id, user_id FROM project_members WHERE project_id IN (?) ORDER BY user_id`, ids)
	if err != nil {
		return err
	}
	var rows []struct {
		ProjectID int64 `db:"project_id"`
		UserID    int64 `db:"user_id"`
	}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), args...); err != nil {
		return err
	}
	index := make(map[int64]int, len(list))
	for i := range list {
		index[list[i].ID] = i
	}
	for _, row := range rows {
		if i, ok := index[row.ProjectID]; ok {
			list[i].Members = append(list[i].Members, row.UserID)
		}
	}
	return nil
}

func insertMembers(ctx context.Context, tx *sqlx.Tx, projectID int64, members []int64) error {
	q := tx.Rebind(`INSERT INTO project_members (project_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING`)
	for _, uid := range members {
		if _, err := tx.ExecContext(ctx, q, projectID, uid); err != nil {
			return err
		}
	}
	return nil
}

func touch(ctx context.Context, tx *sqlx.Tx, projectID int64, now time.Time) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE projects SET updated_at = ? WHERE id = ?`), now, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
