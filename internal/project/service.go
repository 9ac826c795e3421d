package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/project/entity"
	projectrepo "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/project/repo"
	userentity "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/optional"
)

// Notifier is told about committed project changes.
type Notifier interface {
	ProjectUpdated(projectID, actorID int64)
}

var (
	ErrProjectNotFound = apperr.NotFound("Not found.")
	ErrUserNotFound    = apperr.NotFound("User not found")
	ErrRemoveOwner     = apperr.Validation("Cannot remove project owner", nil)
)

const maxNameLen = 200

// Input is the writable part of a project. Absent fields are left unchanged
// on update.
type Input struct {
	Name        optional.Value[string]          `json:"name"`
	Description optional.Value[string]          `json:"description"`
	Status      optional.Value[entity.Status]   `json:"status"`
	Priority    optional.Value[entity.Priority] `json:"priority"`
	StartDate   optional.Time                   `json:"start_date"`
	DueDate     optional.Time                   `json:"due_date"`
	Members     optional.Value[[]int64]         `json:"members"`
}

// ProjectService implements project CRUD scoped to the acting user.
type ProjectService struct {
	repo     *projectrepo.ProjectRepo
	users    *userrepo.UserRepo
	notifier Notifier
	now      func() time.Time
}

func NewProjectService(r *projectrepo.ProjectRepo, users *userrepo.UserRepo, notifier Notifier) *ProjectService {
	return &ProjectService{repo: r, users: users, notifier: notifier, now: now}
}

func now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

// List returns the projects the actor created or is a member of.
func (s *ProjectService) List(ctx context.Context, actor int64) ([]entity.Project, error) {
	return s.repo.ListVisible(ctx, actor)
}

// Get returns a visible project; anything else is reported as not found.
func (s *ProjectService) Get(ctx context.Context, actor, id int64) (*entity.Project, error) {
	p, err := s.repo.GetVisible(ctx, id, actor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return p, nil
}

// Create persists a project owned by actor. The actor always ends up in the
// member set.
func (s *ProjectService) Create(ctx context.Context, actor int64, in Input) (*entity.Project, error) {
	ts := s.now()
	p := &entity.Project{
		Status:    entity.StatusNotStarted,
		Priority:  entity.PriorityMedium,
		CreatedBy: actor,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if !in.Name.Set {
		return nil, apperr.Validation("invalid project", map[string]string{"name": "This field is required."})
	}
	if err := apply(p, in); err != nil {
		return nil, err
	}
	members := []int64{actor}
	if in.Members.Set && !in.Members.Null {
		if err := s.checkUsers(ctx, in.Members.V); err != nil {
			return nil, err
		}
		members = append(members, in.Members.V...)
	}
	p.Members = dedupe(members)
	if _, err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return s.repo.Get(ctx, p.ID)
}

// Update applies in to a visible project. A full update requires name. A
// member list that leaves out the owner is rejected.
func (s *ProjectService) Update(ctx context.Context, actor, id int64, in Input, partial bool) (*entity.Project, error) {
	p, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !partial && !in.Name.Set {
		return nil, apperr.Validation("invalid project", map[string]string{"name": "This field is required."})
	}
	if err := apply(p, in); err != nil {
		return nil, err
	}
	var members []int64
	if in.Members.Set {
		members = dedupe(in.Members.V)
		if err := s.checkUsers(ctx, members); err != nil {
			return nil, err
		}
		if !contains(members, p.CreatedBy) {
			return nil, ErrRemoveOwner
		}
	}
	p.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, p, members); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("update project: %w", err)
	}
	s.notifier.ProjectUpdated(p.ID, actor)
	return s.repo.Get(ctx, p.ID)
}

// Delete removes a visible project and cascades to its tasks.
func (s *ProjectService) Delete(ctx context.Context, actor, id int64) error {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrProjectNotFound
		}
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

// AddMember adds userID to a visible project.
func (s *ProjectService) AddMember(ctx context.Context, actor, id, userID int64) error {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return err
	}
	if err := s.checkUser(ctx, userID); err != nil {
		return err
	}
	if err := s.repo.AddMember(ctx, id, userID, s.now()); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	s.notifier.ProjectUpdated(id, actor)
	return nil
}

// RemoveMember removes userID from a visible project. The owner cannot be
// removed.
func (s *ProjectService) RemoveMember(ctx context.Context, actor, id, userID int64) error {
	p, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.checkUser(ctx, userID); err != nil {
		return err
	}
	if userID == p.CreatedBy {
		return ErrRemoveOwner
	}
	if err := s.repo.RemoveMember(ctx, id, userID, s.now()); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	s.notifier.ProjectUpdated(id, actor)
	return nil
}

// Members lists the members of a visible project.
func (s *ProjectService) Members(ctx context.Context, actor, id int64) ([]userentity.Summary, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.Members(ctx, id)
}

func (s *ProjectService) checkUser(ctx context.Context, id int64) error {
	ok, err := s.users.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserNotFound
	}
	return nil
}

func (s *ProjectService) checkUsers(ctx context.Context, ids []int64) error {
	missing, err := s.users.MissingIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return apperr.Validation("invalid project", map[string]string{
			"members": fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", missing[0]),
		})
	}
	return nil
}

// apply copies the set fields of in onto p and validates the result.
func apply(p *entity.Project, in Input) error {
	fields := map[string]string{}
	if in.Name.Set {
		p.Name = strings.TrimSpace(in.Name.V)
		switch {
		case in.Name.Null || p.Name == "":
			fields["name"] = "This field may not be blank."
		case len(p.Name) > maxNameLen:
			fields["name"] = "Ensure this field has no more than 200 characters."
		}
	}
	if in.Description.Set {
		p.Description = in.Description.V
	}
	if in.Status.Set {
		if !in.Status.V.Valid() {
			fields["status"] = fmt.Sprintf("\"%s\" is not a valid choice.", in.Status.V)
		}
		p.Status = in.Status.V
	}
	if in.Priority.Set {
		if !in.Priority.V.Valid() {
			fields["priority"] = fmt.Sprintf("\"%s\" is not a valid choice.", in.Priority.V)
		}
		p.Priority = in.Priority.V
	}
	if in.StartDate.Set {
		p.StartDate = in.StartDate.Ptr()
	}
	if in.DueDate.Set {
		p.DueDate = in.DueDate.Ptr()
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid project", fields)
	}
	return nil
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

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
