package project

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/project/entity"
	projectrepo "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/project/repo"
	taskentity "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/task/entity"
	taskrepo "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/task/repo"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/testutil"
	userrepo "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/optional"
)

type recordedEvent struct {
	project int64
	actor   int64
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) ProjectUpdated(projectID, actorID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{projectID, actorID})
}

func (r *recorder) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

type fixture struct {
	svc   *ProjectService
	tasks *taskrepo.TaskRepo
	rec   *recorder
	ids   map[string]int64
}

func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	f := &fixture{
		tasks: taskrepo.NewTaskRepo(db),
		rec:   &recorder{},
		ids:   map[string]int64{},
	}
	f.svc = NewProjectService(projectrepo.NewProjectRepo(db), userrepo.NewUserRepo(db), f.rec)
	for _, name := range users {
		f.ids[name] = testutil.CreateUser(t, db, name).ID
	}
	return f
}

func (f *fixture) create(t *testing.T, owner string, name string, members ...string) *entity.Project {
	t.Helper()
	in := Input{Name: optional.Of(name)}
	if len(members) > 0 {
		ids := make([]int64, 0, len(members))
		for _, m := range members {
			ids = append(ids, f.ids[m])
		}
		in.Members = optional.Of(ids)
	}
	p, err := f.svc.Create(context.Background(), f.ids[owner], in)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return p
}

func TestCreateAddsCreatorToMembers(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	p := f.create(t, "alice", "Website", "bob")

	if p.CreatedBy != f.ids["alice"] {
		t.Errorf("created_by = %d, want %d", p.CreatedBy, f.ids["alice"])
	}
	want := []int64{f.ids["alice"], f.ids["bob"]}
	if !reflect.DeepEqual(p.Members, want) {
		t.Errorf("members = %v, want %v", p.Members, want)
	}
	if p.Status != entity.StatusNotStarted || p.Priority != entity.PriorityMedium {
		t.Errorf("defaults = %s/%s", p.Status, p.Priority)
	}
	if p.CreatedByUsername != "alice" || p.MemberCount != 2 || p.TaskCount != 0 {
		t.Errorf("projections = %q %d %d", p.CreatedByUsername, p.MemberCount, p.TaskCount)
	}
	if len(f.rec.all()) != 0 {
		t.Errorf("create must not notify, got %v", f.rec.all())
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, "alice")
	tests := []struct {
		name string
		in   Input
	}{
		{"missing name", Input{}},
		{"blank name", Input{Name: optional.Of("  ")}},
		{"bad status", Input{Name: optional.Of("x"), Status: optional.Of(entity.Status("DONE"))}},
		{"bad priority", Input{Name: optional.Of("x"), Priority: optional.Of(entity.Priority("URGENT"))}},
		{"unknown member", Input{Name: optional.Of("x"), Members: optional.Of([]int64{9999})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), f.ids["alice"], tt.in)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}
}

func TestListVisibility(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	own := f.create(t, "alice", "own")
	shared := f.create(t, "bob", "shared", "alice")
	f.create(t, "carol", "private")

	got, err := f.svc.List(context.Background(), f.ids["alice"])
	if err != nil {
		t.Fatal(err)
	}
	var ids []int64
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	want := []int64{shared.ID, own.ID}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("visible = %v, want %v (newest first, no duplicates)", ids, want)
	}
}

func TestOutsiderGetsNotFound(t *testing.T) {
	f := newFixture(t, "alice", "mallory")
	p := f.create(t, "alice", "secret")
	ctx := context.Background()
	outsider := f.ids["mallory"]

	if _, err := f.svc.Get(ctx, outsider, p.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("get: %v", err)
	}
	if _, err := f.svc.Update(ctx, outsider, p.ID, Input{Name: optional.Of("pwned")}, true); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("update: %v", err)
	}
	if err := f.svc.Delete(ctx, outsider, p.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("delete: %v", err)
	}
	if err := f.svc.AddMember(ctx, outsider, p.ID, outsider); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("add member: %v", err)
	}

	after, err := f.svc.Get(ctx, f.ids["alice"], p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Name != "secret" || after.HasMember(outsider) {
		t.Errorf("project changed by outsider: %+v", after)
	}
}

func TestRemoveOwnerIsRejected(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	p := f.create(t, "alice", "p", "bob")
	ctx := context.Background()

	// any member may try, including the owner
	for _, actor := range []string{"alice", "bob"} {
		err := f.svc.RemoveMember(ctx, f.ids[actor], p.ID, f.ids["alice"])
		if !errors.Is(err, apperr.ErrValidation) || apperr.Message(err, "") != "Cannot remove project owner" {
			t.Fatalf("%s removing owner: %v", actor, err)
		}
	}
	_, err := f.svc.Update(ctx, f.ids["alice"], p.ID, Input{Members: optional.Of([]int64{f.ids["bob"]})}, true)
	if !errors.Is(err, ErrRemoveOwner) {
		t.Fatalf("member replacement without owner: %v", err)
	}

	after, err := f.svc.Get(ctx, f.ids["alice"], p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(after.Members, p.Members) || !after.UpdatedAt.Equal(p.UpdatedAt) {
		t.Errorf("state changed: members %v updated_at %v", after.Members, after.UpdatedAt)
	}
	if n := len(f.rec.all()); n != 0 {
		t.Errorf("rejected removal notified %d times", n)
	}
}

func TestMembershipChangesNotify(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	p := f.create(t, "alice", "p")
	ctx := context.Background()
	alice, bob := f.ids["alice"], f.ids["bob"]

	if err := f.svc.AddMember(ctx, alice, p.ID, bob); err != nil {
		t.Fatal(err)
	}
	members, err := f.svc.Members(ctx, bob, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 || members[0].Username != "alice" || members[1].Username != "bob" {
		t.Errorf("members = %+v", members)
	}
	if err := f.svc.RemoveMember(ctx, alice, p.ID, bob); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Get(ctx, bob, p.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("removed member still sees project: %v", err)
	}
	want := []recordedEvent{{p.ID, alice}, {p.ID, alice}}
	if got := f.rec.all(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if err := f.svc.AddMember(ctx, alice, p.ID, 4242); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("unknown user: %v", err)
	}
}

func TestUpdateRefreshesTimestampAndNotifies(t *testing.T) {
	f := newFixture(t, "alice")
	p := f.create(t, "alice", "p")
	later := p.UpdatedAt.Add(time.Hour)
	f.svc.now = func() time.Time { return later }

	due := time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC)
	got, err := f.svc.Update(context.Background(), f.ids["alice"], p.ID, Input{
		Status:  optional.Of(entity.StatusInProgress),
		DueDate: optional.TimeOf(due),
	}, true)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "p" || got.Status != entity.StatusInProgress {
		t.Errorf("partial update: %+v", got)
	}
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Errorf("due_date = %v", got.DueDate)
	}
	if !got.UpdatedAt.Equal(later) || !got.CreatedAt.Equal(p.CreatedAt) {
		t.Errorf("timestamps = %v / %v", got.CreatedAt, got.UpdatedAt)
	}
	if ev := f.rec.all(); len(ev) != 1 || ev[0].project != p.ID {
		t.Errorf("events = %v", ev)
	}

	if _, err := f.svc.Update(context.Background(), f.ids["alice"], p.ID, Input{}, false); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("full update without name: %v", err)
	}
}

func TestDeleteCascadesToTasks(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	p := f.create(t, "alice", "doomed")
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	var taskIDs []int64
	for _, title := range []string{"a", "b"} {
		task := &taskentity.Task{
			Title:     title,
			Status:    taskentity.StatusTodo,
			Priority:  entity.PriorityLow,
			CreatedBy: f.ids["alice"],
			CreatedAt: now,
			UpdatedAt: now,
			ProjectID: &p.ID,
			Assignees: []int64{f.ids["bob"]},
		}
		if _, err := f.tasks.Create(ctx, task); err != nil {
			t.Fatal(err)
		}
		taskIDs = append(taskIDs, task.ID)
	}
	if got, _ := f.svc.Get(ctx, f.ids["alice"], p.ID); got.TaskCount != 2 {
		t.Fatalf("task_count = %d", got.TaskCount)
	}

	if err := f.svc.Delete(ctx, f.ids["alice"], p.ID); err != nil {
		t.Fatal(err)
	}
	for _, id := range taskIDs {
		if _, err := f.tasks.Get(ctx, id); !errors.Is(err, sql.ErrNoRows) {
			t.Errorf("task %d survived: %v", id, err)
		}
	}
	if assigned, _ := f.tasks.ListAssigned(ctx, f.ids["bob"]); len(assigned) != 0 {
		t.Errorf("assignee rows survived: %v", assigned)
	}
	if _, err := f.svc.Get(ctx, f.ids["alice"], p.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("project survived: %v", err)
	}
}
