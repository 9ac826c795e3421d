package notification

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	projectentity "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/project/entity"
	projectrepo "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/project/repo"
	taskentity "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/task/entity"
	taskrepo "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/task/repo"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/testutil"
)

type delivery struct {
	users []int64
	event string
	note  Notification
}

type fakeDeliverer struct {
	mu  sync.Mutex
	got []delivery
}

func (f *fakeDeliverer) DeliverMany(_ context.Context, userIDs []int64, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := append([]int64(nil), userIDs...)
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	f.got = append(f.got, delivery{users: users, event: event, note: payload.(Notification)})
}

func (f *fakeDeliverer) all() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery(nil), f.got...)
}

type fixture struct {
	db       *sqlx.DB
	tasks    *taskrepo.TaskRepo
	projects *projectrepo.ProjectRepo
	out      *fakeDeliverer
	logs     *observer.ObservedLogs
	composer *Composer
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	core, logs := observer.New(zapcore.DebugLevel)
	f := &fixture{
		db:       db,
		tasks:    taskrepo.NewTaskRepo(db),
		projects: projectrepo.NewProjectRepo(db),
		out:      &fakeDeliverer{},
		logs:     logs,
		now:      time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.composer = NewComposer(f.tasks, f.projects, f.out, zap.New(core).Sugar())
	return f
}

func (f *fixture) user(t *testing.T, name string) int64 {
	t.Helper()
	return testutil.CreateUser(t, f.db, name).ID
}

func (f *fixture) project(t *testing.T, name string, owner int64, members ...int64) *projectentity.Project {
	t.Helper()
	p := &projectentity.Project{
		Name:      name,
		Status:    projectentity.StatusNotStarted,
		Priority:  projectentity.PriorityMedium,
		CreatedAt: f.now,
		UpdatedAt: f.now,
		CreatedBy: owner,
		Members:   append([]int64{owner}, members...),
	}
	if _, err := f.projects.Create(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p
}

func (f *fixture) task(t *testing.T, title string, creator int64, projectID *int64, due *time.Time, assignees ...int64) *taskentity.Task {
	t.Helper()
	task := &taskentity.Task{
		Title:     title,
		Status:    taskentity.StatusTodo,
		Priority:  projectentity.PriorityHigh,
		CreatedAt: f.now,
		UpdatedAt: f.now,
		CreatedBy: creator,
		ProjectID: projectID,
		DueDate:   due,
		Assignees: assignees,
	}
	if _, err := f.tasks.Create(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	return task
}

func TestComposeTaskAssigned(t *testing.T) {
	f := newFixture(t)
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	p := f.project(t, "Launch", alice)
	task := f.task(t, "Write copy", alice, &p.ID, nil, bob, carol)

	if err := f.composer.ComposeTaskAssigned(context.Background(), task.ID, alice); err != nil {
		t.Fatal(err)
	}
	got := f.out.all()
	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}
	d := got[0]
	if !reflect.DeepEqual(d.users, []int64{bob, carol}) || d.event != Event {
		t.Errorf("delivered to %v as %q", d.users, d.event)
	}
	n := d.note
	if n.Type != TypeTaskAssigned || n.Message != "You have been assigned to task: Write copy" || n.Read {
		t.Errorf("notification = %+v", n)
	}
	if n.Data["task_id"] != task.ID || n.Data["project_id"] != p.ID {
		t.Errorf("data = %v", n.Data)
	}
	if !n.Timestamp.Equal(f.now) {
		t.Errorf("timestamp = %v", n.Timestamp)
	}
}

func TestComposeTaskUpdatedIncludesCreatorOnce(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")

	tests := []struct {
		name      string
		assignees []int64
		want      []int64
	}{
		{"creator not assigned", []int64{bob}, []int64{alice, bob}},
		{"creator assigned", []int64{alice, bob}, []int64{alice, bob}},
		{"no assignees", nil, []int64{alice}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.out.got = nil
			task := f.task(t, tt.name, alice, nil, nil, tt.assignees...)
			if err := f.composer.ComposeTaskUpdated(context.Background(), task.ID, bob); err != nil {
				t.Fatal(err)
			}
			got := f.out.all()
			if len(got) != 1 || !reflect.DeepEqual(got[0].users, tt.want) {
				t.Fatalf("deliveries = %+v, want one to %v", got, tt.want)
			}
			if got[0].note.Type != TypeTaskUpdated || got[0].note.Data["project_id"] != nil {
				t.Errorf("notification = %+v", got[0].note)
			}
		})
	}
}

func TestComposeProjectUpdatedReachesMembers(t *testing.T) {
	f := newFixture(t)
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	p := f.project(t, "Roadmap", alice, bob)

	if err := f.composer.ComposeProjectUpdated(context.Background(), p.ID, alice); err != nil {
		t.Fatal(err)
	}
	got := f.out.all()
	if len(got) != 1 || !reflect.DeepEqual(got[0].users, []int64{alice, bob}) {
		t.Fatalf("deliveries = %+v", got)
	}
	for _, u := range got[0].users {
		if u == carol {
			t.Error("non-member notified")
		}
	}
	if n := got[0].note; n.Type != TypeProjectUpdated || n.Message != "Project updated: Roadmap" || n.Data["project_id"] != p.ID {
		t.Errorf("notification = %+v", n)
	}
}

func TestMissingSubjectIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.composer.ComposeTaskAssigned(ctx, 404, 1); err != nil {
		t.Errorf("task assigned: %v", err)
	}
	if err := f.composer.ComposeTaskUpdated(ctx, 404, 1); err != nil {
		t.Errorf("task updated: %v", err)
	}
	if err := f.composer.ComposeProjectUpdated(ctx, 404, 1); err != nil {
		t.Errorf("project updated: %v", err)
	}
	if got := f.out.all(); len(got) != 0 {
		t.Errorf("deliveries = %+v", got)
	}
	if n := f.logs.FilterMessageSnippet("gone before notification").Len(); n != 3 {
		t.Errorf("debug logs = %d, want 3", n)
	}
}

func TestAsyncEventsFinishBeforeWaitReturns(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	p := f.project(t, "p", alice, bob)
	task := f.task(t, "t", alice, &p.ID, nil, bob)

	f.composer.TaskAssigned(task.ID, alice)
	f.composer.TaskUpdated(task.ID, alice)
	f.composer.ProjectUpdated(p.ID, alice)
	f.composer.Wait()

	var types []string
	for _, d := range f.out.all() {
		types = append(types, string(d.note.Type))
	}
	sort.Strings(types)
	want := []string{"PROJECT_UPDATED", "TASK_ASSIGNED", "TASK_UPDATED"}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("types = %v, want %v", types, want)
	}
}

func TestNotifyDeadlines(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	at := func(d time.Duration) *time.Time {
		v := f.now.Add(d)
		return &v
	}

	soon := f.task(t, "soon", alice, nil, at(2*time.Hour), bob)
	edge := f.task(t, "edge", alice, nil, at(24*time.Hour), alice, bob)
	f.task(t, "later", alice, nil, at(48*time.Hour), bob)
	f.task(t, "overdue", alice, nil, at(-time.Hour), bob)
	f.task(t, "unassigned", alice, nil, at(time.Hour))
	f.task(t, "no due date", alice, nil, nil, bob)
	done := f.task(t, "done", alice, nil, at(3*time.Hour), bob)
	done.Status = taskentity.StatusDone
	if err := f.tasks.Update(context.Background(), done, nil); err != nil {
		t.Fatal(err)
	}

	n, err := f.composer.NotifyDeadlines(context.Background(), f.now, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("notified = %d, want 2", n)
	}
	got := f.out.all()
	if len(got) != 2 {
		t.Fatalf("deliveries = %+v", got)
	}
	if got[0].note.ID != fmt.Sprintf("deadline_%d", soon.ID) || !reflect.DeepEqual(got[0].users, []int64{bob}) {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].note.ID != fmt.Sprintf("deadline_%d", edge.ID) || !reflect.DeepEqual(got[1].users, []int64{alice, bob}) {
		t.Errorf("second = %+v", got[1])
	}
	if due := got[0].note.Data["due_date"]; due != "2030-06-01T14:00:00Z" {
		t.Errorf("due_date = %v", due)
	}
	if got[0].note.Type != TypeDeadline || got[0].note.Message != "Deadline approaching for task: soon" {
		t.Errorf("notification = %+v", got[0].note)
	}
}
