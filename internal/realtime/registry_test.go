package realtime

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestRegistryRegisterAndUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register(1, "conn_b")
	r.Register(1, "conn_a")
	r.Register(2, "conn_c")

	if got := r.SessionsFor(1); !reflect.DeepEqual(got, []string{"conn_a", "conn_b"}) {
		t.Errorf("sessions(1) = %v", got)
	}
	if r.Count() != 3 || r.Users() != 2 {
		t.Errorf("count = %d users = %d", r.Count(), r.Users())
	}

	user, ok := r.Unregister("conn_b")
	if !ok || user != 1 {
		t.Errorf("unregister = %d %v", user, ok)
	}
	if _, ok := r.Unregister("conn_b"); ok {
		t.Error("second unregister reported a user")
	}
	if _, ok := r.Unregister("conn_unknown"); ok {
		t.Error("unknown id reported a user")
	}
	r.Unregister("conn_a")
	if got := r.SessionsFor(1); got == nil || len(got) != 0 {
		t.Errorf("sessions(1) = %#v, want empty non-nil", got)
	}
	if r.Users() != 1 {
		t.Errorf("users = %d, want 1", r.Users())
	}
}

func TestRegistryReRegisterMovesConnection(t *testing.T) {
	r := NewRegistry()
	r.Register(1, "conn_x")
	r.Register(2, "conn_x")

	if got := r.SessionsFor(1); len(got) != 0 {
		t.Errorf("old owner still holds %v", got)
	}
	if got := r.SessionsFor(2); !reflect.DeepEqual(got, []string{"conn_x"}) {
		t.Errorf("sessions(2) = %v", got)
	}
	if r.Count() != 1 {
		t.Errorf("count = %d", r.Count())
	}
}

func TestRegistrySessionsForReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.Register(1, "conn_a")
	got := r.SessionsFor(1)
	got[0] = "mutated"
	if again := r.SessionsFor(1); again[0] != "conn_a" {
		t.Errorf("registry aliased caller slice: %v", again)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	const workers, perWorker = 16, 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			user := int64(w % 4)
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("conn_%d_%d", w, i)
				r.Register(user, id)
				_ = r.SessionsFor(user)
				if i%2 == 0 {
					r.Unregister(id)
				}
			}
		}(w)
	}
	wg.Wait()

	if want := workers * perWorker / 2; r.Count() != want {
		t.Errorf("count = %d, want %d", r.Count(), want)
	}
	total := 0
	for u := int64(0); u < 4; u++ {
		total += len(r.SessionsFor(u))
	}
	if total != r.Count() {
		t.Errorf("per-user total %d != count %d", total, r.Count())
	}
}
