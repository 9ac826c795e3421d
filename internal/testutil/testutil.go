// Package testutil builds in-memory databases and helpers shared by package
// tests.
package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	projectrepo "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/project/repo"
	taskrepo "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/task/repo"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/database"
)

var dbCounter atomic.Uint64

// NewDB returns a private in-memory sqlite database with every table
// created. It is closed when the test ends.
func NewDB(t testing.TB) *sqlx.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:taskboard-test-%d?mode=memory&cache=shared&_pragma=foreign_keys(1)&_time_format=sqlite",
		dbCounter.Add(1))
	db, err := database.Connect(database.Config{
		Driver:  database.DriverSQLite,
		DSN:     dsn,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	ensure := []func(context.Context) error{
		userrepo.NewUserRepo(db).EnsureTable,
		projectrepo.NewProjectRepo(db).EnsureTable,
		taskrepo.NewTaskRepo(db).EnsureTable,
	}
	for _, fn := range ensure {
		if err := fn(ctx); err != nil {
			t.Fatalf("ensure tables: %v", err)
		}
	}
	return db
}

// CreateUser inserts an active user named username and returns it. The
// password hash is a placeholder; use the user service to test logins.
func CreateUser(t testing.TB, db *sqlx.DB, username string) *entity.User {
	t.Helper()
	u := &entity.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "!",
		IsActive:     true,
		DateJoined:   time.Now().UTC().Truncate(time.Second),
	}
	if _, err := userrepo.NewUserRepo(db).Create(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}
