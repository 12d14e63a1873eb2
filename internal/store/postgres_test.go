package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"taskboard/api/internal/position"
)

func testDSN(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("TASKBOARD_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TASKBOARD_TEST_DATABASE_URL is not set")
	}
	return dsn
}

// openPostgres resets the schema and seeds brd_1 with u_admin and u_bob as
// members and the given lists.
func openPostgres(t *testing.T, lists ...string) *PostgresStore {
	t.Helper()
	dsn := testDSN(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn, PoolConfig{MaxOpen: 16})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, nil); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO users (id, name, email) VALUES
			('u_admin', 'Admin', 'admin@example.com'),
			('u_bob', 'Bob', 'bob@example.com')
	`); err != nil {
		t.Fatalf("seed users: %v", err)
	}

	s := NewPostgresStore(db)
	now := time.Now().UTC()
	board := Board{
		ID:        "brd_1",
		Name:      "Launch",
		CreatedBy: "u_admin",
		Members: []Member{
			{UserID: "u_admin", Role: "admin", InvitationAccepted: true, JoinedAt: now},
			{UserID: "u_bob", Role: "member", InvitationAccepted: true, JoinedAt: now},
		},
		CreatedAt: now,
	}
	for _, id := range lists {
		board.Lists = append(board.Lists, List{ID: id, Name: id})
	}
	if err := s.CreateBoard(ctx, board); err != nil {
		t.Fatalf("CreateBoard() error = %v", err)
	}
	return s
}

func TestPostgresInsertRejectsStaleVersion(t *testing.T) {
	s := openPostgres(t, "todo")
	ctx := context.Background()

	snap, err := s.ListSnapshot(ctx, "todo")
	if err != nil {
		t.Fatalf("ListSnapshot() error = %v", err)
	}
	versions := map[string]int64{"todo": snap.Version}
	now := time.Now().UTC()
	if err := s.InsertTask(ctx, Task{ID: "a", BoardID: "brd_1", CreatedBy: "u_admin", CreatedAt: now}, position.Insert("todo", -1, 0), versions); err != nil {
		t.Fatalf("InsertTask() error = %v", err)
	}
	err = s.InsertTask(ctx, Task{ID: "b", BoardID: "brd_1", CreatedBy: "u_admin", CreatedAt: now}, position.Insert("todo", -1, 0), versions)
	if !errors.Is(err, position.ErrConflict) {
		t.Fatalf("InsertTask() with stale version error = %v, want ErrConflict", err)
	}
	if got := positions(t, s, "todo"); fmt.Sprint(got) != "[a]" {
		t.Fatalf("todo = %v, want [a]", got)
	}
}

func TestPostgresMoveAndDeleteRejectStaleSlot(t *testing.T) {
	s := openPostgres(t, "todo", "done")
	alloc := position.NewAllocator(s, 5, nil)
	for _, id := range []string{"a", "b", "c"} {
		if err := appendTask(s, alloc, id, "todo"); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	ctx := context.Background()

	snap, _ := s.ListSnapshot(ctx, "todo")
	versions := map[string]int64{"todo": snap.Version}
	plan, err := position.Move("todo", 2, "todo", 0, snap.Count)
	if err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	// "a" sits at 0, not 2.
	if _, err := s.MoveTask(ctx, "a", TaskPatch{}, "todo", 2, plan, versions); !errors.Is(err, position.ErrConflict) {
		t.Fatalf("MoveTask() from wrong slot error = %v, want ErrConflict", err)
	}
	a, _ := s.GetTask(ctx, "a")
	a.Position = 1
	if err := s.DeleteTask(ctx, a, position.Remove("todo", 1), versions); !errors.Is(err, position.ErrConflict) {
		t.Fatalf("DeleteTask() from wrong slot error = %v, want ErrConflict", err)
	}

	if err := moveTo(s, alloc, "c", "done", 0); err != nil {
		t.Fatalf("move c: %v", err)
	}
	if err := removeTask(s, alloc, "a"); err != nil {
		t.Fatalf("delete a: %v", err)
	}
	if got := positions(t, s, "todo"); fmt.Sprint(got) != "[b]" {
		t.Fatalf("todo = %v, want [b]", got)
	}
	if got := positions(t, s, "done"); fmt.Sprint(got) != "[c]" {
		t.Fatalf("done = %v, want [c]", got)
	}
}

func TestPostgresConcurrentMixedOpsStayDense(t *testing.T) {
	s := openPostgres(t, "todo", "done")
	runMixedOps(t, s, position.NewAllocator(s, 100, nil))
}

func TestPostgresUpdateTaskPatchesLockedRow(t *testing.T) {
	s := openPostgres(t, "todo")
	alloc := position.NewAllocator(s, 5, nil)
	ctx := context.Background()
	err := alloc.Run(ctx, func(txn *position.Txn) error {
		snap, err := txn.Snapshot("todo")
		if err != nil {
			return err
		}
		task := Task{ID: "a", BoardID: "brd_1", Title: "Draft", CreatedBy: "u_admin", AssignedTo: []string{"u_bob", "u_gone"}, CreatedAt: time.Now().UTC()}
		return s.InsertTask(ctx, task, position.Insert("todo", -1, snap.Count), txn.Versions())
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, _ := s.GetTask(ctx, "a")
	if fmt.Sprint(got.AssignedTo) != "[u_bob]" {
		t.Fatalf("assignees after insert = %v, want [u_bob]", got.AssignedTo)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var p TaskPatch
			if i%2 == 0 {
				done := true
				p.Completed = &done
			} else {
				title := fmt.Sprintf("Title %d", i)
				p.Title = &title
			}
			if _, err := s.UpdateTask(ctx, "a", p); err != nil {
				t.Errorf("UpdateTask(%d) error = %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	got, _ = s.GetTask(ctx, "a")
	if !got.Completed || got.Title == "Draft" {
		t.Fatalf("task = %+v, want completed with a new title", got)
	}

	if err := s.RemoveMember(ctx, "brd_1", "u_bob"); err != nil {
		t.Fatalf("RemoveMember() error = %v", err)
	}
	assign := []string{"u_bob", "u_admin"}
	got, err = s.UpdateTask(ctx, "a", TaskPatch{AssignedTo: &assign})
	if err != nil {
		t.Fatalf("UpdateTask(assignedTo) error = %v", err)
	}
	if fmt.Sprint(got.AssignedTo) != "[u_admin]" {
		t.Fatalf("assignees = %v, want [u_admin]", got.AssignedTo)
	}
	if _, err := s.UpdateTask(ctx, "missing", TaskPatch{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateTask(missing) error = %v, want ErrNotFound", err)
	}
}
