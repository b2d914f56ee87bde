package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"switchboard/internal/config"
	"switchboard/internal/db"
	"switchboard/internal/domain"
	"switchboard/internal/engine"
	"switchboard/internal/hub"
	"switchboard/internal/migrate"
	"switchboard/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Hub    *hub.Hub
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	h := hub.New(64)
	eng := engine.New(conn, h, config.Default())
	return testEnv{Engine: eng, Hub: h, Ctx: context.Background()}
}

func mustJob(t *testing.T, env testEnv, synopsis string) domain.Job {
	t.Helper()
	j, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{Synopsis: synopsis, ActorID: "dispatcher"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return j
}

func mustResource(t *testing.T, env testEnv, name string) domain.Resource {
	t.Helper()
	r, err := env.Engine.CreateResource(env.Ctx, name, "", "dispatcher")
	if err != nil {
		t.Fatalf("create resource: %v", err)
	}
	return r
}

func TestCreateJobValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{Synopsis: "  ", ActorID: "dispatcher"})
	if !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestCreateJobWithInitialComments(t *testing.T) {
	env := newTestEnv(t)
	j, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{
		Synopsis: "stalled vehicle",
		Location: "5th and Main",
		Comments: []string{"caller reports smoke", "lane blocked"},
		ActorID:  "dispatcher",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	got, err := env.Engine.Repo.GetJob(env.Ctx, j.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if len(got.Comments) != 2 {
		t.Fatalf("got %d comments, want 2", len(got.Comments))
	}
	if got.Location == nil || *got.Location != "5th and Main" {
		t.Fatalf("location not stored: %v", got.Location)
	}
}

func TestAssignThenConflict(t *testing.T) {
	env := newTestEnv(t)
	jobA := mustJob(t, env, "job A")
	jobB := mustJob(t, env, "job B")
	res := mustResource(t, env, "unit 1")

	a, err := env.Engine.CreateAssignment(env.Ctx, jobA.ID, res.ID, "user1")
	if err != nil {
		t.Fatalf("first assignment: %v", err)
	}
	if !a.Active() {
		t.Fatal("new assignment should be active")
	}

	_, err = env.Engine.CreateAssignment(env.Ctx, jobB.ID, res.ID, "user2")
	if !errors.Is(err, engine.ErrResourceAssigned) {
		t.Fatalf("expected ErrResourceAssigned, got %v", err)
	}
	if !errors.Is(err, engine.ErrConflict) {
		t.Fatalf("conflict errors must match ErrConflict, got %v", err)
	}
}

func TestAssignUnknownJobAndResource(t *testing.T) {
	env := newTestEnv(t)
	res := mustResource(t, env, "unit 1")
	if _, err := env.Engine.CreateAssignment(env.Ctx, "nope", res.ID, "user1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown job: expected not found, got %v", err)
	}
	job := mustJob(t, env, "job")
	if _, err := env.Engine.CreateAssignment(env.Ctx, job.ID, "nope", "user1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown resource: expected not found, got %v", err)
	}
}

func TestAssignToClosedJob(t *testing.T) {
	env := newTestEnv(t)
	job := mustJob(t, env, "done deal")
	res := mustResource(t, env, "unit 1")
	if err := env.Engine.CloseJob(env.Ctx, job.ID, "closer"); err != nil {
		t.Fatalf("close job: %v", err)
	}
	_, err := env.Engine.CreateAssignment(env.Ctx, job.ID, res.ID, "user1")
	if !errors.Is(err, engine.ErrJobClosed) {
		t.Fatalf("expected ErrJobClosed, got %v", err)
	}
}

func TestConcurrentAssignSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	res := mustResource(t, env, "contested unit")

	const n = 8
	jobs := make([]domain.Job, n)
	for i := range jobs {
		jobs[i] = mustJob(t, env, "concurrent job")
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.CreateAssignment(env.Ctx, jobs[i].ID, res.ID, "racer")
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, engine.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != n-1 {
		t.Fatalf("got %d wins and %d conflicts, want 1 and %d", wins, conflicts, n-1)
	}

	active, err := env.Engine.Repo.ListActiveAssignments(env.Ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("got %d active assignments, want 1", len(active))
	}
}

func TestCloseJobCascadesRemoval(t *testing.T) {
	env := newTestEnv(t)
	job := mustJob(t, env, "multi-unit incident")
	res1 := mustResource(t, env, "unit 1")
	res2 := mustResource(t, env, "unit 2")
	if _, err := env.Engine.CreateAssignment(env.Ctx, job.ID, res1.ID, "user1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateAssignment(env.Ctx, job.ID, res2.ID, "user1"); err != nil {
		t.Fatal(err)
	}

	if err := env.Engine.CloseJob(env.Ctx, job.ID, "closer"); err != nil {
		t.Fatalf("close job: %v", err)
	}
	assignments, err := env.Engine.Repo.ListAssignmentsForJob(env.Ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(assignments) != 2 {
		t.Fatalf("got %d assignments, want 2", len(assignments))
	}
	for _, a := range assignments {
		if a.Active() {
			t.Fatalf("assignment %s still active after close", a.ID)
		}
		if a.RemovedBy == nil || *a.RemovedBy != "closer" {
			t.Fatalf("assignment %s removed_by = %v, want closer", a.ID, a.RemovedBy)
		}
	}

	// Second close is a no-op, not an error.
	if err := env.Engine.CloseJob(env.Ctx, job.ID, "someone-else"); err != nil {
		t.Fatalf("idempotent close: %v", err)
	}
	if err := env.Engine.CloseJob(env.Ctx, "nope", "closer"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("close unknown job: expected not found, got %v", err)
	}
}

func TestOutOfServiceCascadesRemoval(t *testing.T) {
	env := newTestEnv(t)
	job := mustJob(t, env, "incident")
	res := mustResource(t, env, "unit 1")
	if _, err := env.Engine.CreateAssignment(env.Ctx, job.ID, res.ID, "user1"); err != nil {
		t.Fatal(err)
	}

	if err := env.Engine.SetResourceServiceStatus(env.Ctx, res.ID, false, "admin"); err != nil {
		t.Fatalf("out of service: %v", err)
	}
	assignments, err := env.Engine.Repo.ListAssignmentsForJob(env.Ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(assignments) != 1 || assignments[0].Active() {
		t.Fatalf("assignment should be deactivated: %+v", assignments)
	}
	if assignments[0].RemovedBy == nil || *assignments[0].RemovedBy != "admin" {
		t.Fatalf("removed_by = %v, want admin", assignments[0].RemovedBy)
	}

	// Re-assigning must now report out-of-service, not double-assignment.
	_, err = env.Engine.CreateAssignment(env.Ctx, job.ID, res.ID, "user2")
	if !errors.Is(err, engine.ErrResourceOutOfService) {
		t.Fatalf("expected ErrResourceOutOfService, got %v", err)
	}
}

func TestRemoveAssignment(t *testing.T) {
	env := newTestEnv(t)
	job := mustJob(t, env, "incident")
	res := mustResource(t, env, "unit 1")
	a, err := env.Engine.CreateAssignment(env.Ctx, job.ID, res.ID, "user1")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.RemoveAssignment(env.Ctx, a.ID, "user2"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, err := env.Engine.Repo.GetAssignment(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Active() || got.RemovedBy == nil || *got.RemovedBy != "user2" {
		t.Fatalf("removal not recorded: %+v", got)
	}
	// Already-inactive removal reports not found.
	if err := env.Engine.RemoveAssignment(env.Ctx, a.ID, "user2"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	// The resource is assignable again.
	if _, err := env.Engine.CreateAssignment(env.Ctx, job.ID, res.ID, "user3"); err != nil {
		t.Fatalf("re-assign after removal: %v", err)
	}
}

func TestCommentOnClosedJob(t *testing.T) {
	env := newTestEnv(t)
	job := mustJob(t, env, "wrapped up")
	if err := env.Engine.CloseJob(env.Ctx, job.ID, "closer"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddComment(env.Ctx, job.ID, "post-close note", "user1"); err != nil {
		t.Fatalf("comment on closed job should succeed: %v", err)
	}
	if _, err := env.Engine.AddComment(env.Ctx, "nope", "text", "user1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListResourcesProjection(t *testing.T) {
	env := newTestEnv(t)
	job := mustJob(t, env, "incident")
	assigned := mustResource(t, env, "assigned unit")
	idle := mustResource(t, env, "idle unit")
	if _, err := env.Engine.CreateAssignment(env.Ctx, job.ID, assigned.ID, "user1"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.SetResourceLocation(env.Ctx, assigned.ID, 51.5, -0.12, "unit"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.SetResourceLocation(env.Ctx, assigned.ID, 51.6, -0.13, "unit"); err != nil {
		t.Fatal(err)
	}

	list, err := env.Engine.ListResources(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d resources, want 2", len(list))
	}
	byID := map[string]domain.Resource{}
	for _, r := range list {
		byID[r.ID] = r
	}
	a := byID[assigned.ID]
	if a.Assignment == nil || a.Assignment.JobID != job.ID {
		t.Fatalf("assigned unit missing assignment: %+v", a.Assignment)
	}
	if a.LastLocation == nil || a.LastLocation.Lat != 51.6 {
		t.Fatalf("last location not latest: %+v", a.LastLocation)
	}
	if byID[idle.ID].Assignment != nil {
		t.Fatal("idle unit should have no assignment")
	}
}

func TestSetLocationValidation(t *testing.T) {
	env := newTestEnv(t)
	res := mustResource(t, env, "unit 1")
	if err := env.Engine.SetResourceLocation(env.Ctx, res.ID, 120, 0, "unit"); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if err := env.Engine.SetResourceLocation(env.Ctx, "nope", 0, 0, "unit"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMutationsNotify(t *testing.T) {
	env := newTestEnv(t)
	sub := env.Hub.Subscribe()
	defer env.Hub.Unsubscribe(sub)

	job := mustJob(t, env, "notify me")

	select {
	case ev := <-sub.Events():
		if ev.Type != hub.EventJob || ev.ID != job.ID {
			t.Fatalf("got %+v, want job event for %s", ev, job.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification for job creation")
	}

	res := mustResource(t, env, "unit 1")
	select {
	case ev := <-sub.Events():
		if ev.Type != hub.EventResource || ev.ID != res.ID {
			t.Fatalf("got %+v, want resource event for %s", ev, res.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification for resource creation")
	}

	// Assignment notifies for both sides.
	if _, err := env.Engine.CreateAssignment(env.Ctx, job.ID, res.ID, "user1"); err != nil {
		t.Fatal(err)
	}
	want := map[hub.EventType]string{hub.EventResource: res.ID, hub.EventJob: job.ID}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.Events():
			if want[ev.Type] != ev.ID {
				t.Fatalf("unexpected event %+v", ev)
			}
			delete(want, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("missing assignment notification")
		}
	}

	// Comments are not live-board state; no notification.
	if _, err := env.Engine.AddComment(env.Ctx, job.ID, "quiet", "user1"); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event for comment: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRejectedMutationDoesNotNotify(t *testing.T) {
	env := newTestEnv(t)
	job := mustJob(t, env, "incident")
	res := mustResource(t, env, "unit 1")
	if _, err := env.Engine.CreateAssignment(env.Ctx, job.ID, res.ID, "user1"); err != nil {
		t.Fatal(err)
	}

	sub := env.Hub.Subscribe()
	defer env.Hub.Unsubscribe(sub)

	other := mustJob(t, env, "other")
	<-sub.Events() // job.created for "other"

	if _, err := env.Engine.CreateAssignment(env.Ctx, other.ID, res.ID, "user2"); !errors.Is(err, engine.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("rejected mutation published %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
