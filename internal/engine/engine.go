package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"database/sql"

	"github.com/google/uuid"

	"switchboard/internal/config"
	"switchboard/internal/domain"
	"switchboard/internal/events"
	"switchboard/internal/hub"
	"switchboard/internal/repo"
)

// Engine validates and applies mutations of jobs, resources and
// assignments. Every operation is one transaction against the store; every
// accepted mutation writes one audit row inside that transaction and
// publishes its notifications only after the transaction commits.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Hub    *hub.Hub
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, h *hub.Hub, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Hub:    h,
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// newID returns a time-ordered identifier.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func (e Engine) publish(evs ...hub.Event) {
	if e.Hub == nil {
		return
	}
	for _, ev := range evs {
		e.Hub.Publish(ev)
	}
}

// JobCreateOptions are parameters for creating a job.
type JobCreateOptions struct {
	Synopsis    string
	Location    string
	CallerName  string
	CallerPhone string
	Comments    []string
	ActorID     string
}

func (e Engine) CreateJob(ctx context.Context, opts JobCreateOptions) (domain.Job, error) {
	if strings.TrimSpace(opts.Synopsis) == "" {
		return domain.Job{}, invalidf("synopsis is required")
	}
	now := e.nowString()
	j := domain.Job{
		ID:          newID(),
		Synopsis:    opts.Synopsis,
		Location:    optionalString(opts.Location),
		CallerName:  optionalString(opts.CallerName),
		CallerPhone: optionalString(opts.CallerPhone),
		CreatedAt:   now,
		CreatedBy:   opts.ActorID,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, storeErr(err)
	}
	defer tx.Rollback()

	if err := e.Repo.InsertJob(ctx, tx, j); err != nil {
		return domain.Job{}, storeErr(fmt.Errorf("insert job: %w", err))
	}
	for _, text := range opts.Comments {
		c := domain.Comment{
			ID:        newID(),
			JobID:     j.ID,
			Comment:   text,
			CreatedAt: now,
			CreatedBy: opts.ActorID,
		}
		if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
			return domain.Job{}, storeErr(fmt.Errorf("insert comment: %w", err))
		}
		j.Comments = append(j.Comments, c)
	}
	if err := e.Events.Append(ctx, tx, "job.created", "job", j.ID, opts.ActorID, events.EventPayload{"synopsis": j.Synopsis}); err != nil {
		return domain.Job{}, storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, storeErr(err)
	}
	e.publish(hub.Event{Type: hub.EventJob, ID: j.ID})
	return j, nil
}

// AddComment appends a comment to a job. Closed jobs accept comments; they
// are historical annotations, not live-board state, so no notification is
// published.
func (e Engine) AddComment(ctx context.Context, jobID, text, actorID string) (domain.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Comment{}, invalidf("comment text is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, storeErr(err)
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetJobTx(ctx, tx, jobID); err != nil {
		return domain.Comment{}, storeErr(fmt.Errorf("job %s: %w", jobID, err))
	}
	c := domain.Comment{
		ID:        newID(),
		JobID:     jobID,
		Comment:   text,
		CreatedAt: e.nowString(),
		CreatedBy: actorID,
	}
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.Comment{}, storeErr(fmt.Errorf("insert comment: %w", err))
	}
	if err := e.Events.Append(ctx, tx, "job.commented", "job", jobID, actorID, events.EventPayload{"comment_id": c.ID}); err != nil {
		return domain.Comment{}, storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, storeErr(err)
	}
	return c, nil
}

// CloseJob closes an open job and deactivates its active assignments in the
// same transaction, attributing removal to the closer. Closing an already
// closed job is a no-op.
func (e Engine) CloseJob(ctx context.Context, jobID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()

	now := e.nowString()
	affected, err := e.Repo.CloseJob(ctx, tx, jobID, now, actorID)
	if err != nil {
		return storeErr(fmt.Errorf("close job: %w", err))
	}
	if affected == 0 {
		// Absent or already closed; only the former is an error.
		if _, err := e.Repo.GetJobTx(ctx, tx, jobID); err != nil {
			return storeErr(fmt.Errorf("job %s: %w", jobID, err))
		}
		return nil
	}
	if _, err := e.Repo.DeactivateAssignmentsForJob(ctx, tx, jobID, now, actorID); err != nil {
		return storeErr(fmt.Errorf("deactivate assignments: %w", err))
	}
	if err := e.Events.Append(ctx, tx, "job.closed", "job", jobID, actorID, nil); err != nil {
		return storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr(err)
	}
	e.publish(hub.Event{Type: hub.EventJob, ID: jobID})
	return nil
}

// CreateResource creates a resource. Whether it starts in service is the
// deployment policy from config, not a guess.
func (e Engine) CreateResource(ctx context.Context, displayName, comment, actorID string) (domain.Resource, error) {
	if strings.TrimSpace(displayName) == "" {
		return domain.Resource{}, invalidf("display_name is required")
	}
	if e.Config == nil {
		return domain.Resource{}, errors.New("config not loaded")
	}
	r := domain.Resource{
		ID:          newID(),
		DisplayName: displayName,
		Comment:     optionalString(comment),
		InService:   e.Config.NewResourceInService(),
		CreatedAt:   e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Resource{}, storeErr(err)
	}
	defer tx.Rollback()

	if err := e.Repo.InsertResource(ctx, tx, r); err != nil {
		return domain.Resource{}, storeErr(fmt.Errorf("insert resource: %w", err))
	}
	if err := e.Events.Append(ctx, tx, "resource.created", "resource", r.ID, actorID, events.EventPayload{"display_name": r.DisplayName, "in_service": r.InService}); err != nil {
		return domain.Resource{}, storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Resource{}, storeErr(err)
	}
	e.publish(hub.Event{Type: hub.EventResource, ID: r.ID})
	return r, nil
}

// SetResourceServiceStatus flips the in-service flag. Taking a resource out
// of service deactivates its active assignment, if any, in the same
// transaction.
func (e Engine) SetResourceServiceStatus(ctx context.Context, resourceID string, inService bool, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()

	affected, err := e.Repo.SetInService(ctx, tx, resourceID, inService)
	if err != nil {
		return storeErr(fmt.Errorf("set in_service: %w", err))
	}
	if affected == 0 {
		return fmt.Errorf("resource %s: %w", resourceID, repo.ErrNotFound)
	}
	if !inService {
		now := e.nowString()
		a, err := e.Repo.ActiveAssignmentForResourceTx(ctx, tx, resourceID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return storeErr(err)
		}
		if err == nil {
			if _, err := e.Repo.DeactivateAssignment(ctx, tx, a.ID, now, actorID); err != nil {
				return storeErr(fmt.Errorf("deactivate assignment: %w", err))
			}
		}
	}
	if err := e.Events.Append(ctx, tx, "resource.status", "resource", resourceID, actorID, events.EventPayload{"in_service": inService}); err != nil {
		return storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr(err)
	}
	e.publish(hub.Event{Type: hub.EventResource, ID: resourceID})
	return nil
}

// SetResourceLocation appends a timestamped location record. Service and
// assignment state are untouched.
func (e Engine) SetResourceLocation(ctx context.Context, resourceID string, lat, lon float64, actorID string) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return invalidf("coordinates out of range: %f,%f", lat, lon)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetResourceTx(ctx, tx, resourceID); err != nil {
		return storeErr(fmt.Errorf("resource %s: %w", resourceID, err))
	}
	loc := domain.ResourceLocation{
		ResourceID: resourceID,
		Lat:        lat,
		Lon:        lon,
		RecordedAt: e.nowString(),
	}
	if err := e.Repo.InsertLocation(ctx, tx, loc); err != nil {
		return storeErr(fmt.Errorf("insert location: %w", err))
	}
	if err := e.Events.Append(ctx, tx, "resource.located", "resource", resourceID, actorID, events.EventPayload{"lat": lat, "lon": lon}); err != nil {
		return storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr(err)
	}
	e.publish(hub.Event{Type: hub.EventResource, ID: resourceID})
	return nil
}

// CreateAssignment binds a resource to a job. The precondition check (job
// open, resource in service and unassigned) and the insert are a single
// guarded statement, so two callers racing on the same resource cannot both
// succeed. When the guard rejects, the same transaction is re-read to
// report which precondition failed.
func (e Engine) CreateAssignment(ctx context.Context, jobID, resourceID, actorID string) (domain.Assignment, error) {
	a := domain.Assignment{
		ID:         newID(),
		JobID:      jobID,
		ResourceID: resourceID,
		AssignedAt: e.nowString(),
		AssignedBy: actorID,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, storeErr(err)
	}
	defer tx.Rollback()

	affected, err := e.Repo.InsertAssignmentGuarded(ctx, tx, a)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.Assignment{}, ErrResourceAssigned
		}
		return domain.Assignment{}, storeErr(fmt.Errorf("insert assignment: %w", err))
	}
	if affected == 0 {
		return domain.Assignment{}, e.diagnoseAssignmentRejection(ctx, tx, jobID, resourceID)
	}
	if err := e.Events.Append(ctx, tx, "assignment.created", "assignment", a.ID, actorID, events.EventPayload{"job_id": jobID, "resource_id": resourceID}); err != nil {
		return domain.Assignment{}, storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, storeErr(err)
	}
	e.publish(
		hub.Event{Type: hub.EventResource, ID: resourceID},
		hub.Event{Type: hub.EventJob, ID: jobID},
	)
	return a, nil
}

// diagnoseAssignmentRejection re-reads, inside the rejecting transaction,
// the state that made the guarded insert a no-op.
func (e Engine) diagnoseAssignmentRejection(ctx context.Context, tx *sql.Tx, jobID, resourceID string) error {
	j, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		return storeErr(fmt.Errorf("job %s: %w", jobID, err))
	}
	if !j.Open() {
		return ErrJobClosed
	}
	r, err := e.Repo.GetResourceTx(ctx, tx, resourceID)
	if err != nil {
		return storeErr(fmt.Errorf("resource %s: %w", resourceID, err))
	}
	if !r.InService {
		return ErrResourceOutOfService
	}
	if _, err := e.Repo.ActiveAssignmentForResourceTx(ctx, tx, resourceID); err == nil {
		return ErrResourceAssigned
	} else if !errors.Is(err, repo.ErrNotFound) {
		return storeErr(err)
	}
	return ErrConflict
}

// RemoveAssignment deactivates an active assignment. Absent or already
// inactive assignments report not-found.
func (e Engine) RemoveAssignment(ctx context.Context, assignmentID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAssignmentTx(ctx, tx, assignmentID)
	if err != nil {
		return storeErr(fmt.Errorf("assignment %s: %w", assignmentID, err))
	}
	if !a.Active() {
		return fmt.Errorf("assignment %s already removed: %w", assignmentID, repo.ErrNotFound)
	}
	if _, err := e.Repo.DeactivateAssignment(ctx, tx, assignmentID, e.nowString(), actorID); err != nil {
		return storeErr(fmt.Errorf("deactivate assignment: %w", err))
	}
	if err := e.Events.Append(ctx, tx, "assignment.removed", "assignment", assignmentID, actorID, events.EventPayload{"job_id": a.JobID, "resource_id": a.ResourceID}); err != nil {
		return storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr(err)
	}
	e.publish(
		hub.Event{Type: hub.EventResource, ID: a.ResourceID},
		hub.Event{Type: hub.EventJob, ID: a.JobID},
	)
	return nil
}

// ListResources returns every resource joined with its active assignment
// and last-known location as one consistent snapshot.
func (e Engine) ListResources(ctx context.Context) ([]domain.Resource, error) {
	res, err := e.Repo.ListResourcesWithState(ctx)
	return res, storeErr(err)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
