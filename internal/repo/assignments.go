package repo

import (
	"context"
	"database/sql"

	"switchboard/internal/domain"
)

const assignmentColumns = `id,job_id,resource_id,assigned_at,assigned_by,removed_at,removed_by`

func scanAssignment(scan func(dest ...any) error) (domain.Assignment, error) {
	var a domain.Assignment
	var removedAt, removedBy sql.NullString
	err := scan(&a.ID, &a.JobID, &a.ResourceID, &a.AssignedAt, &a.AssignedBy, &removedAt, &removedBy)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if removedAt.Valid {
		a.RemovedAt = &removedAt.String
	}
	if removedBy.Valid {
		a.RemovedBy = &removedBy.String
	}
	return a, nil
}

// InsertAssignmentGuarded inserts the assignment only if, at the instant of
// insertion, the job is open, the resource is in service, and the resource
// has no active assignment. The predicate and the insert are one statement
// inside the caller's transaction, so two writers racing on the same
// resource cannot both succeed; the partial unique index over
// (resource_id, removed_at IS NULL) backstops the same invariant.
// Returns rows inserted: one on acceptance, zero when any predicate failed.
func (r Repo) InsertAssignmentGuarded(ctx context.Context, tx *sql.Tx, a domain.Assignment) (int64, error) {
	res, err := tx.ExecContext(ctx, `
INSERT INTO assignments(id, job_id, resource_id, assigned_at, assigned_by)
SELECT ?, ?, ?, ?, ?
 WHERE EXISTS (SELECT 1 FROM jobs WHERE id = ? AND closed_at IS NULL)
   AND EXISTS (SELECT 1 FROM resources WHERE id = ? AND in_service = 1)
   AND NOT EXISTS (SELECT 1 FROM assignments WHERE resource_id = ? AND removed_at IS NULL)`,
		a.ID, a.JobID, a.ResourceID, a.AssignedAt, a.AssignedBy,
		a.JobID, a.ResourceID, a.ResourceID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) GetAssignment(ctx context.Context, id string) (domain.Assignment, error) {
	return scanAssignment(r.DB.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id=?`, id).Scan)
}

func (r Repo) GetAssignmentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Assignment, error) {
	return scanAssignment(tx.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id=?`, id).Scan)
}

func (r Repo) ActiveAssignmentForResourceTx(ctx context.Context, tx *sql.Tx, resourceID string) (domain.Assignment, error) {
	return scanAssignment(tx.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE resource_id=? AND removed_at IS NULL`, resourceID).Scan)
}

// DeactivateAssignment sets removal fields on an active assignment. Returns
// rows updated; zero means the assignment is absent or already inactive.
func (r Repo) DeactivateAssignment(ctx context.Context, tx *sql.Tx, id, removedAt, removedBy string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE assignments SET removed_at=?, removed_by=? WHERE id=? AND removed_at IS NULL`, removedAt, removedBy, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeactivateAssignmentsForJob deactivates every active assignment of a job
// and returns the affected resource ids so the caller can notify per
// resource.
func (r Repo) DeactivateAssignmentsForJob(ctx context.Context, tx *sql.Tx, jobID, removedAt, removedBy string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT resource_id FROM assignments WHERE job_id=? AND removed_at IS NULL`, jobID)
	if err != nil {
		return nil, err
	}
	var resourceIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		resourceIDs = append(resourceIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if len(resourceIDs) == 0 {
		return nil, nil
	}
	_, err = tx.ExecContext(ctx, `UPDATE assignments SET removed_at=?, removed_by=? WHERE job_id=? AND removed_at IS NULL`, removedAt, removedBy, jobID)
	return resourceIDs, err
}

func (r Repo) ListAssignmentsForJob(ctx context.Context, jobID string) ([]domain.Assignment, error) {
	return r.listAssignments(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE job_id=? ORDER BY assigned_at, id`, jobID)
}

func (r Repo) ListActiveAssignments(ctx context.Context) ([]domain.Assignment, error) {
	return r.listAssignments(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE removed_at IS NULL ORDER BY assigned_at, id`)
}

func (r Repo) listAssignments(ctx context.Context, query string, args ...any) ([]domain.Assignment, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
