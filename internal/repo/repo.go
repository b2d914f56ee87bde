package repo

import (
	"context"
	"database/sql"
	"errors"

	"switchboard/internal/domain"
)

// Repo is the thin adapter over the durable store. It owns no business
// logic; invariant decisions live in the engine.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertJob(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO jobs(id,synopsis,location,caller_name,caller_phone,created_at,created_by) VALUES (?,?,?,?,?,?,?)`,
		j.ID, j.Synopsis, nullableStringPtr(j.Location), nullableStringPtr(j.CallerName), nullableStringPtr(j.CallerPhone), j.CreatedAt, j.CreatedBy)
	return err
}

func scanJob(scan func(dest ...any) error) (domain.Job, error) {
	var j domain.Job
	var location, callerName, callerPhone, closedAt, closedBy sql.NullString
	err := scan(&j.ID, &j.Synopsis, &location, &callerName, &callerPhone, &j.CreatedAt, &j.CreatedBy, &closedAt, &closedBy)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	if location.Valid {
		j.Location = &location.String
	}
	if callerName.Valid {
		j.CallerName = &callerName.String
	}
	if callerPhone.Valid {
		j.CallerPhone = &callerPhone.String
	}
	if closedAt.Valid {
		j.ClosedAt = &closedAt.String
	}
	if closedBy.Valid {
		j.ClosedBy = &closedBy.String
	}
	return j, nil
}

const jobColumns = `id,synopsis,location,caller_name,caller_phone,created_at,created_by,closed_at,closed_by`

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	j, err := scanJob(r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id).Scan)
	if err != nil {
		return j, err
	}
	j.Comments, err = r.ListComments(ctx, id)
	return j, err
}

func (r Repo) GetJobTx(ctx context.Context, tx *sql.Tx, id string) (domain.Job, error) {
	return scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id).Scan)
}

func (r Repo) ListJobs(ctx context.Context) ([]domain.Job, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// CloseJob marks an open job closed. Returns the number of rows updated;
// zero means the job was already closed or does not exist.
func (r Repo) CloseJob(ctx context.Context, tx *sql.Tx, id, closedAt, closedBy string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET closed_at=?, closed_by=? WHERE id=? AND closed_at IS NULL`, closedAt, closedBy, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comments(id,job_id,comment,created_at,created_by) VALUES (?,?,?,?,?)`,
		c.ID, c.JobID, c.Comment, c.CreatedAt, c.CreatedBy)
	return err
}

func (r Repo) ListComments(ctx context.Context, jobID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,job_id,comment,created_at,created_by FROM comments WHERE job_id=? ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.JobID, &c.Comment, &c.CreatedAt, &c.CreatedBy); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
