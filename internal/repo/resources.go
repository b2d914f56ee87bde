package repo

import (
	"context"
	"database/sql"

	"switchboard/internal/domain"
)

func (r Repo) InsertResource(ctx context.Context, tx *sql.Tx, res domain.Resource) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO resources(id,display_name,comment,in_service,created_at) VALUES (?,?,?,?,?)`,
		res.ID, res.DisplayName, nullableStringPtr(res.Comment), res.InService, res.CreatedAt)
	return err
}

func scanResource(scan func(dest ...any) error) (domain.Resource, error) {
	var res domain.Resource
	var comment sql.NullString
	err := scan(&res.ID, &res.DisplayName, &comment, &res.InService, &res.CreatedAt)
	if err == sql.ErrNoRows {
		return res, ErrNotFound
	}
	if err != nil {
		return res, err
	}
	if comment.Valid {
		res.Comment = &comment.String
	}
	return res, nil
}

const resourceColumns = `id,display_name,comment,in_service,created_at`

func (r Repo) GetResource(ctx context.Context, id string) (domain.Resource, error) {
	return scanResource(r.DB.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id=?`, id).Scan)
}

func (r Repo) GetResourceTx(ctx context.Context, tx *sql.Tx, id string) (domain.Resource, error) {
	return scanResource(tx.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id=?`, id).Scan)
}

// SetInService flips the service flag. Returns rows updated; zero means the
// resource does not exist.
func (r Repo) SetInService(ctx context.Context, tx *sql.Tx, id string, inService bool) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE resources SET in_service=? WHERE id=?`, inService, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) InsertLocation(ctx context.Context, tx *sql.Tx, loc domain.ResourceLocation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO resource_locations(resource_id,lat,lon,recorded_at) VALUES (?,?,?,?)`,
		loc.ResourceID, loc.Lat, loc.Lon, loc.RecordedAt)
	return err
}

// ListResourcesWithState joins each resource with its active assignment and
// last-known location. One query, so the projection is a single consistent
// snapshot even under concurrent writers.
func (r Repo) ListResourcesWithState(ctx context.Context) ([]domain.Resource, error) {
	rows, err := r.DB.QueryContext(ctx, `
WITH active AS (
    SELECT id, job_id, resource_id, assigned_at, assigned_by
      FROM assignments
     WHERE removed_at IS NULL
), lastloc AS (
    SELECT resource_id, lat, lon, recorded_at,
           ROW_NUMBER() OVER (PARTITION BY resource_id ORDER BY id DESC) AS rn
      FROM resource_locations
)
SELECT r.id, r.display_name, r.comment, r.in_service, r.created_at,
       a.id, a.job_id, a.assigned_at, a.assigned_by,
       l.lat, l.lon, l.recorded_at
  FROM resources r
  LEFT JOIN active a ON a.resource_id = r.id
  LEFT JOIN lastloc l ON l.resource_id = r.id AND l.rn = 1
 ORDER BY r.created_at, r.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Resource
	for rows.Next() {
		var rc domain.Resource
		var comment, aID, aJobID, aAssignedAt, aAssignedBy, lRecordedAt sql.NullString
		var lLat, lLon sql.NullFloat64
		if err := rows.Scan(&rc.ID, &rc.DisplayName, &comment, &rc.InService, &rc.CreatedAt,
			&aID, &aJobID, &aAssignedAt, &aAssignedBy, &lLat, &lLon, &lRecordedAt); err != nil {
			return nil, err
		}
		if comment.Valid {
			rc.Comment = &comment.String
		}
		if aID.Valid {
			rc.Assignment = &domain.Assignment{
				ID:         aID.String,
				JobID:      aJobID.String,
				ResourceID: rc.ID,
				AssignedAt: aAssignedAt.String,
				AssignedBy: aAssignedBy.String,
			}
		}
		if lRecordedAt.Valid {
			rc.LastLocation = &domain.ResourceLocation{
				ResourceID: rc.ID,
				Lat:        lLat.Float64,
				Lon:        lLon.Float64,
				RecordedAt: lRecordedAt.String,
			}
		}
		res = append(res, rc)
	}
	return res, rows.Err()
}
