package repo

import (
	"context"
	"database/sql"

	"mandato/internal/domain"
)

// Reference data: properties and profiles. The engine consumes these
// read-only; mutation happens through seeding surfaces (CLI, API).

func (r Repo) InsertProperty(ctx context.Context, p domain.Property) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO properties(id,owner_id,title,city,rent,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.OwnerID, p.Title, p.City, p.Rent, p.CreatedAt)
	return err
}

func (r Repo) GetProperty(ctx context.Context, id string) (domain.Property, error) {
	var p domain.Property
	err := r.DB.QueryRowContext(ctx, `SELECT id,owner_id,title,city,rent,created_at FROM properties WHERE id=?`, id).
		Scan(&p.ID, &p.OwnerID, &p.Title, &p.City, &p.Rent, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) GetPropertyTx(ctx context.Context, tx *sql.Tx, id string) (domain.Property, error) {
	var p domain.Property
	err := tx.QueryRowContext(ctx, `SELECT id,owner_id,title,city,rent,created_at FROM properties WHERE id=?`, id).
		Scan(&p.ID, &p.OwnerID, &p.Title, &p.City, &p.Rent, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListProperties(ctx context.Context, ownerID string) ([]domain.Property, error) {
	query := `SELECT id,owner_id,title,city,rent,created_at FROM properties`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id=?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Property
	for rows.Next() {
		var p domain.Property
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Title, &p.City, &p.Rent, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdatePropertyRent(ctx context.Context, id string, rent float64) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE properties SET rent=? WHERE id=?`, rent, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertProfile(ctx context.Context, p domain.Profile) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO profiles(id,kind,display_name,created_at) VALUES (?,?,?,?)`,
		p.ID, p.Kind, p.DisplayName, p.CreatedAt)
	return err
}

func (r Repo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	var p domain.Profile
	err := r.DB.QueryRowContext(ctx, `SELECT id,kind,display_name,created_at FROM profiles WHERE id=?`, id).
		Scan(&p.ID, &p.Kind, &p.DisplayName, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListProfiles(ctx context.Context, kind string) ([]domain.Profile, error) {
	query := `SELECT id,kind,display_name,created_at FROM profiles`
	var args []any
	if kind != "" {
		query += ` WHERE kind=?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Profile
	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.ID, &p.Kind, &p.DisplayName, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE ` +
		joinAnd(clauses) + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entity sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entity, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		if entity.Valid {
			e.EntityID = entity.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}
