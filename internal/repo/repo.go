package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mandato/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const mandateColumns = `id,owner_id,agency_id,property_id,status,commission_rate,start_date,end_date,permissions_json,owner_signed_at,agency_signed_at,signed_mandate_url,notes,created_at,updated_at`

func (r Repo) InsertMandate(ctx context.Context, tx *sql.Tx, m domain.Mandate) error {
	permsJSON, err := json.Marshal(m.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO mandates(`+mandateColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.OwnerID, m.AgencyID, nullableStringPtr(m.PropertyID), string(m.Status), m.CommissionRate,
		m.StartDate, nullableStringPtr(m.EndDate), string(permsJSON),
		nullableStringPtr(m.OwnerSignedAt), nullableStringPtr(m.AgencySignedAt), nullableStringPtr(m.SignedMandateURL),
		nullable(m.Notes), m.CreatedAt, m.UpdatedAt)
	return err
}

func scanMandate(scan func(dest ...any) error) (domain.Mandate, error) {
	var m domain.Mandate
	var propertyID, endDate, ownerSigned, agencySigned, docURL, notes sql.NullString
	var status, permsJSON string
	err := scan(&m.ID, &m.OwnerID, &m.AgencyID, &propertyID, &status, &m.CommissionRate,
		&m.StartDate, &endDate, &permsJSON, &ownerSigned, &agencySigned, &docURL, &notes, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.Status = domain.MandateStatus(status)
	if err := json.Unmarshal([]byte(permsJSON), &m.Permissions); err != nil {
		return m, fmt.Errorf("decode permissions for mandate %s: %w", m.ID, err)
	}
	if propertyID.Valid {
		m.PropertyID = &propertyID.String
	}
	if endDate.Valid {
		m.EndDate = &endDate.String
	}
	if ownerSigned.Valid {
		m.OwnerSignedAt = &ownerSigned.String
	}
	if agencySigned.Valid {
		m.AgencySignedAt = &agencySigned.String
	}
	if docURL.Valid {
		m.SignedMandateURL = &docURL.String
	}
	if notes.Valid {
		m.Notes = notes.String
	}
	return m, nil
}

func (r Repo) GetMandate(ctx context.Context, id string) (domain.Mandate, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+mandateColumns+` FROM mandates WHERE id=?`, id)
	return scanMandate(row.Scan)
}

func (r Repo) GetMandateTx(ctx context.Context, tx *sql.Tx, id string) (domain.Mandate, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+mandateColumns+` FROM mandates WHERE id=?`, id)
	return scanMandate(row.Scan)
}

type MandateFilters struct {
	OwnerID    string
	AgencyID   string
	PartyID    string
	Status     domain.MandateStatus
	PropertyID string
}

func (r Repo) ListMandates(ctx context.Context, f MandateFilters) ([]domain.Mandate, error) {
	var clauses []string
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.AgencyID != "" {
		clauses = append(clauses, "agency_id=?")
		args = append(args, f.AgencyID)
	}
	if f.PartyID != "" {
		clauses = append(clauses, "(owner_id=? OR agency_id=?)")
		args = append(args, f.PartyID, f.PartyID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.PropertyID != "" {
		clauses = append(clauses, "property_id=?")
		args = append(args, f.PropertyID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + mandateColumns + ` FROM mandates ` + where + ` ORDER BY created_at DESC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mandate
	for rows.Next() {
		m, err := scanMandate(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// UpdateMandateStatus performs a compare-and-swap on status. It reports
// whether the swap applied; a false result means the row was concurrently
// changed away from the expected status (or does not exist).
func (r Repo) UpdateMandateStatus(ctx context.Context, tx *sql.Tx, id string, from, to domain.MandateStatus, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE mandates SET status=?, updated_at=? WHERE id=? AND status=?`,
		string(to), updatedAt, id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) UpdateMandatePermissions(ctx context.Context, tx *sql.Tx, id string, perms domain.PermissionSet, updatedAt string) error {
	permsJSON, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE mandates SET permissions_json=?, updated_at=? WHERE id=?`,
		string(permsJSON), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetOwnerSignature(ctx context.Context, tx *sql.Tx, id, signedAt, updatedAt string) error {
	return r.setSignature(ctx, tx, `owner_signed_at`, id, signedAt, updatedAt)
}

func (r Repo) SetAgencySignature(ctx context.Context, tx *sql.Tx, id, signedAt, updatedAt string) error {
	return r.setSignature(ctx, tx, `agency_signed_at`, id, signedAt, updatedAt)
}

func (r Repo) setSignature(ctx context.Context, tx *sql.Tx, column, id, signedAt, updatedAt string) error {
	// Only fills a missing timestamp; re-signing stays a no-op.
	res, err := tx.ExecContext(ctx, `UPDATE mandates SET `+column+`=?, updated_at=? WHERE id=? AND `+column+` IS NULL`,
		signedAt, updatedAt, id)
	if err != nil {
		return err
	}
	_, err = res.RowsAffected()
	return err
}

func (r Repo) SetSignedMandateURL(ctx context.Context, tx *sql.Tx, id, url, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE mandates SET signed_mandate_url=?, updated_at=? WHERE id=?`, url, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateMandateNotes(ctx context.Context, tx *sql.Tx, id, notes, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE mandates SET notes=?, updated_at=? WHERE id=?`, nullable(notes), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
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
