package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/ledger"
)

// ClaimResolution records that token has been confirmed.
// Returns claimed=true only for the first caller; every later claim of the
// same token (from any goroutine or process) gets claimed=false.
//
// Uses a transaction to make the insert and the RowsAffected check a single
// unit, the same insert-or-detect pattern as the rest of the store.
func (s *Store) ClaimResolution(ctx context.Context, token, actorID string, action ir.ActionKind) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, ledger.Unavailable("claim resolution: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO resolutions (token, actor_id, action, claimed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token) DO NOTHING
	`, token, actorID, string(action), s.now().UnixMilli())
	if err != nil {
		return false, ledger.Unavailable("claim resolution", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, ledger.Unavailable("claim resolution: rows affected", err)
	}

	if err := tx.Commit(); err != nil {
		return false, ledger.Unavailable("claim resolution: commit", err)
	}
	return n == 1, nil
}

// IsResolved reports whether token has been claimed.
func (s *Store) IsResolved(ctx context.Context, token string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM resolutions WHERE token = ?`, token,
	).Scan(&n)
	if err != nil {
		return false, ledger.Unavailable("is resolved", err)
	}
	return n > 0, nil
}

// Audit inserts an audit record. Duplicate IDs are silently ignored.
func (s *Store) Audit(ctx context.Context, rec ir.AuditRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_records
		(id, seq, token, actor_id, target_id, action, duration_seconds, cost, stolen, probability, roll, outcome, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.Seq,
		rec.Token,
		rec.ActorID,
		rec.TargetID,
		string(rec.Action),
		rec.DurationSeconds,
		rec.Cost.Tenths(),
		rec.Stolen.Tenths(),
		rec.Probability,
		rec.Roll,
		string(rec.Outcome),
		rec.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

// AnnouncePublic is a no-op; the database only keeps the audit trail.
func (s *Store) AnnouncePublic(context.Context, string) error {
	return nil
}

// AuditFilter narrows ReadAudit. Zero values match everything.
type AuditFilter struct {
	UserID string // matches actor or target
	Limit  int
}

// ReadAudit returns audit records ordered by seq ASC, id ASC.
// With a Limit, the most recent Limit records are returned (still ascending).
func (s *Store) ReadAudit(ctx context.Context, filter AuditFilter) ([]ir.AuditRecord, error) {
	query := `
		SELECT id, seq, token, actor_id, target_id, action, duration_seconds,
		       cost, stolen, probability, roll, outcome, at
		FROM audit_records`
	var args []any
	if filter.UserID != "" {
		query += ` WHERE actor_id = ? OR target_id = ?`
		args = append(args, filter.UserID, filter.UserID)
	}
	if filter.Limit > 0 {
		query = `SELECT * FROM (` + query + ` ORDER BY seq DESC, id COLLATE BINARY DESC LIMIT ?)`
		args = append(args, filter.Limit)
	}
	query += ` ORDER BY seq ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	records := []ir.AuditRecord{}
	for rows.Next() {
		var (
			rec                 ir.AuditRecord
			action, outcome     string
			cost, stolen, atMil int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.Seq, &rec.Token, &rec.ActorID, &rec.TargetID, &action,
			&rec.DurationSeconds, &cost, &stolen, &rec.Probability, &rec.Roll,
			&outcome, &atMil,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Action = ir.ActionKind(action)
		rec.Outcome = ir.AuditOutcome(outcome)
		rec.Cost = ir.Amount(cost)
		rec.Stolen = ir.Amount(stolen)
		rec.At = time.UnixMilli(atMil).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

// MaxAuditSeq returns the highest audit seq written, 0 when empty.
// The coordinator's clock resumes from it after a restart.
func (s *Store) MaxAuditSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM audit_records`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max audit seq: %w", err)
	}
	return seq, nil
}
