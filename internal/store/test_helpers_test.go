package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/tokenbot/internal/ir"
)

// createTestStore creates a new temporary database for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestAudit creates an audit record with its content-addressed ID.
func createTestAudit(seq int64, actor, target string) ir.AuditRecord {
	rec := ir.AuditRecord{
		Seq:      seq,
		Token:    fmt.Sprintf("tok-%d", seq),
		ActorID:  actor,
		TargetID: target,
		Action:   ir.ActionDisconnect,
		Cost:     ir.Tokens(1),
		Outcome:  ir.OutcomeApplied,
		At:       time.UnixMilli(1_700_000_000_000 + seq).UTC(),
	}
	rec.ID = ir.MustAuditID(rec)
	return rec
}
