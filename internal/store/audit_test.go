package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/roach88/tokenbot/internal/ir"
)

func TestClaimResolution_FirstCallerWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	claimed, err := s.ClaimResolution(ctx, "tok-1", "alice", ir.ActionMute)
	if err != nil {
		t.Fatalf("ClaimResolution() failed: %v", err)
	}
	if !claimed {
		t.Fatal("first claim should win")
	}

	claimed, err = s.ClaimResolution(ctx, "tok-1", "alice", ir.ActionMute)
	if err != nil {
		t.Fatalf("second ClaimResolution() failed: %v", err)
	}
	if claimed {
		t.Error("second claim of the same token must not win")
	}

	resolved, err := s.IsResolved(ctx, "tok-1")
	if err != nil {
		t.Fatalf("IsResolved() failed: %v", err)
	}
	if !resolved {
		t.Error("IsResolved() = false after claim")
	}
}

func TestClaimResolution_Concurrent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.ClaimResolution(ctx, "tok-race", "alice", ir.ActionSteal)
			if err != nil {
				t.Errorf("ClaimResolution() failed: %v", err)
				return
			}
			if claimed {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Errorf("winners = %d, want exactly 1", winners.Load())
	}
}

func TestAudit_WriteIsIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rec := createTestAudit(1, "alice", "bob")

	if err := s.Audit(ctx, rec); err != nil {
		t.Fatalf("Audit() failed: %v", err)
	}
	if err := s.Audit(ctx, rec); err != nil {
		t.Fatalf("duplicate Audit() failed: %v", err)
	}

	records, err := s.ReadAudit(ctx, AuditFilter{})
	if err != nil {
		t.Fatalf("ReadAudit() failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0] != rec {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", records[0], rec)
	}
}

func TestReadAudit_FilterAndLimit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, pair := range [][2]string{
		{"alice", "bob"},
		{"carol", "dave"},
		{"bob", "carol"},
		{"alice", "carol"},
	} {
		if err := s.Audit(ctx, createTestAudit(int64(i+1), pair[0], pair[1])); err != nil {
			t.Fatalf("Audit() failed: %v", err)
		}
	}

	byBob, err := s.ReadAudit(ctx, AuditFilter{UserID: "bob"})
	if err != nil {
		t.Fatalf("ReadAudit() failed: %v", err)
	}
	if len(byBob) != 2 || byBob[0].Seq != 1 || byBob[1].Seq != 3 {
		t.Errorf("bob filter returned %+v", byBob)
	}

	latest, err := s.ReadAudit(ctx, AuditFilter{Limit: 2})
	if err != nil {
		t.Fatalf("ReadAudit() failed: %v", err)
	}
	if len(latest) != 2 || latest[0].Seq != 3 || latest[1].Seq != 4 {
		t.Errorf("limit returned %+v, want seq 3 and 4 ascending", latest)
	}

	seq, err := s.MaxAuditSeq(ctx)
	if err != nil {
		t.Fatalf("MaxAuditSeq() failed: %v", err)
	}
	if seq != 4 {
		t.Errorf("MaxAuditSeq() = %d, want 4", seq)
	}
}

func TestMaxAuditSeq_Empty(t *testing.T) {
	s := createTestStore(t)

	seq, err := s.MaxAuditSeq(context.Background())
	if err != nil {
		t.Fatalf("MaxAuditSeq() failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("MaxAuditSeq() = %d, want 0", seq)
	}
}
