package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainAudit    = "tokenbot/audit/v1"
	DomainSnapshot = "tokenbot/snapshot/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// AuditID computes the content-addressed ID of an audit record.
//
// DESIGN DECISION: At (wall-clock time) is EXCLUDED. The ID names what
// happened, so re-emitting the same resolution under a different clock
// yields the same ID and sinks can deduplicate on it.
func AuditID(rec AuditRecord) (string, error) {
	obj := map[string]any{
		"seq":       rec.Seq,
		"token":     rec.Token,
		"actor_id":  rec.ActorID,
		"target_id": rec.TargetID,
		"action":    rec.Action,
		"cost":      rec.Cost,
		"outcome":   rec.Outcome,
	}
	if rec.DurationSeconds != 0 {
		obj["duration_seconds"] = rec.DurationSeconds
	}
	if rec.Action == ActionSteal {
		obj["stolen"] = rec.Stolen
		obj["probability"] = rec.Probability
		obj["roll"] = rec.Roll
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("AuditID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainAudit, canonical), nil
}

// MustAuditID is like AuditID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustAuditID(rec AuditRecord) string {
	id, err := AuditID(rec)
	if err != nil {
		panic(err)
	}
	return id
}

// SnapshotDigest hashes a ledger snapshot. Accounts are hashed in the order
// given; callers sort them first.
func SnapshotDigest(accounts []Account) (string, error) {
	list := make([]any, len(accounts))
	for i, a := range accounts {
		list[i] = map[string]any{
			"user_id": a.UserID,
			"balance": a.Balance,
		}
	}
	canonical, err := MarshalCanonical(list)
	if err != nil {
		return "", fmt.Errorf("SnapshotDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}
