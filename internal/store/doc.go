// Package store provides the SQLite-backed ledger, the confirmation claim
// log and the audit table.
//
// Tables:
//   - accounts: user id → balance in tenths of a token
//   - resolutions: one row per confirmed correlation token
//   - audit_records: content-addressed audit trail
//
// # Critical Patterns
//
// Atomic balance changes
//   - Every ledger mutation is a single statement with a guard in its WHERE
//     clause (balance >= ?), or a transaction on the single connection
//   - accounts.balance carries CHECK (balance >= 0) as a last line of defense
//
// Exactly-once confirmation
//   - resolutions.token is the primary key; ClaimResolution inserts with
//     ON CONFLICT DO NOTHING and reports whether this caller won
//
// Deterministic reads
//   - Audit queries use ORDER BY seq ASC, id ASC COLLATE BINARY
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Every I/O failure surfaces wrapped in ledger.ErrStoreUnavailable.
package store
