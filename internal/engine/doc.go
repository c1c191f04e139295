// Package engine implements the transaction coordinator: the only code that
// moves tokens on behalf of a paid action.
//
// ARCHITECTURE:
//
// The Coordinator is stateless between calls. Each Execute runs on the
// caller's goroutine and suspends only at the ledger, the effect applier and
// the notifier. Atomicity lives at the ledger boundary (Debit, Adjust, Take
// are atomic per account), so no coordinator-level lock exists and
// transactions on different accounts run fully in parallel.
//
// Paid effect (mute/deafen/disconnect):
//  1. Recompute the cost from the action parameters
//  2. Debit the actor (atomic check-and-charge)
//  3. Apply the effect with a bounded timeout
//  4. On failure refund the full cost; on success append an audit record
//
// Steal:
//  1. Recompute fee and success probability
//  2. Debit the fee (never refunded once the contest is decided)
//  3. Roll; on success Take min(amount, target balance) and credit the actor
//  4. Audit and announce both outcomes
//
// CRITICAL PATTERNS:
//
// Every debit is matched by a refund or an audited success. A refund that
// cannot be written after bounded retries is a REFUND_FAILED error, logged at
// error level with event=ledger_inconsistency, counted, and pushed to the
// notifier's Alert channel when it has one.
//
// Notifier failures never roll back a committed transaction; they are
// logged with event=notifier_failed.
//
// Quotes carried by a PendingAction are display-only. Cost and probability
// are always recomputed here.
package engine
