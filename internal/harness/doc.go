// Package harness runs economy scenarios against a real dispatcher.
//
// A scenario seeds an in-memory ledger, feeds a list of chat events through
// bot.Bot.Handle and checks the results, the final balances, and what the
// applier and notifier saw. Effects, rolls, tokens and time are all
// deterministic, so the trace of a scenario is stable enough to compare
// against a golden file.
//
// # Scenario Format
//
//	name: steal_success
//	description: "Steal 4 from a target holding 3 with a winning roll"
//	roster: [alice, bob]
//	balances: { alice: "10", bob: "3" }
//	rolls: [0]
//	fail_effects: { carol: not_in_voice }
//	flow:
//	  - event: steal_requested
//	    user: alice
//	    target: bob
//	    amount: 4
//	    expect: { ok: true, state: action_chosen, cost: "2.0" }
//	  - event: confirm_requested
//	    user: alice
//	    expect: { ok: true, outcome: steal_won, balance: "11.0" }
//	assertions:
//	  - type: balance
//	    user: bob
//	    expect: "0.0"
//	  - type: audit_count
//	    count: 1
//
// Events are named as bot.Event.Name reports them. Steps that continue a
// session use the acting user's most recent token unless token is given.
//
// # Assertion Types
//
//   - balance: the user's final balance equals expect
//   - audit_count: the notifier received exactly count audit records
//   - effect_count: the applier was called count times (for target, if set)
//   - announcement_contains: some public announcement contains text
//   - trace_order: the events appear in the given order
//   - trace_count: the event appears exactly count times
package harness
