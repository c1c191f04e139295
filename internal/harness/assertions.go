package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/ledger"
	"github.com/roach88/tokenbot/internal/testutil"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			status := "ok"
			if !ev.OK {
				status = ev.Reason
			}
			fmt.Fprintf(&buf, "  [%d] %s by %s: %s\n", ev.Seq, ev.Event, ev.Actor, status)
		}
	}
	return buf.String()
}

// AssertionContext is what the fixture observed besides the trace.
type AssertionContext struct {
	Ctx           context.Context
	Ledger        ledger.Store
	Audits        []ir.AuditRecord
	Announcements []string
	Effects       []testutil.ApplyCall
}

// EvaluateAssertions checks every assertion and returns the failures.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string
	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertBalance:
			if actx == nil || actx.Ledger == nil {
				err = fmt.Errorf("assertion[%d]: balance requires a ledger", i)
			} else {
				err = assertBalance(actx.Ctx, actx.Ledger, assertion)
			}
		case AssertAuditCount:
			err = assertCount(AssertAuditCount, "audit records", len(actxAudits(actx)), assertion.Count)
		case AssertEffectCount:
			err = assertEffectCount(actxEffects(actx), assertion)
		case AssertAnnouncementContains:
			err = assertAnnouncementContains(actxAnnouncements(actx), assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}
		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

func assertBalance(ctx context.Context, l ledger.Store, a Assertion) error {
	want, err := ir.ParseAmount(a.Expect)
	if err != nil {
		return err
	}
	got, err := l.Balance(ctx, a.User)
	if err != nil {
		return fmt.Errorf("read balance of %s: %w", a.User, err)
	}
	if got != want {
		return &AssertionError{
			Type:     AssertBalance,
			Expected: fmt.Sprintf("%s has %s", a.User, want),
			Actual:   fmt.Sprintf("%s has %s", a.User, got),
		}
	}
	return nil
}

func assertCount(kind, what string, got, want int) error {
	if got != want {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%d %s", want, what),
			Actual:   fmt.Sprintf("%d %s", got, what),
		}
	}
	return nil
}

func assertEffectCount(calls []testutil.ApplyCall, a Assertion) error {
	n := 0
	for _, c := range calls {
		if a.Target == "" || c.TargetID == a.Target {
			n++
		}
	}
	what := "effect calls"
	if a.Target != "" {
		what += " on " + a.Target
	}
	return assertCount(AssertEffectCount, what, n, a.Count)
}

func assertAnnouncementContains(announcements []string, a Assertion) error {
	for _, text := range announcements {
		if strings.Contains(text, a.Text) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertAnnouncementContains,
		Expected: fmt.Sprintf("an announcement containing %q", a.Text),
		Actual:   fmt.Sprintf("%q", announcements),
	}
}

// assertTraceOrder checks that events appear in order. Other events may
// come in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		for _, want := range a.Events {
			if ev.Event == want && positions[want] == 0 {
				positions[want] = i + 1
			}
		}
	}

	for _, want := range a.Events {
		if positions[want] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", a.Events),
				Actual:   fmt.Sprintf("missing event: %s", want),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Events); i++ {
		prev, curr := a.Events[i-1], a.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Event == a.Event {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d occurrences", n),
			Trace:    trace,
		}
	}
	return nil
}

func actxAudits(actx *AssertionContext) []ir.AuditRecord {
	if actx == nil {
		return nil
	}
	return actx.Audits
}

func actxEffects(actx *AssertionContext) []testutil.ApplyCall {
	if actx == nil {
		return nil
	}
	return actx.Effects
}

func actxAnnouncements(actx *AssertionContext) []string {
	if actx == nil {
		return nil
	}
	return actx.Announcements
}
