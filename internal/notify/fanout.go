package notify

import (
	"context"
	"errors"

	"github.com/roach88/tokenbot/internal/ir"
)

// Sink is what Fanout delivers to. Sinks that also implement Alert receive
// alerts.
type Sink interface {
	Audit(ctx context.Context, rec ir.AuditRecord) error
	AnnouncePublic(ctx context.Context, text string) error
}

type alerter interface {
	Alert(ctx context.Context, text string) error
}

// Fanout delivers to every sink and joins their errors.
type Fanout []Sink

// Audit delivers rec to every sink.
func (f Fanout) Audit(ctx context.Context, rec ir.AuditRecord) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.Audit(ctx, rec))
	}
	return errors.Join(errs...)
}

// AnnouncePublic delivers text to every sink.
func (f Fanout) AnnouncePublic(ctx context.Context, text string) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.AnnouncePublic(ctx, text))
	}
	return errors.Join(errs...)
}

// Alert delivers text to every sink that can alert.
func (f Fanout) Alert(ctx context.Context, text string) error {
	var errs []error
	for _, s := range f {
		if a, ok := s.(alerter); ok {
			errs = append(errs, a.Alert(ctx, text))
		}
	}
	return errors.Join(errs...)
}
