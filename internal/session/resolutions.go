package session

import (
	"context"
	"sync"

	"github.com/roach88/tokenbot/internal/ir"
)

// ResolutionLog records which correlation tokens have been executed.
//
// ClaimResolution must be atomic: of any number of concurrent claims for one
// token exactly one returns true. store.Store implements this durably so a
// restart does not reopen confirmed actions.
type ResolutionLog interface {
	ClaimResolution(ctx context.Context, token, actorID string, action ir.ActionKind) (bool, error)
	IsResolved(ctx context.Context, token string) (bool, error)
}

// MemoryResolutions is a process-local ResolutionLog.
type MemoryResolutions struct {
	mu     sync.Mutex
	tokens map[string]struct{}
}

// NewMemoryResolutions creates an empty log.
func NewMemoryResolutions() *MemoryResolutions {
	return &MemoryResolutions{tokens: make(map[string]struct{})}
}

// ClaimResolution marks token resolved and reports whether this call did it.
func (r *MemoryResolutions) ClaimResolution(_ context.Context, token, _ string, _ ir.ActionKind) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[token]; ok {
		return false, nil
	}
	r.tokens[token] = struct{}{}
	return true, nil
}

// IsResolved reports whether token was claimed.
func (r *MemoryResolutions) IsResolved(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tokens[token]
	return ok, nil
}
