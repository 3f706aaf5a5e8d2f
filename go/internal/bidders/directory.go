// Package bidders resolves bidder ids to display names. It is a read-side
// projection consulted only after a bid is committed, never inside the
// conditional update.
package bidders

import (
	"context"
	"sync"
)

// Directory looks up a bidder's display name.
type Directory interface {
	DisplayName(ctx context.Context, bidderID string) (string, bool)
}

// Static is an in-memory directory seeded from configuration.
type Static struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewStatic(names map[string]string) *Static {
	s := &Static{names: make(map[string]string, len(names))}
	for id, name := range names {
		s.names[id] = name
	}
	return s
}

func (s *Static) DisplayName(_ context.Context, bidderID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.names[bidderID]
	return name, ok
}

// Set registers or replaces a display name.
func (s *Static) Set(bidderID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[bidderID] = name
}

// Resolve returns the display name, falling back to the id itself.
func Resolve(ctx context.Context, d Directory, bidderID string) string {
	if d == nil || bidderID == "" {
		return bidderID
	}
	if name, ok := d.DisplayName(ctx, bidderID); ok && name != "" {
		return name
	}
	return bidderID
}
