package engine

import "github.com/google/uuid"

// TokenGenerator produces correlation tokens for engine events.
// Implemented by UUIDv7Generator (production) and
// testutil.FixedTokenGenerator (tests).
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 tokens, so log lines and
// journal entries for one event sort by when the event was enqueued.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
