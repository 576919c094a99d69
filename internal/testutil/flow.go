package testutil

// FixedTokenGenerator returns the same correlation token every time.
//
// This keeps engine log output and harness traces deterministic.
//
// Thread-safety: FixedTokenGenerator is stateless and safe for concurrent use.
type FixedTokenGenerator struct {
	token string
}

// NewFixedTokenGenerator creates a fixed token generator.
//
// If token is empty, Generate() returns "test-token-default".
func NewFixedTokenGenerator(token string) *FixedTokenGenerator {
	if token == "" {
		token = "test-token-default"
	}
	return &FixedTokenGenerator{token: token}
}

// Generate returns the fixed token.
//
// Implements engine.TokenGenerator interface.
func (g *FixedTokenGenerator) Generate() string {
	return g.token
}
