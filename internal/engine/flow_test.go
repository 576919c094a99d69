package engine

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naitro2010/PartialAnimationReplacer/internal/testutil"
)

func TestUUIDv7Generator_ValidFormat(t *testing.T) {
	token := UUIDv7Generator{}.Generate()

	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, token)

	parsed, err := uuid.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestUUIDv7Generator_Concurrent(t *testing.T) {
	gen := UUIDv7Generator{}
	const goroutines = 100

	tokens := make(chan string, goroutines)
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens <- gen.Generate()
		}()
	}

	wg.Wait()
	close(tokens)

	seen := make(map[string]bool)
	for token := range tokens {
		require.False(t, seen[token], "duplicate token generated")
		seen[token] = true
	}
	assert.Len(t, seen, goroutines)
}

func TestEngine_EnqueueAssignsToken(t *testing.T) {
	e := New(nil, nil, nil, nil, WithTokenGenerator(testutil.NewFixedTokenGenerator("tok")))

	require.True(t, e.Enqueue(Event{Type: EventEvaluate}))
	require.True(t, e.Enqueue(Event{Type: EventEvaluate, Token: "given"}))

	first, ok := e.queue.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "tok", first.Token)

	second, ok := e.queue.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "given", second.Token)
}
