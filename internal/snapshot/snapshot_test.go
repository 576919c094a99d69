package snapshot

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naitro2010/PartialAnimationReplacer/internal/ir"
	"github.com/naitro2010/PartialAnimationReplacer/internal/rules"
	"github.com/naitro2010/PartialAnimationReplacer/internal/testutil"
)

func testRule(t *testing.T, source string) *rules.Rule {
	t.Helper()
	r, err := rules.New(testutil.MatchAll(ir.OverrideFor("A", ir.Identity())), source)
	require.NoError(t, err)
	return r
}

func TestSnapshotLookup(t *testing.T) {
	r := testRule(t, "a")
	s := New(3, map[ir.SubjectID]*rules.Rule{0x14: r, 0x200: r})

	got, ok := s.Lookup(0x14)
	require.True(t, ok)
	assert.Same(t, r, got)

	_, ok = s.Lookup(0x999)
	assert.False(t, ok)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, int64(3), s.Generation())
	assert.Equal(t, []ir.SubjectID{0x14, 0x200}, s.Subjects())
}

func TestEmptySnapshot(t *testing.T) {
	s := Empty(7)

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, int64(7), s.Generation())
	_, ok := s.Lookup(ir.PrimarySubject)
	assert.False(t, ok)
}

func TestPublisherStartsEmpty(t *testing.T) {
	p := NewPublisher()

	s := p.Load()
	require.NotNil(t, s)
	assert.Equal(t, 0, s.Len())
}

func TestExchangeReturnsPrevious(t *testing.T) {
	p := NewPublisher()
	first := p.Load()

	next := New(1, map[ir.SubjectID]*rules.Rule{1: testRule(t, "a")})
	prev := p.Exchange(next)

	assert.Same(t, first, prev)
	assert.Same(t, next, p.Load())

	prev = p.Exchange(nil)
	assert.Same(t, next, prev)
	assert.NotNil(t, p.Load(), "nil exchange installs an empty snapshot")
	assert.Equal(t, 0, p.Load().Len())
}

func TestStaleReferenceStaysConsistent(t *testing.T) {
	p := NewPublisher()
	r := testRule(t, "a")
	p.Exchange(New(1, map[ir.SubjectID]*rules.Rule{1: r}))

	held := p.Load()
	p.Exchange(Empty(2))

	got, ok := held.Lookup(1)
	require.True(t, ok, "held snapshot is unaffected by the exchange")
	assert.Same(t, r, got)
	assert.Equal(t, 0, p.Load().Len())
}

// Each published snapshot maps subjects 0..n-1 all to the same rule, and the
// generation equals n. A reader must never observe a mix.
func TestConcurrentLoadDuringExchange(t *testing.T) {
	p := NewPublisher()
	ruleSet := []*rules.Rule{testRule(t, "a"), testRule(t, "b"), testRule(t, "c")}

	build := func(gen int) *Snapshot {
		r := ruleSet[gen%len(ruleSet)]
		entries := make(map[ir.SubjectID]*rules.Rule, gen)
		for i := 0; i < gen; i++ {
			entries[ir.SubjectID(i)] = r
		}
		return New(int64(gen), entries)
	}

	const writes = 200
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := p.Load()
				if !assert.NotNil(t, s) {
					return
				}
				n := int(s.Generation())
				if n == 0 {
					continue
				}
				assert.Equal(t, n, s.Len())
				want, _ := s.Lookup(0)
				for id := 0; id < n; id++ {
					got, ok := s.Lookup(ir.SubjectID(id))
					assert.True(t, ok)
					assert.Same(t, want, got)
				}
			}
		}()
	}

	for gen := 1; gen <= writes; gen++ {
		p.Exchange(build(gen%20 + 1))
	}
	close(stop)
	wg.Wait()
}
