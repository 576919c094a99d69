package scene

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naitro2010/PartialAnimationReplacer/internal/ir"
)

func TestMemoryGraphLookup(t *testing.T) {
	g := NewMemoryGraph()
	g.Set("NPC R Hand [RHnd]", ir.Identity())

	node := g.Lookup("NPC R Hand [RHnd]")
	require.NotNil(t, node)
	node.Scale = 2

	assert.Equal(t, 2.0, g.Lookup("NPC R Hand [RHnd]").Scale, "lookup returns the live node")
	assert.Nil(t, g.Lookup("missing"))
}

func TestMemoryGraphUpdates(t *testing.T) {
	g := NewMemoryGraph()
	assert.Equal(t, int64(0), g.Updates())

	g.MarkUpdated()
	g.MarkUpdated()
	assert.Equal(t, int64(2), g.Updates())
}

func TestActorUnloadedHasNoGraph(t *testing.T) {
	a := NewActor(0x100, nil)
	assert.NotNil(t, a.Graph())

	a.SetLoaded(false)
	assert.Nil(t, a.Graph())
	assert.NotNil(t, a.Nodes(), "nodes stay reachable for setup")
}

func TestSceneForEachStopsEarly(t *testing.T) {
	s := New(nil, NewActor(1, nil), NewActor(2, nil), NewActor(3, nil))

	var visited []ir.SubjectID
	s.ForEach(func(sub Subject) bool {
		visited = append(visited, sub.ID())
		return len(visited) < 2
	})

	assert.Equal(t, []ir.SubjectID{1, 2}, visited)
	assert.Nil(t, s.Primary())
}

func TestSceneActorLookup(t *testing.T) {
	player := NewActor(ir.PrimarySubject, nil)
	npc := NewActor(0x200, nil)
	s := New(player, npc)

	got, ok := s.Actor(ir.PrimarySubject)
	require.True(t, ok)
	assert.Same(t, player, got)

	got, ok = s.Actor(0x200)
	require.True(t, ok)
	assert.Same(t, npc, got)

	_, ok = s.Actor(0x300)
	assert.False(t, ok)

	assert.Len(t, s.Actors(), 2)
}

func TestParseScene(t *testing.T) {
	data := []byte(`
primary:
  id: "14"
  attributes:
    race: Nord
    level: 12
  nodes:
    "NPC R Hand [RHnd]":
      translation: [0, 1, 0]
subjects:
  - id: "0x1A2B3"
    attributes:
      race: Orc
  - id: "ff"
    loaded: false
`)

	s, err := Parse(data)
	require.NoError(t, err)

	primary := s.Primary()
	require.NotNil(t, primary)
	assert.Equal(t, ir.PrimarySubject, primary.ID())

	race, ok := primary.Attribute("race")
	require.True(t, ok)
	assert.Equal(t, "Nord", race)

	hand := primary.Graph().Lookup("NPC R Hand [RHnd]")
	require.NotNil(t, hand)
	assert.Equal(t, ir.Vec3{0, 1, 0}, hand.Translation)
	assert.Equal(t, ir.IdentityMatrix(), hand.Rotation, "omitted rotation defaults to identity")
	assert.Equal(t, 1.0, hand.Scale)

	var ids []ir.SubjectID
	var loaded []bool
	s.ForEach(func(sub Subject) bool {
		ids = append(ids, sub.ID())
		loaded = append(loaded, sub.Graph() != nil)
		return true
	})
	assert.Equal(t, []ir.SubjectID{0x1a2b3, 0xff}, ids)
	assert.Equal(t, []bool{true, false}, loaded)
}

func TestParseSceneErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad id", "subjects:\n  - id: nope\n"},
		{"duplicate id", "primary:\n  id: \"14\"\nsubjects:\n  - id: \"14\"\n"},
		{"unknown field", "actors: []\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestParseEmptyScene(t *testing.T) {
	s, err := Parse(nil)
	require.NoError(t, err)
	assert.Nil(t, s.Primary())
	assert.Empty(t, s.Actors())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.yaml")
	require.NoError(t, os.WriteFile(path, []byte("primary:\n  id: \"14\"\n"), 0644))

	s, err := LoadFile(path)
	require.NoError(t, err)
	assert.NotNil(t, s.Primary())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
