package scene

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/naitro2010/PartialAnimationReplacer/internal/ir"
)

// File is the YAML form of a scene.
//
//	primary:
//	  id: "14"
//	  attributes: {race: Nord}
//	  nodes:
//	    "NPC R Hand [RHnd]": {translation: [0, 1, 0]}
//	subjects:
//	  - id: "1A2B3"
//	    loaded: false
type File struct {
	Primary  *ActorSpec  `yaml:"primary,omitempty"`
	Subjects []ActorSpec `yaml:"subjects,omitempty"`
}

// ActorSpec describes one actor in a scene file.
type ActorSpec struct {
	ID         string              `yaml:"id"`
	Attributes map[string]any      `yaml:"attributes,omitempty"`
	Nodes      map[string]NodeSpec `yaml:"nodes,omitempty"`

	// Loaded defaults to true.
	Loaded *bool `yaml:"loaded,omitempty"`
}

// NodeSpec is a node transform; omitted components take identity values.
type NodeSpec struct {
	Rotation    *ir.Matrix3 `yaml:"rotation,omitempty"`
	Translation *ir.Vec3    `yaml:"translation,omitempty"`
	Scale       *float64    `yaml:"scale,omitempty"`
}

// Transform resolves n against identity defaults.
func (n NodeSpec) Transform() ir.Transform {
	t := ir.Identity()
	if n.Rotation != nil {
		t.Rotation = *n.Rotation
	}
	if n.Translation != nil {
		t.Translation = *n.Translation
	}
	if n.Scale != nil {
		t.Scale = *n.Scale
	}
	return t
}

// LoadFile reads a YAML scene file.
func LoadFile(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes YAML scene data.
func Parse(data []byte) (*Scene, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse scene YAML: %w", err)
	}
	return f.Build()
}

// Build materializes the file into a Scene.
func (f *File) Build() (*Scene, error) {
	s := &Scene{}
	seen := make(map[ir.SubjectID]bool)

	if f.Primary != nil {
		a, err := f.Primary.build()
		if err != nil {
			return nil, fmt.Errorf("primary: %w", err)
		}
		s.primary = a
		seen[a.id] = true
	}

	for i, spec := range f.Subjects {
		a, err := spec.build()
		if err != nil {
			return nil, fmt.Errorf("subjects[%d]: %w", i, err)
		}
		if seen[a.id] {
			return nil, fmt.Errorf("subjects[%d]: duplicate subject id %s", i, a.id)
		}
		seen[a.id] = true
		s.others = append(s.others, a)
	}

	return s, nil
}

func (spec ActorSpec) build() (*Actor, error) {
	id, err := ir.ParseSubjectID(spec.ID)
	if err != nil {
		return nil, err
	}
	a := NewActor(id, spec.Attributes)
	for name, node := range spec.Nodes {
		a.graph.Set(name, node.Transform())
	}
	if spec.Loaded != nil {
		a.loaded = *spec.Loaded
	}
	return a, nil
}
