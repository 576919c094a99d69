// Package scene defines the collaborators the replacer core consumes but does
// not own: subjects, their target graphs, and the population enumerating them.
//
// The core only depends on the interfaces. Scene is an in-memory implementation
// loadable from YAML, used by the CLI, the scenario harness and tests.
package scene
