// Package harness runs replacer scenarios end to end.
//
// A scenario lays out definition files in a scratch definitions root, builds
// a scene, drives the loader and engine through a list of steps and then
// checks assertions against the resulting trace, snapshot and scene.
//
// # Scenario Format
//
//	name: first_match_wins
//	description: "Earlier groups shadow later ones"
//	definitions:
//	  - group: A
//	    name: hands.json
//	    content: |
//	      {"frames": [[{"target": "NPC R Hand [RHnd]", "translation": [1, 0, 0]}]]}
//	scene:
//	  primary:
//	    id: "14"
//	    nodes:
//	      "NPC R Hand [RHnd]": {}
//	steps:
//	  - action: load_all
//	  - action: evaluate
//	  - action: apply
//	assertions:
//	  - type: matched
//	    subject: "14"
//	    rule: A/hands.json
//	  - type: transform
//	    subject: "14"
//	    node: "NPC R Hand [RHnd]"
//	    translation: [1, 0, 0]
//
// # Steps
//
//   - load_all: LoadAll over the scratch root
//   - write: write group/name with content (no reload)
//   - delete: remove group/name (no reload)
//   - reload: ReloadOne for group/name
//   - evaluate: publish a fresh snapshot
//   - apply: one apply pass over the scene
//
// # Assertion Types
//
//   - matched / unmatched: snapshot entry for a subject
//   - transform: node transform after the steps
//   - updates: how often a subject's graph was marked updated
//   - rules: number of active rules
//   - generation: generation of the published snapshot
//   - journal: journal entries for a source, optionally by outcome
//   - trace_count / trace_order: step and load events in the trace
//
// # Deterministic Testing
//
// Every scenario runs against a fresh definitions root, a fresh in-memory
// journal, a generation clock starting at zero and a fixed correlation
// token. Paths in the trace are relative to the definitions root, so traces
// compare byte for byte against golden files.
package harness
