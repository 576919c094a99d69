// Package rules implements runtime rules and the ordered rule store.
//
// A Rule is built once from an ir.RuleDefinition and never mutated, so any
// number of goroutines may evaluate it concurrently.
//
// The Store keeps rules in priority order (first match wins) together with
// an index from definition source to position. A single mutex guards both;
// mutation is rare (file-system events) and callers that need several steps
// under one exclusion use Update or Read.
package rules
