// Package engine runs the replacer's two roles.
//
// ARCHITECTURE:
//
// Management role:
// A single Run goroutine owns every mutation. It drains a FIFO event queue
// (Reload, ReloadAll, Evaluate), drives the loader, and rebuilds the
// published snapshot with Evaluate. Only this role takes the rule store's
// mutex.
//
// Cycle role:
// ApplyPass is called once per output cycle from the caller's goroutine. It
// loads the published snapshot exactly once and applies each subject's
// matched rule. It never touches the store, so it never waits on the
// management role.
//
// Event Processing Flow:
//  1. Watchers and timers call Enqueue (or Notify) from any goroutine
//  2. Run dequeues one event at a time
//  3. Reload and ReloadAll go through the loader, which blanks the snapshot
//  4. Every reload is followed by an Evaluate to restore coverage
//
// Snapshot generations come from a monotonic Clock. A blanked snapshot keeps
// the generation of the one it replaced.
package engine
