// Package journal provides a SQLite-backed log of definition load outcomes.
//
// Every file the loader processes produces one entry: the source path, the
// outcome (loaded, removed, failed or ignored), the rule name and content
// hash on success, and the failure reason otherwise. Entries are ordered by
// an autoincrement seq column; queries never order by wall time.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads while the loader writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//
// The journal is advisory. A write failure is logged by the loader and never
// affects which rules are active.
package journal
