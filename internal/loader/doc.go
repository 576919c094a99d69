// Package loader turns a directory of definition files into rules.
//
// The definitions root holds one subdirectory per group and each group holds
// definition files (.json or .cue). Files at the root and directories nested
// inside a group are ignored, as are files with other extensions.
//
// LoadAll makes the rule store reflect the whole tree. ReloadOne handles a
// single changed path: it takes the store's exclusion, blanks the published
// snapshot, then upserts or removes the one rule. A definition that fails to
// compile or validate removes whatever rule its source produced earlier. The
// store and publisher are never left referencing a half-built rule, and no
// per-file failure is returned as an error; failures are logged, journaled
// and reported in the result.
package loader
