// Package ir provides the plain data types shared by every other package:
// transforms, overrides, frames, predicates and rule definitions.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps the definition model the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Definitions are values: once compiled they are never mutated
//   - All JSON tags use snake_case and match the on-disk definition format
//   - Target names are compared after NormalizeTarget (trimmed, NFC)
package ir
