//go:build !debug

// Package debug provides assertions that compile to no-ops unless the debug
// build tag is set.
package debug

// Enabled guards assertions that are themselves too expensive for release
// builds, i.e. `if debug.Enabled { ... }`.
const Enabled = false

// Assert panics with message if b is false.
func Assert(b bool, message string) {}
