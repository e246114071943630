//go:build debug

package debug

// Enabled guards assertions that are themselves too expensive for release
// builds, i.e. `if debug.Enabled { ... }`.
const Enabled = true

// Assert panics with message if b is false.
func Assert(b bool, message string) {
	if !b {
		panic(message)
	}
}
