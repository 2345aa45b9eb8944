//go:build cgo

package engine

// CGOEnabled reports whether automerge is linked in. The automerge bindings
// require cgo; tests skip when it's unavailable.
const CGOEnabled = true
