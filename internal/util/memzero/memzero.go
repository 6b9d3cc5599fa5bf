// Package memzero wipes key material once it is no longer needed.
package memzero

import "runtime"

// Zero clears b. KeepAlive stops the compiler from treating the writes as dead.
func Zero(b []byte) {
	clear(b)
	runtime.KeepAlive(b)
}

// Release clears *b and nils the slice so it cannot be reused by mistake.
func Release(b *[]byte) {
	if b == nil {
		return
	}
	Zero(*b)
	*b = nil
}
