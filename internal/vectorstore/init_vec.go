//go:build sqlite_vec && cgo

package vectorstore

import (
	_ "github.com/mattn/go-sqlite3"
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// driverName selects the mattn/go-sqlite3 cgo driver, which the sqlite-vec
// extension below attaches itself to.
const driverName = "sqlite3"

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver so
	// ANN search can run through the real vec0 module instead of the
	// pure-Go fallback in vec_compat.go.
	vec.Auto()
}
