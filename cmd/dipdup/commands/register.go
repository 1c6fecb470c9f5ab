package commands

import "github.com/dipdup-net/indexer/internal/callback"

// Register is set by a generated project's own main package before calling
// Execute, binding handler/hook names declared in YAML to the Go functions
// that implement them. A name referenced in config with no corresponding call
// here surfaces as HandlerImportError the first time it would fire — the Go
// analogue of dipdup-py's dynamic `package.handlers` import (spec.md §7).
var Register func(mgr *callback.Manager)

func registerCallbacks(mgr *callback.Manager) {
	if Register != nil {
		Register(mgr)
	}
}
