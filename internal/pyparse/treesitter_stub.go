//go:build !cgo

package pyparse

import "context"

// TreeSitterAvailable reports whether the tree-sitter grammar is compiled in.
// Builds without cgo parse with the lenient scanner only.
func TreeSitterAvailable() bool {
	return false
}

func parseTree(ctx context.Context, src []byte, modulePath string) (extraction, bool, error) {
	return extraction{}, false, errNoTreeSitter
}
