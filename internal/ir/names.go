package ir

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeTarget canonicalizes a target node name: surrounding whitespace is
// dropped and the result is NFC normalized, so a name typed with decomposed
// characters still finds the node.
func NormalizeTarget(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
