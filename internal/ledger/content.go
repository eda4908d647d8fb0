// internal/ledger/content.go
package ledger

import (
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
)

// NewContentRef returns an opaque content reference in the "Qm..." form
// used when the issuer attaches no document of their own.
func NewContentRef() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("content ref: %w", err)
	}
	return "Qm" + base58.Encode(buf), nil
}
