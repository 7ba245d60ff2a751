package xid

import (
	"github.com/google/uuid"
)

// New returns a prefixed random identifier, e.g. "shift-3f0c...".
func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Key returns a bare UUID, used for client-generated idempotency keys.
func Key() string {
	return uuid.NewString()
}
