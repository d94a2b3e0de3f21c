package xid

import "github.com/google/uuid"

// New returns a prefixed random identifier, e.g. "sale-2f1c...".
func New(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "-" + uuid.NewString()
}
