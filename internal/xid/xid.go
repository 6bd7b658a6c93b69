package xid

import (
	"github.com/google/uuid"
)

// New returns a prefixed identifier such as "sale-3f0c...". The prefix keeps
// IDs readable in logs and audit entries.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "-" + id.String()
}
