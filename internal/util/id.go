// Package util provides shared logging, identity and statistics helpers.
package util

import (
	"github.com/google/uuid"
)

// ShortID renders the first four bytes of id as eight hex digits, the form
// used to tag connections and tasks in log lines.
func ShortID(id uuid.UUID) string {
	return id.String()[:8]
}
