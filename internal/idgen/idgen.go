// Package idgen centralizes UUID generation so every identifier in the
// system (message ids, client ids) is produced the same way.
package idgen

import "github.com/google/uuid"

// New returns a fresh UUID v4 string.
func New() string {
	return uuid.NewString()
}
