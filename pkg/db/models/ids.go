package models

import "github.com/google/uuid"

// ensureID assigns a random v4 id when the caller left it zero.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
