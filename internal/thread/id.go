package thread

import "github.com/google/uuid"

const threadIDPrefix = "thread_"

// NewThreadID returns "thread_" followed by a UUIDv7. The 48-bit millisecond
// timestamp keeps ids sortable by creation time; the remaining 74 bits
// (12-bit sequence plus 62 random bits) make a collision between two ids
// minted in the same millisecond negligible.
func NewThreadID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return threadIDPrefix + id.String()
}
