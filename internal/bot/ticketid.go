package bot

import (
	"crypto/rand"
	"fmt"
	"time"
)

// NewTicketID generates an externally visible ticket id: the creation
// time in milliseconds plus a short random suffix so concurrent
// creations within the same millisecond cannot collide.
func NewTicketID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("%d-%x", time.Now().UnixMilli(), b)
}
