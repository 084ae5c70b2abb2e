package chatclient

import (
	"sync"

	"vinochat/internal/models"
)

// Transcript is the append-only log of messages exchanged in one session.
// It is replayed in full on every chat request.
type Transcript struct {
	mu      sync.RWMutex
	entries []models.Message
}

// Append records a message and returns the new length.
func (t *Transcript) Append(role models.Role, content string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, models.Message{Role: role, Content: content})
	return len(t.entries)
}

// Snapshot returns a copy of the entries in conversation order.
func (t *Transcript) Snapshot() []models.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Message, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
