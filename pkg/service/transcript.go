package service

import (
	"sync"
	"time"

	"github.com/dialectica/dialectica/pkg/models"
)

// Transcript accumulates chat messages during a live debate. Streaming
// fragments are cumulative snapshots of the message being spoken, so applying
// a fragment replaces the last entry when it belongs to the same persona and
// appends a new entry otherwise.
type Transcript struct {
	mu       sync.Mutex
	messages []models.ChatMessage
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Apply folds one cumulative fragment into the transcript and returns the
// index of the affected message.
func (t *Transcript) Apply(personaName, text string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UnixMilli()
	n := len(t.messages)

	if n > 0 && t.messages[n-1].PersonaName == personaName {
		t.messages[n-1].Message = text
		t.messages[n-1].Timestamp = now
		return n - 1
	}
	t.messages = append(t.messages, models.ChatMessage{
		PersonaName: personaName,
		Message:     text,
		Timestamp:   now,
	})
	return n
}

// Snapshot returns a copy of the full transcript.
func (t *Transcript) Snapshot() models.ChatLog {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(models.ChatLog, len(t.messages))
	copy(out, t.messages)
	return out
}

// Window returns a copy of the last n messages (all of them when fewer exist).
func (t *Transcript) Window(n int) models.ChatLog {
	t.mu.Lock()
	defer t.mu.Unlock()
	start := len(t.messages) - n
	if start < 0 {
		start = 0
	}
	out := make(models.ChatLog, len(t.messages)-start)
	copy(out, t.messages[start:])
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}
