package engine

import (
	"sync"
)

// DebugTap receives the raw material of a turn for development and recording.
// Calls are best-effort and must not block.
type DebugTap interface {
	OnPrompt(prompt Prompt)
	OnFragment(fragment string)
}

// RecordingTap keeps the prompt and every fragment in memory. It is safe for
// concurrent use.
type RecordingTap struct {
	mu        sync.Mutex
	prompt    Prompt
	fragments []string
}

var _ DebugTap = (*RecordingTap)(nil)

func (r *RecordingTap) OnPrompt(prompt Prompt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompt = prompt
}

func (r *RecordingTap) OnFragment(fragment string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fragments = append(r.fragments, fragment)
}

func (r *RecordingTap) Prompt() Prompt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prompt
}

func (r *RecordingTap) Fragments() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.fragments...)
}
