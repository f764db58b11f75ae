package orchestrator

import "sync"

// threadLocks tracks which threads currently have a turn in flight. Acquire
// never blocks: a busy thread is reported, not queued, so the caller can
// return a conversation-busy error immediately.
type threadLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newThreadLocks() *threadLocks {
	return &threadLocks{held: make(map[string]struct{})}
}

func (l *threadLocks) acquire(threadID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[threadID]; busy {
		return false
	}

	l.held[threadID] = struct{}{}

	return true
}

func (l *threadLocks) release(threadID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, threadID)
}
