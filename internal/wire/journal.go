package wire

import "sync"

// eventJournal remembers the names of the most recent socket events, oldest
// first, overwriting the oldest once full. It backs the session status
// surface; nothing else reads it.
type eventJournal struct {
	mu    sync.Mutex
	names []string
	head  int
	count int
}

func newEventJournal(capacity int) *eventJournal {
	return &eventJournal{names: make([]string, capacity)}
}

func (j *eventJournal) push(name string) {
	j.mu.Lock()
	idx := (j.head + j.count) % len(j.names)
	j.names[idx] = name
	if j.count == len(j.names) {
		j.head = (j.head + 1) % len(j.names)
	} else {
		j.count++
	}
	j.mu.Unlock()
}

func (j *eventJournal) snapshot() []string {
	j.mu.Lock()
	out := make([]string, j.count)
	for i := 0; i < j.count; i++ {
		out[i] = j.names[(j.head+i)%len(j.names)]
	}
	j.mu.Unlock()
	return out
}
