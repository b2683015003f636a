package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/c360/edgesync/types"
)

// MemoryLog mirrors the JetStream log semantics over in-process queues:
// fetched entries stay queued until acknowledged. It backs unit tests of the
// dispatcher and drainer.
type MemoryLog struct {
	mu     sync.Mutex
	queues map[types.EdgeID][]*memEntry
}

type memEntry struct {
	entry   Entry
	fetched bool
}

// NewMemoryLog creates an empty in-memory event log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{queues: make(map[types.EdgeID][]*memEntry)}
}

// Append queues an entry for its edge.
func (l *MemoryLog) Append(_ context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.queues[entry.EdgeID] = append(l.queues[entry.EdgeID], &memEntry{entry: entry})
	return nil
}

// Fetch returns up to batch unfetched entries for the edge in append order.
func (l *MemoryLog) Fetch(_ context.Context, edge types.EdgeID, batch int) ([]Pending, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var pending []Pending
	for _, me := range l.queues[edge] {
		if len(pending) >= batch {
			break
		}
		if me.fetched {
			continue
		}
		me.fetched = true
		me := me
		pending = append(pending, Pending{
			Entry: me.entry,
			Ack: func() error {
				l.remove(edge, me)
				return nil
			},
			Nak: func() error {
				l.mu.Lock()
				defer l.mu.Unlock()
				me.fetched = false
				return nil
			},
		})
	}
	return pending, nil
}

func (l *MemoryLog) remove(edge types.EdgeID, target *memEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	queue := l.queues[edge]
	for i, me := range queue {
		if me == target {
			l.queues[edge] = append(queue[:i], queue[i+1:]...)
			return
		}
	}
}

// Depth reports how many entries are queued for the edge.
func (l *MemoryLog) Depth(_ context.Context, edge types.EdgeID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues[edge]), nil
}

// Entries returns a snapshot of the edge's queue, newest last. Test helper.
func (l *MemoryLog) Entries(edge types.EdgeID) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(l.queues[edge]))
	for _, me := range l.queues[edge] {
		out = append(out, me.entry)
	}
	return out
}
