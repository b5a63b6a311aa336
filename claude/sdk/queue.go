package sdk

import "sync"

// responseQueue holds serialized control responses until they are flushed
// to the CLI. Order of push is the order of delivery.
type responseQueue struct {
	mu    sync.Mutex
	lines []string
}

func (q *responseQueue) push(line string) {
	q.mu.Lock()
	q.lines = append(q.lines, line)
	q.mu.Unlock()
}

// drain takes every queued line, leaving the queue empty.
func (q *responseQueue) drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	lines := q.lines
	q.lines = nil
	return lines
}

// requeue puts unsent lines back in front of anything queued since drain.
func (q *responseQueue) requeue(lines []string) {
	if len(lines) == 0 {
		return
	}
	q.mu.Lock()
	q.lines = append(append([]string(nil), lines...), q.lines...)
	q.mu.Unlock()
}

func (q *responseQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lines)
}
