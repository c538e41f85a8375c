package scrape

// Queue is a FIFO of catalog entry ids. It is not safe for concurrent use;
// workers only touch it while holding the run's dequeue lock.
type Queue struct {
	ids []string
}

func NewQueue(ids []string) *Queue {
	q := &Queue{ids: make([]string, len(ids))}
	copy(q.ids, ids)
	return q
}

// Dequeue pops the oldest id; ok is false once the queue is drained.
func (q *Queue) Dequeue() (id string, ok bool) {
	if len(q.ids) == 0 {
		return "", false
	}
	id = q.ids[0]
	q.ids[0] = ""
	q.ids = q.ids[1:]
	return id, true
}

func (q *Queue) Len() int {
	return len(q.ids)
}
