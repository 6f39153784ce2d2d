package command

import (
	"container/heap"
	"fmt"
	"sort"
)

// DefaultQueueCapacity bounds a drone's queue when no capacity is given.
const DefaultQueueCapacity = 32

// pq orders by priority (highest first) then by arrival.
type pq []Command

func (q pq) Len() int { return len(q) }
func (q pq) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	return q[i].seq < q[j].seq
}
func (q pq) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *pq) Push(x any)   { *q = append(*q, x.(Command)) }
func (q *pq) Pop() any {
	old := *q
	n := len(old)
	c := old[n-1]
	*q = old[:n-1]
	return c
}

// Queue is one drone's bounded priority queue. It is not safe for
// concurrent use; the drone's worker owns it.
type Queue struct {
	items    pq
	seq      uint64
	capacity int
}

// NewQueue creates an empty queue.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{capacity: capacity}
}

func (q *Queue) Len() int { return len(q.items) }

// Peek returns the command that would be popped next.
func (q *Queue) Peek() (Command, bool) {
	if len(q.items) == 0 {
		return Command{}, false
	}
	return q.items[0], true
}

// Pop removes the highest-priority command.
func (q *Queue) Pop() (Command, bool) {
	if len(q.items) == 0 {
		return Command{}, false
	}
	return heap.Pop(&q.items).(Command), true
}

// Items returns the queued commands in execution order.
func (q *Queue) Items() []Command {
	out := append([]Command(nil), q.items...)
	sort.Slice(out, func(i, j int) bool { return pq(out).Less(i, j) })
	return out
}

// Any reports whether a queued command matches.
func (q *Queue) Any(match func(Command) bool) bool {
	for _, c := range q.items {
		if match(c) {
			return true
		}
	}
	return false
}

// Remove drops every queued command that matches and returns them marked
// rejected with the given reason.
func (q *Queue) Remove(match func(Command) bool, reason RejectReason) []Command {
	var removed []Command
	kept := q.items[:0]
	for _, c := range q.items {
		if match(c) {
			removed = append(removed, c.Rejected(reason))
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = Command{}
	}
	q.items = kept
	heap.Init(&q.items)
	return removed
}

// Push enqueues c, applying supersession first and overflow eviction second.
// It returns the commands that were displaced. When c itself cannot be
// queued the error wraps ErrSuperseded or ErrBusy and the queue is left
// untouched.
func (q *Queue) Push(c Command) ([]Command, error) {
	if c.Kind() == KindEmergencyLand {
		c.Priority = PriorityCritical
	}
	if c.Navigation() {
		for _, queued := range q.items {
			if queued.Navigation() && outranks(queued, c) {
				err := ErrSuperseded
				if queued.Source.Safety() {
					err = ErrSupersededBySafety
				}
				return nil, fmt.Errorf("%w: %s %s is queued at %s", err, queued.Kind(), queued.ID, queued.Priority)
			}
		}
	}

	supersedes := supersession(c)
	remaining := len(q.items)
	if supersedes != nil {
		for _, o := range q.items {
			if supersedes(o) {
				remaining--
			}
		}
	}
	if remaining >= q.capacity && !q.canEvict(c.Priority, supersedes) {
		return nil, fmt.Errorf("%w: %d commands queued", ErrBusy, len(q.items))
	}

	var displaced []Command
	if supersedes != nil {
		reason := ReasonSuperseded
		if c.Source.Safety() {
			reason = ReasonSupersededBySafety
		}
		displaced = q.Remove(supersedes, reason)
	}
	if len(q.items) >= q.capacity {
		victim, _ := q.victim(c.Priority)
		displaced = append(displaced, q.Remove(func(o Command) bool { return o.ID == victim }, ReasonBusy)...)
	}

	q.seq++
	c.seq = q.seq
	c.Status = StatusQueued
	heap.Push(&q.items, c)
	return displaced, nil
}

// supersession returns the predicate selecting the queued commands that c
// replaces, or nil.
func supersession(c Command) func(Command) bool {
	switch {
	case c.Kind() == KindEmergencyLand:
		return func(Command) bool { return true }
	case c.Kind() == KindLand:
		return Command.Navigation
	case c.Navigation():
		return func(o Command) bool { return o.Navigation() && !outranks(o, c) }
	case c.Priority == PriorityCritical:
		return func(o Command) bool { return o.Navigation() && o.Priority <= PriorityNormal }
	}
	return nil
}

// outranks reports whether navigation command a takes precedence over b.
// Safety directives outrank everything else, then priority decides.
func outranks(a, b Command) bool {
	if as, bs := a.Source.Safety(), b.Source.Safety(); as != bs {
		return as
	}
	return a.Priority > b.Priority
}

func (q *Queue) canEvict(p Priority, skip func(Command) bool) bool {
	for _, o := range q.items {
		if skip != nil && skip(o) {
			continue
		}
		if evictable(p, o.Priority) {
			return true
		}
	}
	return false
}

// evictable reports whether an incoming command of priority p may evict a
// queued one of priority o. Only high and critical commands evict, and only
// critical commands may evict their own priority.
func evictable(p, o Priority) bool {
	switch p {
	case PriorityCritical:
		return true
	case PriorityHigh:
		return o < PriorityHigh
	}
	return false
}

// victim picks the lowest-priority, most recently queued command that a
// command of priority p may evict.
func (q *Queue) victim(p Priority) (string, bool) {
	var best *Command
	for i := range q.items {
		c := &q.items[i]
		if !evictable(p, c.Priority) {
			continue
		}
		if best == nil || c.Priority < best.Priority || (c.Priority == best.Priority && c.seq > best.seq) {
			best = c
		}
	}
	if best == nil {
		return "", false
	}
	return best.ID, true
}
