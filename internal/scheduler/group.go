package scheduler

import "sync"

// Group is the set of tasks owned by one lifetime (a session, a recording, an upload).
// CancelAll closes the group; tasks added afterwards are cancelled on arrival so that a
// callback racing with teardown cannot leave a live timer behind.
type Group struct {
	mu     sync.Mutex
	tasks  []Task
	closed bool
}

// NewGroup returns an open, empty group.
func NewGroup() *Group {
	return &Group{}
}

// Add tracks t and returns it.
func (g *Group) Add(t Task) Task {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		t.Cancel()
		return t
	}
	g.tasks = append(g.tasks, t)
	g.mu.Unlock()
	return t
}

// CancelAll cancels every tracked task, closes the group and returns how many tasks
// were still pending.
func (g *Group) CancelAll() int {
	g.mu.Lock()
	tasks := g.tasks
	g.tasks = nil
	g.closed = true
	g.mu.Unlock()

	pending := 0
	for _, t := range tasks {
		if t.Cancel() {
			pending++
		}
	}
	return pending
}

// Len returns the number of tracked tasks, fired or not.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tasks)
}

// Closed reports whether CancelAll has run.
func (g *Group) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}
