package crawler

import "sync"

// Frontier is the FIFO multiset of work items pending for the current level.
// Taken items stay tracked as in flight until they are completed or
// requeued, so Pending never loses an item that a worker is holding.
type Frontier struct {
	mu       sync.Mutex
	queue    []string
	inflight map[string]int
	attempts map[string]int
	onPut    func()
}

// NewFrontier returns a frontier holding items.
func NewFrontier(items ...string) *Frontier {
	f := &Frontier{
		inflight: make(map[string]int),
		attempts: make(map[string]int),
	}
	f.queue = append(f.queue, items...)
	return f
}

// OnPut registers fn to run after items are added. fn runs without the
// frontier lock held.
func (f *Frontier) OnPut(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPut = fn
}

// TryTake removes the oldest item. It never blocks.
func (f *Frontier) TryTake() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return "", false
	}
	item := f.queue[0]
	f.queue[0] = ""
	f.queue = f.queue[1:]
	f.inflight[item]++
	return item, true
}

// Put appends one item.
func (f *Frontier) Put(item string) {
	f.PutAll([]string{item})
}

// PutAll appends items in order.
func (f *Frontier) PutAll(items []string) {
	if len(items) == 0 {
		return
	}
	f.mu.Lock()
	f.queue = append(f.queue, items...)
	hook := f.onPut
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// Complete releases a taken item that will not come back.
func (f *Frontier) Complete(item string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.release(item)
	delete(f.attempts, item)
}

// Requeue puts a taken item back and returns its failed attempt count.
func (f *Frontier) Requeue(item string) int {
	f.mu.Lock()
	f.release(item)
	f.attempts[item]++
	n := f.attempts[item]
	f.queue = append(f.queue, item)
	hook := f.onPut
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return n
}

// Attempts returns how many times item was requeued.
func (f *Frontier) Attempts(item string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[item]
}

func (f *Frontier) release(item string) {
	if f.inflight[item] <= 1 {
		delete(f.inflight, item)
		return
	}
	f.inflight[item]--
}

// Len returns the number of queued items, excluding in-flight ones.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Pending returns queued and in-flight items for checkpointing.
func (f *Frontier) Pending() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.queue)+len(f.inflight))
	out = append(out, f.queue...)
	for item, n := range f.inflight {
		for range n {
			out = append(out, item)
		}
	}
	return out
}
