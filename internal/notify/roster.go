package notify

import "sync"

// Roster is an insertion-ordered set of observers keyed by hook id.
type Roster struct {
	mu        sync.RWMutex
	observers []Observer
}

func NewRoster() *Roster {
	return &Roster{observers: make([]Observer, 0)}
}

// Add appends o. It returns false when an observer for the same hook is
// already present.
func (r *Roster) Add(o Observer) bool {
	if o == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexLocked(o.HookID()) >= 0 {
		return false
	}
	r.observers = append(r.observers, o)
	return true
}

// Remove drops the observer for hookID, keeping the order of the rest.
func (r *Roster) Remove(hookID int) (Observer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(hookID)
	if i < 0 {
		return nil, false
	}
	o := r.observers[i]
	r.observers = append(r.observers[:i], r.observers[i+1:]...)
	return o, true
}

func (r *Roster) Find(hookID int) (Observer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexLocked(hookID)
	if i < 0 {
		return nil, false
	}
	return r.observers[i], true
}

func (r *Roster) Has(hookID int) bool {
	_, ok := r.Find(hookID)
	return ok
}

// IDs lists hook ids in insertion order.
func (r *Roster) IDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.observers))
	for _, o := range r.observers {
		out = append(out, o.HookID())
	}
	return out
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}

// Unicast delivers n to the observer for hookID.
func (r *Roster) Unicast(hookID int, n Notification) bool {
	o, ok := r.Find(hookID)
	if !ok {
		return false
	}
	Deliver(o, n)
	return true
}

// Broadcast delivers n to every observer in insertion order. The list is
// snapshotted first so observers may be added or removed meanwhile.
func (r *Roster) Broadcast(n Notification) {
	r.mu.RLock()
	snapshot := make([]Observer, len(r.observers))
	copy(snapshot, r.observers)
	r.mu.RUnlock()
	for _, o := range snapshot {
		Deliver(o, n)
	}
}

func (r *Roster) indexLocked(hookID int) int {
	for i, o := range r.observers {
		if o.HookID() == hookID {
			return i
		}
	}
	return -1
}
