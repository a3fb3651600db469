package timeline

import (
	"errors"
	"sync"
)

var ErrClipNotFound = errors.New("clip not found")

// Registry is the ordered list of committed clips. Ids come from a
// monotonic counter independent of the list length, so an id is never
// handed out twice even after deletions.
type Registry struct {
	mu    sync.RWMutex
	clips []Clip
	next  int
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) append(start, end int, fps float64) Clip {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := newClip(r.next, start, end, fps)
	r.next++
	r.clips = append(r.clips, c)
	return c
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clips)
}

// NextID is the id the next committed clip will receive.
func (r *Registry) NextID() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.next
}

// List returns a copy of the clips in creation order.
func (r *Registry) List() []Clip {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Clip, len(r.clips))
	copy(out, r.clips)
	return out
}

func (r *Registry) Get(id int) (Clip, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clips {
		if c.ID == id {
			return c, true
		}
	}
	return Clip{}, false
}

// Last returns the most recently committed clip still present.
func (r *Registry) Last() (Clip, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.clips) == 0 {
		return Clip{}, false
	}
	return r.clips[len(r.clips)-1], true
}

// Remove deletes a clip. Its id stays reserved.
func (r *Registry) Remove(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.clips {
		if c.ID == id {
			r.clips = append(r.clips[:i:i], r.clips[i+1:]...)
			return nil
		}
	}
	return ErrClipNotFound
}

// Restore replaces the registry content with previously persisted clips.
// next is raised above every restored id if needed.
func (r *Registry) Restore(clips []Clip, next int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clips = make([]Clip, len(clips))
	copy(r.clips, clips)
	for _, c := range clips {
		if c.ID >= next {
			next = c.ID + 1
		}
	}
	r.next = next
}

func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clips = nil
	r.next = 0
}
