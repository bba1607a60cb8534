package classprofile

import "sync"

// DefaultRegistry holds the profiles of the whole process.
var DefaultRegistry = NewRegistry()

// Registry maps class names to their profiles. Profiles are created on first
// use and are never removed.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*ClassProfile
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{
		profiles: make(map[string]*ClassProfile),
	}
}

// ForClass returns the profile of class, creating it if needed.
func (r *Registry) ForClass(class string) *ClassProfile {
	r.mu.RLock()
	p, ok := r.profiles[class]
	r.mu.RUnlock()
	if ok {
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.profiles[class]; ok {
		return p
	}
	p = New(class)
	r.profiles[class] = p
	r.order = append(r.order, class)
	return p
}

func (r *Registry) Lookup(class string) (*ClassProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[class]
	return p, ok
}

// Classes returns the registered class names in registration order.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	classes := make([]string, len(r.order))
	copy(classes, r.order)
	return classes
}

// Profiles returns the registered profiles in registration order.
func (r *Registry) Profiles() []*ClassProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profiles := make([]*ClassProfile, 0, len(r.order))
	for _, class := range r.order {
		profiles = append(profiles, r.profiles[class])
	}
	return profiles
}

// ResetAll resets every registered profile.
func (r *Registry) ResetAll() {
	for _, p := range r.Profiles() {
		p.Reset()
	}
}
