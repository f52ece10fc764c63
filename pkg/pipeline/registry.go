package pipeline

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnregisteredType is returned when a classifier can produce a payload
	// type that has no delivery target.
	ErrUnregisteredType = errors.New("payload type has no registered target")
	// ErrInvalidQuota is returned for a target quota outside (0, sink max].
	ErrInvalidQuota = errors.New("invalid target quota")
)

// DefaultQuota is the largest chunk handed to a sink when a target does not
// set its own quota.
const DefaultQuota = 500

// Target binds a payload type to the stream it is delivered to.
type Target struct {
	Type   PayloadType
	Stream string
	Quota  int
}

// Registry maps payload types to delivery targets. It is filled at startup
// and read-only afterwards.
type Registry struct {
	targets map[PayloadType]Target
}

// NewRegistry creates a registry holding the given targets
func NewRegistry(targets ...Target) *Registry {
	r := &Registry{targets: make(map[PayloadType]Target, len(targets))}
	for _, t := range targets {
		r.Register(t)
	}
	return r
}

// Register adds or replaces the target for t.Type. A zero quota takes
// DefaultQuota.
func (r *Registry) Register(t Target) {
	if t.Quota == 0 {
		t.Quota = DefaultQuota
	}
	r.targets[t.Type] = t
}

// TargetFor returns the target registered for a payload type.
func (r *Registry) TargetFor(pt PayloadType) (Target, bool) {
	t, ok := r.targets[pt]
	return t, ok
}

// Types returns the registered payload types in lexical order.
func (r *Registry) Types() []PayloadType {
	types := make([]PayloadType, 0, len(r.targets))
	for pt := range r.targets {
		types = append(types, pt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Validate checks that every produced type has a target with a stream name
// and that no quota exceeds maxBatch. maxBatch <= 0 disables the upper bound.
func (r *Registry) Validate(produced []PayloadType, maxBatch int) error {
	for _, pt := range produced {
		if _, ok := r.targets[pt]; !ok {
			return fmt.Errorf("%w: %s", ErrUnregisteredType, pt)
		}
	}
	for _, pt := range r.Types() {
		t := r.targets[pt]
		if t.Stream == "" {
			return fmt.Errorf("target for %s has no stream name", pt)
		}
		if t.Quota < 0 || (maxBatch > 0 && t.Quota > maxBatch) {
			return fmt.Errorf("%w: %s quota %d, sink accepts at most %d", ErrInvalidQuota, pt, t.Quota, maxBatch)
		}
	}
	return nil
}
