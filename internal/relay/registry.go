package relay

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// Registry indexes relays by number and alias.
//
// It is built once and never modified, so lookups need no locking. The
// alias index is derived from the relays passed to NewRegistry.
type Registry struct {
	byNumber map[int]*Relay
	byAlias  map[string]int
	ordered  []*Relay
}

// NewRegistry indexes relays. Duplicate numbers, duplicate aliases and
// numeric aliases are rejected.
func NewRegistry(relays ...*Relay) (*Registry, error) {
	reg := &Registry{
		byNumber: make(map[int]*Relay, len(relays)),
		byAlias:  make(map[string]int, len(relays)),
		ordered:  make([]*Relay, 0, len(relays)),
	}

	for _, r := range relays {
		if r == nil {
			return nil, ErrNilRelay
		}
		if _, dup := reg.byNumber[r.Number()]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateNumber, r.Number())
		}
		reg.byNumber[r.Number()] = r
		reg.ordered = append(reg.ordered, r)

		id := r.ID()
		if id == "" {
			continue
		}
		if IsNumber(id) {
			return nil, fmt.Errorf("%w: %q", ErrNumericAlias, id)
		}
		if other, dup := reg.byAlias[id]; dup {
			return nil, fmt.Errorf("%w: %q used by relays %d and %d", ErrDuplicateAlias, id, other, r.Number())
		}
		reg.byAlias[id] = r.Number()
	}

	sort.Slice(reg.ordered, func(i, j int) bool {
		return reg.ordered[i].Number() < reg.ordered[j].Number()
	})

	return reg, nil
}

// Get returns the relay with the given number.
func (reg *Registry) Get(number int) (*Relay, bool) {
	r, ok := reg.byNumber[number]
	return r, ok
}

// ByAlias returns the relay whose id matches.
func (reg *Registry) ByAlias(id string) (*Relay, bool) {
	number, ok := reg.byAlias[id]
	if !ok {
		return nil, false
	}
	return reg.Get(number)
}

// Resolve looks up a subject selector: digits are a relay number, anything
// else an alias.
func (reg *Registry) Resolve(selector string) (*Relay, bool) {
	if IsNumber(selector) {
		number, err := strconv.Atoi(selector)
		if err != nil {
			return nil, false
		}
		return reg.Get(number)
	}
	return reg.ByAlias(selector)
}

// All returns every relay ordered by number.
func (reg *Registry) All() []*Relay {
	out := make([]*Relay, len(reg.ordered))
	copy(out, reg.ordered)
	return out
}

// Len returns the number of relays.
func (reg *Registry) Len() int { return len(reg.ordered) }

// Snapshots returns the state of every relay ordered by number.
func (reg *Registry) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(reg.ordered))
	for _, r := range reg.ordered {
		out = append(out, r.Snapshot())
	}
	return out
}

// ForceAllOff switches every relay off. Every line is written before any
// state is published, so a slow broker cannot hold a relay energised. A
// failing relay does not stop the others from being switched; all failures
// are returned joined and the failed relays are not published.
func (reg *Registry) ForceAllOff() error {
	var errs []error
	switched := make([]*Relay, 0, len(reg.ordered))
	for _, r := range reg.ordered {
		if err := r.write(false); err != nil {
			errs = append(errs, err)
			continue
		}
		switched = append(switched, r)
	}
	for _, r := range switched {
		r.publishOrWarn()
	}
	return errors.Join(errs...)
}

// PublishAll publishes every relay's state once.
func (reg *Registry) PublishAll() error {
	var errs []error
	for _, r := range reg.ordered {
		if err := r.PublishState(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsNumber reports whether s is a non-empty string of ASCII digits.
func IsNumber(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
