// Package keyrotator implements round-robin selection across a
// provider's configured static API keys, shared across concurrent
// requests to spread load under burst rather than assigned per
// request.
package keyrotator

import (
	"errors"
	"sync/atomic"
)

var ErrKeysExhausted = errors.New("keyrotator: all keys excluded")

// Rotator cycles through a fixed set of keys with a single shared,
// monotonically increasing index. One Rotator is created per provider
// and lives for the process lifetime.
type Rotator struct {
	keys []string
	next atomic.Uint64
}

func New(keys []string) *Rotator {
	cp := make([]string, len(keys))
	copy(cp, keys)
	return &Rotator{keys: cp}
}

// Next returns the next key in rotation. Panics if constructed with
// no keys, since that is a configuration error the registry should
// have rejected before a Rotator was ever built.
func (r *Rotator) Next() string {
	if len(r.keys) == 0 {
		panic("keyrotator: Next called with no keys configured")
	}
	i := r.next.Add(1) - 1
	return r.keys[int(i)%len(r.keys)]
}

// Exclude returns the next key in rotation that is not in excluded,
// without advancing the shared index for other concurrent callers.
// Used by the orchestrator's dispatch to retry a request against a
// different key after a 401/403/429 without disturbing load spreading
// for unrelated requests.
func (r *Rotator) Exclude(excluded ...string) (string, error) {
	skip := make(map[string]bool, len(excluded))
	for _, k := range excluded {
		skip[k] = true
	}
	n := len(r.keys)
	if n == 0 {
		return "", ErrKeysExhausted
	}
	start := int(r.next.Load() % uint64(n))
	for i := 0; i < n; i++ {
		if k := r.keys[(start+i)%n]; !skip[k] {
			return k, nil
		}
	}
	return "", ErrKeysExhausted
}

// Len reports how many keys are in rotation.
func (r *Rotator) Len() int { return len(r.keys) }
