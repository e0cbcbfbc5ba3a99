// Package canonical computes RFC 8785 (JCS) digests of record values and tracks the
// digests of writes a process made itself, so their echo on a store change stream
// can be told apart from writes made by someone else.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gowebpki/jcs"
)

// Removed is the digest recorded for a key deletion.
const Removed = "removed"

// maxPendingPerKey bounds the FIFO of a key whose echoes never arrive (stores without
// a change stream).
const maxPendingPerKey = 64

// Canonicalize returns the JCS form of v's JSON encoding.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize value: %w", err)
	}
	return out, nil
}

// Digest returns the sha256 hex digest of v's canonical JSON form. int64(50) and
// float64(50) share a digest, as do []string and []any with the same elements.
func Digest(v any) (string, error) {
	c, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(c)
	return hex.EncodeToString(sum[:]), nil
}

// Equal reports whether a and b have the same canonical JSON form. Values that cannot
// be encoded are never equal.
func Equal(a, b any) bool {
	da, err := Digest(a)
	if err != nil {
		return false
	}
	db, err := Digest(b)
	if err != nil {
		return false
	}
	return da == db
}

// Pending records digests of values written by this process, per key and in write
// order. It is safe for concurrent use.
type Pending struct {
	mu      sync.Mutex
	entries map[string][]string
}

// NewPending creates an empty tracker.
func NewPending() *Pending {
	return &Pending{entries: make(map[string][]string)}
}

// Expect registers the values of a write about to be issued.
func (p *Pending) Expect(values map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, v := range values {
		d, err := Digest(v)
		if err != nil {
			continue
		}
		p.push(key, d)
	}
}

// ExpectRemoval registers a deletion about to be issued.
func (p *Pending) ExpectRemoval(keys []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, key := range keys {
		p.push(key, Removed)
	}
}

// Forget drops expectations registered for values, for writes that failed.
func (p *Pending) Forget(values map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, v := range values {
		d, err := Digest(v)
		if err != nil {
			continue
		}
		queue := p.entries[key]
		for i := len(queue) - 1; i >= 0; i-- {
			if queue[i] == d {
				queue = append(queue[:i:i], queue[i+1:]...)
				break
			}
		}
		p.set(key, queue)
	}
}

// Match reports whether value (or a deletion when removed is true) is the echo of a
// pending write for key. A match consumes that entry and every older one, since the
// store has moved past them.
func (p *Pending) Match(key string, value any, removed bool) bool {
	d := Removed
	if !removed {
		var err error
		if d, err = Digest(value); err != nil {
			return false
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	queue := p.entries[key]
	for i, entry := range queue {
		if entry == d {
			p.set(key, queue[i+1:])
			return true
		}
	}
	return false
}

// Len returns the number of outstanding expectations for key.
func (p *Pending) Len(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries[key])
}

func (p *Pending) push(key, digest string) {
	queue := append(p.entries[key], digest)
	if len(queue) > maxPendingPerKey {
		queue = queue[len(queue)-maxPendingPerKey:]
	}
	p.entries[key] = queue
}

func (p *Pending) set(key string, queue []string) {
	if len(queue) == 0 {
		delete(p.entries, key)
		return
	}
	p.entries[key] = queue
}
