package core

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// ComputeRequestHash computes SHA-256(canonical_json(body) + method + path).
func ComputeRequestHash(body json.RawMessage, method, path string) string {
	h := sha256.New()
	h.Write(canonicalJSON(body))
	h.Write([]byte(method))
	h.Write([]byte(path))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// canonicalJSON recursively sorts JSON object keys.
func canonicalJSON(data json.RawMessage) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		var arr []json.RawMessage
		if err := json.Unmarshal(data, &arr); err == nil {
			out := []byte("[")
			for i, el := range arr {
				if i > 0 {
					out = append(out, ',')
				}
				out = append(out, canonicalJSON(el)...)
			}
			return append(out, ']')
		}
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return data
		}
		b, _ := json.Marshal(v)
		return b
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []byte("{")
	for i, k := range keys {
		if i > 0 {
			out = append(out, ',')
		}
		kb, _ := json.Marshal(k)
		out = append(out, kb...)
		out = append(out, ':')
		out = append(out, canonicalJSON(obj[k])...)
	}
	return append(out, '}')
}

// IdempotencyCache remembers the result of keyed requests. A key is
// reserved by the first request that carries it; concurrent requests with
// the same key wait for that request to Store or Release it. The oldest
// completed entries are evicted once Size is exceeded.
type IdempotencyCache struct {
	Size int

	mu      sync.Mutex
	entries map[string]*idempotencyEntry
	order   []string
}

type idempotencyEntry struct {
	hash   string
	result string
	// done is closed once the entry is stored or released.
	done    chan struct{}
	pending bool
}

// Reserve claims key for a request with the given hash. ok is true when a
// previous request already completed, in which case result holds its
// outcome. When ok is false and err is nil the caller owns the key and
// must call Store or Release. A request that finds the key in flight waits
// for the owner or for ctx. A different hash returns ErrConflictIdempotent.
func (c *IdempotencyCache) Reserve(ctx context.Context, key, hash string) (result string, ok bool, err error) {
	for {
		c.mu.Lock()
		e, found := c.entries[key]
		if !found {
			if c.entries == nil {
				c.entries = make(map[string]*idempotencyEntry)
			}
			c.entries[key] = &idempotencyEntry{hash: hash, done: make(chan struct{}), pending: true}
			c.order = append(c.order, key)
			c.evictLocked()
			c.mu.Unlock()
			return "", false, nil
		}
		if e.hash != hash {
			c.mu.Unlock()
			return "", false, NewAppError(ErrConflictIdempotent, "idempotency key mismatch")
		}
		if !e.pending {
			c.mu.Unlock()
			return e.result, true, nil
		}
		done := e.done
		c.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

// Store records the result for key and wakes any waiting requests.
func (c *IdempotencyCache) Store(key, hash, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]*idempotencyEntry)
	}
	e, exists := c.entries[key]
	if !exists {
		e = &idempotencyEntry{done: make(chan struct{})}
		c.entries[key] = e
		c.order = append(c.order, key)
	}
	e.hash = hash
	e.result = result
	if e.pending || !exists {
		e.pending = false
		close(e.done)
	}
	c.evictLocked()
}

// Release drops a reservation whose request failed so that a waiting or
// later request can retry it.
func (c *IdempotencyCache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, exists := c.entries[key]
	if !exists || !e.pending {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	close(e.done)
}

// evictLocked drops the oldest completed entries. In-flight reservations
// are never evicted.
func (c *IdempotencyCache) evictLocked() {
	size := c.Size
	if size <= 0 {
		size = 1024
	}
	for i := 0; len(c.order) > size && i < len(c.order); {
		key := c.order[i]
		if c.entries[key].pending {
			i++
			continue
		}
		delete(c.entries, key)
		c.order = append(c.order[:i], c.order[i+1:]...)
	}
}
