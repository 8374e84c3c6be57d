// Package cache implements the Buffer Cache (C3): a fixed 64-slot
// write-back cache keyed by (device, sector), with clock (second-chance)
// eviction and at-most-one-entry-per-key.
//
// Locking architecture
//
//  1. Cache.mu — the "who lives where" table: the slot-to-key map and the
//     clock hand. Acquired before any entry lock, released before it is
//     ever reacquired while an entry lock is held.
//
//  2. entry.mu — per-slot data lock guarding that slot's bytes, dirty flag,
//     and recently-used flag. A caller that holds an entry lock must
//     release it before trying to acquire Cache.mu again.
//
//  3. sem — a counting semaphore sized to the slot count. Every access
//     (hit or miss) acquires one permit before it may pin a slot via its
//     entry lock, and releases it only after that lock is released. This
//     bounds the number of simultaneously pinned entries to the slot
//     count, which is what guarantees the clock sweep can always make
//     progress: with at most Slots-1 entries pinned by other callers while
//     this caller holds its own permit, a full cache always has at least
//     one entry momentarily lock-free for the evictor to claim.
//
// Because the semaphore is always acquired before Cache.mu, and the first
// lookup under Cache.mu happens only after the permit is already held,
// there is no gap between "decide this is a hit" and "pin the entry" that
// would require a separate re-verification step — the single lookup under
// Cache.mu is already the authoritative one.
//
// Lock ordering: sem -> Cache.mu -> entry.mu -> (device I/O).
package cache

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/minkikim98/pintosfs/internal/blockdev"
)

// Slots is the fixed capacity of the cache.
const Slots = 64

// Key identifies a cached sector: a specific device and sector index.
type Key struct {
	Dev    *blockdev.Device
	Sector uint32
}

// entry is one cache slot.
type entry struct {
	mu sync.Mutex

	key   Key
	valid bool
	data  [blockdev.SectorSize]byte

	recentlyUsed bool
	dirty        bool
}

// Cache is a fixed-capacity, concurrent, write-back sector cache.
type Cache struct {
	mu        sync.Mutex
	index     map[Key]int
	slots     [Slots]*entry
	clockHand int

	sem *semaphore.Weighted

	accesses atomic.Int64
	misses   atomic.Int64
}

// Stats reports cumulative access counters (spec §6 test hooks).
type Stats struct {
	Accesses int64
	Misses   int64
}

// New returns an empty cache with Slots slots.
func New() *Cache {
	c := &Cache{
		index: make(map[Key]int, Slots),
		sem:   semaphore.NewWeighted(Slots),
	}

	for i := range c.slots {
		c.slots[i] = &entry{}
	}

	return c
}

// ReadRange copies bytes [start,end) of the cached sector into dest.
func (c *Cache) ReadRange(dev *blockdev.Device, sector uint32, dest []byte, start, end int) error {
	if err := validateRange(start, end); err != nil {
		return err
	}

	return c.access(dev, sector, false, func(data []byte) {
		copy(dest, data[start:end])
	})
}

// WriteRange copies bytes from src into the cached sector's [start,end) and
// marks the entry dirty.
func (c *Cache) WriteRange(dev *blockdev.Device, sector uint32, src []byte, start, end int) error {
	if err := validateRange(start, end); err != nil {
		return err
	}

	return c.access(dev, sector, true, func(data []byte) {
		copy(data[start:end], src[:end-start])
	})
}

func validateRange(start, end int) error {
	if start < 0 || end > blockdev.SectorSize || start > end {
		return fmt.Errorf("cache: range [%d,%d): %w", start, end, ErrBadRange)
	}

	return nil
}

// access implements the hit/miss lookup contract described in the package
// doc comment, then invokes fn with the entry's data bytes while its lock is
// held. fn must not call back into the cache.
func (c *Cache) access(dev *blockdev.Device, sector uint32, write bool, fn func(data []byte)) error {
	key := Key{Dev: dev, Sector: sector}
	c.accesses.Add(1)

	if err := c.sem.Acquire(context.Background(), 1); err != nil {
		return fmt.Errorf("cache: acquire activity slot: %w", err)
	}

	c.mu.Lock()

	if idx, ok := c.index[key]; ok {
		// Hit path.
		e := c.slots[idx]
		e.mu.Lock()
		e.recentlyUsed = true
		c.mu.Unlock()

		fn(e.data[:])

		if write {
			e.dirty = true
		}

		e.mu.Unlock()
		c.sem.Release(1)

		return nil
	}

	// Miss path.
	c.misses.Add(1)

	idx, err := c.acquireSlotLocked(key)
	if err != nil {
		c.mu.Unlock()
		c.sem.Release(1)

		return err
	}

	e := c.slots[idx]

	if err := dev.ReadSector(sector, e.data[:]); err != nil {
		delete(c.index, key)
		e.valid = false
		e.mu.Unlock()
		c.mu.Unlock()
		c.sem.Release(1)

		return err
	}

	e.valid = true
	e.recentlyUsed = true
	c.mu.Unlock()

	fn(e.data[:])

	if write {
		e.dirty = true
	}

	e.mu.Unlock()
	c.sem.Release(1)

	return nil
}

// acquireSlotLocked finds a slot for key, evicting if necessary, and returns
// its index with that slot's entry lock held (caller must unlock it).
// Must be called with c.mu held.
func (c *Cache) acquireSlotLocked(key Key) (int, error) {
	// Empty slots are preferred over eviction.
	for i, e := range c.slots {
		if !e.valid {
			e.mu.Lock()
			c.installLocked(i, key)

			return i, nil
		}
	}

	for {
		for n := 0; n < Slots; n++ {
			i := c.clockHand
			c.clockHand = (c.clockHand + 1) % Slots
			e := c.slots[i]

			if !e.mu.TryLock() {
				// Pinned by another accessor right now; leave it alone.
				continue
			}

			if !e.valid {
				c.installLocked(i, key)

				return i, nil
			}

			if e.recentlyUsed {
				// Second chance.
				e.recentlyUsed = false
				e.mu.Unlock()

				continue
			}

			// Victim.
			if e.dirty {
				if err := e.key.Dev.WriteSector(e.key.Sector, e.data[:]); err != nil {
					e.mu.Unlock()

					return 0, fmt.Errorf("cache: writeback sector %d during eviction: %w", e.key.Sector, err)
				}
			}

			delete(c.index, e.key)
			c.installLocked(i, key)

			return i, nil
		}

		// A full sweep found nothing evictable: every remaining slot is
		// pinned by a concurrent accessor. The activity semaphore bounds
		// how many accessors that can be at once, so this yields and
		// retries rather than blocking indefinitely.
		runtime.Gosched()
	}
}

// installLocked assigns slot idx to key. The slot's entry lock must already
// be held by the caller; data is left as-is, valid=false, for the caller to
// populate and flip to true.
func (c *Cache) installLocked(idx int, key Key) {
	e := c.slots[idx]
	e.key = key
	e.valid = false
	e.dirty = false
	e.recentlyUsed = false
	c.index[key] = idx
}

// Flush writes back every dirty entry. Entries remain cached afterward.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.slots {
		e.mu.Lock()

		if e.valid && e.dirty {
			if err := e.key.Dev.WriteSector(e.key.Sector, e.data[:]); err != nil {
				e.mu.Unlock()

				return fmt.Errorf("cache: flush sector %d: %w", e.key.Sector, err)
			}

			e.dirty = false
		}

		e.mu.Unlock()
	}

	return nil
}

// Reset flushes and evicts every entry, returning the cache to its
// newly-created state. Used by tests to measure cold-vs-warm cache
// behavior (spec §8 P7, scenario 2).
func (c *Cache) Reset() error {
	if err := c.Flush(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.slots {
		e.mu.Lock()
		e.valid = false
		e.dirty = false
		e.recentlyUsed = false
		e.key = Key{}
		e.mu.Unlock()
	}

	c.index = make(map[Key]int, Slots)
	c.clockHand = 0

	return nil
}

// Stats returns cumulative access/miss counters.
func (c *Cache) Stats() Stats {
	return Stats{Accesses: c.accesses.Load(), Misses: c.misses.Load()}
}

// ResetStats zeroes the access/miss counters without touching cached data.
func (c *Cache) ResetStats() {
	c.accesses.Store(0)
	c.misses.Store(0)
}
