// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package pincache

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/SnellerInc/pincache/internal/fingerprint"
)

// Logger, if set on a Cache, receives diagnostic messages about
// loads, evictions, flushes and waiter activity.
type Logger interface {
	Printf(f string, args ...interface{})
}

func (c *Cache) errorf(f string, args ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(f, args...)
	}
}

// Stats is an immutable snapshot of a Cache's occupancy and
// cumulative activity counters.
type Stats struct {
	Occupied  int
	Capacity  int
	Waiters   int
	Loads     int64
	Evictions int64
	Flushes   int64
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithLogger arranges for c to log diagnostic messages to l.
func WithLogger(l Logger) Option {
	return func(c *Cache) { c.Logger = l }
}

// WithResolver overrides the default disk-backed PathResolver, mainly
// for tests that want to exercise Cache without touching a real
// filesystem.
func WithResolver(r PathResolver) Option {
	return func(c *Cache) { c.resolver = r }
}

// Cache is a bounded, pinning cache of FileSize-byte file buffers. See
// the package doc comment for the usage pattern.
type Cache struct {
	// Logger, if non-nil, is used to log diagnostic messages about the
	// cache's internal activity.
	Logger Logger

	resolver PathResolver

	mu      sync.Mutex
	cond    sync.Cond
	table   *slotTable
	waiters waiterQueue
	closed  bool

	loads, evictions, flushes int64
}

// New constructs a Cache with room for capacity resident files.
func New(capacity int, opts ...Option) (*Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("pincache: capacity must be positive, got %d", capacity)
	}
	c := &Cache{
		table:    newSlotTable(capacity),
		resolver: fsResolver{},
	}
	c.cond.L = &c.mu
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Stats returns a snapshot of the cache's current occupancy and
// cumulative load/eviction/flush counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	occupied := 0
	for i := range c.table.slots {
		if c.table.slots[i].occupied {
			occupied++
		}
	}
	waiters := c.waiters.len()
	c.mu.Unlock()
	return Stats{
		Occupied:  occupied,
		Capacity:  len(c.table.slots),
		Waiters:   waiters,
		Loads:     atomic.LoadInt64(&c.loads),
		Evictions: atomic.LoadInt64(&c.evictions),
		Flushes:   atomic.LoadInt64(&c.flushes),
	}
}

// Pin loads each named file into the cache if it is not already
// resident, and increments its pin count. A pinned file cannot be
// evicted. Pin blocks while the cache is full and no slot is
// evictable, until capacity frees up or the cache is destroyed.
//
// If any file in files fails to pin, Pin stops at that file: every
// file named earlier in the list remains pinned, and the caller is
// responsible for unpinning it. The returned error is a *PinError
// naming the file that failed.
func (c *Cache) Pin(files []string) error {
	return c.PinContext(context.Background(), files)
}

// PinContext is Pin with a cancellable wait. If ctx is done before a
// blocked pin is granted, PinContext returns ctx.Err() wrapped in a
// *PinError, and any files pinned earlier in the list remain pinned.
func (c *Cache) PinContext(ctx context.Context, files []string) error {
	for _, name := range files {
		if err := c.pinOne(ctx, name); err != nil {
			return &PinError{Path: name, Err: err}
		}
	}
	return nil
}

// pinOne pins a single file, blocking as necessary.
//
// Two properties matter here beyond the obvious fast path: the cache
// mutex is never held across filesystem I/O (EnsureExists is always
// called with c.mu unlocked), and two concurrent first-time pins of
// the same canonical name always converge on one slot instead of each
// claiming their own (awaitIdle makes the second caller join the
// first caller's in-flight load rather than race it for capacity).
func (c *Cache) pinOne(ctx context.Context, name string) error {
	path, err := c.resolver.Canonicalize(name)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", name, err)
	}

	c.mu.Lock()
	stop := contextWatcher(ctx, &c.mu, &c.cond)
	defer stop()

	s, err := c.awaitIdle(ctx, path)
	if err != nil {
		return err
	}
	if s != nil {
		s.pinCount++
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	// Nobody holds or is loading path: obtain the backing descriptor
	// before ever taking the mutex again, so the open/mkdir/
	// preallocate/zero-fill sequence never runs while c.mu is held.
	f, err := c.resolver.EnsureExists(path)
	if err != nil {
		return fmt.Errorf("ensuring %q exists: %w", name, err)
	}

	c.mu.Lock()
	s, err = c.awaitIdle(ctx, path)
	if err != nil {
		f.Close()
		return err
	}
	if s != nil {
		// Lost the race while EnsureExists ran unlocked: someone
		// else already filled a slot for this name.
		s.pinCount++
		c.mu.Unlock()
		f.Close()
		return nil
	}

	w := c.waiters.enqueue()
	waited := false

	for {
		if c.closed {
			c.waiters.remove(w)
			c.mu.Unlock()
			f.Close()
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			c.waiters.remove(w)
			c.mu.Unlock()
			f.Close()
			return err
		}

		// A pin of the same name queued ahead of this one may have
		// filled a slot for path meanwhile: join it instead of
		// claiming a second slot for the same name.
		if s := c.table.find(path); s != nil {
			c.waiters.remove(w)
			if waited {
				c.errorf("pincache: waiter %s granted", w.id)
			}
			s.pinCount++
			c.cond.Broadcast()
			c.mu.Unlock()
			f.Close()
			return nil
		}

		// Only the waiter at the front of the queue may claim a
		// slot: sync.Cond.Broadcast does not guarantee wakeup order,
		// so FIFO is enforced here, not by the wakeup itself. While
		// another pin is still loading path, no slot is claimed; the
		// loop waits for that load and then joins it above.
		if c.waiters.front() == w && c.table.findLoading(path) == nil {
			if empty := c.table.firstEmpty(); empty != nil {
				c.waiters.remove(w)
				if waited {
					c.errorf("pincache: waiter %s granted", w.id)
				}
				return c.fill(empty, path, name, f, nil)
			}
			if victim := c.table.firstEvictable(); victim != nil {
				c.waiters.remove(w)
				if waited {
					c.errorf("pincache: waiter %s granted", w.id)
				}
				return c.fill(victim, path, name, f, victim.file)
			}
		}

		if !waited {
			waited = true
			c.errorf("pincache: waiter %s waiting for a slot (fingerprint %s)", w.id, fingerprint.Of(path))
		}
		c.cond.Wait()
	}
}

// awaitIdle blocks, with c.mu held on entry, until path is either
// resident (returned, with c.mu still held) or not being loaded by
// any other in-flight pin (nil, nil, with c.mu still held). This is
// what lets a second concurrent first-time pin of the same name join
// the first one's load instead of claiming a second slot: it never
// reaches the claim/evict loop while table.findLoading(path) is
// non-nil. On cache closure or context cancellation it unlocks c.mu
// itself and returns a non-nil error.
func (c *Cache) awaitIdle(ctx context.Context, path string) (*slot, error) {
	for {
		if s := c.table.find(path); s != nil {
			return s, nil
		}
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			c.mu.Unlock()
			return nil, err
		}
		if c.table.findLoading(path) == nil {
			return nil, nil
		}
		c.cond.Wait()
	}
}

// fill claims or takes over slot s for path using the already-open
// descriptor f, which the caller obtained from EnsureExists before
// ever acquiring c.mu for this attempt. The caller has verified s is
// either empty or evictable and holds c.mu on entry. If prev is
// non-nil it is the descriptor s.takeOver displaces; fill closes it
// once the cache mutex is no longer needed. The cache mutex is
// released for the duration of the actual disk read, then reacquired
// to finish bookkeeping. It is always released on return.
func (c *Cache) fill(s *slot, path, name string, f, prev *os.File) error {
	if prev != nil {
		s.takeOver(f, path)
	} else {
		s.claim(f, path)
	}
	c.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	loadErr := s.load(f)

	c.mu.Lock()
	if loadErr != nil {
		c.abandon(s)
		c.mu.Unlock()
		return fmt.Errorf("loading %q: %w", name, loadErr)
	}
	s.finishLoad()
	atomic.AddInt64(&c.loads, 1)
	// wake anyone in awaitIdle waiting on this exact name joining our
	// load, as well as anyone waiting on capacity freed by a future
	// unpin of it.
	c.cond.Broadcast()
	c.mu.Unlock()
	c.errorf("pincache: loaded %q (slot fingerprint %s)", name, fingerprint.Of(path))
	return nil
}

// abandon rolls back a slot whose load failed, returning it to the
// unoccupied state and waking anyone waiting on capacity. Callers
// must hold the cache mutex.
func (c *Cache) abandon(s *slot) {
	s.pinCount = 0
	s.dirty = false
	if err := s.release(); err != nil {
		c.errorf("pincache: releasing failed load: %s", err)
	}
	c.cond.Broadcast()
}

// Unpin decrements the pin count of each named file. A file whose pin
// count reaches zero becomes eligible for eviction, but is not
// evicted immediately: it stays resident, and its data is reused on
// the next Pin of the same name, until Evict releases it or the cache
// needs the slot for something else.
//
// Unpinning a file that is not currently pinned is a no-op.
func (c *Cache) Unpin(files []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range files {
		path, err := c.resolver.Canonicalize(name)
		if err != nil {
			return fmt.Errorf("resolving %q: %w", name, err)
		}
		c.unpinOne(path)
	}
	return nil
}

func (c *Cache) unpinOne(path string) {
	s := c.table.find(path)
	if s == nil || s.pinCount == 0 {
		return
	}
	s.pinCount--
	if s.pinCount == 0 && !s.dirty {
		// a slot just became evictable; wake anyone blocked on
		// capacity so they can re-check firstEvictable.
		c.cond.Broadcast()
	}
}

// FileData returns the current contents of a pinned file's buffer.
// The returned slice aliases the cache's internal storage and is
// valid only until the file is unpinned.
func (c *Cache) FileData(name string) ([]byte, error) {
	s, err := c.pinnedSlot(name)
	if err != nil {
		return nil, err
	}
	return s.buf[:], nil
}

// MutableFileData is like FileData, but marks the slot dirty. A dirty
// slot is never evicted or handed to another file; Destroy writes its
// contents back to the backing file.
func (c *Cache) MutableFileData(name string) ([]byte, error) {
	s, err := c.pinnedSlot(name)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	s.dirty = true
	c.mu.Unlock()
	return s.buf[:], nil
}

func (c *Cache) pinnedSlot(name string) (*slot, error) {
	path, err := c.resolver.Canonicalize(name)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", name, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.table.find(path)
	if s == nil || s.pinCount == 0 {
		return nil, ErrNotFound
	}
	return s, nil
}

// Evict releases every unpinned, clean resident slot, returning its
// space to the pool, and reports whether at least one slot was
// evicted. A dirty slot is never evicted: only Destroy, which flushes
// it, clears its dirty bit. Pinned slots are left untouched.
func (c *Cache) Evict() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := false
	for i := range c.table.slots {
		s := &c.table.slots[i]
		if !s.evictable() {
			continue
		}
		if err := s.release(); err != nil {
			c.errorf("pincache: evicting slot: %s", err)
			continue
		}
		atomic.AddInt64(&c.evictions, 1)
		evicted = true
	}
	if evicted {
		c.cond.Broadcast()
	}
	return evicted
}

// Destroy flushes every dirty resident slot to its backing file,
// releases all slots, and makes the cache permanently unusable: any
// Pin call blocked or made afterward returns ErrClosed. Destroy does
// not wait for currently pinned files to be unpinned; it flushes and
// releases them regardless of pin count.
func (c *Cache) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	var firstErr error
	for i := range c.table.slots {
		s := &c.table.slots[i]
		if !s.occupied {
			continue
		}
		wasDirty := s.dirty
		if err := s.flush(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else if wasDirty {
			atomic.AddInt64(&c.flushes, 1)
		}
		if err := s.release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closed = true
	c.cond.Broadcast()
	return firstErr
}

// SlotSnapshot is a point-in-time, read-only view of one slot, for
// diagnostics.
type SlotSnapshot struct {
	Fingerprint string
	PinCount    int
	Dirty       bool
	Occupied    bool
	Loading     bool
	Generation  uint64
}

// DebugDump returns a snapshot of every slot's bookkeeping state. It
// never exposes buffer contents or real file names, only the
// fingerprint of the resident name, so it is safe to log.
func (c *Cache) DebugDump() []SlotSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SlotSnapshot, len(c.table.slots))
	for i := range c.table.slots {
		s := &c.table.slots[i]
		fp := ""
		if s.occupied {
			fp = fingerprint.Of(s.name)
		}
		out[i] = SlotSnapshot{
			Fingerprint: fp,
			PinCount:    s.pinCount,
			Dirty:       s.dirty,
			Occupied:    s.occupied,
			Loading:     s.loading,
			Generation:  s.generation,
		}
	}
	return out
}
