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
	"fmt"
	"os"
	"sync"
)

// FileSize is the fixed size, in bytes, of every file this cache
// manages.
const FileSize = 10240

// zeroFill is the byte value a freshly created backing file is
// pre-filled with: ASCII '0' (0x30), not NUL.
const zeroFill byte = '0'

// slot is one cache row: a fixed-size buffer plus the metadata that
// names the file currently resident in it, if any.
//
// name, file, pinCount, dirty, occupied, loading and generation are
// bookkeeping fields mutated only while the owning Cache's mutex is
// held. ioMu guards only the buffer contents and the backing
// descriptor's I/O, and is acquired independently so that loading or
// flushing distinct slots can proceed concurrently.
type slot struct {
	ioMu sync.Mutex
	buf  [FileSize]byte

	name     string
	file     *os.File
	pinCount int
	dirty    bool
	occupied bool

	// loading is true from the moment a slot is claimed until its
	// load() completes. A loading slot is already occupied (it
	// counts against capacity and cannot be claimed by anyone else),
	// but it is not yet eligible to be found by name: a concurrent
	// pin of the same file must wait for the load to finish rather
	// than observe a half-populated buffer. table.findLoading makes
	// this slot visible by name while it is loading (unlike find),
	// which is what lets Cache.awaitIdle recognize the in-flight pin
	// and join it instead of claiming a second slot for the name.
	loading bool

	generation uint64
}

// resident reports whether s currently holds a fully-loaded,
// name-addressable copy of a file. Callers must hold the cache mutex.
func (s *slot) resident(name string) bool {
	return s.occupied && !s.loading && s.name == name
}

// evictable reports whether s may be handed to a different file
// without losing data. Callers must hold the cache mutex.
func (s *slot) evictable() bool {
	return s.occupied && !s.loading && s.pinCount == 0 && !s.dirty
}

// claim marks an unoccupied slot as occupied by name, pinned once,
// and still loading (so not yet resident). Callers must hold the cache mutex and must have
// verified !s.occupied.
func (s *slot) claim(f *os.File, name string) {
	s.name = name
	s.file = f
	s.pinCount = 1
	s.dirty = false
	s.occupied = true
	s.loading = true
	s.generation++
}

// takeOver reassigns an evictable slot to a new file, without ever
// passing through an unoccupied state (so the cache's occupied count
// does not change). It returns the descriptor the slot previously
// held, which the caller is responsible for closing once it has
// released the cache mutex. Callers must hold the cache mutex and
// must have verified s.evictable().
func (s *slot) takeOver(f *os.File, name string) (previous *os.File) {
	previous = s.file
	s.name = name
	s.file = f
	s.pinCount = 1
	s.dirty = false
	s.loading = true
	s.generation++
	return previous
}

// finishLoad clears the loading flag once load() has populated the
// buffer. Callers must hold the cache mutex.
func (s *slot) finishLoad() {
	s.loading = false
}

// load reads FileSize bytes from f into the slot's buffer.
//
// Precondition: the caller has already claimed the slot (via claim or
// takeOver) under the cache mutex and has released the cache mutex
// before calling load, so that loads of distinct slots can run
// concurrently.
func (s *slot) load(f *os.File) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	n, err := f.ReadAt(s.buf[:], 0)
	if err != nil {
		return fmt.Errorf("loading slot: %w", err)
	}
	if n != FileSize {
		return fmt.Errorf("loading slot: short read: got %d of %d bytes", n, FileSize)
	}
	return nil
}

// flush writes the slot's buffer back to its backing file if dirty,
// then clears the dirty bit. Callers must hold the cache mutex.
func (s *slot) flush() error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	if !s.dirty {
		return nil
	}
	if _, err := s.file.WriteAt(s.buf[:], 0); err != nil {
		return fmt.Errorf("flushing slot %q: %w", s.name, err)
	}
	s.dirty = false
	return nil
}

// release marks the slot unoccupied, resets its pin count and dirty
// bit, and closes its backing descriptor. Callers must hold the cache
// mutex. Evict releases only evictable slots; Destroy releases every
// occupied slot after flushing it, whatever its pin count.
func (s *slot) release() error {
	s.ioMu.Lock()
	f := s.file
	s.occupied = false
	s.loading = false
	s.name = ""
	s.file = nil
	s.pinCount = 0
	s.dirty = false
	s.ioMu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}
