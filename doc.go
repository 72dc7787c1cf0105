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

// Package pincache implements a bounded, pinning cache of fixed-size
// file buffers.
//
// A Cache holds up to capacity files resident in memory at once, each
// in its own fixed FileSize-byte slot. Callers pin a file to obtain
// access to its slot, read or mutate the slot's buffer directly, and
// unpin when done. A pinned slot can never be evicted; an unpinned,
// clean slot is eligible for reuse the next time the cache needs
// room for a different file.
//
// # Basic usage
//
//	c, err := pincache.New(64)
//	if err != nil {
//	    // handle error
//	}
//	defer c.Destroy()
//
//	if err := c.Pin([]string{"table.dat"}); err != nil {
//	    // handle error
//	}
//	buf, _ := c.MutableFileData("table.dat")
//	buf[0] = 'X'
//	c.Unpin([]string{"table.dat"})
//
// # Concurrency
//
// Cache is safe for concurrent use by many goroutines. Pin blocks
// when the cache is full and no slot is evictable; it unblocks as
// soon as Unpin or Evict frees a slot, or returns an error once the
// cache has been destroyed. See PinContext for a context-cancellable
// variant.
//
// Cache does not synchronize concurrent mutation of a single pinned
// buffer by multiple callers — that is the caller's responsibility.
package pincache
