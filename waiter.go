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
	"golang.org/x/exp/slices"

	"github.com/SnellerInc/pincache/internal/waitid"
)

// waiter is a blocked pin request parked on Cache.waiters. Condition
// variables wake all waiters on Broadcast, so FIFO order is enforced
// by the queue itself, not by wakeup order: a waiter may only claim a
// slot once it is at the front of the queue.
type waiter struct {
	id waitid.ID
}

// waiterQueue is the FIFO of pin requests blocked on slot capacity.
// All methods assume the caller holds the owning Cache's mutex.
type waiterQueue struct {
	q []*waiter
}

func (wq *waiterQueue) enqueue() *waiter {
	w := &waiter{id: waitid.New()}
	wq.q = append(wq.q, w)
	return w
}

func (wq *waiterQueue) remove(w *waiter) {
	if i := slices.Index(wq.q, w); i >= 0 {
		wq.q = slices.Delete(wq.q, i, i+1)
	}
}

// front returns the waiter at the head of the queue, or nil if the
// queue is empty.
func (wq *waiterQueue) front() *waiter {
	if len(wq.q) == 0 {
		return nil
	}
	return wq.q[0]
}

func (wq *waiterQueue) len() int {
	return len(wq.q)
}
