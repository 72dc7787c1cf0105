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
	"sync"
)

// contextWatcher arranges for cond.Broadcast to be called if ctx is
// ever done, so a goroutine parked in cond.Wait inside pinOne's loop
// notices cancellation instead of blocking until some unrelated Unpin
// or Destroy wakes it. The returned stop func must be called once the
// wait loop is no longer needed, to deregister the callback.
func contextWatcher(ctx context.Context, mu *sync.Mutex, cond *sync.Cond) (stop func() bool) {
	if ctx.Done() == nil {
		return func() bool { return false }
	}
	return context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		cond.Broadcast()
	})
}
