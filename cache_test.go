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
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type testLogger struct {
	mu  sync.Mutex
	out testing.TB
}

func (t *testLogger) Printf(f string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.out.Logf(f, args...)
}

func newTestCache(t testing.TB, capacity int) *Cache {
	t.Helper()
	c, err := New(capacity, WithLogger(&testLogger{out: t}))
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	c.resolver = &fsResolver{}
	t.Cleanup(func() { c.Destroy() })
	return c
}

func tempName(t testing.TB, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

func readBack(t testing.TB, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading back %q: %s", path, err)
	}
	return data
}

func TestBasicPinUnpinEvict(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, 4)
	names := []string{filepath.Join(dir, "a"), filepath.Join(dir, "b"), filepath.Join(dir, "c")}

	if err := c.Pin(names); err != nil {
		t.Fatalf("Pin: %s", err)
	}
	if err := c.Unpin(names[:2]); err != nil {
		t.Fatalf("Unpin: %s", err)
	}
	if evicted := c.Evict(); !evicted {
		t.Fatalf("Evict: expected true")
	}
	st := c.Stats()
	if st.Occupied != 1 {
		t.Fatalf("Occupied = %d, want 1", st.Occupied)
	}
	if _, err := c.FileData(names[2]); err != nil {
		t.Fatalf("FileData(c): %s", err)
	}
	if _, err := c.FileData(names[0]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FileData(a): want ErrNotFound, got %v", err)
	}
}

func TestRepinSameFile(t *testing.T) {
	c := newTestCache(t, 4)
	name := tempName(t, "a")

	if err := c.Pin([]string{name}); err != nil {
		t.Fatalf("Pin 1: %s", err)
	}
	if err := c.Pin([]string{name}); err != nil {
		t.Fatalf("Pin 2: %s", err)
	}

	path, err := (&fsResolver{}).Canonicalize(name)
	if err != nil {
		t.Fatalf("Canonicalize: %s", err)
	}
	c.mu.Lock()
	pins := c.table.find(path).pinCount
	c.mu.Unlock()
	if pins != 2 {
		t.Fatalf("pinCount = %d, want 2", pins)
	}

	c.Unpin([]string{name})
	if evicted := c.Evict(); evicted {
		t.Fatalf("Evict after first unpin: want false, still pinned once")
	}
	c.Unpin([]string{name})
	if evicted := c.Evict(); !evicted {
		t.Fatalf("Evict after second unpin: want true")
	}
}

func TestDirtySurvivesEvictionAttempt(t *testing.T) {
	c := newTestCache(t, 4)
	name := tempName(t, "a")

	if err := c.Pin([]string{name}); err != nil {
		t.Fatalf("Pin: %s", err)
	}
	buf, err := c.MutableFileData(name)
	if err != nil {
		t.Fatalf("MutableFileData: %s", err)
	}
	buf[0] = 'X'
	c.Unpin([]string{name})

	if evicted := c.Evict(); evicted {
		t.Fatalf("Evict: want false, slot is dirty")
	}
	if err := c.Destroy(); err != nil {
		t.Fatalf("Destroy: %s", err)
	}

	data := readBack(t, name)
	if data[0] != 'X' {
		t.Fatalf("byte 0 = %q, want 'X'", data[0])
	}
	for i := 1; i < FileSize; i++ {
		if data[i] != zeroFill {
			t.Fatalf("byte %d = %q, want '0'", i, data[i])
		}
	}
}

func TestBlockingPin(t *testing.T) {
	c := newTestCache(t, 2)
	a, b, cc := tempName(t, "a"), tempName(t, "b"), tempName(t, "c")

	if err := c.Pin([]string{a, b}); err != nil {
		t.Fatalf("Pin a,b: %s", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.Pin([]string{cc})
	}()

	// Give the blocked pin a moment to actually park on the queue
	// before we release capacity.
	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("pin(c) returned early: %v", err)
	default:
	}

	if err := c.Unpin([]string{a}); err != nil {
		t.Fatalf("Unpin a: %s", err)
	}
	if evicted := c.Evict(); !evicted {
		t.Fatalf("Evict: want true")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("pin(c): %s", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pin(c) never unblocked")
	}

	if _, err := c.FileData(b); err != nil {
		t.Fatalf("FileData(b): %s", err)
	}
	if _, err := c.FileData(cc); err != nil {
		t.Fatalf("FileData(c): %s", err)
	}
	if _, err := c.FileData(a); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FileData(a): want ErrNotFound, got %v", err)
	}
}

func TestDestroyFlushes(t *testing.T) {
	c := newTestCache(t, 4)
	a, b := tempName(t, "a"), tempName(t, "b")

	if err := c.Pin([]string{a, b}); err != nil {
		t.Fatalf("Pin: %s", err)
	}
	buf, err := c.MutableFileData(a)
	if err != nil {
		t.Fatalf("MutableFileData: %s", err)
	}
	buf[42] = 'Y'

	if err := c.Destroy(); err != nil {
		t.Fatalf("Destroy: %s", err)
	}

	data := readBack(t, a)
	if data[42] != 'Y' {
		t.Fatalf("a[42] = %q, want 'Y'", data[42])
	}
	bdata := readBack(t, b)
	for i, v := range bdata {
		if v != zeroFill {
			t.Fatalf("b[%d] = %q, want '0'", i, v)
		}
	}
}

func TestUnknownUnpinIsNoop(t *testing.T) {
	c := newTestCache(t, 4)
	a := tempName(t, "a")

	if err := c.Pin([]string{a}); err != nil {
		t.Fatalf("Pin: %s", err)
	}
	if err := c.Unpin([]string{tempName(t, "zzz")}); err != nil {
		t.Fatalf("Unpin unknown: %s", err)
	}

	path, _ := (&fsResolver{}).Canonicalize(a)
	c.mu.Lock()
	pins := c.table.find(path).pinCount
	c.mu.Unlock()
	if pins != 1 {
		t.Fatalf("pinCount = %d, want 1", pins)
	}
}

func TestDestroyWakesWaiters(t *testing.T) {
	c := newTestCache(t, 1)
	a, b := tempName(t, "a"), tempName(t, "b")

	if err := c.Pin([]string{a}); err != nil {
		t.Fatalf("Pin a: %s", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Pin([]string{b}) }()

	time.Sleep(50 * time.Millisecond)
	if err := c.Destroy(); err != nil {
		t.Fatalf("Destroy: %s", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("blocked pin after Destroy: want ErrClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("blocked pin never woke up after Destroy")
	}
}

func TestPinContextCancellation(t *testing.T) {
	c := newTestCache(t, 1)
	a, b := tempName(t, "a"), tempName(t, "b")

	if err := c.Pin([]string{a}); err != nil {
		t.Fatalf("Pin a: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.PinContext(ctx, []string{b})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("PinContext: want DeadlineExceeded, got %v", err)
	}
}

func TestConcurrentPinsOfSameNameShareOneSlot(t *testing.T) {
	c := newTestCache(t, 8)
	name := tempName(t, "a")

	const parallel = 16
	cc := make(chan error, parallel)
	for i := 0; i < parallel; i++ {
		go func() { cc <- c.Pin([]string{name}) }()
	}
	for i := 0; i < parallel; i++ {
		if err := <-cc; err != nil {
			t.Errorf("Pin: %s", err)
		}
	}

	path, err := (&fsResolver{}).Canonicalize(name)
	if err != nil {
		t.Fatalf("Canonicalize: %s", err)
	}

	c.mu.Lock()
	occupied := 0
	for i := range c.table.slots {
		if c.table.slots[i].occupied && c.table.slots[i].name == path {
			occupied++
		}
	}
	pins := c.table.find(path).pinCount
	c.mu.Unlock()

	if occupied != 1 {
		t.Fatalf("name occupies %d slots, want 1", occupied)
	}
	if pins != parallel {
		t.Fatalf("pinCount = %d, want %d", pins, parallel)
	}

	for i := 0; i < parallel; i++ {
		if err := c.Unpin([]string{name}); err != nil {
			t.Fatalf("Unpin %d: %s", i, err)
		}
	}
	if evicted := c.Evict(); !evicted {
		t.Fatalf("Evict: want true once every pin is released")
	}
}

func TestPinAbortsOnFirstFailure(t *testing.T) {
	c := newTestCache(t, 4)
	a := tempName(t, "a")
	// a directory can never be opened as a FileSize-byte file.
	unopenable := t.TempDir()

	err := c.Pin([]string{a, unopenable})
	if err == nil {
		t.Fatalf("Pin: want error for unopenable second path")
	}
	var pinErr *PinError
	if !errors.As(err, &pinErr) {
		t.Fatalf("Pin: want *PinError, got %T", err)
	}

	if _, ferr := c.FileData(a); ferr != nil {
		t.Fatalf("FileData(a): a should remain pinned after batch abort: %s", ferr)
	}
}
