// The MIT License (MIT)
//
// Copyright (c) 2017 CEA Sec
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package channel provides a bounded single-producer single-consumer
// queue over preallocated slots. The reserve/commit and peek/ack pairs
// expose the slots in place so the hot path moves no memory; send/recv
// are copying conveniences layered on top.
//
// Capacity N is allocated as N+1 slots, one of which is always unused to
// tell a full ring from an empty one:
//
//	_ _ r - - - w _ _   (len = 4)
//	- w _ _ _ _ _ r -   (len = 3)
//	_ rw_ _ _ _ _ _ _   (empty)
//	- w r - - - - - -   (full)
package channel

import (
	"sync"
	"sync/atomic"
)

// Channel is a bounded SPSC queue of T. At most one producer and one
// consumer may use it for its whole lifetime.
type Channel[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	elts []T
	wr   atomic.Int64 // next slot to be written
	rd   atomic.Int64 // next slot to be read

	poisoned atomic.Bool
}

// New allocates a channel of the given capacity.
func New[T any](capacity int) *Channel[T] {
	if capacity < 1 {
		capacity = 1
	}
	c := &Channel[T]{elts: make([]T, capacity+1)}
	c.notFull = sync.NewCond(&c.mu)
	c.notEmpty = sync.NewCond(&c.mu)
	return c
}

// NewWith allocates a channel whose slots are pre-filled by alloc, so
// that slot buffers are allocated exactly once for the channel lifetime.
func NewWith[T any](capacity int, alloc func() T) *Channel[T] {
	c := New[T](capacity)
	for i := range c.elts {
		c.elts[i] = alloc()
	}
	return c
}

// Cap returns the usable capacity.
func (c *Channel[T]) Cap() int { return len(c.elts) - 1 }

func (c *Channel[T]) next(i int64) int64 { return (i + 1) % int64(len(c.elts)) }

func (c *Channel[T]) isFull() bool {
	return c.rd.Load() == c.next(c.wr.Load()) && !c.poisoned.Load()
}

func (c *Channel[T]) isEmpty() bool {
	return c.rd.Load() == c.wr.Load() && !c.poisoned.Load()
}

// wait blocks until test no longer holds. The first test runs without
// the mutex: there is only one producer (resp. consumer), so between the
// test and the lock acquisition the condition can only be relaxed by the
// other side, never re-established.
func (c *Channel[T]) wait(test func() bool, cond *sync.Cond) {
	if !test() {
		return
	}
	c.mu.Lock()
	for test() {
		cond.Wait()
	}
	c.mu.Unlock()
}

// Reserve blocks while the channel is full, then returns the next write
// slot. Repeated calls without a Commit return the same slot. It returns
// ok == false once the channel is poisoned.
func (c *Channel[T]) Reserve() (slot *T, ok bool) {
	if c.poisoned.Load() {
		return nil, false
	}
	c.wait(c.isFull, c.notFull)
	// May have been poisoned while waiting.
	if c.poisoned.Load() {
		return nil, false
	}
	return &c.elts[c.wr.Load()], true
}

// Commit publishes the slot returned by the previous Reserve and wakes a
// consumer waiting on an empty channel. Committing anything but the
// currently reserved slot fails.
func (c *Channel[T]) Commit(slot *T) bool {
	if c.poisoned.Load() {
		return false
	}
	if slot == nil || slot != &c.elts[c.wr.Load()] {
		return false
	}
	c.mu.Lock()
	wasEmpty := c.isEmpty()
	c.wr.Store(c.next(c.wr.Load()))
	if wasEmpty {
		c.notEmpty.Signal()
	}
	c.mu.Unlock()
	return true
}

// Peek blocks while the channel is empty, then returns the next read
// slot without releasing it. It returns ok == false once the channel is
// poisoned.
func (c *Channel[T]) Peek() (slot *T, ok bool) {
	if c.poisoned.Load() {
		return nil, false
	}
	c.wait(c.isEmpty, c.notEmpty)
	if c.poisoned.Load() {
		return nil, false
	}
	return &c.elts[c.rd.Load()], true
}

// Ack releases the slot returned by the previous Peek and wakes a
// producer waiting on a full channel. The slot may be recycled by the
// producer afterwards, further uses of it are invalid.
func (c *Channel[T]) Ack(slot *T) bool {
	if c.poisoned.Load() {
		return false
	}
	if slot == nil || slot != &c.elts[c.rd.Load()] {
		return false
	}
	c.mu.Lock()
	wasFull := c.isFull()
	c.rd.Store(c.next(c.rd.Load()))
	if wasFull {
		c.notFull.Signal()
	}
	c.mu.Unlock()
	return true
}

// Send copies v into the next write slot. Reserve/Commit avoid the copy.
func (c *Channel[T]) Send(v T) bool {
	slot, ok := c.Reserve()
	if !ok {
		return false
	}
	*slot = v
	return c.Commit(slot)
}

// Recv copies the next element out of the channel.
func (c *Channel[T]) Recv() (v T, ok bool) {
	slot, ok := c.Peek()
	if !ok {
		return v, false
	}
	v = *slot
	return v, c.Ack(slot)
}

// Poison closes the channel: both ends are woken and every further
// operation fails without blocking. Poisoning is idempotent.
func (c *Channel[T]) Poison() {
	c.mu.Lock()
	c.poisoned.Store(true)
	c.notFull.Broadcast()
	c.notEmpty.Broadcast()
	c.mu.Unlock()
}
