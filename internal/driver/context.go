// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package driver

import (
	"fmt"
	"sync"
)

// FrameContext is the device/context provider seen by the backend core: it
// exposes the device, the command buffer currently being recorded, fence
// bookkeeping, submission and deferred destruction.
type FrameContext interface {
	Device() Device
	CommandBuffer() CommandBuffer
	CurrentFrame() int
	CurrentFenceCounter() uint64
	CompletedFenceCounter() uint64
	Submit(wait bool) error
	WaitForGPUIdle() error
	DeferDestroy(fn func())
	AllocateDescriptorSet(layout SetLayout, writes []DescriptorWrite) (DescriptorSet, error)
	AllocatePersistentDescriptorSet(layout SetLayout, writes []DescriptorWrite) (DescriptorSet, error)
	Destroy()
}

// Default pool sizes.
const (
	DefaultFramesInFlight    = 2
	DefaultFrameDescriptors  = 16384
	DefaultGlobalDescriptors = 64
)

type frameResources struct {
	cmd      CommandBuffer
	fence    uint64
	pool     DescriptorPool
	deferred []func()
}

// Context rotates per-frame command buffers and descriptor pools over any
// Device. Objects handed to DeferDestroy are released once the fence of the
// command buffer that was current at the time has signalled.
type Context struct {
	mu sync.Mutex

	dev        Device
	frames     []frameResources
	cur        int
	nextFence  uint64
	lastSubmit uint64
	global     DescriptorPool
	submits    uint64
}

var _ FrameContext = (*Context)(nil)

// ContextOptions configures NewContext. Zero values select defaults.
type ContextOptions struct {
	FramesInFlight    int
	FrameDescriptors  uint32
	GlobalDescriptors uint32
}

// NewContext creates a frame context over dev.
func NewContext(dev Device, opts ContextOptions) (*Context, error) {
	if opts.FramesInFlight <= 0 {
		opts.FramesInFlight = DefaultFramesInFlight
	}
	if opts.FrameDescriptors == 0 {
		opts.FrameDescriptors = DefaultFrameDescriptors
	}
	if opts.GlobalDescriptors == 0 {
		opts.GlobalDescriptors = DefaultGlobalDescriptors
	}

	c := &Context{dev: dev, frames: make([]frameResources, opts.FramesInFlight)}
	global, err := dev.CreateDescriptorPool(opts.GlobalDescriptors)
	if err != nil {
		return nil, fmt.Errorf("driver: create global descriptor pool: %w", err)
	}
	c.global = global
	for i := range c.frames {
		pool, err := dev.CreateDescriptorPool(opts.FrameDescriptors)
		if err != nil {
			c.destroyPools()
			return nil, fmt.Errorf("driver: create frame %d descriptor pool: %w", i, err)
		}
		c.frames[i].pool = pool
	}
	c.activate(0)
	return c, nil
}

func (c *Context) activate(i int) {
	c.cur = i
	c.nextFence++
	f := &c.frames[i]
	f.fence = c.nextFence
	f.cmd = c.dev.NewCommandBuffer()
}

// Device returns the underlying device.
func (c *Context) Device() Device { return c.dev }

// CommandBuffer returns the command buffer being recorded.
func (c *Context) CommandBuffer() CommandBuffer { return c.frames[c.cur].cmd }

// CurrentFrame returns the index of the frame being recorded.
func (c *Context) CurrentFrame() int { return c.cur }

// CurrentFenceCounter returns the fence value the current command buffer
// will signal on completion.
func (c *Context) CurrentFenceCounter() uint64 { return c.frames[c.cur].fence }

// CompletedFenceCounter returns the last fence value known complete.
func (c *Context) CompletedFenceCounter() uint64 { return c.dev.CompletedFence() }

// Submits returns the number of command buffers submitted so far.
func (c *Context) Submits() uint64 { return c.submits }

// Submit submits the current command buffer and moves to the next frame,
// waiting for that frame's previous work before reusing its resources.
// With wait set, Submit also blocks until the submitted work completes.
func (c *Context) Submit(wait bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := &c.frames[c.cur]
	if err := c.dev.Submit(f.cmd, f.fence); err != nil {
		return fmt.Errorf("driver: submit frame %d: %w", c.cur, err)
	}
	c.submits++
	c.lastSubmit = f.fence
	if wait {
		if err := c.dev.WaitFence(f.fence); err != nil {
			return fmt.Errorf("driver: wait fence %d: %w", f.fence, err)
		}
	}

	next := (c.cur + 1) % len(c.frames)
	nf := &c.frames[next]
	if nf.fence > c.dev.CompletedFence() {
		if err := c.dev.WaitFence(nf.fence); err != nil {
			return fmt.Errorf("driver: wait fence %d: %w", nf.fence, err)
		}
	}
	c.runDeferred(nf)
	c.dev.ResetDescriptorPool(nf.pool)
	c.activate(next)
	return nil
}

// WaitForGPUIdle blocks until every submitted command buffer has completed
// and releases the deferred objects of all frames but the current one.
func (c *Context) WaitForGPUIdle() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSubmit > 0 {
		if err := c.dev.WaitFence(c.lastSubmit); err != nil {
			return fmt.Errorf("driver: wait idle: %w", err)
		}
	}
	for i := range c.frames {
		if i != c.cur {
			c.runDeferred(&c.frames[i])
		}
	}
	return nil
}

// DeferDestroy queues fn to run once the current command buffer completes.
func (c *Context) DeferDestroy(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := &c.frames[c.cur]
	f.deferred = append(f.deferred, fn)
}

// AllocateDescriptorSet allocates a set that lives until this frame's pool
// is next reset.
func (c *Context) AllocateDescriptorSet(layout SetLayout, writes []DescriptorWrite) (DescriptorSet, error) {
	return c.dev.AllocateDescriptorSet(c.frames[c.cur].pool, layout, writes)
}

// AllocatePersistentDescriptorSet allocates a set that lives as long as the
// context.
func (c *Context) AllocatePersistentDescriptorSet(layout SetLayout, writes []DescriptorWrite) (DescriptorSet, error) {
	return c.dev.AllocateDescriptorSet(c.global, layout, writes)
}

func (c *Context) runDeferred(f *frameResources) {
	for _, fn := range f.deferred {
		fn()
	}
	f.deferred = f.deferred[:0]
}

func (c *Context) destroyPools() {
	for i := range c.frames {
		if c.frames[i].pool != 0 {
			c.dev.DestroyDescriptorPool(c.frames[i].pool)
			c.frames[i].pool = 0
		}
	}
	if c.global != 0 {
		c.dev.DestroyDescriptorPool(c.global)
		c.global = 0
	}
}

// Destroy waits for the GPU, runs every pending deferred destruction and
// releases the descriptor pools. The device itself is left to its owner.
func (c *Context) Destroy() {
	_ = c.WaitForGPUIdle()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runDeferred(&c.frames[c.cur])
	c.destroyPools()
}
