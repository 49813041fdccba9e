// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package stream implements a ring-buffer allocator for transient GPU data
// such as vertices, indices, uniform blocks and texture uploads.
//
// Space is reserved, written through CurrentHostPointer, and then committed.
// Each commit is tagged with the fence of the command buffer being recorded;
// space is reclaimed lazily once that fence completes. ReserveMemory never
// waits for the GPU: when no space is available it returns false and the
// caller is expected to submit its command buffer and retry.
package stream

import (
	"fmt"

	"github.com/gogpu/gsvk/internal/driver"
)

// FenceSource reports the fence of the command buffer being recorded and
// the last fence known to have completed.
type FenceSource interface {
	CurrentFenceCounter() uint64
	CompletedFenceCounter() uint64
}

type trackedFence struct {
	counter uint64
	offset  uint64
}

// Buffer is a host-visible ring buffer.
type Buffer struct {
	dev    driver.Device
	fences FenceSource

	buf    driver.Buffer
	mapped []byte
	size   uint64

	offset uint64
	space  uint64
	gpuPos uint64

	tracked []trackedFence
}

// Create allocates a ring buffer of size bytes.
func Create(dev driver.Device, fences FenceSource, label string, usage driver.BufferUsage, size uint64) (*Buffer, error) {
	buf, err := dev.CreateBuffer(&driver.BufferDesc{Label: label, Size: size, Usage: usage})
	if err != nil {
		return nil, fmt.Errorf("stream: create %s (%d bytes): %w", label, size, err)
	}
	mapped := dev.MapBuffer(buf)
	if uint64(len(mapped)) < size {
		dev.DestroyBuffer(buf)
		return nil, fmt.Errorf("stream: %s is not host mappable", label)
	}
	return &Buffer{dev: dev, fences: fences, buf: buf, mapped: mapped[:size], size: size}, nil
}

// Buffer returns the underlying GPU buffer.
func (b *Buffer) Buffer() driver.Buffer { return b.buf }

// Size returns the capacity in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// CurrentOffset returns the offset of the reserved region.
func (b *Buffer) CurrentOffset() uint64 { return b.offset }

// CurrentSpace returns the size of the reserved region.
func (b *Buffer) CurrentSpace() uint64 { return b.space }

// CurrentHostPointer returns the writable reserved region.
func (b *Buffer) CurrentHostPointer() []byte { return b.mapped[b.offset : b.offset+b.space] }

func alignUp(v, a uint64) uint64 {
	if a <= 1 {
		return v
	}
	return (v + a - 1) / a * a
}

// updateGPUPosition drops tracked fences that have completed.
func (b *Buffer) updateGPUPosition() {
	done := b.fences.CompletedFenceCounter()
	n := 0
	for n < len(b.tracked) && b.tracked[n].counter <= done {
		b.gpuPos = b.tracked[n].offset
		n++
	}
	b.tracked = b.tracked[n:]
}

// ReserveMemory makes at least size contiguous bytes, aligned to alignment,
// available at CurrentOffset. It returns false without blocking when the
// space is still in use by the GPU or can never fit.
func (b *Buffer) ReserveMemory(size, alignment uint64) bool {
	if size+alignment > b.size {
		return false
	}
	b.updateGPUPosition()
	if len(b.tracked) == 0 {
		// Nothing in flight: the whole buffer is free.
		b.offset, b.gpuPos = 0, 0
	}

	if b.offset >= b.gpuPos {
		if a := alignUp(b.offset, alignment); a+size <= b.size {
			b.offset, b.space = a, b.size-a
			return true
		}
		// Wrap around; keep the cursor strictly behind the GPU.
		if size < b.gpuPos {
			b.offset, b.space = 0, b.gpuPos
			return true
		}
		return false
	}

	if a := alignUp(b.offset, alignment); a+size < b.gpuPos {
		b.offset, b.space = a, b.gpuPos-a
		return true
	}
	return false
}

// CommitMemory advances the cursor past size bytes of the last reservation
// and makes them visible to the GPU.
func (b *Buffer) CommitMemory(size uint64) {
	if size > b.space {
		panic(fmt.Sprintf("stream: commit of %d bytes exceeds reservation of %d", size, b.space))
	}
	if size == 0 {
		return
	}
	b.dev.FlushBuffer(b.buf, b.offset, size)
	b.offset += size
	b.space -= size

	counter := b.fences.CurrentFenceCounter()
	if n := len(b.tracked); n > 0 && b.tracked[n-1].counter == counter {
		b.tracked[n-1].offset = b.offset
	} else {
		b.tracked = append(b.tracked, trackedFence{counter: counter, offset: b.offset})
	}
}

// Destroy releases the GPU buffer.
func (b *Buffer) Destroy() {
	if b.buf != 0 {
		b.dev.DestroyBuffer(b.buf)
		b.buf = 0
		b.mapped = nil
	}
}
