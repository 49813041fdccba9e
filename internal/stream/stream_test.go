// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package stream

import (
	"testing"

	"github.com/gogpu/gsvk/internal/driver"
	"github.com/gogpu/gsvk/internal/driver/soft"
)

type fakeFences struct {
	current   uint64
	completed uint64
}

func (f *fakeFences) CurrentFenceCounter() uint64   { return f.current }
func (f *fakeFences) CompletedFenceCounter() uint64 { return f.completed }

func newTestBuffer(t *testing.T, size uint64) (*Buffer, *fakeFences) {
	t.Helper()
	fences := &fakeFences{current: 1}
	b, err := Create(soft.New(soft.Config{}), fences, "test", driver.BufferUsageVertex, size)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(b.Destroy)
	return b, fences
}

func TestReserveCommitAdvances(t *testing.T) {
	b, _ := newTestBuffer(t, 1024)
	if !b.ReserveMemory(100, 16) {
		t.Fatal("first reserve failed")
	}
	if b.CurrentOffset() != 0 || b.CurrentSpace() != 1024 {
		t.Fatalf("offset/space = %d/%d", b.CurrentOffset(), b.CurrentSpace())
	}
	copy(b.CurrentHostPointer(), []byte{1, 2, 3})
	b.CommitMemory(100)

	if !b.ReserveMemory(10, 64) {
		t.Fatal("second reserve failed")
	}
	if b.CurrentOffset() != 128 {
		t.Errorf("aligned offset = %d, want 128", b.CurrentOffset())
	}
}

func TestReserveTooLarge(t *testing.T) {
	b, _ := newTestBuffer(t, 256)
	if b.ReserveMemory(256, 16) {
		t.Error("reserve of size+alignment > capacity should fail")
	}
}

func TestReserveFailsWhileInFlightThenReclaims(t *testing.T) {
	b, f := newTestBuffer(t, 1024)

	if !b.ReserveMemory(600, 4) {
		t.Fatal("reserve 600")
	}
	b.CommitMemory(600)
	if b.ReserveMemory(600, 4) {
		t.Fatal("reserve must fail while the first 600 bytes are in flight")
	}

	f.completed = 1
	f.current = 2
	if !b.ReserveMemory(600, 4) {
		t.Fatal("reserve should succeed after the fence completed")
	}
	if b.CurrentOffset() != 0 {
		t.Errorf("offset after reclaim = %d, want 0", b.CurrentOffset())
	}
}

func TestWrapAround(t *testing.T) {
	b, f := newTestBuffer(t, 1000)

	b.ReserveMemory(400, 1)
	b.CommitMemory(400) // fence 1: [0,400)
	f.current = 2
	b.ReserveMemory(400, 1)
	b.CommitMemory(400) // fence 2: [400,800)

	f.completed = 1
	f.current = 3
	// 300 bytes do not fit at the tail (800..1000) but fit before the GPU
	// position after wrapping.
	if !b.ReserveMemory(300, 1) {
		t.Fatal("wrapped reserve failed")
	}
	if b.CurrentOffset() != 0 || b.CurrentSpace() != 400 {
		t.Fatalf("wrapped offset/space = %d/%d, want 0/400", b.CurrentOffset(), b.CurrentSpace())
	}
	b.CommitMemory(300)

	// Between cursor (300) and GPU position (400) only 99 bytes remain.
	if b.ReserveMemory(100, 1) {
		t.Error("reserve must not reach the GPU position")
	}
	if !b.ReserveMemory(99, 1) {
		t.Error("reserve of 99 bytes should fit")
	}
}

func TestCommitTracksFencePerCommandBuffer(t *testing.T) {
	b, f := newTestBuffer(t, 1024)
	for range 3 {
		b.ReserveMemory(10, 1)
		b.CommitMemory(10)
	}
	if len(b.tracked) != 1 || b.tracked[0].offset != 30 {
		t.Fatalf("tracked = %+v, want one entry at 30", b.tracked)
	}
	f.current = 2
	b.ReserveMemory(10, 1)
	b.CommitMemory(10)
	if len(b.tracked) != 2 {
		t.Fatalf("tracked = %+v, want two entries", b.tracked)
	}
}

func TestCommitBeyondReservationPanics(t *testing.T) {
	b, _ := newTestBuffer(t, 64)
	b.ReserveMemory(8, 1)
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	b.CommitMemory(65)
}
