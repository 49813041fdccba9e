// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package driver defines the explicit graphics API consumed by the GS
// backend: opaque handles, object descriptors, a Device that creates and
// destroys objects, and a CommandBuffer that records work.
//
// Two implementations exist: internal/driver/soft executes commands on the
// CPU, and internal/driver/halvk records them through the wgpu HAL.
package driver

import (
	"errors"
	"image"
)

// Driver errors.
var (
	// ErrOutOfPoolMemory is returned by AllocateDescriptorSet when the pool
	// has no space left. The caller is expected to flush and retry.
	ErrOutOfPoolMemory = errors.New("driver: descriptor pool out of memory")

	// ErrDeviceLost is returned when the device can no longer execute work.
	ErrDeviceLost = errors.New("driver: device lost")

	// ErrUnsupported is returned for requests the device cannot express.
	ErrUnsupported = errors.New("driver: unsupported")

	// ErrInvalidHandle is returned when an object handle is unknown.
	ErrInvalidHandle = errors.New("driver: invalid handle")
)

// Device creates GPU objects and executes command buffers.
//
// Buffers are always host visible: MapBuffer returns a persistent mapping
// and FlushBuffer makes a written range visible to later submissions.
type Device interface {
	Name() string
	Features() Features

	CreateImage(desc *ImageDesc) (Image, error)
	DestroyImage(img Image)

	CreateBuffer(desc *BufferDesc) (Buffer, error)
	DestroyBuffer(buf Buffer)
	MapBuffer(buf Buffer) []byte
	FlushBuffer(buf Buffer, offset, size uint64)

	CreateRenderPass(desc *RenderPassDesc) (RenderPass, error)
	DestroyRenderPass(rp RenderPass)
	CreateFramebuffer(desc *FramebufferDesc) (Framebuffer, error)
	DestroyFramebuffer(fb Framebuffer)

	CreateShaderModule(desc *ShaderModuleDesc) (ShaderModule, error)
	DestroyShaderModule(sm ShaderModule)
	CreateSetLayout(desc *SetLayoutDesc) (SetLayout, error)
	DestroySetLayout(l SetLayout)
	CreatePipelineLayout(desc *PipelineLayoutDesc) (PipelineLayout, error)
	DestroyPipelineLayout(l PipelineLayout)
	CreatePipeline(desc *PipelineDesc) (Pipeline, error)
	DestroyPipeline(p Pipeline)
	CreateSampler(desc *SamplerDesc) (Sampler, error)
	DestroySampler(s Sampler)

	CreateDescriptorPool(maxSets uint32) (DescriptorPool, error)
	ResetDescriptorPool(pool DescriptorPool)
	DestroyDescriptorPool(pool DescriptorPool)
	AllocateDescriptorSet(pool DescriptorPool, layout SetLayout, writes []DescriptorWrite) (DescriptorSet, error)

	// PipelineCacheData returns an opaque blob describing compiled
	// pipelines; SetPipelineCacheData seeds the device with a prior blob.
	PipelineCacheData() []byte
	SetPipelineCacheData(data []byte) error

	NewCommandBuffer() CommandBuffer
	// Submit queues cmd. The device signals fence once the work completes;
	// fence values are strictly increasing.
	Submit(cmd CommandBuffer, fence uint64) error
	CompletedFence() uint64
	WaitFence(fence uint64) error

	Destroy()
}

// CommandBuffer records GPU work in submission order.
type CommandBuffer interface {
	BeginRenderPass(rp RenderPass, fb Framebuffer, area image.Rectangle, clear ClearValues)
	EndRenderPass()
	PipelineBarrier(img Image, oldLayout, newLayout Layout)

	BindPipeline(p Pipeline)
	BindVertexBuffer(buf Buffer, offset uint64)
	// BindIndexBuffer binds a buffer of uint32 indices.
	BindIndexBuffer(buf Buffer, offset uint64)
	SetViewport(vp Viewport)
	SetScissor(r image.Rectangle)
	SetBlendConstants(c [4]float32)
	BindDescriptorSets(layout PipelineLayout, first uint32, sets []DescriptorSet, dynamicOffsets []uint32)
	PushConstants(layout PipelineLayout, offset uint32, data []byte)
	Draw(vertexCount, firstVertex uint32)
	DrawIndexed(indexCount, firstIndex uint32, vertexOffset int32)

	CopyImage(src Image, srcLevel uint32, srcRect image.Rectangle, dst Image, dstLevel uint32, dstPoint image.Point)
	BlitImage(src Image, srcLevel uint32, srcRect image.Rectangle, dst Image, dstLevel uint32, dstRect image.Rectangle, filter Filter)
	CopyImageToBuffer(src Image, level uint32, rect image.Rectangle, dst Buffer, offset uint64, rowPitch uint32)
	CopyBufferToImage(src Buffer, offset uint64, rowPitch uint32, dst Image, level uint32, rect image.Rectangle)
	ClearColorImage(img Image, color [4]float32)
	ClearDepthStencilImage(img Image, depth float32, stencil uint32, aspect Aspect)
}
