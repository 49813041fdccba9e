// Package gsvk is the resource and state management core of a GS hardware
// renderer for explicit, render-pass based graphics APIs.
//
// # Overview
//
// The emulation layer describes what to draw: "draw this primitive batch with
// pipeline selector S into RT/DS", "stretch this texture into that one with
// convert shader N", "merge the two display circuits", "read this texture
// back". gsvk turns those requests into correctly ordered commands on a
// [driver.Device], managing object lifetimes, render-pass transitions and the
// pipeline, shader, sampler, render-pass and framebuffer caches.
//
// # Quick Start
//
//	import (
//		"github.com/gogpu/gsvk"
//		"github.com/gogpu/gsvk/internal/driver"
//		"github.com/gogpu/gsvk/internal/driver/soft"
//	)
//
//	ctx, _ := driver.NewContext(soft.New(soft.Config{}), driver.ContextOptions{})
//	dev, err := gsvk.New(ctx, gsvk.WithUpscale(2))
//	if err != nil {
//		return err
//	}
//	defer dev.Destroy()
//
//	rt := dev.CreateRenderTarget(640, 448, driver.FormatRGBA8)
//	dev.StretchRect(src, gsvk.FullRectF, rt, gsvk.RectF{...}, gsvk.ShaderCopy, false)
//	m, _ := dev.ReadbackTexture(rt, rt.Rect(), 0)
//
// # Architecture
//
// The package is organized into:
//   - Device: frame orchestration, draw submission and post-processing
//   - Texture: one GPU image with tracked layout, addressed by TextureHandle
//   - caches: render passes, framebuffers, samplers, shaders and pipelines
//   - state tracker: dirty flags, descriptor sets and render-pass bracketing
//
// Drivers live under internal/driver: soft executes commands on the CPU and
// halvk records them through the wgpu HAL.
//
// # Logging
//
// gsvk is silent by default. Call [SetLogger] to route its log sources to a
// [log/slog] logger, or pass [WithLogSource] to attach them to an existing
// source tree.
package gsvk
