package gsvk

import (
	"fmt"

	"github.com/gogpu/gsvk/internal/driver"
)

// GetRenderPass returns the render pass for the attachment formats, using
// load for every aspect. driver.FormatUndefined means no attachment.
func (d *Device) GetRenderPass(color, depth driver.Format, load driver.LoadOp) driver.RenderPass {
	return d.GetRenderPassEx(color, depth, load, load, load)
}

// GetRenderPassEx returns the render pass with separate color, depth and
// stencil load operations. Store operations always keep the contents.
// Equal inputs return the same handle; a creation failure is logged and
// returns 0.
func (d *Device) GetRenderPassEx(color, depth driver.Format, colorLoad, depthLoad, stencilLoad driver.LoadOp) driver.RenderPass {
	desc := driver.RenderPassDesc{
		ColorFormat: color,
		DepthFormat: depth,
		ColorLoad:   colorLoad,
		DepthLoad:   depthLoad,
		StencilLoad: stencilLoad,
	}
	// Unused aspects do not split the cache.
	if color == driver.FormatUndefined {
		desc.ColorLoad = driver.LoadOpDontCare
	}
	if depth == driver.FormatUndefined {
		desc.DepthLoad, desc.StencilLoad = driver.LoadOpDontCare, driver.LoadOpDontCare
	}
	rp, err := d.renderPassFor(desc)
	if err != nil {
		d.log.vk.Errorf("Failed to create render pass %s/%s %s/%s/%s: %v",
			color, depth, colorLoad, depthLoad, stencilLoad, err)
		return 0
	}
	return rp
}

func (d *Device) renderPassFor(desc driver.RenderPassDesc) (driver.RenderPass, error) {
	d.rpMu.Lock()
	defer d.rpMu.Unlock()
	if rp, ok := d.renderPasses[desc]; ok {
		return rp, nil
	}
	rp, err := d.dev.CreateRenderPass(&desc)
	if err != nil {
		return 0, err
	}
	d.renderPasses[desc] = rp
	d.renderPassDescs[rp] = desc
	return rp, nil
}

// restartRenderPass returns the variant of rp that loads every attachment,
// for reopening a pass after a flush.
func (d *Device) restartRenderPass(rp driver.RenderPass) driver.RenderPass {
	d.rpMu.Lock()
	desc, ok := d.renderPassDescs[rp]
	d.rpMu.Unlock()
	if !ok {
		return rp
	}
	return d.GetRenderPassEx(desc.ColorFormat, desc.DepthFormat, driver.LoadOpLoad, driver.LoadOpLoad, driver.LoadOpLoad)
}

// tfxRenderPass returns the pass of a textured draw: [rt][ds][hdr][load].
func (d *Device) tfxRenderPass(rt, ds, hdr bool, load driver.LoadOp) driver.RenderPass {
	color, depth := driver.FormatUndefined, driver.FormatUndefined
	if rt {
		color = driver.FormatRGBA8
		if hdr {
			color = driver.FormatRGBA32F
		}
	}
	if ds {
		depth = driver.FormatD32S8
	}
	return d.GetRenderPass(color, depth, load)
}

var (
	utilityColorFormats = []driver.Format{
		driver.FormatRGBA8, driver.FormatRGBA32F, driver.FormatR8, driver.FormatR16U, driver.FormatR32U,
	}
	loadOps = []driver.LoadOp{driver.LoadOpLoad, driver.LoadOpClear, driver.LoadOpDontCare}
)

// createRenderPasses builds the passes every frame needs. Any failure is an
// init failure.
func (d *Device) createRenderPasses(*options) error {
	check := func(rp driver.RenderPass, what string) error {
		if rp == 0 {
			return fmt.Errorf("%s render pass rejected by the driver", what)
		}
		return nil
	}
	for _, load := range loadOps {
		for _, rt := range []bool{false, true} {
			for _, ds := range []bool{false, true} {
				if !rt && !ds {
					continue
				}
				for _, hdr := range []bool{false, true} {
					if hdr && !rt {
						continue
					}
					if err := check(d.tfxRenderPass(rt, ds, hdr, load), "tfx"); err != nil {
						return err
					}
				}
			}
		}
		for _, f := range utilityColorFormats {
			if err := check(d.GetRenderPass(f, driver.FormatUndefined, load), "utility "+f.String()); err != nil {
				return err
			}
		}
		if err := check(d.GetRenderPass(driver.FormatUndefined, driver.FormatD32S8, load), "depth"); err != nil {
			return err
		}
	}

	d.dateSetupPass = d.GetRenderPassEx(driver.FormatUndefined, driver.FormatD32S8,
		driver.LoadOpDontCare, driver.LoadOpLoad, driver.LoadOpClear)
	if err := check(d.dateSetupPass, "date setup"); err != nil {
		return err
	}

	if d.display != nil {
		f := d.display.SurfaceFormat()
		for _, load := range []driver.LoadOp{driver.LoadOpLoad, driver.LoadOpClear} {
			if err := check(d.GetRenderPass(f, driver.FormatUndefined, load), "present"); err != nil {
				return err
			}
		}
	}
	return nil
}
