package gsvk

import (
	"fmt"

	"github.com/gogpu/gsvk/internal/driver"
)

// BeginPresent acquires the next display image and opens a pass on it.
// StretchRect with a nil destination draws into it until EndPresent. With
// clear set the image starts black, otherwise the previous contents are
// kept.
func (d *Device) BeginPresent(clear bool) error {
	if d.display == nil {
		return ErrNoDisplay
	}
	if d.presenting {
		return fmt.Errorf("gsvk: BeginPresent called twice")
	}
	d.EndRenderPass()
	format := d.display.SurfaceFormat()
	loadRP := d.GetRenderPass(format, driver.FormatUndefined, driver.LoadOpLoad)
	clearRP := d.GetRenderPass(format, driver.FormatUndefined, driver.LoadOpClear)
	if loadRP == 0 || clearRP == 0 {
		return fmt.Errorf("gsvk: no present render pass for %s", format)
	}
	img, fb, err := d.display.AcquireFramebuffer(loadRP)
	if err != nil {
		return fmt.Errorf("gsvk: acquire display image: %w", err)
	}
	// A display image seen for the first time has no contents to keep.
	rp, old := loadRP, driver.LayoutPresent
	if clear || !d.presentSeen[img] {
		rp, old = clearRP, driver.LayoutUndefined
	}
	if d.presentSeen == nil {
		d.presentSeen = make(map[driver.Image]bool)
	}
	d.presentSeen[img] = true
	d.ctx.CommandBuffer().PipelineBarrier(img, old, driver.LayoutColorAttachment)
	d.presentImage, d.presentFB, d.presenting = img, fb, true

	w, h := d.display.WindowSize()
	d.SetFramebuffer(fb)
	d.currentRT, d.currentDS = nil, nil
	d.SetViewportAndScissor(fullRect(w, h))
	d.BeginClearRenderPass(rp, fullRect(w, h), driver.ClearValues{Color: [4]float32{0, 0, 0, 1}})
	return nil
}

// EndPresent closes the display pass, submits the frame and presents it.
// Pooled surfaces are aged once per presented frame.
func (d *Device) EndPresent() error {
	if d.display == nil {
		return ErrNoDisplay
	}
	if !d.presenting {
		return fmt.Errorf("gsvk: EndPresent without BeginPresent")
	}
	d.EndRenderPass()
	d.ctx.CommandBuffer().PipelineBarrier(d.presentImage, driver.LayoutColorAttachment, driver.LayoutPresent)
	d.presenting, d.presentImage, d.presentFB = false, 0, 0
	d.framebuffer = 0
	d.ExecuteCommandBuffer(false, "")
	d.frame++
	d.AgePool()
	if err := d.display.Present(); err != nil {
		return fmt.Errorf("gsvk: present: %w", err)
	}
	return nil
}

// resumePresentPass makes sure the display pass is open, reopening it with
// its contents kept when a barrier ended it.
func (d *Device) resumePresentPass() bool {
	if d.InRenderPass() && d.framebuffer == d.presentFB {
		return true
	}
	rp := d.GetRenderPass(d.display.SurfaceFormat(), driver.FormatUndefined, driver.LoadOpLoad)
	if rp == 0 {
		return false
	}
	d.SetFramebuffer(d.presentFB)
	d.currentRT, d.currentDS = nil, nil
	w, h := d.display.WindowSize()
	d.BeginRenderPass(rp, fullRect(w, h))
	return true
}
