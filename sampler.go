package gsvk

import (
	"github.com/gogpu/gsvk/internal/driver"
	"github.com/gogpu/gsvk/internal/selector"
)

// GetSampler returns the sampler for sel, creating it on first use. A
// driver rejection is logged and cached as 0.
func (d *Device) GetSampler(sel selector.Sampler) driver.Sampler {
	key := sel.Key()
	d.samplerMu.Lock()
	defer d.samplerMu.Unlock()
	if s, ok := d.samplers[key]; ok {
		return s
	}
	desc := sel.Desc()
	s, err := d.dev.CreateSampler(&desc)
	if err != nil {
		d.log.vk.Errorf("Failed to create sampler %03x: %v", key, err)
		s = 0
	}
	d.samplers[key] = s
	return s
}

// PSSetSampler binds the sampler for sel to TFX sampler slot i.
func (d *Device) PSSetSampler(i int, sel selector.Sampler) {
	key := sel.Key()
	if d.tfxSamplerKeys[i] == key && d.tfxSamplers[i] != 0 {
		return
	}
	d.tfxSamplerKeys[i] = key
	d.tfxSamplers[i] = d.GetSampler(sel)
	d.dirty |= dirtyTFXSamplers
}
