package gsvk

import (
	"slices"

	"github.com/gogpu/gsvk/internal/driver"
)

type linkKey struct {
	color TextureHandle
	depth TextureHandle
}

// linkCache owns the combined color+depth framebuffers. Entries are keyed by
// the pair of texture handles and indexed by each side, so destroying either
// texture finds every framebuffer it shares.
type linkCache struct {
	fbs      map[linkKey]driver.Framebuffer
	byHandle map[TextureHandle][]linkKey
}

func newLinkCache() linkCache {
	return linkCache{
		fbs:      make(map[linkKey]driver.Framebuffer),
		byHandle: make(map[TextureHandle][]linkKey),
	}
}

func (c *linkCache) get(color, depth TextureHandle) (driver.Framebuffer, bool) {
	fb, ok := c.fbs[linkKey{color, depth}]
	return fb, ok
}

func (c *linkCache) put(color, depth TextureHandle, fb driver.Framebuffer) {
	k := linkKey{color, depth}
	if _, ok := c.fbs[k]; ok {
		return
	}
	c.fbs[k] = fb
	c.byHandle[color] = append(c.byHandle[color], k)
	c.byHandle[depth] = append(c.byHandle[depth], k)
}

// remove drops every entry referencing h from both sides and returns the
// framebuffers that were shared, each exactly once.
func (c *linkCache) remove(h TextureHandle) []driver.Framebuffer {
	keys := c.byHandle[h]
	if len(keys) == 0 {
		return nil
	}
	delete(c.byHandle, h)
	out := make([]driver.Framebuffer, 0, len(keys))
	for _, k := range keys {
		fb, ok := c.fbs[k]
		if !ok {
			continue
		}
		delete(c.fbs, k)
		out = append(out, fb)

		other := k.color
		if other == h {
			other = k.depth
		}
		rest := slices.DeleteFunc(c.byHandle[other], func(o linkKey) bool { return o == k })
		if len(rest) == 0 {
			delete(c.byHandle, other)
		} else {
			c.byHandle[other] = rest
		}
	}
	return out
}

// partners returns the handles h currently shares a framebuffer with.
func (c *linkCache) partners(h TextureHandle) []TextureHandle {
	var out []TextureHandle
	for _, k := range c.byHandle[h] {
		if k.color == h {
			out = append(out, k.depth)
		} else {
			out = append(out, k.color)
		}
	}
	return out
}

func (c *linkCache) len() int { return len(c.fbs) }
