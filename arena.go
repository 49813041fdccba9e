package gsvk

import "fmt"

// TextureHandle addresses a texture in its device's arena. Handles are
// never reused: a freed slot gets a new generation. The zero value is the
// null handle.
type TextureHandle struct {
	index uint32
	gen   uint32
}

// IsValid reports whether h is not the null handle.
func (h TextureHandle) IsValid() bool { return h.gen != 0 }

func (h TextureHandle) String() string {
	if !h.IsValid() {
		return "tex(null)"
	}
	return fmt.Sprintf("tex(%d#%d)", h.index, h.gen)
}

type arenaSlot struct {
	gen uint32
	tex *Texture
}

// arena owns the live textures of a device.
type arena struct {
	slots []arenaSlot
	free  []uint32
	live  int
}

func (a *arena) insert(t *Texture) TextureHandle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots)) //nolint:gosec // bounded by live textures
		a.slots = append(a.slots, arenaSlot{})
	}
	s := &a.slots[idx]
	s.gen++
	s.tex = t
	a.live++
	return TextureHandle{index: idx, gen: s.gen}
}

func (a *arena) get(h TextureHandle) *Texture {
	if !h.IsValid() || int(h.index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[h.index]
	if s.gen != h.gen {
		return nil
	}
	return s.tex
}

func (a *arena) remove(h TextureHandle) {
	if a.get(h) == nil {
		return
	}
	s := &a.slots[h.index]
	s.tex = nil
	s.gen++
	a.free = append(a.free, h.index)
	a.live--
}

// textures returns the live textures in slot order.
func (a *arena) textures() []*Texture {
	out := make([]*Texture, 0, a.live)
	for i := range a.slots {
		if t := a.slots[i].tex; t != nil {
			out = append(out, t)
		}
	}
	return out
}
