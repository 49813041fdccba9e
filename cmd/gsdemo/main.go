// Command gsdemo renders a test pattern through the GS backend and saves the
// displayed frame.
package main

import (
	"errors"
	"flag"
	"log"
	"os"

	"github.com/gogpu/gsvk"
	"github.com/gogpu/gsvk/internal/driver"
	"github.com/gogpu/gsvk/internal/driver/halvk"
	"github.com/gogpu/gsvk/internal/driver/soft"
	"github.com/gogpu/gsvk/internal/logsrc"
)

func main() {
	var (
		width   = flag.Int("width", 320, "source width")
		height  = flag.Int("height", 224, "source height")
		backend = flag.String("driver", "soft", "driver: soft or vulkan")
		config  = flag.String("config", "", "TOML settings file")
		upscale = flag.Float64("upscale", 2, "upscale multiplier")
		output  = flag.String("output", "gsdemo.png", "output file (.png, .bmp, .tif)")
	)
	flag.Parse()

	logsrc.SetDefaultSink(logsrc.NewConsoleSink(os.Stderr))
	root := logsrc.New("gsdemo", logsrc.StyleGeneral, nil)
	root.SetLevel(logsrc.LevelInfo)

	cfg := gsvk.DefaultConfig()
	if *config != "" {
		var err error
		if cfg, err = gsvk.LoadConfig(*config); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	cfg.UpscaleMultiplier = float32(*upscale)

	var dev driver.Device
	switch *backend {
	case "soft":
		dev = soft.New(soft.Config{})
	case "vulkan":
		vk, err := halvk.OpenVulkan()
		if err != nil {
			log.Fatalf("Failed to open Vulkan: %v", err)
		}
		dev = vk
	default:
		log.Fatalf("Unknown driver %q", *backend)
	}

	ctx, err := driver.NewContext(dev, driver.ContextOptions{FramesInFlight: cfg.FramesInFlight})
	if err != nil {
		log.Fatalf("Failed to create context: %v", err)
	}
	gs, err := gsvk.New(ctx, gsvk.WithConfig(cfg), gsvk.WithLogSource(root))
	if err != nil {
		log.Fatalf("Failed to create device: %v", err)
	}

	if err := render(gs, *width, *height, *output); err != nil {
		log.Fatalf("Render failed: %v", err)
	}
	gs.Destroy()
	ctx.Destroy()
	dev.Destroy()

	log.Printf("Frame saved to %s using the %s driver\n", *output, dev.Name())
}

// render uploads a gradient, scales it onto an upscaled render target and
// merges it over a background color into the display texture.
func render(gs *gsvk.Device, w, h int, output string) error {
	src := gs.CreateTexture(w, h, driver.FormatRGBA8)
	if src == nil {
		return errors.New("cannot create source texture")
	}
	defer gs.Recycle(src)
	if err := src.Update(src.Rect(), gradient(w, h), w*4, 0); err != nil {
		return err
	}

	scale := gs.Config().UpscaleMultiplier
	uw, uh := int(float32(w)*scale), int(float32(h)*scale)
	rt := gs.CreateRenderTarget(uw, uh, driver.FormatRGBA8)
	display := gs.CreateRenderTarget(uw, uh, driver.FormatRGBA8)
	if rt == nil || display == nil {
		return errors.New("cannot create render targets")
	}
	defer gs.Recycle(rt)
	defer gs.Recycle(display)
	gs.StretchRect(src, gsvk.FullRectF, rt, gsvk.RectF{X1: float32(uw), Y1: float32(uh)}, gsvk.ShaderCopy, true)

	inset := gsvk.RectF{X0: float32(uw) / 8, Y0: float32(uh) / 8, X1: float32(uw) * 7 / 8, Y1: float32(uh) * 7 / 8}
	gs.DoMerge(
		[3]*gsvk.Texture{rt, nil, nil},
		[3]gsvk.RectF{gsvk.FullRectF},
		display,
		[3]gsvk.RectF{inset},
		gsvk.MergeMode{EN1: true, SLBG: true, Linear: true},
		[4]float32{0.1, 0.1, 0.3, 1},
	)

	return display.Save(output)
}

func gradient(w, h int) []byte {
	data := make([]byte, w*h*4)
	for y := range h {
		for x := range w {
			i := (y*w + x) * 4
			data[i+0] = byte(x * 255 / max(w-1, 1))
			data[i+1] = byte(y * 255 / max(h-1, 1))
			data[i+2] = byte((x ^ y) & 0xFF)
			data[i+3] = 0xFF
		}
	}
	return data
}
