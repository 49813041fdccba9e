package gsvk

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gogpu/gsvk/internal/driver"
	"github.com/gogpu/gsvk/internal/logsrc"
	"github.com/gogpu/gsvk/internal/selector"
)

// captureSink records every message routed to it.
type captureSink struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureSink) Log(level logsrc.Level, _ logsrc.Style, src *logsrc.Source, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, level.String()+" "+src.Name()+": "+msg)
}

func (c *captureSink) matching(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.msgs {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

func captureLogs() (*captureSink, Option) {
	sink := &captureSink{}
	root := logsrc.New("Test", logsrc.StyleGeneral, nil)
	root.SetSink(sink)
	root.SetLevel(logsrc.LevelTrace)
	return sink, WithLogSource(root)
}

func TestShaderCacheReturnsSameModule(t *testing.T) {
	d, _ := newTestDevice(t)
	vs := selector.VS{TME: true, FST: true}
	ps := selector.PS{TFX: 1, TCC: true}

	a, b := d.GetVertexShader(vs), d.GetVertexShader(vs)
	if a == 0 || a != b {
		t.Errorf("GetVertexShader() = %v, %v, want one non-null module", a, b)
	}
	if d.GetFragmentShader(ps) != d.GetFragmentShader(ps) {
		t.Error("GetFragmentShader() not cached")
	}
	if d.GetVertexShader(selector.VS{}) == a {
		t.Error("different selectors share a module")
	}
	if got := d.Stats().Shaders; got != 3 {
		t.Errorf("Stats().Shaders = %d, want 3", got)
	}
}

func TestPipelineCacheReturnsSamePipeline(t *testing.T) {
	d, _ := newTestDevice(t)
	p := d.GetTFXPipeline(flatColorPipeline)
	if p == 0 {
		t.Fatal("GetTFXPipeline() = 0")
	}
	if d.GetTFXPipeline(flatColorPipeline) != p {
		t.Error("GetTFXPipeline() not cached")
	}
	other := flatColorPipeline
	other.Blend.WA = false
	if d.GetTFXPipeline(other) == p {
		t.Error("different blend selectors share a pipeline")
	}
	if got := d.Stats().Pipelines; got != 2 {
		t.Errorf("Stats().Pipelines = %d, want 2", got)
	}
}

func TestGeometryShaderWarningConcurrent(t *testing.T) {
	sink, logOpt := captureLogs()
	d, _ := newTestDevice(t, logOpt)
	if d.Features().GeometryShader {
		t.Skip("driver supports geometry shaders")
	}

	var wg sync.WaitGroup
	for prim := uint8(0); prim < 4; prim++ {
		for _, iip := range []bool{false, true} {
			for _, point := range []bool{false, true} {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if m := d.GetGeometryShader(selector.GS{Prim: prim, IIP: iip, Point: point}); m != 0 {
						t.Errorf("GetGeometryShader() = %v, want null", m)
					}
				}()
			}
		}
	}
	wg.Wait()

	if got := sink.matching("no geometry shaders"); got != 1 {
		t.Errorf("geometry warning logged %d times, want 1", got)
	}
}

func TestGeometryShaderUnsupported(t *testing.T) {
	sink, logOpt := captureLogs()
	d, _ := newTestDevice(t, logOpt)
	if d.Features().GeometryShader {
		t.Skip("driver supports geometry shaders")
	}

	sel := flatColorPipeline
	sel.GS = selector.GS{Prim: selector.PrimSprite}
	if !sel.GS.IsNeeded() {
		t.Fatal("sprite selector does not need a geometry stage")
	}
	if p := d.GetTFXPipeline(sel); p != 0 {
		t.Errorf("GetTFXPipeline() = %v, want null", p)
	}
	if d.BindDrawPipeline(sel, 0) {
		t.Error("BindDrawPipeline() with a null pipeline = true")
	}
	sel.GS.IIP = true
	d.GetTFXPipeline(sel)

	if got := sink.matching("no geometry shaders"); got != 1 {
		t.Errorf("geometry warning logged %d times, want 1", got)
	}
	if got := d.Stats().Pipelines; got != 2 {
		t.Errorf("null pipelines cached = %d, want 2", got)
	}
}

func TestPipelineCacheFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipelines.bin")

	d1, _ := newTestDevice(t, WithPipelineCachePath(path))
	d1.GetTFXPipeline(flatColorPipeline)
	sel := flatColorPipeline
	sel.DS = true
	sel.DSS = selector.DSS{ZTST: selector.ZTestGEqual, ZWE: true}
	d1.GetTFXPipeline(sel)
	d1.Destroy()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("cache not written: %v", err)
	}

	d2, _ := newTestDevice(t, WithPipelineCachePath(path))
	if got := d2.Stats().Pipelines; got != 2 {
		t.Errorf("precompiled pipelines = %d, want 2", got)
	}
}

func TestPipelineCacheMismatch(t *testing.T) {
	d, _ := newTestDevice(t)
	d.GetTFXPipeline(flatColorPipeline)
	data, err := d.encodePipelineCache()
	if err != nil {
		t.Fatal(err)
	}

	if _, keys, err := decodePipelineCache(data, d.dev.Name()); err != nil || len(keys) != 1 {
		t.Fatalf("decode = %d keys, %v", len(keys), err)
	}
	if _, _, err := decodePipelineCache(data, "other-driver"); !errors.Is(err, ErrPipelineCacheMismatch) {
		t.Errorf("decode for another driver = %v, want ErrPipelineCacheMismatch", err)
	}

	bumped := append([]byte(nil), data...)
	bumped[6]++ // version
	if _, _, err := decodePipelineCache(bumped, d.dev.Name()); !errors.Is(err, ErrPipelineCacheMismatch) {
		t.Errorf("decode of another version = %v, want ErrPipelineCacheMismatch", err)
	}

	if _, _, err := decodePipelineCache(data[:len(data)-3], d.dev.Name()); err == nil {
		t.Error("decode of a truncated blob = nil, want error")
	}
}

func TestMismatchedPipelineCacheStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipelines.bin")
	if err := os.WriteFile(path, []byte("not a pipeline cache at all"), 0o600); err != nil {
		t.Fatal(err)
	}
	d, _ := newTestDevice(t, WithPipelineCachePath(path))
	if got := d.Stats().Pipelines; got != 0 {
		t.Errorf("pipelines = %d, want 0", got)
	}
}

func TestRenderPassMemoization(t *testing.T) {
	d, _ := newTestDevice(t)
	a := d.GetRenderPass(driver.FormatRGBA8, driver.FormatD32S8, driver.LoadOpLoad)
	b := d.GetRenderPass(driver.FormatRGBA8, driver.FormatD32S8, driver.LoadOpLoad)
	if a == 0 || a != b {
		t.Errorf("GetRenderPass() = %v, %v, want one handle", a, b)
	}
	if c := d.GetRenderPass(driver.FormatRGBA8, driver.FormatD32S8, driver.LoadOpClear); c == a {
		t.Error("different load ops share a render pass")
	}
	// The load op of a missing aspect does not matter.
	x := d.GetRenderPassEx(driver.FormatRGBA8, driver.FormatUndefined, driver.LoadOpLoad, driver.LoadOpClear, driver.LoadOpClear)
	y := d.GetRenderPassEx(driver.FormatRGBA8, driver.FormatUndefined, driver.LoadOpLoad, driver.LoadOpLoad, driver.LoadOpDontCare)
	if x != y {
		t.Errorf("color-only passes differ by depth load: %v != %v", x, y)
	}

	cleared := d.GetRenderPass(driver.FormatRGBA8, driver.FormatD32S8, driver.LoadOpClear)
	if got := d.restartRenderPass(cleared); got != a {
		t.Errorf("restartRenderPass() = %v, want the all-load pass %v", got, a)
	}
}

func TestSamplerCache(t *testing.T) {
	d, _ := newTestDevice(t)
	sel := selector.Sampler{Linear: true, Anisotropy: 8}
	s := d.GetSampler(sel)
	if s == 0 || d.GetSampler(sel) != s {
		t.Errorf("GetSampler() not cached")
	}
	if d.GetSampler(selector.PointSampler) != d.pointSampler {
		t.Error("point sampler not shared with the device default")
	}

	d.PSSetSampler(0, sel)
	if d.tfxSamplers[0] != s || d.dirty&dirtyTFXSamplers == 0 {
		t.Error("PSSetSampler() did not bind and mark the sampler")
	}
}

func TestConvertShaderTables(t *testing.T) {
	tests := []struct {
		shader  int
		present bool
		depth   bool
		target  driver.Format
	}{
		{ShaderCopy, true, false, driver.FormatRGBA8},
		{ShaderRGBA8To16Bits, false, false, driver.FormatR16U},
		{ShaderScanline, true, false, driver.FormatRGBA8},
		{ShaderFloat32To32Bits, false, false, driver.FormatR32U},
		{ShaderRGBA8ToFloat32, false, true, driver.FormatUndefined},
		{ShaderRGB5A1ToFloat16, false, true, driver.FormatUndefined},
		{ShaderRGBAToIndex8, false, false, driver.FormatR8},
		{ShaderYUV, true, false, driver.FormatRGBA8},
	}
	for _, tt := range tests {
		if got := IsPresentConvertShader(tt.shader); got != tt.present {
			t.Errorf("IsPresentConvertShader(%d) = %v, want %v", tt.shader, got, tt.present)
		}
		if got := IsDepthConvertShader(tt.shader); got != tt.depth {
			t.Errorf("IsDepthConvertShader(%d) = %v, want %v", tt.shader, got, tt.depth)
		}
		if got := convertTarget(tt.shader); got != tt.target {
			t.Errorf("convertTarget(%d) = %v, want %v", tt.shader, got, tt.target)
		}
	}
}

func TestUtilityPipelinesCompiled(t *testing.T) {
	d, _ := newTestDevice(t)
	for i, p := range d.convert {
		if p == 0 {
			t.Errorf("convert pipeline %d missing", i)
		}
		if d.present[i] != 0 {
			t.Errorf("present pipeline %d compiled without a display", i)
		}
	}
	for i, p := range d.colorCopy {
		if p == 0 {
			t.Errorf("color copy pipeline %d missing", i)
		}
	}
	for _, group := range [][]driver.Pipeline{d.merge[:], d.interlace[:]} {
		for i, p := range group {
			if p == 0 {
				t.Errorf("post pipeline %d missing", i)
			}
		}
	}
}
