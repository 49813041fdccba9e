package gsvk

import (
	"fmt"

	"github.com/gogpu/gsvk/internal/driver"
	"github.com/gogpu/gsvk/internal/selector"
	"github.com/gogpu/gsvk/internal/shadergen"
)

// Convert shaders, indexing Device.convert and the entry points ps_mainN of
// the convert source.
const (
	ShaderCopy = iota
	ShaderRGBA8To16Bits
	ShaderDATM1
	ShaderDATM0
	ShaderMod256
	ShaderScanline
	ShaderDiagonalFilter
	ShaderTransparencyFilter
	ShaderTriangularFilter
	ShaderComplexFilter
	ShaderFloat32To32Bits
	ShaderFloat32ToRGBA8
	ShaderFloat16ToRGB5A1
	ShaderRGBA8ToFloat32
	ShaderRGBA8ToFloat24
	ShaderRGBA8ToFloat16
	ShaderRGB5A1ToFloat16
	ShaderRGBAToIndex8
	ShaderYUV
	ShaderConvertCount
)

// IsDepthConvertShader reports whether shader writes depth.
func IsDepthConvertShader(shader int) bool {
	return shader >= ShaderRGBA8ToFloat32 && shader <= ShaderRGB5A1ToFloat16
}

// IsPresentConvertShader reports whether shader has a variant drawing to
// the display surface.
func IsPresentConvertShader(shader int) bool {
	switch shader {
	case ShaderCopy, ShaderScanline, ShaderDiagonalFilter, ShaderTransparencyFilter,
		ShaderTriangularFilter, ShaderComplexFilter, ShaderYUV:
		return true
	}
	return false
}

// convertTarget returns the color format a convert shader writes, or
// FormatUndefined for depth output.
func convertTarget(shader int) driver.Format {
	switch {
	case shader == ShaderRGBA8To16Bits:
		return driver.FormatR16U
	case shader == ShaderFloat32To32Bits:
		return driver.FormatR32U
	case shader == ShaderRGBAToIndex8:
		return driver.FormatR8
	case IsDepthConvertShader(shader):
		return driver.FormatUndefined
	}
	return driver.FormatRGBA8
}

const (
	// tfxVertexStride is the size of one GS vertex.
	tfxVertexStride = 32
	// utilityVertexStride is the size of one position+texcoord vertex.
	utilityVertexStride = 16
	// utilityPushConstantSize covers the largest utility constant block.
	utilityPushConstantSize = 32
)

var tfxAttributes = []driver.VertexAttribute{
	{Location: 0, Format: driver.VertexFloat32x2, Offset: 0}, // ST
	{Location: 1, Format: driver.VertexUint8x4, Offset: 8},   // RGBA
	{Location: 2, Format: driver.VertexFloat32, Offset: 12},  // Q
	{Location: 3, Format: driver.VertexUint16x2, Offset: 16}, // XY
	{Location: 4, Format: driver.VertexUint32, Offset: 20},   // Z
	{Location: 5, Format: driver.VertexUint16x2, Offset: 24}, // UV
	{Location: 6, Format: driver.VertexUnorm8x4, Offset: 28}, // FOG
}

var utilityAttributes = []driver.VertexAttribute{
	{Location: 0, Format: driver.VertexFloat32x2, Offset: 0},
	{Location: 1, Format: driver.VertexFloat32x2, Offset: 8},
}

var ztstCompare = [4]driver.CompareOp{
	selector.ZTestNever:   driver.CompareNever,
	selector.ZTestAlways:  driver.CompareAlways,
	selector.ZTestGEqual:  driver.CompareGreaterOrEqual,
	selector.ZTestGreater: driver.CompareGreater,
}

func (d *Device) createPipelineLayouts(*options) error {
	const (
		vsgs = driver.StageVertex | driver.StageGeometry
		fs   = driver.StageFragment
	)
	sets := []struct {
		dst      *driver.SetLayout
		label    string
		bindings []driver.SetLayoutBinding
	}{
		{&d.tfxSetLayouts[0], "tfx uniforms", []driver.SetLayoutBinding{
			{Binding: 0, Type: driver.BindingUniformDynamic, Stages: vsgs},
			{Binding: 1, Type: driver.BindingUniformDynamic, Stages: fs},
		}},
		{&d.tfxSetLayouts[1], "tfx textures", []driver.SetLayoutBinding{
			{Binding: 0, Type: driver.BindingSampledImage, Stages: fs},
			{Binding: 1, Type: driver.BindingSampledImage, Stages: fs},
			{Binding: 2, Type: driver.BindingSampledImage, Stages: fs},
			{Binding: 3, Type: driver.BindingSampledImage, Stages: fs},
		}},
		{&d.tfxSetLayouts[2], "tfx samplers", []driver.SetLayoutBinding{
			{Binding: 0, Type: driver.BindingSampler, Stages: fs},
			{Binding: 1, Type: driver.BindingSampler, Stages: fs},
		}},
		{&d.utilitySetLayout, "utility", []driver.SetLayoutBinding{
			{Binding: 0, Type: driver.BindingSampledImage, Stages: fs},
			{Binding: 1, Type: driver.BindingSampler, Stages: fs},
		}},
	}
	for _, s := range sets {
		l, err := d.dev.CreateSetLayout(&driver.SetLayoutDesc{Label: s.label, Bindings: s.bindings})
		if err != nil {
			return fmt.Errorf("%s set layout: %w", s.label, err)
		}
		*s.dst = l
	}

	var err error
	d.tfxLayout, err = d.dev.CreatePipelineLayout(&driver.PipelineLayoutDesc{
		Label:      "tfx",
		SetLayouts: d.tfxSetLayouts[:],
	})
	if err != nil {
		return fmt.Errorf("tfx pipeline layout: %w", err)
	}
	d.utilityLayout, err = d.dev.CreatePipelineLayout(&driver.PipelineLayoutDesc{
		Label:            "utility",
		SetLayouts:       []driver.SetLayout{d.utilitySetLayout},
		PushConstantSize: utilityPushConstantSize,
	})
	if err != nil {
		return fmt.Errorf("utility pipeline layout: %w", err)
	}
	return nil
}

func (d *Device) createPersistentDescriptorSets(*options) error {
	set, err := d.ctx.AllocatePersistentDescriptorSet(d.tfxSetLayouts[0], []driver.DescriptorWrite{
		{Binding: 0, Buffer: d.vsStream.Buffer(), Range: vsConstantBufferSize},
		{Binding: 1, Buffer: d.psStream.Buffer(), Range: psConstantBufferSize},
	})
	if err != nil {
		return fmt.Errorf("tfx uniform set: %w", err)
	}
	d.tfxSets[0] = set
	return nil
}

// compileShader builds one module. A failure is logged and returns 0.
func (d *Device) compileShader(label string, stage driver.ShaderStage, source, entry string) driver.ShaderModule {
	m, err := d.dev.CreateShaderModule(&driver.ShaderModuleDesc{
		Label:  label,
		Stage:  stage,
		Source: source,
		Entry:  entry,
	})
	if err != nil {
		d.log.shader.Errorf("Failed to compile %s shader %s: %v", stage, label, err)
		return 0
	}
	d.log.shader.Debugf("Compiled %s", label)
	return m
}

// GetVertexShader returns the TFX vertex module for sel.
func (d *Device) GetVertexShader(sel selector.VS) driver.ShaderModule {
	key := sel.Key()
	return d.vsCache.lookupOrBuild(key, func() driver.ShaderModule {
		src := shadergen.Generate(d.tfxSource, driver.StageVertex, shadergen.VertexDefines(sel))
		return d.compileShader(fmt.Sprintf("tfx/vs/%08x", key), driver.StageVertex, src, "vs_main")
	})
}

// GetGeometryShader returns the TFX geometry module for sel, or 0 when
// the device has no geometry stage.
func (d *Device) GetGeometryShader(sel selector.GS) driver.ShaderModule {
	key := sel.Key()
	return d.gsCache.lookupOrBuild(key, func() driver.ShaderModule {
		if !d.features.GeometryShader {
			d.gsWarning.Do(func() {
				d.log.shader.Warningf("Device has no geometry shaders; primitives needing expansion are skipped")
			})
			return 0
		}
		src := shadergen.Generate(d.tfxSource, driver.StageGeometry, shadergen.GeometryDefines(sel))
		return d.compileShader(fmt.Sprintf("tfx/gs/%08x", key), driver.StageGeometry, src, "gs_main")
	})
}

// GetFragmentShader returns the TFX fragment module for sel.
func (d *Device) GetFragmentShader(sel selector.PS) driver.ShaderModule {
	key := sel.Key()
	return d.psCache.lookupOrBuild(key, func() driver.ShaderModule {
		src := shadergen.Generate(d.tfxSource, driver.StageFragment, shadergen.FragmentDefines(sel))
		return d.compileShader(fmt.Sprintf("tfx/ps/%016x", key), driver.StageFragment, src, "ps_main")
	})
}

// GetTFXPipeline returns the pipeline for sel, building it on a miss. Null
// results are cached too.
func (d *Device) GetTFXPipeline(sel selector.Pipeline) driver.Pipeline {
	return d.pipelines.lookupOrBuild(sel.Key(), func() driver.Pipeline {
		return d.createTFXPipeline(sel)
	})
}

func (d *Device) createTFXPipeline(sel selector.Pipeline) driver.Pipeline {
	vs := d.GetVertexShader(sel.VS)
	var gs driver.ShaderModule
	needGS := sel.GS.IsNeeded()
	if needGS {
		gs = d.GetGeometryShader(sel.GS)
	}
	fs := d.GetFragmentShader(sel.PS)
	if vs == 0 || fs == 0 || (needGS && gs == 0) {
		return 0
	}

	desc := driver.PipelineDesc{
		Label:        fmt.Sprintf("tfx/%08x/%08x/%016x", sel.VS.Key(), sel.GS.Key(), sel.PS.Key()),
		Layout:       d.tfxLayout,
		RenderPass:   d.tfxRenderPass(sel.RT, sel.DS, sel.PS.HDR, driver.LoadOpLoad),
		VS:           vs,
		GS:           gs,
		FS:           fs,
		Topology:     sel.Topology,
		VertexStride: tfxVertexStride,
		Attributes:   tfxAttributes,
		DepthTest:    sel.DSS.ZTST != selector.ZTestAlways || sel.DSS.ZWE,
		DepthWrite:   sel.DSS.ZWE,
		DepthCompare: ztstCompare[sel.DSS.ZTST&3],
		WriteMask:    sel.Blend.WriteMask(),
	}
	if sel.DSS.DATE {
		pass := driver.StencilKeep
		if sel.DSS.DATEOne {
			pass = driver.StencilZero
		}
		desc.Stencil = driver.StencilState{
			Enable:    true,
			Compare:   driver.CompareEqual,
			PassOp:    pass,
			ReadMask:  1,
			WriteMask: 1,
			Reference: 1,
		}
	}
	desc.Blend = driver.BlendState{SrcColor: driver.BlendOne, DstColor: driver.BlendZero, SrcAlpha: driver.BlendOne, DstAlpha: driver.BlendZero}
	if sel.Blend.ABE {
		e := selector.BlendEntry(sel.Blend.Index)
		desc.Blend.Enable = true
		desc.Blend.SrcColor, desc.Blend.DstColor, desc.Blend.ColorOp = e.Src, e.Dst, e.Op
		if sel.Blend.AccuBlend {
			desc.Blend.SrcColor, desc.Blend.DstColor = driver.BlendOne, driver.BlendOne
		}
	}

	p, err := d.dev.CreatePipeline(&desc)
	if err != nil {
		d.log.vk.Errorf("Failed to create pipeline %s: %v", desc.Label, err)
		return 0
	}
	return p
}

// BindDrawPipeline selects the pipeline for sel, sets the blend constant to
// afix/128 and applies the TFX state. It returns false when the draw must
// be skipped.
func (d *Device) BindDrawPipeline(sel selector.Pipeline, afix uint8) bool {
	p := d.GetTFXPipeline(sel)
	if p == 0 {
		return false
	}
	c := float32(afix) / 128
	d.SetBlendConstants([4]float32{c, c, c, c})
	d.SetPipeline(p)
	return d.ApplyTFXState()
}

// utilityPipeline creates one full-screen-quad pipeline.
func (d *Device) utilityPipeline(label string, vs, fs driver.ShaderModule, rp driver.RenderPass, adjust func(*driver.PipelineDesc)) (driver.Pipeline, error) {
	desc := driver.PipelineDesc{
		Label:        label,
		Layout:       d.utilityLayout,
		RenderPass:   rp,
		VS:           vs,
		FS:           fs,
		Topology:     driver.TopologyTriangleStrip,
		VertexStride: utilityVertexStride,
		Attributes:   utilityAttributes,
		DepthCompare: driver.CompareAlways,
		Blend:        driver.BlendState{SrcColor: driver.BlendOne, DstColor: driver.BlendZero, SrcAlpha: driver.BlendOne, DstAlpha: driver.BlendZero},
		WriteMask:    driver.ColorMaskAll,
	}
	if adjust != nil {
		adjust(&desc)
	}
	p, err := d.dev.CreatePipeline(&desc)
	if err != nil {
		return 0, fmt.Errorf("pipeline %s: %w", label, err)
	}
	return p, nil
}

// utilityModule compiles and retains one module of a utility source.
func (d *Device) utilityModule(family, source string, stage driver.ShaderStage, entry string) (driver.ShaderModule, error) {
	m := d.compileShader(family+"/"+entry, stage, source, entry)
	if m == 0 {
		return 0, fmt.Errorf("%s/%s failed to compile", family, entry)
	}
	d.utilityModules = append(d.utilityModules, m)
	return m, nil
}

func (d *Device) compileUtilityPipelines(*options) error {
	if err := d.compileConvertPipelines(); err != nil {
		return err
	}
	if err := d.compileMergePipelines(); err != nil {
		return err
	}
	return d.compileInterlacePipelines()
}

func (d *Device) compileConvertPipelines() error {
	vs, err := d.utilityModule("convert", d.convertSource, driver.StageVertex, "vs_main")
	if err != nil {
		return err
	}
	var copyFS driver.ShaderModule
	var presentPass driver.RenderPass
	if d.display != nil {
		presentPass = d.GetRenderPass(d.display.SurfaceFormat(), driver.FormatUndefined, driver.LoadOpLoad)
	}

	for i := range ShaderConvertCount {
		entry := fmt.Sprintf("ps_main%d", i)
		fs, err := d.utilityModule("convert", d.convertSource, driver.StageFragment, entry)
		if err != nil {
			return err
		}
		if i == ShaderCopy {
			copyFS = fs
		}

		var rp driver.RenderPass
		var adjust func(*driver.PipelineDesc)
		switch {
		case i == ShaderDATM0 || i == ShaderDATM1:
			rp = d.dateSetupPass
			adjust = func(p *driver.PipelineDesc) {
				p.WriteMask = 0
				p.Stencil = driver.StencilState{
					Enable:    true,
					Compare:   driver.CompareAlways,
					PassOp:    driver.StencilReplace,
					ReadMask:  1,
					WriteMask: 1,
					Reference: 1,
				}
			}
		case IsDepthConvertShader(i):
			rp = d.GetRenderPass(driver.FormatUndefined, driver.FormatD32S8, driver.LoadOpDontCare)
			adjust = func(p *driver.PipelineDesc) {
				p.DepthTest, p.DepthWrite = true, true
				p.WriteMask = 0
			}
		default:
			rp = d.GetRenderPass(convertTarget(i), driver.FormatUndefined, driver.LoadOpDontCare)
		}

		d.convert[i], err = d.utilityPipeline("convert/"+entry, vs, fs, rp, adjust)
		if err != nil {
			return err
		}

		if presentPass != 0 && IsPresentConvertShader(i) {
			d.present[i], err = d.utilityPipeline("present/"+entry, vs, fs, presentPass, nil)
			if err != nil {
				return err
			}
		}
	}

	for mask := range len(d.colorCopy) {
		m := driver.ColorMask(mask) //nolint:gosec // 4-bit mask
		d.colorCopy[mask], err = d.utilityPipeline(fmt.Sprintf("convert/colorcopy/%x", mask), vs, copyFS,
			d.GetRenderPass(driver.FormatRGBA8, driver.FormatUndefined, driver.LoadOpLoad),
			func(p *driver.PipelineDesc) { p.WriteMask = m })
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) compileMergePipelines() error {
	vs, err := d.utilityModule("merge", d.mergeSource, driver.StageVertex, "vs_main")
	if err != nil {
		return err
	}
	rp := d.GetRenderPass(driver.FormatRGBA8, driver.FormatUndefined, driver.LoadOpLoad)
	for i := range d.merge {
		entry := fmt.Sprintf("ps_main%d", i)
		fs, err := d.utilityModule("merge", d.mergeSource, driver.StageFragment, entry)
		if err != nil {
			return err
		}
		blend := i > 0
		d.merge[i], err = d.utilityPipeline("merge/"+entry, vs, fs, rp, func(p *driver.PipelineDesc) {
			p.Blend = driver.BlendState{
				Enable:   blend,
				SrcColor: driver.BlendSrcAlpha,
				DstColor: driver.BlendOneMinusSrcAlpha,
				SrcAlpha: driver.BlendOne,
				DstAlpha: driver.BlendZero,
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) compileInterlacePipelines() error {
	vs, err := d.utilityModule("interlace", d.interlaceSource, driver.StageVertex, "vs_main")
	if err != nil {
		return err
	}
	rp := d.GetRenderPass(driver.FormatRGBA8, driver.FormatUndefined, driver.LoadOpLoad)
	for i := range d.interlace {
		entry := fmt.Sprintf("ps_main%d", i)
		fs, err := d.utilityModule("interlace", d.interlaceSource, driver.StageFragment, entry)
		if err != nil {
			return err
		}
		d.interlace[i], err = d.utilityPipeline("interlace/"+entry, vs, fs, rp, nil)
		if err != nil {
			return err
		}
	}
	return nil
}
