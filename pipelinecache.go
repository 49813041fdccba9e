package gsvk

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/gogpu/gsvk/internal/selector"
)

// PipelineCacheVersion is bumped whenever the blob layout or the meaning of
// selector bits changes.
const PipelineCacheVersion uint32 = 1

var pipelineCacheMagic = [6]byte{'G', 'S', 'V', 'K', 'P', 'C'}

// pipelineCacheHeader starts every blob. Lengths are in bytes; KeyCount
// counts selectors.
type pipelineCacheHeader struct {
	Magic     [6]byte
	Version   uint32
	NameLen   uint16
	DriverLen uint32
	KeyCount  uint32
}

// SavePipelineCache writes the driver pipeline cache and every selector
// compiled so far to path.
func (d *Device) SavePipelineCache(path string) error {
	data, err := d.encodePipelineCache()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // cache file, not a secret
		return fmt.Errorf("gsvk: save pipeline cache: %w", err)
	}
	d.log.vk.Infof("Saved %d pipelines to %s", d.pipelines.len(), path)
	return nil
}

func (d *Device) encodePipelineCache() ([]byte, error) {
	name := d.dev.Name()
	blob := d.dev.PipelineCacheData()
	keys := d.pipelines.keys()
	slices.SortFunc(keys, comparePipelineKeys)

	hdr := pipelineCacheHeader{
		Magic:     pipelineCacheMagic,
		Version:   PipelineCacheVersion,
		NameLen:   uint16(len(name)), //nolint:gosec // driver names are short
		DriverLen: uint32(len(blob)), //nolint:gosec // bounded by the driver
		KeyCount:  uint32(len(keys)), //nolint:gosec // bounded by selector space
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("gsvk: encode pipeline cache: %w", err)
	}
	buf.WriteString(name)
	buf.Write(blob)
	if err := binary.Write(&buf, binary.LittleEndian, keys); err != nil {
		return nil, fmt.Errorf("gsvk: encode pipeline cache: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadPipelineCache seeds the driver with a blob saved by SavePipelineCache
// and precompiles its selectors. A blob of another version or driver is
// discarded as a whole and reported as ErrPipelineCacheMismatch.
func (d *Device) LoadPipelineCache(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("gsvk: load pipeline cache: %w", err)
	}
	blob, keys, err := decodePipelineCache(data, d.dev.Name())
	if err != nil {
		return err
	}
	if err := d.dev.SetPipelineCacheData(blob); err != nil {
		return fmt.Errorf("gsvk: load pipeline cache: %w", err)
	}
	failed := 0
	for _, k := range keys {
		if d.GetTFXPipeline(selector.PipelineFromKey(k)) == 0 {
			failed++
		}
	}
	d.log.vk.Infof("Precompiled %d pipelines from %s (%d failed)", len(keys)-failed, path, failed)
	return nil
}

func decodePipelineCache(data []byte, driverName string) ([]byte, []selector.PipelineKey, error) {
	r := bytes.NewReader(data)
	var hdr pipelineCacheHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, nil, fmt.Errorf("gsvk: pipeline cache header: %w", err)
	}
	if hdr.Magic != pipelineCacheMagic {
		return nil, nil, fmt.Errorf("%w: bad magic", ErrPipelineCacheMismatch)
	}
	if hdr.Version != PipelineCacheVersion {
		return nil, nil, fmt.Errorf("%w: version %d, want %d", ErrPipelineCacheMismatch, hdr.Version, PipelineCacheVersion)
	}
	name := make([]byte, hdr.NameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, nil, fmt.Errorf("gsvk: pipeline cache driver name: %w", err)
	}
	if string(name) != driverName {
		return nil, nil, fmt.Errorf("%w: written by driver %q, running %q", ErrPipelineCacheMismatch, name, driverName)
	}
	if uint64(hdr.DriverLen) > uint64(r.Len()) {
		return nil, nil, fmt.Errorf("gsvk: pipeline cache driver blob: %w", io.ErrUnexpectedEOF)
	}
	blob := make([]byte, hdr.DriverLen)
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, nil, fmt.Errorf("gsvk: pipeline cache driver blob: %w", err)
	}
	keySize := uint64(binary.Size(selector.PipelineKey{})) //nolint:gosec // fixed size
	if uint64(hdr.KeyCount)*keySize > uint64(r.Len()) {
		return nil, nil, fmt.Errorf("gsvk: pipeline cache selectors: %w", io.ErrUnexpectedEOF)
	}
	keys := make([]selector.PipelineKey, hdr.KeyCount)
	if err := binary.Read(r, binary.LittleEndian, keys); err != nil {
		return nil, nil, fmt.Errorf("gsvk: pipeline cache selectors: %w", err)
	}
	return blob, keys, nil
}

func comparePipelineKeys(a, b selector.PipelineKey) int {
	return cmp.Or(
		cmp.Compare(a.VS, b.VS),
		cmp.Compare(a.GS, b.GS),
		cmp.Compare(a.PS, b.PS),
		cmp.Compare(a.DSS, b.DSS),
		cmp.Compare(a.Blend, b.Blend),
		cmp.Compare(a.Misc, b.Misc),
	)
}
