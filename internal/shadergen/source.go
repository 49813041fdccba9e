package shadergen

import (
	"embed"
	"os"
	"path/filepath"
)

// Shared source resource names.
const (
	TFXSource       = "tfx.wgsl"
	ConvertSource   = "convert.wgsl"
	MergeSource     = "merge.wgsl"
	InterlaceSource = "interlace.wgsl"
)

// Sources lists every resource the backend loads at init.
var Sources = []string{TFXSource, ConvertSource, MergeSource, InterlaceSource}

//go:embed shaders/*.wgsl
var embedded embed.FS

// SourceProvider loads named shared shader sources.
type SourceProvider interface {
	ReadResourceFileToString(name string) (string, bool)
}

type embedProvider struct{}

func (embedProvider) ReadResourceFileToString(name string) (string, bool) {
	b, err := embedded.ReadFile("shaders/" + name)
	if err != nil {
		return "", false
	}
	return string(b), true
}

// Embedded returns the provider for the sources built into the binary.
func Embedded() SourceProvider { return embedProvider{} }

// DirProvider reads sources from Dir, falling back to Fallback for files
// that do not exist there. A nil Fallback means no fallback.
type DirProvider struct {
	Dir      string
	Fallback SourceProvider
}

// ReadResourceFileToString implements SourceProvider.
func (p DirProvider) ReadResourceFileToString(name string) (string, bool) {
	b, err := os.ReadFile(filepath.Join(p.Dir, filepath.Base(name)))
	if err == nil {
		return string(b), true
	}
	if p.Fallback != nil {
		return p.Fallback.ReadResourceFileToString(name)
	}
	return "", false
}
