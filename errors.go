package gsvk

import (
	"errors"
	"fmt"
)

var (
	// ErrInitFailed is wrapped by every error returned from New.
	ErrInitFailed = errors.New("gsvk: device initialization failed")

	// ErrTextureDestroyed is returned when an operation targets a texture
	// that has already been destroyed.
	ErrTextureDestroyed = errors.New("gsvk: texture destroyed")

	// ErrReadbackTooLarge is returned when a readback does not fit the
	// staging buffer.
	ErrReadbackTooLarge = errors.New("gsvk: readback exceeds staging buffer")

	// ErrUnsupportedFormat is returned when a texture format cannot be
	// saved or converted.
	ErrUnsupportedFormat = errors.New("gsvk: unsupported format")

	// ErrNotMappable is returned when a texture cannot be mapped.
	ErrNotMappable = errors.New("gsvk: texture not mappable")

	// ErrNoDisplay is returned by presentation calls on a device created
	// without a Display.
	ErrNoDisplay = errors.New("gsvk: no display")

	// ErrPipelineCacheMismatch is returned by LoadPipelineCache for a blob
	// written by another version or driver.
	ErrPipelineCacheMismatch = errors.New("gsvk: pipeline cache mismatch")
)

// FatalError is the panic value of unrecoverable conditions: a transient
// resource that stays exhausted after a flush, or a core object that cannot
// be created.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string { return "gsvk: fatal: " + e.Msg }

// fatalf logs msg at critical level and panics with a *FatalError.
func (d *Device) fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	d.log.gs.Criticalf("%s", msg)
	panic(&FatalError{Msg: msg})
}
