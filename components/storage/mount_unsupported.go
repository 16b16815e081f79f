//go:build !linux

package storage

import (
	"context"

	"github.com/pkg/errors"
)

var errUnsupported = errors.New("mounting is only supported on linux")

// LinuxMounter is unavailable on this platform.
type LinuxMounter struct{}

// Mount implements Mounter.
func (LinuxMounter) Mount(ctx context.Context, source, target, fstype string, readOnly bool) error {
	return errUnsupported
}

// Unmount implements Mounter.
func (LinuxMounter) Unmount(ctx context.Context, target string) error {
	return errUnsupported
}

// Usage implements Mounter.
func (LinuxMounter) Usage(target string) (Usage, error) {
	return Usage{}, errUnsupported
}

// MkfsDriver is unavailable on this platform.
type MkfsDriver struct{}

// Format implements FSDriver.
func (MkfsDriver) Format(ctx context.Context, device, fstype string) error {
	return errUnsupported
}
