// Package storage mounts the Tab5's removable SD card and its internal flash data partition.
package storage

import (
	"context"

	"github.com/pkg/errors"
)

// ErrInvalidState is returned when a card is mounted twice, or unmounted without a mount point.
var ErrInvalidState = errors.New("invalid storage state")

// Usage is the size of a mounted filesystem in bytes.
type Usage struct {
	Total uint64
	Used  uint64
}

// Mounter is the host's filesystem mount facility.
type Mounter interface {
	Mount(ctx context.Context, source, target, fstype string, readOnly bool) error
	Unmount(ctx context.Context, target string) error
	Usage(target string) (Usage, error)
}

// FSDriver creates filesystems on devices that failed to mount.
type FSDriver interface {
	Format(ctx context.Context, device, fstype string) error
}

// LDO is an on-chip regulator that powers an IO bank.
type LDO interface {
	Enable(ctx context.Context, channel, millivolts int) error
}
