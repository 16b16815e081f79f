//go:build linux

package storage

import (
	"context"
	"os"
	"os/exec"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// LinuxMounter mounts with mount(2).
type LinuxMounter struct{}

// Mount implements Mounter. The target directory is created if missing.
func (LinuxMounter) Mount(ctx context.Context, source, target, fstype string, readOnly bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create mount point %s", target)
	}
	var flags uintptr = unix.MS_NOATIME
	if readOnly {
		flags |= unix.MS_RDONLY
	}
	return unix.Mount(source, target, fstype, flags, "")
}

// Unmount implements Mounter.
func (LinuxMounter) Unmount(ctx context.Context, target string) error {
	return unix.Unmount(target, 0)
}

// Usage implements Mounter.
func (LinuxMounter) Usage(target string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(target, &st); err != nil {
		return Usage{}, err
	}
	bsize := uint64(st.Bsize)
	return Usage{
		Total: st.Blocks * bsize,
		Used:  (st.Blocks - st.Bfree) * bsize,
	}, nil
}

// MkfsDriver formats with the host's mkfs.<fstype> tools.
type MkfsDriver struct{}

// Format implements FSDriver.
func (MkfsDriver) Format(ctx context.Context, device, fstype string) error {
	out, err := exec.CommandContext(ctx, "mkfs."+fstype, device).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "mkfs.%s %s: %s", fstype, device, out)
	}
	return nil
}
