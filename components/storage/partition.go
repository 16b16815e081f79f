package storage

import (
	"context"
	"path"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.tab5.dev/bsp/logging"
)

// PartitionConfig configures the internal flash data partition.
type PartitionConfig struct {
	Label               string `json:"label"`
	MountPoint          string `json:"mount_point"`
	MaxFiles            int    `json:"max_files,omitempty"`
	FormatIfMountFailed bool   `json:"format_if_mount_failed,omitempty"`
	FSType              string `json:"fs_type,omitempty"`
	// Device defaults to the partition's by-partlabel link.
	Device string `json:"device,omitempty"`
}

// DefaultPartitionConfig returns the board defaults.
func DefaultPartitionConfig() PartitionConfig {
	return PartitionConfig{
		Label:      "storage",
		MountPoint: "/spiffs",
		MaxFiles:   5,
		FSType:     "ext4",
	}
}

func (cfg PartitionConfig) device() string {
	if cfg.Device != "" {
		return cfg.Device
	}
	return path.Join("/dev/disk/by-partlabel", cfg.Label)
}

// Partition mounts labelled flash partitions.
type Partition struct {
	mounter Mounter
	fs      FSDriver
	logger  logging.Logger

	mu      sync.Mutex
	mounted map[string]PartitionConfig
}

// NewPartition returns a partition manager. fs may be nil if formatting is never requested.
func NewPartition(mounter Mounter, fs FSDriver, logger logging.Logger) *Partition {
	return &Partition{mounter: mounter, fs: fs, logger: logger, mounted: map[string]PartitionConfig{}}
}

// Mount mounts the partition, formatting it first if mounting fails and the config allows it.
// A usage query failure after a successful mount is returned but leaves the partition mounted.
func (p *Partition) Mount(ctx context.Context, cfg PartitionConfig) (Usage, error) {
	if cfg.Label == "" || cfg.MountPoint == "" {
		return Usage{}, errors.New("partition label and mount point are required")
	}
	if cfg.FSType == "" {
		cfg.FSType = DefaultPartitionConfig().FSType
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.mounted[cfg.Label]; ok {
		return Usage{}, errors.Wrapf(ErrInvalidState, "partition %q already mounted", cfg.Label)
	}

	dev := cfg.device()
	err := p.mounter.Mount(ctx, dev, cfg.MountPoint, cfg.FSType, false)
	if err != nil && cfg.FormatIfMountFailed && p.fs != nil {
		p.logger.Warnw("mount failed, formatting partition", "label", cfg.Label, "error", err)
		if fmtErr := p.fs.Format(ctx, dev, cfg.FSType); fmtErr != nil {
			return Usage{}, multierr.Combine(
				errors.Wrapf(err, "failed to mount partition %q", cfg.Label),
				errors.Wrapf(fmtErr, "failed to format partition %q", cfg.Label))
		}
		err = p.mounter.Mount(ctx, dev, cfg.MountPoint, cfg.FSType, false)
	}
	if err != nil {
		return Usage{}, errors.Wrapf(err, "failed to mount partition %q", cfg.Label)
	}
	p.mounted[cfg.Label] = cfg

	usage, err := p.mounter.Usage(cfg.MountPoint)
	if err != nil {
		p.logger.Errorw("failed to get partition information", "label", cfg.Label, "error", err)
		return Usage{}, errors.Wrapf(err, "failed to get partition %q information", cfg.Label)
	}
	p.logger.Infow("partition mounted", "label", cfg.Label, "total", usage.Total, "used", usage.Used)
	return usage, nil
}

// Unmount unmounts the partition with the label.
func (p *Partition) Unmount(ctx context.Context, label string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg, ok := p.mounted[label]
	if !ok {
		return errors.Wrapf(ErrInvalidState, "partition %q not mounted", label)
	}
	if err := p.mounter.Unmount(ctx, cfg.MountPoint); err != nil {
		return errors.Wrapf(err, "failed to unmount partition %q", label)
	}
	delete(p.mounted, label)
	return nil
}

// Mounted reports whether the partition with the label is mounted.
func (p *Partition) Mounted(label string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.mounted[label]
	return ok
}

// Info returns the usage of a mounted partition.
func (p *Partition) Info(label string) (Usage, error) {
	p.mu.Lock()
	cfg, ok := p.mounted[label]
	p.mu.Unlock()
	if !ok {
		return Usage{}, errors.Wrapf(ErrInvalidState, "partition %q not mounted", label)
	}
	return p.mounter.Usage(cfg.MountPoint)
}
