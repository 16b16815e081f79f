package storage

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go.tab5.dev/bsp/logging"
)

// SlotConfig is the SD slot wiring.
type SlotConfig struct {
	Slot       int
	Width      int
	CLK        int
	CMD        int
	Data       [4]int
	MaxFreqKHz int
	// The IO bank is powered from an on-chip LDO.
	LDOChannel   int
	LDOMillivolt int
}

// Tab5Slot is the board's SD slot: slot 0, four data lines, high speed, IO powered from LDO 4.
var Tab5Slot = SlotConfig{
	Slot:         0,
	Width:        4,
	CLK:          43,
	CMD:          44,
	Data:         [4]int{39, 40, 41, 42},
	MaxFreqKHz:   40000,
	LDOChannel:   4,
	LDOMillivolt: 3300,
}

// DefaultAllocationUnit is the cluster size used when a card is formatted.
const DefaultAllocationUnit = 16 * 1024

// SDCardConfig configures how the card is mounted.
type SDCardConfig struct {
	MountPoint string `json:"mount_point"`
	MaxFiles   int    `json:"max_files,omitempty"`
	// Device is the host block device, e.g. /dev/mmcblk1p1.
	Device         string `json:"device,omitempty"`
	FSType         string `json:"fs_type,omitempty"`
	ReadOnly       bool   `json:"read_only,omitempty"`
	AllocationUnit int    `json:"allocation_unit,omitempty"`
}

// DefaultSDCardConfig returns the board defaults.
func DefaultSDCardConfig() SDCardConfig {
	return SDCardConfig{
		MountPoint:     "/sdcard",
		MaxFiles:       5,
		Device:         "/dev/mmcblk1p1",
		FSType:         "vfat",
		AllocationUnit: DefaultAllocationUnit,
	}
}

// Card is a mounted card.
type Card struct {
	MountPoint string
	Device     string
	FSType     string
	Usage      Usage
	MountedAt  time.Time
}

// SDCard owns the card slot. At most one card is mounted at a time.
type SDCard struct {
	mounter Mounter
	ldo     LDO
	slot    SlotConfig
	logger  logging.Logger

	mu         sync.Mutex
	ldoEnabled bool
	card       *Card
}

// NewSDCard returns the slot. The LDO may be nil when the IO bank is always powered.
func NewSDCard(mounter Mounter, ldo LDO, slot SlotConfig, logger logging.Logger) *SDCard {
	return &SDCard{mounter: mounter, ldo: ldo, slot: slot, logger: logger}
}

// Init powers the slot and mounts the card. It fails with ErrInvalidState if a card is already
// mounted, leaving that card untouched. A card that fails to mount is never formatted.
func (s *SDCard) Init(ctx context.Context, cfg SDCardConfig) (*Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.card != nil {
		return nil, errors.Wrapf(ErrInvalidState, "sd card already mounted at %s", s.card.MountPoint)
	}
	if cfg.MountPoint == "" {
		return nil, errors.Wrap(ErrInvalidState, "sd card mount point is empty")
	}
	def := DefaultSDCardConfig()
	if cfg.Device == "" {
		cfg.Device = def.Device
	}
	if cfg.FSType == "" {
		cfg.FSType = def.FSType
	}

	if s.ldo != nil && !s.ldoEnabled {
		if err := s.ldo.Enable(ctx, s.slot.LDOChannel, s.slot.LDOMillivolt); err != nil {
			s.logger.Errorw("failed to power sd card io", "channel", s.slot.LDOChannel, "error", err)
			return nil, errors.Wrap(err, "failed to power sd card io")
		}
		s.ldoEnabled = true
	}

	if err := s.mounter.Mount(ctx, cfg.Device, cfg.MountPoint, cfg.FSType, cfg.ReadOnly); err != nil {
		s.logger.Errorw("failed to mount sd card; check the card is inserted and formatted",
			"device", cfg.Device, "mount_point", cfg.MountPoint, "error", err)
		return nil, errors.Wrapf(err, "failed to mount %s at %s", cfg.Device, cfg.MountPoint)
	}

	card := &Card{MountPoint: cfg.MountPoint, Device: cfg.Device, FSType: cfg.FSType, MountedAt: time.Now()}
	usage, err := s.mounter.Usage(cfg.MountPoint)
	if err != nil {
		s.logger.Warnw("failed to read sd card usage", "mount_point", cfg.MountPoint, "error", err)
	} else {
		card.Usage = usage
	}
	s.logger.Infow("sd card mounted",
		"device", card.Device, "mount_point", card.MountPoint, "fs", card.FSType,
		"total", card.Usage.Total, "used", card.Usage.Used, "width", s.slot.Width, "max_freq_khz", s.slot.MaxFreqKHz)
	s.card = card
	return card, nil
}

// Deinit unmounts the card. The mount point must be the one used by Init. The handle is cleared
// even when unmounting fails.
func (s *SDCard) Deinit(ctx context.Context, mountPoint string) error {
	if mountPoint == "" {
		return errors.Wrap(ErrInvalidState, "sd card mount point is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.card == nil {
		return errors.Wrap(ErrInvalidState, "no sd card mounted")
	}
	if s.card.MountPoint != mountPoint {
		return errors.Wrapf(ErrInvalidState, "sd card is mounted at %s, not %s", s.card.MountPoint, mountPoint)
	}
	err := s.mounter.Unmount(ctx, mountPoint)
	s.card = nil
	if err != nil {
		return errors.Wrapf(err, "failed to unmount sd card at %s", mountPoint)
	}
	s.logger.Infow("sd card unmounted", "mount_point", mountPoint)
	return nil
}

// Card returns the mounted card or nil.
func (s *SDCard) Card() *Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.card
}
