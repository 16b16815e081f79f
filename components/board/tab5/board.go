// Package tab5 assembles the board: it owns every bus, expander and peripheral handle and runs
// the bring-up order the hardware needs.
package tab5

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.tab5.dev/bsp/components/board/buses"
	"go.tab5.dev/bsp/components/board/pi4ioe"
	"go.tab5.dev/bsp/components/codec"
	"go.tab5.dev/bsp/components/display"
	"go.tab5.dev/bsp/components/power"
	"go.tab5.dev/bsp/components/storage"
	"go.tab5.dev/bsp/components/touch"
	"go.tab5.dev/bsp/components/usbhost"
	"go.tab5.dev/bsp/config"
	"go.tab5.dev/bsp/logging"
)

// Deps are the host drivers the board is built on. Opener is required; a nil driver leaves the
// matching subsystem unavailable.
type Deps struct {
	Opener       buses.Opener
	Clock        clock.Clock
	Mounter      storage.Mounter
	Formatter    storage.FSDriver
	LDO          LDO
	AudioBackend codec.Backend
	PanelDriver  display.PanelDriver
	Port         display.Port
	BacklightPWM display.PWM
	CameraPWM    display.PWM
	USBLibrary   usbhost.Library
}

// LDO is the on-chip regulator bank shared by the SD IO bank and the DSI PHY.
type LDO interface {
	storage.LDO
	display.LDO
}

// ErrUnavailable is returned when a subsystem's driver was not provided.
var ErrUnavailable = errors.New("subsystem not available on this host")

// Board is a brought-up board.
type Board struct {
	id     uuid.UUID
	cfg    *config.Config
	deps   Deps
	logger logging.Logger

	buses     *buses.Registry
	expanders [2]*pi4ioe.Chip
	power     *power.Controller
	audio     *codec.Audio
	sdcard    *storage.SDCard
	partition *storage.Partition
	backlight *display.Backlight
	display   *display.Display
	usb       *usbhost.Host

	mu        sync.Mutex
	touch     *touch.GT911
	spiffsOn  string
	sdMounted string
}

// New brings up the system bus and both expanders, then switches the configured boot rails.
// Other subsystems are created but stay off until started.
func New(ctx context.Context, cfg *config.Config, deps Deps, logger logging.Logger) (_ *Board, err error) {
	if deps.Opener == nil {
		return nil, errors.New("an i2c opener is required")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	b := &Board{id: uuid.New(), cfg: cfg, deps: deps, logger: logger}
	logger.Infow("bringing up board", "board_id", b.id.String())

	b.buses = buses.NewRegistry(deps.Opener, cfg.Buses(), deps.Clock, logger.Sublogger("i2c"))
	defer func() {
		if err != nil {
			err = multierr.Combine(err, b.buses.Close())
		}
	}()
	sys, err := b.buses.Init(ctx, buses.SystemBus)
	if err != nil {
		return nil, err
	}

	for i, spec := range []struct {
		addr     uint16
		name     string
		settings pi4ioe.Settings
	}{
		{pi4ioe.Addr1, power.Chip1.String(), pi4ioe.Chip1Settings},
		{pi4ioe.Addr2, power.Chip2.String(), pi4ioe.Chip2Settings},
	} {
		chip, err := pi4ioe.New(sys, spec.addr, spec.name, logger.Sublogger(spec.name))
		if err != nil {
			return nil, err
		}
		if err := chip.Init(ctx, spec.settings); err != nil {
			return nil, err
		}
		b.expanders[i] = chip
	}
	b.power = power.NewController(b.expanders[0], b.expanders[1], deps.Clock, logger.Sublogger("power"))
	if err := b.ApplyRails(ctx, cfg); err != nil {
		return nil, err
	}

	b.audio = codec.NewAudio(b.buses, deps.AudioBackend, logger.Sublogger("audio"))
	if deps.Mounter != nil {
		var ldo storage.LDO
		if deps.LDO != nil {
			ldo = deps.LDO
		}
		b.sdcard = storage.NewSDCard(deps.Mounter, ldo, storage.Tab5Slot, logger.Sublogger("sdcard"))
		b.partition = storage.NewPartition(deps.Mounter, deps.Formatter, logger.Sublogger("spiffs"))
	}
	displayLogger := logger.Sublogger("display")
	if deps.BacklightPWM != nil {
		b.backlight = display.NewBacklight(deps.BacklightPWM, displayLogger)
	}
	if deps.PanelDriver != nil && b.backlight != nil {
		var ldo display.LDO
		if deps.LDO != nil {
			ldo = deps.LDO
		}
		b.display = display.New(deps.PanelDriver, ldo, b.backlight, deps.Port, deps.Clock, displayLogger)
	}
	if deps.USBLibrary != nil {
		b.usb = usbhost.New(deps.USBLibrary, logger.Sublogger("usb"))
	}
	return b, nil
}

// ID identifies this bring-up in logs.
func (b *Board) ID() uuid.UUID {
	return b.id
}

// Config returns the config the board was brought up with.
func (b *Board) Config() *config.Config {
	return b.cfg
}

// Buses returns the bus registry.
func (b *Board) Buses() *buses.Registry {
	return b.buses
}

// Power returns the power and reset controller.
func (b *Board) Power() *power.Controller {
	return b.power
}

// Expander returns one of the two expanders.
func (b *Board) Expander(chip power.Chip) *pi4ioe.Chip {
	return b.expanders[chip]
}

// Audio returns the audio subsystem.
func (b *Board) Audio() *codec.Audio {
	return b.audio
}

// Display returns the display, or nil without a panel driver.
func (b *Board) Display() *display.Display {
	return b.display
}

// Backlight returns the panel backlight, or nil without a backlight PWM. It works without the
// rest of the display stack.
func (b *Board) Backlight() *display.Backlight {
	return b.backlight
}

// SDCard returns the SD slot, or nil without a mounter.
func (b *Board) SDCard() *storage.SDCard {
	return b.sdcard
}

// Partition returns the flash partition mounter, or nil without a mounter.
func (b *Board) Partition() *storage.Partition {
	return b.partition
}

// USBHost returns the USB host, or nil without a host library.
func (b *Board) USBHost() *usbhost.Host {
	return b.usb
}

// ApplyRails switches every rail named in the config. The first failure stops the sequence.
func (b *Board) ApplyRails(ctx context.Context, cfg *config.Config) error {
	rails, err := cfg.BootRails()
	if err != nil {
		return err
	}
	for _, setting := range rails {
		if err := b.power.SetRail(ctx, setting.Rail, setting.Enabled); err != nil {
			return err
		}
	}
	return nil
}

// ApplyConfig applies the settings that can change while running: rail states, brightness and
// rotation. Other changes need a new board.
func (b *Board) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	if err := b.ApplyRails(ctx, cfg); err != nil {
		return err
	}
	if b.display == nil || b.Touch() == nil {
		return nil
	}
	rotation, err := display.RotationFromDegrees(cfg.Display.Rotation)
	if err != nil {
		return err
	}
	if err := b.display.Rotate(ctx, rotation); err != nil {
		return err
	}
	if cfg.Display.Brightness != nil {
		return b.display.Backlight().SetBrightness(ctx, *cfg.Display.Brightness)
	}
	return nil
}

// MountStorage mounts the SD card and the SPIFFS partition if configured.
func (b *Board) MountStorage(ctx context.Context) error {
	if b.sdcard == nil {
		return errors.Wrap(ErrUnavailable, "storage")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if sd := b.cfg.SDCard; sd != nil && b.sdMounted == "" {
		if _, err := b.sdcard.Init(ctx, *sd); err != nil {
			return err
		}
		b.sdMounted = sd.MountPoint
	}
	if part := b.cfg.SPIFFS; part != nil && b.spiffsOn == "" {
		_, err := b.partition.Mount(ctx, *part)
		// A usage read can fail after the mount succeeded; Close still has to unmount it.
		if b.partition.Mounted(part.Label) {
			b.spiffsOn = part.Label
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// StartDisplay resets and powers the touch controller, brings up the panel and hands both to the
// graphics port, then applies the configured brightness and rotation.
func (b *Board) StartDisplay(ctx context.Context) error {
	if b.display == nil {
		return errors.Wrap(ErrUnavailable, "display")
	}
	dc := b.cfg.Display
	panel, err := display.PanelByName(dc.Panel)
	if err != nil {
		return err
	}
	rotation, err := display.RotationFromDegrees(dc.Rotation)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.touch != nil {
		return display.ErrAlreadyStarted
	}
	if err := b.power.ResetTouch(ctx); err != nil {
		return err
	}
	sys, err := b.buses.Init(ctx, buses.SystemBus)
	if err != nil {
		return err
	}
	tp, err := touch.New(ctx, sys, b.cfg.Touch, b.logger.Sublogger("touch"))
	if err != nil {
		return err
	}
	if err := b.display.Rotate(ctx, rotation); err != nil {
		return multierr.Combine(err, tp.Close())
	}
	if err := b.display.Start(ctx, panel, tp); err != nil {
		return multierr.Combine(err, tp.Close())
	}
	b.touch = tp

	brightness := 100
	if dc.Brightness != nil {
		brightness = *dc.Brightness
	}
	return b.display.Backlight().SetBrightness(ctx, brightness)
}

// Touch returns the touch controller once the display is started.
func (b *Board) Touch() *touch.GT911 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.touch
}

// StartAudio sets up I2S and both codec devices and applies the configured volume and gain.
func (b *Board) StartAudio(ctx context.Context) (*codec.I2SCodec, error) {
	ac := b.cfg.Audio
	if err := b.audio.Init(ctx, ac.I2S); err != nil {
		return nil, err
	}
	c, err := b.audio.Codec(ctx)
	if err != nil {
		return nil, err
	}
	if ac.Volume != nil {
		if err := c.SetVolume(ctx, *ac.Volume); err != nil {
			return nil, err
		}
	}
	if ac.InGain != nil {
		if err := c.SetInGain(ctx, *ac.InGain); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// StartUSBHost starts the USB host port.
func (b *Board) StartUSBHost(ctx context.Context) error {
	if b.usb == nil {
		return errors.Wrap(ErrUnavailable, "usb host")
	}
	return b.usb.Start(ctx, usbhost.PowerModeUSBDev, b.cfg.USBHost.Limit500mA)
}

// Close stops every started subsystem and closes the buses.
func (b *Board) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.usb != nil {
		err = multierr.Combine(err, b.usb.Stop())
	}
	if b.display != nil {
		err = multierr.Combine(err, b.display.Close(ctx))
	} else if b.backlight != nil && b.backlight.Brightness() > 0 {
		err = multierr.Combine(err, b.backlight.Off(ctx))
	}
	if b.touch != nil {
		err = multierr.Combine(err, b.touch.Close())
		b.touch = nil
	}
	if b.spiffsOn != "" {
		err = multierr.Combine(err, b.partition.Unmount(ctx, b.spiffsOn))
		b.spiffsOn = ""
	}
	if b.sdMounted != "" {
		err = multierr.Combine(err, b.sdcard.Deinit(ctx, b.sdMounted))
		b.sdMounted = ""
	}
	return multierr.Combine(err, b.buses.Close())
}
