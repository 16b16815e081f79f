// Package display brings up the MIPI-DSI panel, its backlight and the touch input, and hands
// them to the graphics port.
package display

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"

	"go.tab5.dev/bsp/components/touch"
	"go.tab5.dev/bsp/logging"
)

var (
	// ErrLockTimeout is returned by Lock when the display stays locked for the whole timeout.
	ErrLockTimeout = errors.New("timed out waiting for the display lock")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("display already started")
)

// DrawBufferPixels is the size of the graphics draw buffer: 50 lines.
const DrawBufferPixels = HRes * 50

// Rotation is a clockwise screen rotation.
type Rotation int

// Rotations.
const (
	Rotate0 Rotation = iota
	Rotate90
	Rotate180
	Rotate270
)

// RotationFromDegrees converts 0, 90, 180 or 270.
func RotationFromDegrees(deg int) (Rotation, error) {
	switch deg {
	case 0:
		return Rotate0, nil
	case 90:
		return Rotate90, nil
	case 180:
		return Rotate180, nil
	case 270:
		return Rotate270, nil
	}
	return Rotate0, errors.Errorf("rotation must be 0, 90, 180 or 270, got %d", deg)
}

// Degrees returns the rotation in degrees.
func (r Rotation) Degrees() int {
	return int(r) * 90
}

// PortDisplayConfig is how the panel is registered with the graphics port.
type PortDisplayConfig struct {
	HRes, VRes   int
	BufferPixels int
	DoubleBuffer bool
	// SWRotate rotates in software; the DPI panel cannot rotate itself.
	SWRotate bool
	Rotation Rotation
}

// TouchInput is a touch controller the port polls.
type TouchInput interface {
	ExitSleep(ctx context.Context) error
	ReadPoints(ctx context.Context) ([]touch.Point, error)
}

var _ TouchInput = (*touch.GT911)(nil)

// Port is the graphics library the display is handed to.
type Port interface {
	Init(ctx context.Context) error
	AddDisplay(ctx context.Context, h *Handles, cfg PortDisplayConfig) error
	AddTouch(ctx context.Context, t TouchInput) error
	SetRotation(ctx context.Context, r Rotation) error
}

// Display owns the panel driver stack and guards access to the graphics port.
type Display struct {
	driver    PanelDriver
	ldo       LDO
	backlight *Backlight
	port      Port
	clk       clock.Clock
	logger    logging.Logger

	sem *semaphore.Weighted

	mu         sync.Mutex
	phyPowered bool
	handles    *Handles
	rotation   Rotation
	started    bool
}

// New returns a display. ldo may be nil when the DSI PHY is always powered; port may be nil
// when only NewPanel is used.
func New(driver PanelDriver, ldo LDO, backlight *Backlight, port Port, clk clock.Clock, logger logging.Logger) *Display {
	if clk == nil {
		clk = clock.New()
	}
	return &Display{
		driver:    driver,
		ldo:       ldo,
		backlight: backlight,
		port:      port,
		clk:       clk,
		logger:    logger,
		sem:       semaphore.NewWeighted(1),
	}
}

// Backlight returns the panel backlight.
func (d *Display) Backlight() *Backlight {
	return d.backlight
}

func (d *Display) enablePHYPower(ctx context.Context) error {
	if d.ldo == nil || d.phyPowered {
		return nil
	}
	if err := d.ldo.Enable(ctx, PHYLDOChannel, PHYLDOMillivolt); err != nil {
		return errors.Wrap(err, "acquire ldo channel for dphy failed")
	}
	d.phyPowered = true
	d.logger.Info("mipi dsi phy powered on")
	return nil
}

// NewPanel brings up the backlight PWM, the DSI PHY supply, the DSI bus, the command channel and
// the panel. Whatever was created is deleted again if a later step fails.
func (d *Display) NewPanel(ctx context.Context, cfg PanelConfig) (*Handles, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.newPanelLocked(ctx, cfg)
}

func (d *Display) newPanelLocked(ctx context.Context, cfg PanelConfig) (_ *Handles, err error) {
	if err := d.backlight.Init(ctx); err != nil {
		return nil, err
	}
	if err := d.enablePHYPower(ctx); err != nil {
		return nil, err
	}

	h := &Handles{Config: cfg}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, h.Close())
		}
	}()

	h.Bus, err = d.driver.NewDSIBus(ctx, DSIBusConfig{Lanes: cfg.Lanes, LaneBitRateMbps: DSILaneBitRateMbps})
	if err != nil {
		return nil, errors.Wrap(err, "new dsi bus init failed")
	}
	h.IO, err = d.driver.NewPanelIO(ctx, h.Bus, DBIConfig{CmdBits: 8, ParamBits: 8})
	if err != nil {
		return nil, errors.Wrap(err, "new panel io failed")
	}
	d.logger.Infof("install lcd driver of %s", cfg.Controller)
	h.Panel, err = d.driver.NewPanel(ctx, h.IO, h.Bus, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "new %s panel failed", cfg.Controller)
	}
	if cfg.Controller == ILI9881C {
		if err := h.Panel.Reset(ctx); err != nil {
			return nil, errors.Wrap(err, "lcd panel reset failed")
		}
	}
	if err := h.Panel.Init(ctx); err != nil {
		return nil, errors.Wrap(err, "lcd panel init failed")
	}
	if cfg.Controller == ILI9881C {
		if err := h.Panel.DisplayOn(ctx, true); err != nil {
			return nil, errors.Wrap(err, "lcd panel display on failed")
		}
	}
	d.logger.Infof("display initialized with resolution %dx%d", cfg.Timing.HSize, cfg.Timing.VSize)
	return h, nil
}

// Start initializes the port, brings up the panel and registers it, then wakes the touch
// controller and registers it as the input device. tp may be nil.
func (d *Display) Start(ctx context.Context, cfg PanelConfig, tp TouchInput) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrAlreadyStarted
	}
	if d.port == nil {
		return errors.New("no graphics port configured")
	}
	if err := d.port.Init(ctx); err != nil {
		return errors.Wrap(err, "graphics port init failed")
	}
	h, err := d.newPanelLocked(ctx, cfg)
	if err != nil {
		return err
	}
	portCfg := PortDisplayConfig{
		HRes:         cfg.Timing.HSize,
		VRes:         cfg.Timing.VSize,
		BufferPixels: DrawBufferPixels,
		SWRotate:     true,
		Rotation:     d.rotation,
	}
	if err := d.port.AddDisplay(ctx, h, portCfg); err != nil {
		return multierr.Combine(errors.Wrap(err, "failed to add display to port"), h.Close())
	}
	d.handles = h
	d.started = true

	if tp == nil {
		return nil
	}
	if err := tp.ExitSleep(ctx); err != nil {
		return errors.Wrap(err, "failed to wake touch controller")
	}
	if err := d.port.AddTouch(ctx, tp); err != nil {
		return errors.Wrap(err, "failed to add touch input to port")
	}
	return nil
}

// Handles returns the started panel stack, or nil.
func (d *Display) Handles() *Handles {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handles
}

// Lock takes the graphics lock. A timeout of zero waits forever.
func (d *Display) Lock(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		return d.sem.Acquire(ctx, 1)
	}
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	timer := d.clk.AfterFunc(timeout, cancel)
	defer timer.Stop()
	if err := d.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrLockTimeout
	}
	return nil
}

// Unlock releases the graphics lock.
func (d *Display) Unlock() {
	d.sem.Release(1)
}

// Rotate rotates the screen. Before Start it only sets the initial rotation.
func (d *Display) Rotate(ctx context.Context, r Rotation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		if err := d.port.SetRotation(ctx, r); err != nil {
			return err
		}
	}
	d.rotation = r
	return nil
}

// Rotation returns the current rotation.
func (d *Display) Rotation() Rotation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rotation
}

// Close turns the backlight off and deletes the panel stack.
func (d *Display) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if d.backlight.Brightness() > 0 {
		err = d.backlight.Off(ctx)
	}
	if d.handles != nil {
		err = multierr.Combine(err, d.handles.Close())
		d.handles = nil
	}
	d.started = false
	return err
}
