package display

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Panel resolution in its native portrait orientation.
const (
	HRes = 720
	VRes = 1280
)

// MIPI-DSI link and PHY supply.
const (
	DSILanes           = 2
	DSILaneBitRateMbps = 730
	PHYLDOChannel      = 3
	PHYLDOMillivolt    = 2500
)

// PixelFormat is the DPI pixel format.
type PixelFormat int

// Pixel formats.
const (
	RGB565 PixelFormat = iota
	RGB888
)

// BitsPerPixel returns the size of one pixel on the wire.
func (pf PixelFormat) BitsPerPixel() int {
	if pf == RGB888 {
		return 24
	}
	return 16
}

// VideoTiming is the DPI timing in pixels and lines.
type VideoTiming struct {
	HSize, VSize                    int
	HSyncBackPorch, HSyncPulseWidth int
	HSyncFrontPorch                 int
	VSyncBackPorch, VSyncPulseWidth int
	VSyncFrontPorch                 int
}

// Controller is the panel's driver IC.
type Controller int

// Supported controllers.
const (
	ILI9881C Controller = iota
	ST7703
)

func (c Controller) String() string {
	switch c {
	case ILI9881C:
		return "ili9881c"
	case ST7703:
		return "st7703"
	}
	return "unknown"
}

// PanelConfig describes one panel variant.
type PanelConfig struct {
	Controller  Controller
	DPIClockMHz int
	PixelFormat PixelFormat
	Timing      VideoTiming
	Lanes       int
	// FrameBuffers is the number of frame buffers the DPI engine allocates.
	FrameBuffers int
	UseDMA2D     bool
}

// ILI9881CPanel is the panel fitted to current boards.
var ILI9881CPanel = PanelConfig{
	Controller:  ILI9881C,
	DPIClockMHz: 60,
	PixelFormat: RGB565,
	Timing: VideoTiming{
		HSize: HRes, VSize: VRes,
		HSyncBackPorch: 140, HSyncPulseWidth: 40, HSyncFrontPorch: 40,
		VSyncBackPorch: 20, VSyncPulseWidth: 4, VSyncFrontPorch: 20,
	},
	Lanes:        DSILanes,
	FrameBuffers: 1,
	UseDMA2D:     true,
}

// ST7703Panel is the panel fitted to early boards.
var ST7703Panel = PanelConfig{
	Controller:  ST7703,
	DPIClockMHz: 60,
	PixelFormat: RGB565,
	Timing: VideoTiming{
		HSize: HRes, VSize: VRes,
		HSyncBackPorch: 40, HSyncPulseWidth: 10, HSyncFrontPorch: 40,
		VSyncBackPorch: 16, VSyncPulseWidth: 4, VSyncFrontPorch: 16,
	},
	Lanes:        DSILanes,
	FrameBuffers: 1,
}

// PanelByName returns the panel for a controller name.
func PanelByName(name string) (PanelConfig, error) {
	switch strings.ToLower(name) {
	case "", ILI9881C.String():
		return ILI9881CPanel, nil
	case ST7703.String():
		return ST7703Panel, nil
	}
	return PanelConfig{}, errors.Errorf("unknown panel %q", name)
}

// DSIBusConfig configures the DSI host.
type DSIBusConfig struct {
	BusID           int
	Lanes           int
	LaneBitRateMbps int
}

// DBIConfig configures the command channel to the panel.
type DBIConfig struct {
	VirtualChannel int
	CmdBits        int
	ParamBits      int
}

// DSIBus is an initialized DSI host.
type DSIBus interface {
	Close() error
}

// PanelIO is the command channel to the panel.
type PanelIO interface {
	Close() error
}

// Panel is an installed panel driver.
type Panel interface {
	Reset(ctx context.Context) error
	Init(ctx context.Context) error
	DisplayOn(ctx context.Context, on bool) error
	Close() error
}

// PanelDriver creates the DSI driver stack.
type PanelDriver interface {
	NewDSIBus(ctx context.Context, cfg DSIBusConfig) (DSIBus, error)
	NewPanelIO(ctx context.Context, bus DSIBus, cfg DBIConfig) (PanelIO, error)
	NewPanel(ctx context.Context, io PanelIO, bus DSIBus, cfg PanelConfig) (Panel, error)
}

// LDO is an on-chip regulator.
type LDO interface {
	Enable(ctx context.Context, channel, millivolts int) error
}

// Handles is the driver stack of an initialized panel.
type Handles struct {
	Bus    DSIBus
	IO     PanelIO
	Panel  Panel
	Config PanelConfig
}

// Close deletes the panel, its IO and the DSI bus, in that order. Nil handles are skipped.
func (h *Handles) Close() error {
	var err error
	if h.Panel != nil {
		err = multierr.Combine(err, h.Panel.Close())
	}
	if h.IO != nil {
		err = multierr.Combine(err, h.IO.Close())
	}
	if h.Bus != nil {
		err = multierr.Combine(err, h.Bus.Close())
	}
	return err
}
