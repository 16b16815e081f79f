// Package fake implements the display driver stack, graphics port and PWM in memory, for tests
// and simulated boards.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.tab5.dev/bsp/components/display"
)

// Stage names a step of panel bring-up.
type Stage string

// Bring-up stages, in order.
const (
	StageBus      Stage = "bus"
	StageIO       Stage = "io"
	StagePanel    Stage = "panel"
	StageReset    Stage = "reset"
	StageInit     Stage = "init"
	StageOn       Stage = "on"
	StageBusDel   Stage = "bus_del"
	StageIODel    Stage = "io_del"
	StagePanelDel Stage = "panel_del"
)

// Driver records bring-up and teardown.
type Driver struct {
	mu     sync.Mutex
	calls  []Stage
	failAt map[Stage]error
	// LastPanel is the config passed to NewPanel.
	LastPanel display.PanelConfig
	LastBus   display.DSIBusConfig
}

var _ display.PanelDriver = (*Driver)(nil)

// NewDriver returns a driver that succeeds at every stage.
func NewDriver() *Driver {
	return &Driver{failAt: map[Stage]error{}}
}

// FailAt makes the stage fail with err.
func (d *Driver) FailAt(stage Stage, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAt[stage] = err
}

// Calls returns the stages run so far.
func (d *Driver) Calls() []Stage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Stage(nil), d.calls...)
}

func (d *Driver) record(stage Stage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, stage)
	return d.failAt[stage]
}

type closer struct {
	d     *Driver
	stage Stage
}

func (c closer) Close() error {
	return c.d.record(c.stage)
}

// NewDSIBus implements display.PanelDriver.
func (d *Driver) NewDSIBus(ctx context.Context, cfg display.DSIBusConfig) (display.DSIBus, error) {
	if err := d.record(StageBus); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.LastBus = cfg
	d.mu.Unlock()
	return closer{d, StageBusDel}, nil
}

// NewPanelIO implements display.PanelDriver.
func (d *Driver) NewPanelIO(ctx context.Context, bus display.DSIBus, cfg display.DBIConfig) (display.PanelIO, error) {
	if err := d.record(StageIO); err != nil {
		return nil, err
	}
	return closer{d, StageIODel}, nil
}

// NewPanel implements display.PanelDriver.
func (d *Driver) NewPanel(
	ctx context.Context, io display.PanelIO, bus display.DSIBus, cfg display.PanelConfig,
) (display.Panel, error) {
	if err := d.record(StagePanel); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.LastPanel = cfg
	d.mu.Unlock()
	return &panel{closer: closer{d, StagePanelDel}}, nil
}

type panel struct {
	closer
}

func (p *panel) Reset(ctx context.Context) error {
	return p.d.record(StageReset)
}

func (p *panel) Init(ctx context.Context) error {
	return p.d.record(StageInit)
}

func (p *panel) DisplayOn(ctx context.Context, on bool) error {
	if !on {
		return nil
	}
	return p.d.record(StageOn)
}

// Port is an in-memory graphics port.
type Port struct {
	mu       sync.Mutex
	inits    int
	displays []display.PortDisplayConfig
	touches  []display.TouchInput
	rotation display.Rotation
	// AddDisplayErr, if set, is returned by AddDisplay.
	AddDisplayErr error
}

var _ display.Port = (*Port)(nil)

// Init implements display.Port.
func (p *Port) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inits++
	return nil
}

// AddDisplay implements display.Port.
func (p *Port) AddDisplay(ctx context.Context, h *display.Handles, cfg display.PortDisplayConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AddDisplayErr != nil {
		return p.AddDisplayErr
	}
	if h == nil || h.Panel == nil {
		return errors.New("no panel")
	}
	p.displays = append(p.displays, cfg)
	p.rotation = cfg.Rotation
	return nil
}

// AddTouch implements display.Port.
func (p *Port) AddTouch(ctx context.Context, t display.TouchInput) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.touches = append(p.touches, t)
	return nil
}

// SetRotation implements display.Port.
func (p *Port) SetRotation(ctx context.Context, r display.Rotation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotation = r
	return nil
}

// Displays returns every registered display.
func (p *Port) Displays() []display.PortDisplayConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]display.PortDisplayConfig(nil), p.displays...)
}

// Touches returns every registered touch input.
func (p *Port) Touches() []display.TouchInput {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]display.TouchInput(nil), p.touches...)
}

// Rotation returns the port rotation.
func (p *Port) Rotation() display.Rotation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rotation
}

// PWM is an in-memory PWM channel.
type PWM struct {
	mu         sync.Mutex
	FreqHz     uint
	Resolution uint
	Duties     []uint32
	Configures int
}

var _ display.PWM = (*PWM)(nil)

// Configure implements display.PWM.
func (p *PWM) Configure(ctx context.Context, freqHz, resolutionBits uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FreqHz, p.Resolution = freqHz, resolutionBits
	p.Configures++
	return nil
}

// SetDuty implements display.PWM.
func (p *PWM) SetDuty(ctx context.Context, duty uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Configures == 0 {
		return errors.New("pwm not configured")
	}
	p.Duties = append(p.Duties, duty)
	return nil
}

// LDO records enabled regulator channels.
type LDO struct {
	mu       sync.Mutex
	Channels map[int]int
}

// Enable implements display.LDO.
func (l *LDO) Enable(ctx context.Context, channel, millivolts int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Channels == nil {
		l.Channels = map[int]int{}
	}
	if _, ok := l.Channels[channel]; ok {
		return errors.Errorf("ldo channel %d already acquired", channel)
	}
	l.Channels[channel] = millivolts
	return nil
}
