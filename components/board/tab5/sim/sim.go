// Package sim builds a board out of in-memory parts, for tests and for running the CLI without
// hardware.
package sim

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"

	"go.tab5.dev/bsp/components/board/buses"
	"go.tab5.dev/bsp/components/board/pi4ioe"
	"go.tab5.dev/bsp/components/board/tab5"
	"go.tab5.dev/bsp/components/codec"
	codecfake "go.tab5.dev/bsp/components/codec/fake"
	displayfake "go.tab5.dev/bsp/components/display/fake"
	"go.tab5.dev/bsp/components/storage"
	"go.tab5.dev/bsp/components/touch"
	touchfake "go.tab5.dev/bsp/components/touch/fake"
	"go.tab5.dev/bsp/components/usbhost"
	"go.tab5.dev/bsp/logging"
	"go.tab5.dev/bsp/testutils/i2csim"
)

// Board is every simulated part. The system bus carries both expanders, the codecs and the
// touch controller. Port 1, shared by the external and grove buses, is empty.
type Board struct {
	System    *i2csim.Bus
	Port1     *i2csim.Bus
	Touch     *touchfake.GT911
	Audio     *codecfake.Backend
	Panel     *displayfake.Driver
	Port      *displayfake.Port
	Backlight *displayfake.PWM
	Camera    *displayfake.PWM
	LDO       *displayfake.LDO
	Mounter   *Mounter
}

// New returns a fresh simulated board.
func New() *Board {
	b := &Board{
		System:    i2csim.New("system"),
		Port1:     i2csim.New("port1"),
		Touch:     touchfake.NewGT911(),
		Audio:     &codecfake.Backend{},
		Panel:     displayfake.NewDriver(),
		Port:      &displayfake.Port{},
		Backlight: &displayfake.PWM{},
		Camera:    &displayfake.PWM{},
		LDO:       &displayfake.LDO{},
		Mounter:   NewMounter(),
	}
	sys := b.System
	sys.AddDevice(pi4ioe.Addr1)
	sys.AddDevice(pi4ioe.Addr2)
	sys.AddDevice(codec.ES8388Addr)
	sys.AddDevice(codec.ES7210Addr)
	sys.AddDevice(touch.BackupAddr).Handler = b.Touch.Handle
	return b
}

// Open implements buses.Opener.
func (b *Board) Open(ctx context.Context, cfg buses.Config) (i2c.BusCloser, error) {
	switch cfg.Port {
	case 0:
		return b.System, nil
	case 1:
		return b.Port1, nil
	}
	return nil, errors.Errorf("no simulated bus on port %d", cfg.Port)
}

// Deps wires every simulated part into board dependencies. The USB host scans usbRoot, which
// may be missing.
func (b *Board) Deps(clk clock.Clock, usbRoot string, logger logging.Logger) tab5.Deps {
	if clk == nil {
		clk = clock.New()
	}
	return tab5.Deps{
		Opener:       b,
		Clock:        clk,
		Mounter:      b.Mounter,
		Formatter:    b.Mounter,
		LDO:          b.LDO,
		AudioBackend: b.Audio,
		PanelDriver:  b.Panel,
		Port:         b.Port,
		BacklightPWM: b.Backlight,
		CameraPWM:    b.Camera,
		USBLibrary:   usbhost.NewSysfsLibrary(usbRoot, usbhost.DefaultPollInterval, clk, logger),
	}
}

// Mounter is an in-memory mount table.
type Mounter struct {
	mu      sync.Mutex
	mounted map[string]string
	// Formatted lists every device formatted so far.
	Formatted []string
	usageErr  error
}

// FailNextUsage makes the next Usage call return err.
func (m *Mounter) FailNextUsage(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usageErr = err
}

// NewMounter returns an empty mount table.
func NewMounter() *Mounter {
	return &Mounter{mounted: map[string]string{}}
}

// Mount implements storage.Mounter.
func (m *Mounter) Mount(ctx context.Context, source, target, fstype string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mounted[target]; ok {
		return errors.Errorf("%s is already mounted", target)
	}
	m.mounted[target] = source
	return nil
}

// Unmount implements storage.Mounter.
func (m *Mounter) Unmount(ctx context.Context, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mounted[target]; !ok {
		return errors.Errorf("%s is not mounted", target)
	}
	delete(m.mounted, target)
	return nil
}

// Usage implements storage.Mounter.
func (m *Mounter) Usage(target string) (storage.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mounted[target]; !ok {
		return storage.Usage{}, errors.Errorf("%s is not mounted", target)
	}
	if err := m.usageErr; err != nil {
		m.usageErr = nil
		return storage.Usage{}, err
	}
	return storage.Usage{Total: 8 << 20, Used: 1 << 20}, nil
}

// Format implements storage.FSDriver.
func (m *Mounter) Format(ctx context.Context, device, fstype string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Formatted = append(m.Formatted, device)
	return nil
}

// Mounted returns the source mounted at target.
func (m *Mounter) Mounted(target string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.mounted[target]
	return src, ok
}
