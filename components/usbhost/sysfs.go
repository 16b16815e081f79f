package usbhost

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.tab5.dev/bsp/logging"
	"go.tab5.dev/bsp/usb"
)

// DefaultPollInterval is how often the sysfs library rescans.
const DefaultPollInterval = time.Second

// DeviceEvent is delivered to clients when a device appears or goes away.
type DeviceEvent struct {
	Attached bool
	Device   usb.Description
}

// SysfsLibrary is a Library that tracks the devices the kernel enumerates by polling sysfs.
// Clients register callbacks; when the last one leaves, the pump frees every tracked device.
type SysfsLibrary struct {
	root     string
	interval time.Duration
	clk      clock.Clock
	logger   logging.Logger

	mu          sync.Mutex
	installed   bool
	devices     map[string]usb.Description
	clients     map[int]func(DeviceEvent)
	nextClient  int
	hadClients  bool
	pendingFree bool
}

var _ Library = (*SysfsLibrary)(nil)

// NewSysfsLibrary returns a library scanning root, normally usb.DefaultSysPath.
func NewSysfsLibrary(root string, interval time.Duration, clk clock.Clock, logger logging.Logger) *SysfsLibrary {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &SysfsLibrary{
		root:     root,
		interval: interval,
		clk:      clk,
		logger:   logger,
		devices:  map[string]usb.Description{},
		clients:  map[int]func(DeviceEvent){},
	}
}

// Install takes the first scan.
func (l *SysfsLibrary) Install(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.installed {
		return errors.New("usb host library already installed")
	}
	if _, err := l.rescanLocked(); err != nil {
		return err
	}
	l.installed = true
	return nil
}

// Uninstall forgets every device and client.
func (l *SysfsLibrary) Uninstall() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.installed {
		return errors.New("usb host library not installed")
	}
	l.installed = false
	l.devices = map[string]usb.Description{}
	l.clients = map[int]func(DeviceEvent){}
	l.hadClients = false
	l.pendingFree = false
	return nil
}

// Register adds a client. It is told about every device already present.
func (l *SysfsLibrary) Register(fn func(DeviceEvent)) (deregister func()) {
	l.mu.Lock()
	id := l.nextClient
	l.nextClient++
	l.clients[id] = fn
	l.hadClients = true
	present := l.deviceListLocked()
	l.mu.Unlock()

	for _, dev := range present {
		fn(DeviceEvent{Attached: true, Device: dev})
	}
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.clients, id)
	}
}

// Devices returns the tracked devices.
func (l *SysfsLibrary) Devices() []usb.Description {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deviceListLocked()
}

func (l *SysfsLibrary) deviceListLocked() []usb.Description {
	out := make([]usb.Description, 0, len(l.devices))
	for _, dev := range l.devices {
		out = append(out, dev)
	}
	return out
}

// rescanLocked updates the tracked set and returns the changes. Root hubs are not tracked.
func (l *SysfsLibrary) rescanLocked() ([]DeviceEvent, error) {
	found, err := usb.Scan(l.root, nil)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var events []DeviceEvent
	for _, dev := range found {
		if dev.RootHub {
			continue
		}
		seen[dev.Path] = true
		if _, ok := l.devices[dev.Path]; !ok {
			l.devices[dev.Path] = dev
			events = append(events, DeviceEvent{Attached: true, Device: dev})
		}
	}
	for path, dev := range l.devices {
		if !seen[path] {
			delete(l.devices, path)
			events = append(events, DeviceEvent{Device: dev})
		}
	}
	return events, nil
}

// HandleEvents waits one poll interval, rescans and delivers changes to clients.
func (l *SysfsLibrary) HandleEvents(ctx context.Context) (EventFlags, error) {
	timer := l.clk.Timer(l.interval)
	select {
	case <-ctx.Done():
		timer.Stop()
		return 0, ctx.Err()
	case <-timer.C:
	}

	l.mu.Lock()
	if !l.installed {
		l.mu.Unlock()
		return 0, errors.New("usb host library not installed")
	}
	var flags EventFlags
	if l.pendingFree {
		l.pendingFree = false
		flags |= EventAllFree
	}
	events, err := l.rescanLocked()
	if err != nil {
		l.mu.Unlock()
		return flags, err
	}
	if l.hadClients && len(l.clients) == 0 {
		l.hadClients = false
		flags |= EventNoClients
	}
	clients := make([]func(DeviceEvent), 0, len(l.clients))
	for _, fn := range l.clients {
		clients = append(clients, fn)
	}
	l.mu.Unlock()

	for _, ev := range events {
		l.logger.Debugw("usb device change", "path", ev.Device.Path, "id", ev.Device.ID.String(), "attached", ev.Attached)
		for _, fn := range clients {
			fn(ev)
		}
	}
	return flags, nil
}

// FreeAllDevices drops every tracked device. They are picked up again by the next scan if still
// plugged in.
func (l *SysfsLibrary) FreeAllDevices(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.devices = map[string]usb.Description{}
	l.pendingFree = true
	return nil
}
