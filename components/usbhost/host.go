// Package usbhost installs the USB host library and runs its event pump.
package usbhost

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.tab5.dev/bsp/logging"
)

// ErrAlreadyStarted is returned by Start while the host is running.
var ErrAlreadyStarted = errors.New("usb host already started")

// PowerMode is where the host connector takes its power from. The board has one mode.
type PowerMode int

// Power modes.
const (
	PowerModeUSBDev PowerMode = iota
)

// EventFlags are reported by one round of library event handling.
type EventFlags uint32

// Library events.
const (
	// EventNoClients means the last client deregistered.
	EventNoClients EventFlags = 1 << iota
	// EventAllFree means every device was freed.
	EventAllFree
)

// Library is the host stack.
type Library interface {
	Install(ctx context.Context) error
	Uninstall() error
	// HandleEvents blocks until there is something to report or ctx is done.
	HandleEvents(ctx context.Context) (EventFlags, error)
	FreeAllDevices(ctx context.Context) error
}

// errorBackoff bounds how fast the pump spins on a failing library.
const errorBackoff = 100 * time.Millisecond

// Host is the USB host connector.
type Host struct {
	lib    Library
	logger logging.Logger

	mu      sync.Mutex
	workers *utils.StoppableWorkers
}

// New returns a stopped host.
func New(lib Library, logger logging.Logger) *Host {
	return &Host{lib: lib, logger: logger}
}

// Start installs the library and starts the event pump. The mode and current limit are accepted
// for compatibility; the board has a single power path.
func (h *Host) Start(ctx context.Context, mode PowerMode, limit500mA bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.workers != nil {
		return ErrAlreadyStarted
	}
	h.logger.Infow("installing usb host", "mode", int(mode), "limit_500ma", limit500mA)
	if err := h.lib.Install(ctx); err != nil {
		return errors.Wrap(err, "failed to install usb host")
	}
	h.workers = utils.NewBackgroundStoppableWorkers(h.pump)
	return nil
}

func (h *Host) pump(ctx context.Context) {
	for {
		flags, err := h.lib.HandleEvents(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			h.logger.Warnw("usb host event handling failed", "error", err)
			if !utils.SelectContextOrWait(ctx, errorBackoff) {
				return
			}
			continue
		}
		if flags&EventNoClients != 0 {
			if err := h.lib.FreeAllDevices(ctx); err != nil {
				h.logger.Errorw("failed to free usb devices", "error", err)
			}
		}
		if flags&EventAllFree != 0 {
			// Keep handling events so devices can reconnect; only Stop ends the pump.
			h.logger.Info("usb: all devices freed")
		}
	}
}

// Running reports whether the event pump is running.
func (h *Host) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.workers != nil
}

// Stop stops the event pump and uninstalls the library. Stopping a stopped host does nothing.
func (h *Host) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.workers == nil {
		return nil
	}
	h.workers.Stop()
	h.workers = nil
	return h.lib.Uninstall()
}
