package usbhost

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.tab5.dev/bsp/logging"
)

type scriptedLibrary struct {
	events chan EventFlags

	mu         sync.Mutex
	installs   int
	uninstalls int
	frees      int
	installErr error
}

func newScriptedLibrary() *scriptedLibrary {
	return &scriptedLibrary{events: make(chan EventFlags)}
}

func (l *scriptedLibrary) Install(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.installErr != nil {
		return l.installErr
	}
	l.installs++
	return nil
}

func (l *scriptedLibrary) Uninstall() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.uninstalls++
	return nil
}

func (l *scriptedLibrary) HandleEvents(ctx context.Context) (EventFlags, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case flags := <-l.events:
		return flags, nil
	}
}

func (l *scriptedLibrary) FreeAllDevices(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frees++
	return nil
}

func (l *scriptedLibrary) counts() (installs, uninstalls, frees int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.installs, l.uninstalls, l.frees
}

func TestStartStop(t *testing.T) {
	ctx := context.Background()
	lib := newScriptedLibrary()
	host := New(lib, logging.NewTestLogger(t))

	test.That(t, host.Stop(), test.ShouldBeNil)
	test.That(t, host.Start(ctx, PowerModeUSBDev, false), test.ShouldBeNil)
	test.That(t, host.Running(), test.ShouldBeTrue)
	err := host.Start(ctx, PowerModeUSBDev, true)
	test.That(t, errors.Is(err, ErrAlreadyStarted), test.ShouldBeTrue)

	test.That(t, host.Stop(), test.ShouldBeNil)
	test.That(t, host.Running(), test.ShouldBeFalse)
	test.That(t, host.Start(ctx, PowerModeUSBDev, false), test.ShouldBeNil)
	test.That(t, host.Stop(), test.ShouldBeNil)

	installs, uninstalls, _ := lib.counts()
	test.That(t, installs, test.ShouldEqual, 2)
	test.That(t, uninstalls, test.ShouldEqual, 2)
}

func TestStartInstallFailure(t *testing.T) {
	lib := newScriptedLibrary()
	lib.installErr = errors.New("phy busy")
	host := New(lib, logging.NewTestLogger(t))
	err := host.Start(context.Background(), PowerModeUSBDev, false)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Cause(err), test.ShouldEqual, lib.installErr)
	test.That(t, host.Running(), test.ShouldBeFalse)
}

func TestPump(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	lib := newScriptedLibrary()
	host := New(lib, logger)
	test.That(t, host.Start(context.Background(), PowerModeUSBDev, false), test.ShouldBeNil)
	defer func() { test.That(t, host.Stop(), test.ShouldBeNil) }()

	lib.events <- EventNoClients
	lib.events <- EventAllFree
	// The pump keeps running after every device was freed.
	lib.events <- EventNoClients | EventAllFree

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		_, _, frees := lib.counts()
		test.That(tb, frees, test.ShouldEqual, 2)
		test.That(tb, logs.FilterMessage("usb: all devices freed").Len(), test.ShouldEqual, 2)
	})
}

func writeSysDevice(t *testing.T, root, name, product string, dev int) {
	t.Helper()
	dir := filepath.Join(root, name)
	test.That(t, os.MkdirAll(dir, 0o755), test.ShouldBeNil)
	uevent := fmt.Sprintf("PRODUCT=%s\nBUSNUM=001\nDEVNUM=%03d\n", product, dev)
	test.That(t, os.WriteFile(filepath.Join(dir, "uevent"), []byte(uevent), 0o644), test.ShouldBeNil)
}

func handleWithClock(t *testing.T, lib *SysfsLibrary, clk *clock.Mock) EventFlags {
	t.Helper()
	type result struct {
		flags EventFlags
		err   error
	}
	done := make(chan result, 1)
	go func() {
		flags, err := lib.HandleEvents(context.Background())
		done <- result{flags, err}
	}()
	for {
		select {
		case res := <-done:
			test.That(t, res.err, test.ShouldBeNil)
			return res.flags
		default:
			clk.Add(100 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestSysfsLibrary(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	clk := clock.NewMock()
	writeSysDevice(t, root, "usb1", "1d6b/2/610", 1)
	writeSysDevice(t, root, "1-1", "46d/c52b/1211", 2)

	lib := NewSysfsLibrary(root, time.Second, clk, logging.NewTestLogger(t))
	test.That(t, lib.Install(ctx), test.ShouldBeNil)
	test.That(t, lib.Install(ctx), test.ShouldNotBeNil)
	test.That(t, lib.Devices(), test.ShouldHaveLength, 1)

	var mu sync.Mutex
	var seen []DeviceEvent
	deregister := lib.Register(func(ev DeviceEvent) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})

	writeSysDevice(t, root, "1-2", "781/5567/100", 3)
	test.That(t, os.RemoveAll(filepath.Join(root, "1-1")), test.ShouldBeNil)
	test.That(t, handleWithClock(t, lib, clk), test.ShouldEqual, EventFlags(0))

	mu.Lock()
	test.That(t, seen, test.ShouldHaveLength, 3)
	test.That(t, seen[0].Attached, test.ShouldBeTrue)
	test.That(t, seen[0].Device.SysName, test.ShouldEqual, "1-1")
	test.That(t, seen[1].Attached, test.ShouldBeTrue)
	test.That(t, seen[1].Device.SysName, test.ShouldEqual, "1-2")
	test.That(t, seen[2].Attached, test.ShouldBeFalse)
	test.That(t, seen[2].Device.SysName, test.ShouldEqual, "1-1")
	mu.Unlock()

	deregister()
	test.That(t, handleWithClock(t, lib, clk), test.ShouldEqual, EventNoClients)
	test.That(t, lib.FreeAllDevices(ctx), test.ShouldBeNil)
	test.That(t, lib.Devices(), test.ShouldBeEmpty)
	// The freed device is still plugged in and is tracked again.
	test.That(t, handleWithClock(t, lib, clk), test.ShouldEqual, EventAllFree)
	test.That(t, lib.Devices(), test.ShouldHaveLength, 1)

	test.That(t, lib.Uninstall(), test.ShouldBeNil)
	test.That(t, lib.Uninstall(), test.ShouldNotBeNil)
}

func TestSysfsLibraryWithHost(t *testing.T) {
	root := t.TempDir()
	writeSysDevice(t, root, "1-1", "46d/c52b/1211", 2)
	logger, logs := logging.NewObservedTestLogger(t)
	lib := NewSysfsLibrary(root, 5*time.Millisecond, nil, logger)
	host := New(lib, logger)
	test.That(t, host.Start(context.Background(), PowerModeUSBDev, false), test.ShouldBeNil)

	deregister := lib.Register(func(DeviceEvent) {})
	deregister()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, logs.FilterMessage("usb: all devices freed").Len(), test.ShouldBeGreaterThanOrEqualTo, 1)
	})
	// Freed devices come back on the next scan.
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, lib.Devices(), test.ShouldHaveLength, 1)
	})
	test.That(t, host.Stop(), test.ShouldBeNil)
}
