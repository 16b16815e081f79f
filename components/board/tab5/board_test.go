package tab5_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.tab5.dev/bsp/components/board/buses"
	"go.tab5.dev/bsp/components/board/pi4ioe"
	"go.tab5.dev/bsp/components/board/tab5"
	"go.tab5.dev/bsp/components/board/tab5/sim"
	"go.tab5.dev/bsp/components/display"
	displayfake "go.tab5.dev/bsp/components/display/fake"
	"go.tab5.dev/bsp/components/storage"
	"go.tab5.dev/bsp/config"
	"go.tab5.dev/bsp/logging"
)

func newBoard(t *testing.T, cfg *config.Config) (*tab5.Board, *sim.Board) {
	t.Helper()
	logger := logging.NewTestLogger(t)
	s := sim.New()
	b, err := tab5.New(context.Background(), cfg, s.Deps(nil, t.TempDir(), logger), logger)
	test.That(t, err, test.ShouldBeNil)
	return b, s
}

func TestNewAppliesBootRails(t *testing.T) {
	cfg := config.Default()
	cfg.Rails = map[string]bool{"charge": true, "usb_5v": false, "ext_5v": false}
	b, s := newBoard(t, cfg)

	test.That(t, s.System.Device(pi4ioe.Addr1).Register(pi4ioe.RegOutput), test.ShouldEqual,
		pi4ioe.Chip1Settings.Output&^(1<<2))
	test.That(t, s.System.Device(pi4ioe.Addr2).Register(pi4ioe.RegOutput), test.ShouldEqual,
		(pi4ioe.Chip2Settings.Output|1<<7)&^(1<<3))
	test.That(t, s.System.Device(pi4ioe.Addr2).Register(pi4ioe.RegInterruptMask), test.ShouldEqual,
		pi4ioe.Chip2Settings.InterruptMask)

	test.That(t, b.ID().String(), test.ShouldNotBeEmpty)
	test.That(t, b.Buses().Handle(buses.SystemBus), test.ShouldNotBeNil)
	test.That(t, b.Close(context.Background()), test.ShouldBeNil)
	test.That(t, s.System.Closed(), test.ShouldBeTrue)
}

func TestNewExpanderMissing(t *testing.T) {
	logger := logging.NewTestLogger(t)
	s := sim.New()
	nack := errors.New("nack")
	s.System.FailNext(pi4ioe.Addr2, nack)

	_, err := tab5.New(context.Background(), nil, s.Deps(nil, t.TempDir(), logger), logger)
	test.That(t, errors.Is(err, nack), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "pi4ioe2")
	test.That(t, s.System.Closed(), test.ShouldBeTrue)
}

func TestNewUnknownRail(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cfg := config.Default()
	cfg.Rails = map[string]bool{"flux_capacitor": true}
	_, err := tab5.New(context.Background(), cfg, sim.New().Deps(nil, t.TempDir(), logger), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestStartDisplay(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	brightness := 60
	cfg.Display.Brightness = &brightness
	cfg.Display.Rotation = 90
	b, s := newBoard(t, cfg)

	test.That(t, b.StartDisplay(ctx), test.ShouldBeNil)
	test.That(t, s.Panel.Calls(), test.ShouldResemble, []displayfake.Stage{
		displayfake.StageBus, displayfake.StageIO, displayfake.StagePanel,
		displayfake.StageReset, displayfake.StageInit, displayfake.StageOn,
	})
	test.That(t, s.Port.Displays(), test.ShouldHaveLength, 1)
	test.That(t, s.Port.Rotation(), test.ShouldEqual, display.Rotate90)
	test.That(t, s.Port.Touches(), test.ShouldHaveLength, 1)
	test.That(t, b.Touch(), test.ShouldNotBeNil)
	test.That(t, b.Touch().Info().ProductID, test.ShouldEqual, "911")
	test.That(t, s.Touch.Command(), test.ShouldEqual, byte(0))
	test.That(t, s.LDO.Channels[display.PHYLDOChannel], test.ShouldEqual, display.PHYLDOMillivolt)
	test.That(t, s.Backlight.FreqHz, test.ShouldEqual, uint(display.BacklightFreqHz))
	test.That(t, s.Backlight.Duties[len(s.Backlight.Duties)-1], test.ShouldEqual, display.DutyForPercent(60))

	test.That(t, b.StartDisplay(ctx), test.ShouldBeError, display.ErrAlreadyStarted)

	test.That(t, b.Close(ctx), test.ShouldBeNil)
	test.That(t, s.Backlight.Duties[len(s.Backlight.Duties)-1], test.ShouldEqual, uint32(0))
	test.That(t, s.Panel.Calls(), test.ShouldContain, displayfake.StageBusDel)
}

func TestStartAudio(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	volume := 50
	gain := 30.0
	cfg.Audio.Volume = &volume
	cfg.Audio.InGain = &gain
	b, s := newBoard(t, cfg)
	defer func() { test.That(t, b.Close(ctx), test.ShouldBeNil) }()

	c, err := b.StartAudio(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.Volume(), test.ShouldEqual, 50)
	test.That(t, s.Audio.I2SInits, test.ShouldEqual, 1)
	test.That(t, s.Audio.Devices, test.ShouldHaveLength, 2)
	test.That(t, s.Audio.Devices[1].State().Gain, test.ShouldEqual, 30.0)
}

func TestMountStorage(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	sd := storage.DefaultSDCardConfig()
	part := storage.DefaultPartitionConfig()
	cfg.SDCard, cfg.SPIFFS = &sd, &part
	b, s := newBoard(t, cfg)

	test.That(t, b.MountStorage(ctx), test.ShouldBeNil)
	src, ok := s.Mounter.Mounted(sd.MountPoint)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, src, test.ShouldEqual, sd.Device)
	_, ok = s.Mounter.Mounted(part.MountPoint)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, s.LDO.Channels[storage.Tab5Slot.LDOChannel], test.ShouldEqual, storage.Tab5Slot.LDOMillivolt)

	// Mounting again is a no-op.
	test.That(t, b.MountStorage(ctx), test.ShouldBeNil)

	test.That(t, b.Close(ctx), test.ShouldBeNil)
	_, ok = s.Mounter.Mounted(sd.MountPoint)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = s.Mounter.Mounted(part.MountPoint)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestMountStorageUsageFailure(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	part := storage.DefaultPartitionConfig()
	cfg.SPIFFS = &part
	b, s := newBoard(t, cfg)

	usageErr := errors.New("statfs failed")
	s.Mounter.FailNextUsage(usageErr)
	err := b.MountStorage(ctx)
	test.That(t, errors.Is(err, usageErr), test.ShouldBeTrue)
	_, ok := s.Mounter.Mounted(part.MountPoint)
	test.That(t, ok, test.ShouldBeTrue)

	// The partition stays mounted and is not mounted twice.
	test.That(t, b.MountStorage(ctx), test.ShouldBeNil)

	test.That(t, b.Close(ctx), test.ShouldBeNil)
	_, ok = s.Mounter.Mounted(part.MountPoint)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestCameraClock(t *testing.T) {
	ctx := context.Background()
	b, s := newBoard(t, nil)
	defer func() { test.That(t, b.Close(ctx), test.ShouldBeNil) }()

	test.That(t, b.StartCameraClock(ctx), test.ShouldBeNil)
	test.That(t, s.Camera.FreqHz, test.ShouldEqual, uint(tab5.CameraClockHz))
	test.That(t, s.Camera.Resolution, test.ShouldEqual, uint(1))
	test.That(t, s.Camera.Duties, test.ShouldResemble, []uint32{1})
}

func TestUSBHost(t *testing.T) {
	ctx := context.Background()
	b, _ := newBoard(t, nil)

	test.That(t, b.StartUSBHost(ctx), test.ShouldBeNil)
	test.That(t, b.USBHost().Running(), test.ShouldBeTrue)
	test.That(t, b.Close(ctx), test.ShouldBeNil)
	test.That(t, b.USBHost().Running(), test.ShouldBeFalse)
}

func TestUnavailable(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	s := sim.New()
	b, err := tab5.New(ctx, nil, tab5.Deps{Opener: s}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() { test.That(t, b.Close(ctx), test.ShouldBeNil) }()

	test.That(t, b.Display(), test.ShouldBeNil)
	test.That(t, errors.Is(b.StartDisplay(ctx), tab5.ErrUnavailable), test.ShouldBeTrue)
	test.That(t, errors.Is(b.MountStorage(ctx), tab5.ErrUnavailable), test.ShouldBeTrue)
	test.That(t, errors.Is(b.StartUSBHost(ctx), tab5.ErrUnavailable), test.ShouldBeTrue)
	test.That(t, errors.Is(b.StartCameraClock(ctx), tab5.ErrUnavailable), test.ShouldBeTrue)
}

func TestNewRequiresOpener(t *testing.T) {
	_, err := tab5.New(context.Background(), nil, tab5.Deps{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestApplyConfig(t *testing.T) {
	ctx := context.Background()
	b, s := newBoard(t, nil)
	defer func() { test.That(t, b.Close(ctx), test.ShouldBeNil) }()

	next := config.Default()
	next.Rails = map[string]bool{"wifi_power": false}
	brightness := 20
	next.Display.Brightness = &brightness
	next.Display.Rotation = 180

	// Before the display is started only rails apply.
	test.That(t, b.ApplyConfig(ctx, next), test.ShouldBeNil)
	test.That(t, s.System.Device(pi4ioe.Addr2).Register(pi4ioe.RegOutput)&1, test.ShouldEqual, byte(0))
	test.That(t, s.Backlight.Duties, test.ShouldBeEmpty)

	test.That(t, b.StartDisplay(ctx), test.ShouldBeNil)
	test.That(t, b.ApplyConfig(ctx, next), test.ShouldBeNil)
	test.That(t, s.Port.Rotation(), test.ShouldEqual, display.Rotate180)
	test.That(t, s.Backlight.Duties[len(s.Backlight.Duties)-1], test.ShouldEqual, display.DutyForPercent(20))
}
