package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

func runSim(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	app := NewApp(out, errOut)
	err := app.Run(append([]string{"tab5ctl", "--sim"}, args...))
	return out.String(), err
}

func TestRailList(t *testing.T) {
	out, err := runSim(t, "rail", "list")
	test.That(t, err, test.ShouldBeNil)
	for _, name := range []string{"charge_qc", "usb_5v", "wifi_power", "touchpad_power"} {
		test.That(t, out, test.ShouldContainSubstring, name)
	}
}

func TestRailSet(t *testing.T) {
	out, err := runSim(t, "rail", "set", "usb_5v", "off")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "usb_5v is off")

	_, err = runSim(t, "rail", "set", "usb_5v", "maybe")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = runSim(t, "rail", "set", "warp_drive", "on")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = runSim(t, "rail", "set")
	test.That(t, err.Error(), test.ShouldContainSubstring, "charge_qc")
}

func TestDetect(t *testing.T) {
	out, err := runSim(t, "detect")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "headphone")
	test.That(t, out, test.ShouldContainSubstring, "usb-c")
}

func TestI2CScan(t *testing.T) {
	out, err := runSim(t, "i2c", "scan")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "5 devices found")

	out, err = runSim(t, "i2c", "scan", "grove")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "0 devices found")

	_, err = runSim(t, "i2c", "scan", "nope")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBacklight(t *testing.T) {
	out, err := runSim(t, "backlight", "150%")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "backlight at 100%")

	_, err = runSim(t, "backlight", "bright")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCameraClock(t *testing.T) {
	out, err := runSim(t, "camera-clock")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "24000000 Hz")
}

func TestAudioRecordAndPlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.wav")
	out, err := runSim(t, "audio", "record", "--duration", "50ms", path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "recorded")
	info, err := os.Stat(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 44)

	out, err = runSim(t, "audio", "play", path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "played")

	_, err = runSim(t, "audio", "play", filepath.Join(t.TempDir(), "missing.wav"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestUSBList(t *testing.T) {
	root := t.TempDir()
	dev := filepath.Join(root, "1-1")
	test.That(t, os.MkdirAll(dev, 0o755), test.ShouldBeNil)
	uevent := "DEVTYPE=usb_device\nPRODUCT=1a86/7523/264\nBUSNUM=001\nDEVNUM=002\n"
	test.That(t, os.WriteFile(filepath.Join(dev, "uevent"), []byte(uevent), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dev, "product"), []byte("USB Serial\n"), 0o600), test.ShouldBeNil)

	cfgPath := filepath.Join(t.TempDir(), "tab5.json")
	cfg := `{"usb_host": {"enabled": true, "sys_path": "` + root + `"}}`
	test.That(t, os.WriteFile(cfgPath, []byte(cfg), 0o600), test.ShouldBeNil)

	out, err := runSim(t, "--config", cfgPath, "usb", "list")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "1a86:7523")
	test.That(t, out, test.ShouldContainSubstring, "USB Serial")

	out, err = runSim(t, "--config", cfgPath, "usb", "list", "--vendor", "0403")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "no usb devices attached")
}

func TestInvalidConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "tab5.json")
	test.That(t, os.WriteFile(cfgPath, []byte(`{"warp": 9}`), 0o600), test.ShouldBeNil)
	_, err := runSim(t, "--config", cfgPath, "rail", "list")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, strings.Contains(err.Error(), "warp"), test.ShouldBeTrue)
}

func TestPoweroffAborts(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	app := NewApp(out, errOut)
	app.Reader = strings.NewReader("n\n")
	err := app.Run([]string{"tab5ctl", "--sim", "poweroff"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "aborted")
}

func TestParseOnOff(t *testing.T) {
	on, err := parseOnOff("ON")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, on, test.ShouldBeTrue)
	on, err = parseOnOff("0")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, on, test.ShouldBeFalse)
	_, err = parseOnOff("half")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestStorageInfo(t *testing.T) {
	_, err := runSim(t, "storage", "info")
	test.That(t, err, test.ShouldNotBeNil)

	cfgPath := filepath.Join(t.TempDir(), "tab5.json")
	cfg := `{"sd_card": {"mount_point": "/sdcard"}, "spiffs": {"label": "storage", "mount_point": "/spiffs"}}`
	test.That(t, os.WriteFile(cfgPath, []byte(cfg), 0o600), test.ShouldBeNil)
	out, err := runSim(t, "--config", cfgPath, "storage", "info")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "/sdcard")
	test.That(t, out, test.ShouldContainSubstring, "/spiffs")
	test.That(t, out, test.ShouldContainSubstring, "8MiB")
}
