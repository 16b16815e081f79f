package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"

	"go.tab5.dev/bsp/components/board/buses"
	"go.tab5.dev/bsp/components/power"
	"go.tab5.dev/bsp/logging"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Validate(""), test.ShouldBeNil)
	test.That(t, cfg.Buses(), test.ShouldResemble, buses.DefaultConfigs())
	rails, err := cfg.BootRails()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rails, test.ShouldBeEmpty)
	test.That(t, cfg.SDCard, test.ShouldBeNil)
	test.That(t, cfg.Touch.Addr, test.ShouldEqual, uint16(0x14))
}

const fullConfig = `{
	"i2c_buses": {
		"system": {"timeout": "20ms"},
		"grove": {"port": 1, "sda": 53, "scl": 54, "device": "/dev/i2c-3"}
	},
	"rails": {"wifi_power": true, "ext-5v": true, "charge_qc": false},
	"sd_card": {"mount_point": "/media/sd", "max_files": 8},
	"display": {"enabled": true, "panel": "st7703", "brightness": 60, "rotation": 90},
	"audio": {"enabled": true, "volume": 55},
	"usb_host": {"enabled": true, "poll_interval": "250ms"},
	"log": {
		"level": "debug",
		"patterns": [{"pattern": "tab5.power", "level": "warn"}],
		"file": {"path": "/var/log/tab5.log", "max_backups": 3}
	}
}`

func TestFromReader(t *testing.T) {
	cfg, err := FromReader(strings.NewReader(fullConfig))
	test.That(t, err, test.ShouldBeNil)

	busCfgs := cfg.Buses()
	test.That(t, busCfgs[buses.SystemBus].Timeout, test.ShouldEqual, 20*time.Millisecond)
	test.That(t, busCfgs[buses.SystemBus].SDA, test.ShouldEqual, 31)
	test.That(t, busCfgs[buses.SystemBus].InternalPullup, test.ShouldBeTrue)
	test.That(t, busCfgs[buses.GroveBus].Device, test.ShouldEqual, "/dev/i2c-3")
	test.That(t, busCfgs[buses.ExternalBus], test.ShouldResemble, buses.DefaultConfig(buses.ExternalBus))

	rails, err := cfg.BootRails()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rails, test.ShouldResemble, []RailSetting{
		{Rail: power.ChargeQC, Enabled: false},
		{Rail: power.Ext5V, Enabled: true},
		{Rail: power.WiFiPower, Enabled: true},
	})

	test.That(t, cfg.SDCard.MountPoint, test.ShouldEqual, "/media/sd")
	test.That(t, cfg.SDCard.MaxFiles, test.ShouldEqual, 8)
	test.That(t, cfg.SDCard.FSType, test.ShouldEqual, "vfat")
	test.That(t, cfg.SPIFFS, test.ShouldBeNil)

	test.That(t, cfg.Display.Panel, test.ShouldEqual, "st7703")
	test.That(t, *cfg.Display.Brightness, test.ShouldEqual, 60)
	test.That(t, cfg.Display.Rotation, test.ShouldEqual, 90)
	test.That(t, cfg.Display.PWMChip, test.ShouldEqual, "pwmchip0")
	test.That(t, *cfg.Audio.Volume, test.ShouldEqual, 55)
	test.That(t, cfg.USBHost.PollInterval, test.ShouldEqual, 250*time.Millisecond)
	test.That(t, cfg.USBHost.SysPath, test.ShouldEqual, "/sys/bus/usb/devices")
	test.That(t, cfg.Log.Patterns, test.ShouldResemble, []logging.LoggerPatternConfig{{Pattern: "tab5.power", Level: "warn"}})
	test.That(t, cfg.Log.File.MaxBackups, test.ShouldEqual, 3)
}

func TestUnknownKeys(t *testing.T) {
	_, err := FromReader(strings.NewReader(`{"dispaly": {}, "display": {"colour": "red"}}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "dispaly")
	test.That(t, err.Error(), test.ShouldContainSubstring, "display.colour")

	_, err = FromReader(strings.NewReader(`{"i2c_buses": {"system": {"speed": 100}}}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "i2c_buses.system.speed")

	_, err = FromReader(strings.NewReader(`not json`))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		json   string
		expect string
	}{
		{"bus name", `{"i2c_buses": {"spi": {}}}`, "i2c_buses.spi"},
		{"bus pins", `{"i2c_buses": {"external": {"sda": -1}}}`, "pins"},
		{"rail", `{"rails": {"lasers": true}}`, "lasers"},
		{"sd mount point", `{"sd_card": {"mount_point": ""}}`, "mount_point"},
		{"spiffs label", `{"spiffs": {"label": ""}}`, "label"},
		{"panel", `{"display": {"panel": "hx8394"}}`, "hx8394"},
		{"rotation", `{"display": {"rotation": 45}}`, "rotation"},
		{"brightness", `{"display": {"brightness": 101}}`, "brightness"},
		{"volume", `{"audio": {"volume": 150}}`, "volume"},
		{"poll interval", `{"usb_host": {"poll_interval": "-1s"}}`, "poll_interval"},
		{"log level", `{"log": {"level": "loud"}}`, "loud"},
		{"log pattern", `{"log": {"patterns": [{"pattern": "a..b", "level": "info"}]}}`, "log.patterns.0"},
		{"log file", `{"log": {"file": {"max_backups": 1}}}`, "path"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromReader(strings.NewReader(tc.json))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.expect)
		})
	}
}

func TestReadExpandsEnvironment(t *testing.T) {
	t.Setenv("TAB5_SD_MOUNT", "/media/card")
	path := filepath.Join(t.TempDir(), "tab5.json")
	test.That(t, os.WriteFile(path, []byte(`{"sd_card": {"mount_point": "${TAB5_SD_MOUNT}"}}`), 0o600), test.ShouldBeNil)

	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.SDCard.MountPoint, test.ShouldEqual, "/media/card")
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, path)

	_, err = Read(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tab5.json")
	test.That(t, os.WriteFile(path, []byte(`{}`), 0o600), test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan *Config, 10)
	done := make(chan error, 1)
	ready := make(chan struct{})
	go func() {
		close(ready)
		done <- Watch(ctx, path, logging.NewTestLogger(t), func(cfg *Config) { changes <- cfg })
	}()
	<-ready

	// Keep rewriting until the watcher is installed and sees a change.
	var cfg *Config
	for cfg == nil {
		test.That(t, os.WriteFile(path, []byte(`{"display": {"brightness": 30}}`), 0o600), test.ShouldBeNil)
		select {
		case cfg = <-changes:
		case <-time.After(3 * WatchDebounce):
		}
	}
	test.That(t, *cfg.Display.Brightness, test.ShouldEqual, 30)

	// Other files in the directory and invalid configs are ignored.
	test.That(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(path, []byte(`{"display": {"brightness": 300}}`), 0o600), test.ShouldBeNil)
	time.Sleep(3 * WatchDebounce)
	test.That(t, os.WriteFile(path, []byte(`{"display": {"brightness": 70}}`), 0o600), test.ShouldBeNil)
	for {
		select {
		case cfg = <-changes:
		case <-time.After(5 * time.Second):
			t.Fatal("no config change seen")
		}
		// Drain repeats of the earlier write.
		if *cfg.Display.Brightness == 70 {
			break
		}
		test.That(t, *cfg.Display.Brightness, test.ShouldEqual, 30)
	}

	cancel()
	test.That(t, <-done, test.ShouldBeNil)
}
