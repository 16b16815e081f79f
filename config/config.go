// Package config defines the board configuration file.
package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.tab5.dev/bsp/components/board/buses"
	"go.tab5.dev/bsp/components/codec"
	"go.tab5.dev/bsp/components/display"
	"go.tab5.dev/bsp/components/power"
	"go.tab5.dev/bsp/components/storage"
	"go.tab5.dev/bsp/components/touch"
	"go.tab5.dev/bsp/logging"
)

// Config is the whole board configuration.
type Config struct {
	// I2CBuses overrides the wiring of the named buses: system, external or grove.
	I2CBuses map[string]buses.Config `json:"i2c_buses,omitempty"`
	// Rails are switched to the given state at bring-up, by rail name.
	Rails   map[string]bool          `json:"rails,omitempty"`
	SDCard  *storage.SDCardConfig    `json:"sd_card,omitempty"`
	SPIFFS  *storage.PartitionConfig `json:"spiffs,omitempty"`
	Display DisplayConfig            `json:"display"`
	Touch   touch.Config             `json:"touch"`
	Audio   codec.Config             `json:"audio"`
	USBHost USBHostConfig            `json:"usb_host"`
	Log     LogConfig                `json:"log"`

	ConfigFilePath string `json:"-"`
}

// DisplayConfig is the panel and backlight section.
type DisplayConfig struct {
	Enabled bool `json:"enabled"`
	// Panel is the controller name, ili9881c or st7703.
	Panel      string `json:"panel,omitempty"`
	Brightness *int   `json:"brightness,omitempty"`
	Rotation   int    `json:"rotation,omitempty"`
	PWMChip    string `json:"pwm_chip,omitempty"`
	PWMChannel int    `json:"pwm_channel,omitempty"`
}

// USBHostConfig is the USB-A host port section.
type USBHostConfig struct {
	Enabled      bool          `json:"enabled"`
	Limit500mA   bool          `json:"limit_500ma,omitempty"`
	SysPath      string        `json:"sys_path,omitempty"`
	PollInterval time.Duration `json:"poll_interval,omitempty"`
}

// LogConfig is the logging section.
type LogConfig struct {
	Level    string                        `json:"level,omitempty"`
	Patterns []logging.LoggerPatternConfig `json:"patterns,omitempty"`
	File     *logging.FileAppenderConfig   `json:"file,omitempty"`
}

// Default is the board as shipped: every bus at its default wiring, audio and display on, the
// USB host off and nothing mounted.
func Default() *Config {
	cfg := &Config{
		I2CBuses: map[string]buses.Config{},
		Display: DisplayConfig{
			Enabled:    true,
			Panel:      display.ILI9881C.String(),
			PWMChip:    "pwmchip0",
			PWMChannel: 0,
		},
		Touch:   touch.DefaultConfig(),
		Audio:   codec.Config{Enabled: true},
		USBHost: USBHostConfig{SysPath: "/sys/bus/usb/devices"},
		Log:     LogConfig{Level: "info"},
	}
	for id, busCfg := range buses.DefaultConfigs() {
		cfg.I2CBuses[id.String()] = busCfg
	}
	return cfg
}

// Validate checks every section. path is prefixed to field paths in errors.
func (cfg *Config) Validate(path string) error {
	for name, busCfg := range cfg.I2CBuses {
		busPath := fmt.Sprintf("%si2c_buses.%s", path, name)
		if _, err := buses.ParseBusID(name); err != nil {
			return utils.NewConfigValidationError(busPath, err)
		}
		if busCfg.SDA < 0 || busCfg.SCL < 0 {
			return utils.NewConfigValidationError(busPath, errors.New("pins must not be negative"))
		}
		if busCfg.Timeout < 0 {
			return utils.NewConfigValidationError(busPath, errors.New("timeout must not be negative"))
		}
	}
	for name := range cfg.Rails {
		if _, err := power.ParseRail(name); err != nil {
			return utils.NewConfigValidationError(path+"rails", err)
		}
	}
	if cfg.SDCard != nil && cfg.SDCard.MountPoint == "" {
		return utils.NewConfigValidationFieldRequiredError(path+"sd_card", "mount_point")
	}
	if cfg.SPIFFS != nil {
		if cfg.SPIFFS.Label == "" {
			return utils.NewConfigValidationFieldRequiredError(path+"spiffs", "label")
		}
		if cfg.SPIFFS.MountPoint == "" {
			return utils.NewConfigValidationFieldRequiredError(path+"spiffs", "mount_point")
		}
	}
	if err := cfg.Display.Validate(path + "display"); err != nil {
		return err
	}
	if v := cfg.Audio.Volume; v != nil && (*v < 0 || *v > 100) {
		return utils.NewConfigValidationError(path+"audio", errors.Errorf("volume must be 0 to 100, got %d", *v))
	}
	if cfg.USBHost.PollInterval < 0 {
		return utils.NewConfigValidationError(path+"usb_host", errors.New("poll_interval must not be negative"))
	}
	return cfg.Log.Validate(path + "log")
}

// Validate checks the display section.
func (dc DisplayConfig) Validate(path string) error {
	if _, err := display.PanelByName(dc.Panel); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if _, err := display.RotationFromDegrees(dc.Rotation); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if b := dc.Brightness; b != nil && (*b < 0 || *b > 100) {
		return utils.NewConfigValidationError(path, errors.Errorf("brightness must be 0 to 100, got %d", *b))
	}
	return nil
}

// Validate checks the log section.
func (lc LogConfig) Validate(path string) error {
	if lc.Level != "" {
		if _, err := logging.LevelFromString(lc.Level); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	for i, pattern := range lc.Patterns {
		if err := pattern.Validate(); err != nil {
			return utils.NewConfigValidationError(fmt.Sprintf("%s.patterns.%d", path, i), err)
		}
	}
	if lc.File != nil && lc.File.Path == "" {
		return utils.NewConfigValidationFieldRequiredError(path+".file", "path")
	}
	return nil
}

// Buses returns the bus overrides keyed by id. The config must be valid.
func (cfg *Config) Buses() map[buses.BusID]buses.Config {
	out := make(map[buses.BusID]buses.Config, len(cfg.I2CBuses))
	for name, busCfg := range cfg.I2CBuses {
		id, err := buses.ParseBusID(name)
		if err != nil {
			continue
		}
		out[id] = busCfg
	}
	return out
}

// RailSetting is one boot-time rail state.
type RailSetting struct {
	Rail    power.Rail
	Enabled bool
}

// BootRails returns the configured rail states in rail order.
func (cfg *Config) BootRails() ([]RailSetting, error) {
	out := make([]RailSetting, 0, len(cfg.Rails))
	for name, enabled := range cfg.Rails {
		rail, err := power.ParseRail(name)
		if err != nil {
			return nil, err
		}
		out = append(out, RailSetting{Rail: rail, Enabled: enabled})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rail < out[j].Rail })
	return out, nil
}
