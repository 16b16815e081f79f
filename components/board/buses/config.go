package buses

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
)

// BusID names one of the board's I2C buses.
type BusID int

// The board's buses.
const (
	// SystemBus carries the expanders, the codecs, the touch controller and the IMU.
	SystemBus BusID = iota
	// ExternalBus is the expansion header bus.
	ExternalBus
	// GroveBus is the Grove port. It is wired to the same controller as ExternalBus.
	GroveBus
)

// BusIDs lists every bus id.
var BusIDs = []BusID{SystemBus, ExternalBus, GroveBus}

func (id BusID) String() string {
	switch id {
	case SystemBus:
		return "system"
	case ExternalBus:
		return "external"
	case GroveBus:
		return "grove"
	default:
		return "bus(" + strconv.Itoa(int(id)) + ")"
	}
}

// ParseBusID converts a bus name as printed by String back to an id.
func ParseBusID(name string) (BusID, error) {
	for _, id := range BusIDs {
		if id.String() == name {
			return id, nil
		}
	}
	return 0, errors.Errorf("unknown i2c bus %q", name)
}

// DefaultTimeout bounds every transaction.
const DefaultTimeout = 50 * time.Millisecond

// DefaultSpeed is the SCL rate used when a device does not ask for one.
const DefaultSpeed = 400 * physic.KiloHertz

// Config describes how to bring up one bus.
type Config struct {
	Port           int  `json:"port"`
	SDA            int  `json:"sda"`
	SCL            int  `json:"scl"`
	InternalPullup bool `json:"internal_pullup"`
	// Device is the host bus name handed to the opener, e.g. "/dev/i2c-1". Empty means the
	// port number.
	Device  string        `json:"device,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// DeviceName returns the host bus name for the opener.
func (cfg Config) DeviceName() string {
	if cfg.Device != "" {
		return cfg.Device
	}
	return strconv.Itoa(cfg.Port)
}

func (cfg Config) String() string {
	return fmt.Sprintf("port=%d sda=%d scl=%d pullup=%t", cfg.Port, cfg.SDA, cfg.SCL, cfg.InternalPullup)
}

// DefaultConfig returns the board wiring for the bus.
func DefaultConfig(id BusID) Config {
	switch id {
	case SystemBus:
		return Config{Port: 0, SDA: 31, SCL: 32, InternalPullup: true, Timeout: DefaultTimeout}
	case ExternalBus, GroveBus:
		return Config{Port: 1, SDA: 53, SCL: 54, InternalPullup: true, Timeout: DefaultTimeout}
	default:
		return Config{}
	}
}

// DefaultConfigs returns the board wiring for every bus.
func DefaultConfigs() map[BusID]Config {
	out := make(map[BusID]Config, len(BusIDs))
	for _, id := range BusIDs {
		out[id] = DefaultConfig(id)
	}
	return out
}
