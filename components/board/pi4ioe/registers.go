// Package pi4ioe drives the PI4IOE5V6408 8-bit I2C GPIO expanders that gate the Tab5 power rails
// and reset lines.
package pi4ioe

import "periph.io/x/conn/v3/physic"

// Register map.
const (
	RegChipReset     byte = 0x01
	RegIODirection   byte = 0x03
	RegOutput        byte = 0x05
	RegOutputHighZ   byte = 0x07
	RegInputDefault  byte = 0x09
	RegPullEnable    byte = 0x0B
	RegPullSelect    byte = 0x0D
	RegInput         byte = 0x0F
	RegInterruptMask byte = 0x11
	RegIRQStatus     byte = 0x13
)

// Addresses of the two expanders on the system bus.
const (
	Addr1 uint16 = 0x43
	Addr2 uint16 = 0x44
)

// Speed is the SCL rate the expanders are attached at.
const Speed = 400 * physic.KiloHertz

// resetAll is written to CHIP_RESET to reset every register to its power-on default.
const resetAll byte = 0xFF

// Settings is the register image written by Init. A set bit in Direction makes the pin an
// output. A set bit in InterruptMask disables the pin's interrupt.
type Settings struct {
	Direction     byte
	HighImpedance byte
	PullSelect    byte
	PullEnable    byte
	// Interrupts enables writing InputDefault and InterruptMask.
	Interrupts    bool
	InputDefault  byte
	InterruptMask byte
	Output        byte
}

// Board wiring.
var (
	// Chip1Settings: P1 speaker enable, P2 external 5V, P4 LCD reset, P5 touch reset and P6
	// camera reset drive high. P7 is the headphone detect input.
	Chip1Settings = Settings{
		Direction:     0x7F,
		HighImpedance: 0x00,
		PullSelect:    0x7F,
		PullEnable:    0x7F,
		Output:        0x76,
	}
	// Chip2Settings: P0 Wi-Fi power and P3 USB 5V drive high, charging starts disabled. P6 is the
	// USB-C detect input with its interrupt enabled.
	Chip2Settings = Settings{
		Direction:     0xB9,
		HighImpedance: 0x06,
		PullSelect:    0xB9,
		PullEnable:    0xF9,
		Interrupts:    true,
		InputDefault:  0x40,
		InterruptMask: 0xBF,
		Output:        0x09,
	}
)
