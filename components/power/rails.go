// Package power sequences the Tab5 power rails, reset lines and detect inputs, all of which sit
// behind the two PI4IOE expanders.
package power

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Rail is a switchable supply or enable line.
type Rail int

// The board's rails.
const (
	ChargeQC Rail = iota
	Charge
	USB5V
	Ext5V
	ExtAntenna
	WiFiPower
	TouchpadPower
)

var railNames = map[Rail]string{
	ChargeQC:      "charge_qc",
	Charge:        "charge",
	USB5V:         "usb_5v",
	Ext5V:         "ext_5v",
	ExtAntenna:    "ext_antenna",
	WiFiPower:     "wifi_power",
	TouchpadPower: "touchpad_power",
}

func (r Rail) String() string {
	if name, ok := railNames[r]; ok {
		return name
	}
	return "unknown"
}

// Rails returns every rail in declaration order.
func Rails() []Rail {
	return []Rail{ChargeQC, Charge, USB5V, Ext5V, ExtAntenna, WiFiPower, TouchpadPower}
}

// RailNames returns the name of every rail in declaration order.
func RailNames() []string {
	return lo.Map(Rails(), func(r Rail, _ int) string { return r.String() })
}

// ParseRail returns the rail with the given name. Dashes and case are ignored.
func ParseRail(name string) (Rail, error) {
	normalized := strings.ReplaceAll(strings.ToLower(name), "-", "_")
	rail, ok := lo.FindKeyBy(railNames, func(_ Rail, n string) bool { return n == normalized })
	if !ok {
		return 0, errors.Errorf("unknown rail %q, expected one of %s", name, strings.Join(RailNames(), ", "))
	}
	return rail, nil
}

// Chip selects one of the two expanders.
type Chip int

// Expanders, by address order.
const (
	Chip1 Chip = iota
	Chip2
)

func (c Chip) String() string {
	if c == Chip1 {
		return "pi4ioe1"
	}
	return "pi4ioe2"
}

// Wiring is where a rail lives on the expanders.
type Wiring struct {
	Chip Chip
	Bit  uint
	// Inverted rails are enabled by driving the bit low.
	Inverted bool
}

var railWiring = map[Rail]Wiring{
	ChargeQC:      {Chip: Chip2, Bit: 5, Inverted: true},
	Charge:        {Chip: Chip2, Bit: 7},
	USB5V:         {Chip: Chip2, Bit: 3},
	Ext5V:         {Chip: Chip1, Bit: 2},
	ExtAntenna:    {Chip: Chip1, Bit: 0},
	WiFiPower:     {Chip: Chip2, Bit: 0},
	TouchpadPower: {Chip: Chip1, Bit: 5},
}

// WiringOf returns the expander wiring of a rail.
func WiringOf(r Rail) (Wiring, bool) {
	w, ok := railWiring[r]
	return w, ok
}

// Input and pulse lines.
const (
	headphoneDetectBit = 7 // chip 1 input
	usbCDetectBit      = 6 // chip 2 input
	poweroffBit        = 4 // chip 2 output
	lcdResetBit        = 4 // chip 1 output
	touchResetBit      = 5 // chip 1 output, shared with TouchpadPower
)
