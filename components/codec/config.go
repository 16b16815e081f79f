// Package codec brings up the Tab5 audio path: one duplex I2S port feeding an ES8388 speaker
// codec and an ES7210 four-microphone ADC, both controlled over the system I2C bus.
package codec

// I2S pins.
const (
	PinMCLK = 30
	PinBCLK = 27
	PinWS   = 29
	PinDOUT = 26
	PinDIN  = 28
)

// Codec addresses on the system bus.
const (
	ES8388Addr uint16 = 0x10
	ES7210Addr uint16 = 0x40
)

// Pins is the I2S pin assignment.
type Pins struct {
	MCLK, BCLK, WS, DOUT, DIN int
}

// DefaultPins returns the board I2S wiring.
func DefaultPins() Pins {
	return Pins{MCLK: PinMCLK, BCLK: PinBCLK, WS: PinWS, DOUT: PinDOUT, DIN: PinDIN}
}

// SlotMode is the number of channels per frame in standard mode.
type SlotMode int

// Slot modes.
const (
	Mono   SlotMode = 1
	Stereo SlotMode = 2
)

// StdConfig is a standard (Philips) mode I2S configuration, used for playback.
type StdConfig struct {
	SampleRate    int      `json:"sample_rate"`
	BitsPerSample int      `json:"bits_per_sample"`
	SlotMode      SlotMode `json:"slot_mode"`
	Pins          Pins     `json:"-"`
}

// DefaultStdConfig is duplex mono 16-bit at 48 kHz.
func DefaultStdConfig() StdConfig {
	return StdConfig{SampleRate: 48000, BitsPerSample: 16, SlotMode: Mono, Pins: DefaultPins()}
}

// TDMConfig is a TDM mode I2S configuration, used for capture from the microphone array.
type TDMConfig struct {
	SampleRate    int
	BitsPerSample int
	MCLKMultiple  int
	BCLKDiv       int
	// SlotMask selects the active TDM slots, bit n for slot n.
	SlotMask uint16
	Pins     Pins
}

// DefaultTDMConfig is 16-bit at 48 kHz with slots 0 to 3, MCLK at 256 fs and BCLK divider 8.
func DefaultTDMConfig() TDMConfig {
	return TDMConfig{
		SampleRate:    48000,
		BitsPerSample: 16,
		MCLKMultiple:  256,
		BCLKDiv:       8,
		SlotMask:      0x0F,
		Pins:          DefaultPins(),
	}
}

// Kind is a codec chip.
type Kind int

// Supported chips.
const (
	ES8388 Kind = iota
	ES7210
)

func (k Kind) String() string {
	if k == ES8388 {
		return "es8388"
	}
	return "es7210"
}

// Direction is whether a device plays or records.
type Direction int

// Directions.
const (
	Output Direction = iota
	Input
)

// Microphone selection bits for the ES7210.
const (
	Mic1 uint8 = 1 << iota
	Mic2
	Mic3
	Mic4
)

// DeviceSpec describes a codec device to create.
type DeviceSpec struct {
	Kind      Kind
	Direction Direction
	Addr      uint16
	// Output gain chain, ES8388 only.
	PAVoltage  float64
	DACVoltage float64
	// MicMask selects ES7210 inputs.
	MicMask uint8
}

// SpeakerSpec is the ES8388 in DAC mode driving the speaker amplifier, which is switched by the
// expander rather than a GPIO.
var SpeakerSpec = DeviceSpec{
	Kind:       ES8388,
	Direction:  Output,
	Addr:       ES8388Addr,
	PAVoltage:  5.0,
	DACVoltage: 3.3,
}

// MicrophoneSpec is the ES7210 with all four microphones selected.
var MicrophoneSpec = DeviceSpec{
	Kind:      ES7210,
	Direction: Input,
	Addr:      ES7210Addr,
	MicMask:   Mic1 | Mic2 | Mic3 | Mic4,
}

// SampleInfo is the PCM format a device is opened with.
type SampleInfo struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
}

// BytesPerFrame returns the size of one frame.
func (si SampleInfo) BytesPerFrame() int {
	return si.Channels * si.BitsPerSample / 8
}

// Formats opened by Audio.Codec.
var (
	RecordFormat   = SampleInfo{SampleRate: 48000, BitsPerSample: 16, Channels: 4}
	PlaybackFormat = SampleInfo{SampleRate: 48000, BitsPerSample: 16, Channels: 2}
)

// DefaultVolume is set when the codec is brought up.
const DefaultVolume = 80

// Config is the audio section of the board config.
type Config struct {
	Enabled bool       `json:"enabled"`
	I2S     *StdConfig `json:"i2s,omitempty"`
	Volume  *int       `json:"volume,omitempty"`
	InGain  *float64   `json:"in_gain,omitempty"`
}
