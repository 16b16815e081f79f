package pi4ioe

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"go.tab5.dev/bsp/components/board/buses"
	"go.tab5.dev/bsp/logging"
)

// Chip is one expander. Every change to the output register goes through the chip's mutex and
// its shadow copy of the register, so concurrent callers never lose each other's bits.
type Chip struct {
	name   string
	dev    buses.I2CHandle
	logger logging.Logger

	mu          sync.Mutex
	shadow      byte
	shadowValid bool
}

// New attaches an expander at addr on the bus at 400 kHz. The chip is unconfigured until Init.
func New(bus *buses.Bus, addr uint16, name string, logger logging.Logger) (*Chip, error) {
	dev, err := bus.AddDevice(addr, Speed)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to attach expander %s at 0x%02x", name, addr)
	}
	return NewFromHandle(dev, name, logger), nil
}

// NewFromHandle wraps an already attached device.
func NewFromHandle(dev buses.I2CHandle, name string, logger logging.Logger) *Chip {
	return &Chip{name: name, dev: dev, logger: logger}
}

// Name returns the chip name used in logs.
func (c *Chip) Name() string {
	return c.name
}

type regWrite struct {
	reg  byte
	val  byte
	what string
}

// Init resets the chip and writes the register image in s. The output register is written last,
// after which the shadow is valid.
func (c *Chip) Init(ctx context.Context, s Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shadowValid = false

	if err := c.dev.WriteByteData(ctx, RegChipReset, resetAll); err != nil {
		return errors.Wrapf(err, "%s: chip reset", c.name)
	}
	reset := &buses.I2CRegister{Handle: c.dev, Register: RegChipReset}
	id, err := reset.ReadByteData(ctx)
	if err != nil {
		return errors.Wrapf(err, "%s: read back chip reset", c.name)
	}
	c.logger.Debugw("expander reset", "chip", c.name, "device_id", fmt.Sprintf("0x%02x", id))

	writes := []regWrite{
		{RegIODirection, s.Direction, "io direction"},
		{RegOutputHighZ, s.HighImpedance, "output high impedance"},
		{RegPullSelect, s.PullSelect, "pull select"},
		{RegPullEnable, s.PullEnable, "pull enable"},
	}
	if s.Interrupts {
		writes = append(writes,
			regWrite{RegInputDefault, s.InputDefault, "input default state"},
			regWrite{RegInterruptMask, s.InterruptMask, "interrupt mask"},
		)
	}
	for _, w := range writes {
		if err := c.dev.WriteByteData(ctx, w.reg, w.val); err != nil {
			return errors.Wrapf(err, "%s: write %s", c.name, w.what)
		}
	}

	if err := c.dev.WriteByteData(ctx, RegOutput, s.Output); err != nil {
		return errors.Wrapf(err, "%s: write output", c.name)
	}
	c.shadow = s.Output
	c.shadowValid = true
	return nil
}

// Update sets the output bits selected by mask to the matching bits of value in one write. The
// output register is only read when the shadow is not valid. A failed transaction invalidates
// the shadow and its error is returned as is.
func (c *Chip) Update(ctx context.Context, mask, value byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updateLocked(ctx, mask, value)
}

func (c *Chip) updateLocked(ctx context.Context, mask, value byte) error {
	if !c.shadowValid {
		current, err := c.dev.ReadByteData(ctx, RegOutput)
		if err != nil {
			return err
		}
		c.shadow = current
		c.shadowValid = true
	}
	next := (c.shadow &^ mask) | (value & mask)
	if err := c.dev.WriteByteData(ctx, RegOutput, next); err != nil {
		c.shadowValid = false
		return err
	}
	c.shadow = next
	return nil
}

// SetBit drives one output bit.
func (c *Chip) SetBit(ctx context.Context, bit uint, on bool) error {
	if bit > 7 {
		return errors.Errorf("%s: bit %d out of range", c.name, bit)
	}
	mask := byte(1) << bit
	var value byte
	if on {
		value = mask
	}
	return c.Update(ctx, mask, value)
}

// Output returns the output register, from the shadow when it is valid.
func (c *Chip) Output(ctx context.Context) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shadowValid {
		return c.shadow, nil
	}
	return c.refreshLocked(ctx)
}

// OutputBit reports whether an output bit is driven high.
func (c *Chip) OutputBit(ctx context.Context, bit uint) (bool, error) {
	if bit > 7 {
		return false, errors.Errorf("%s: bit %d out of range", c.name, bit)
	}
	out, err := c.Output(ctx)
	if err != nil {
		return false, err
	}
	return out&(1<<bit) != 0, nil
}

// Refresh drops the shadow and reads the output register from the chip.
func (c *Chip) Refresh(ctx context.Context) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Chip) refreshLocked(ctx context.Context) (byte, error) {
	c.shadowValid = false
	current, err := c.dev.ReadByteData(ctx, RegOutput)
	if err != nil {
		return 0, err
	}
	c.shadow = current
	c.shadowValid = true
	return current, nil
}

// Input reads the input status register.
func (c *Chip) Input(ctx context.Context) (byte, error) {
	return c.dev.ReadByteData(ctx, RegInput)
}

// InputBit reads the input status register and returns one bit. There is no debouncing.
func (c *Chip) InputBit(ctx context.Context, bit uint) (bool, error) {
	if bit > 7 {
		return false, errors.Errorf("%s: bit %d out of range", c.name, bit)
	}
	in, err := c.Input(ctx)
	if err != nil {
		return false, err
	}
	return in&(1<<bit) != 0, nil
}

// InterruptStatus reads and thereby clears the interrupt status register.
func (c *Chip) InterruptStatus(ctx context.Context) (byte, error) {
	return c.dev.ReadByteData(ctx, RegIRQStatus)
}

// ReadRegister reads any register. Reading RegIRQStatus clears it.
func (c *Chip) ReadRegister(ctx context.Context, reg byte) (byte, error) {
	return c.dev.ReadByteData(ctx, reg)
}
