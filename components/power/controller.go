package power

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.tab5.dev/bsp/logging"
)

const (
	// ResetHold is how long reset lines are held and released.
	ResetHold = 100 * time.Millisecond
	// PulseInterval is the high and low time of the poweroff pulse.
	PulseInterval = 100 * time.Millisecond
	// PulseCount is the number of poweroff pulses.
	PulseCount = 3
)

// Expander is the part of an expander driver the controller needs. *pi4ioe.Chip implements it.
type Expander interface {
	Update(ctx context.Context, mask, value byte) error
	SetBit(ctx context.Context, bit uint, on bool) error
	OutputBit(ctx context.Context, bit uint) (bool, error)
	InputBit(ctx context.Context, bit uint) (bool, error)
}

// Controller runs power, reset and detect operations against the expanders. It is safe for
// concurrent use; serialization happens in the expanders.
type Controller struct {
	chips  [2]Expander
	clk    clock.Clock
	logger logging.Logger
}

// NewController returns a controller for the two expanders. A nil clock means the wall clock.
func NewController(chip1, chip2 Expander, clk clock.Clock, logger logging.Logger) *Controller {
	if clk == nil {
		clk = clock.New()
	}
	return &Controller{chips: [2]Expander{chip1, chip2}, clk: clk, logger: logger}
}

func (c *Controller) chip(id Chip) Expander {
	return c.chips[id]
}

// SetRail enables or disables a rail.
func (c *Controller) SetRail(ctx context.Context, rail Rail, enabled bool) error {
	w, ok := railWiring[rail]
	if !ok {
		return errors.Errorf("unknown rail %d", int(rail))
	}
	if err := c.chip(w.Chip).SetBit(ctx, w.Bit, enabled != w.Inverted); err != nil {
		c.logger.Errorw("failed to set rail", "rail", rail.String(), "enabled", enabled, "error", err)
		return errors.Wrapf(err, "failed to set %s", rail)
	}
	c.logger.Debugw("rail set", "rail", rail.String(), "enabled", enabled)
	return nil
}

// RailEnabled reports whether a rail is enabled, as last written to the expander.
func (c *Controller) RailEnabled(ctx context.Context, rail Rail) (bool, error) {
	w, ok := railWiring[rail]
	if !ok {
		return false, errors.Errorf("unknown rail %d", int(rail))
	}
	on, err := c.chip(w.Chip).OutputBit(ctx, w.Bit)
	if err != nil {
		return false, errors.Wrapf(err, "failed to read %s", rail)
	}
	return on != w.Inverted, nil
}

// SetChargeQC enables quick charge. The line is active low.
func (c *Controller) SetChargeQC(ctx context.Context, enabled bool) error {
	return c.SetRail(ctx, ChargeQC, enabled)
}

// SetCharge enables battery charging.
func (c *Controller) SetCharge(ctx context.Context, enabled bool) error {
	return c.SetRail(ctx, Charge, enabled)
}

// SetUSB5V enables 5V on the USB-A host port.
func (c *Controller) SetUSB5V(ctx context.Context, enabled bool) error {
	return c.SetRail(ctx, USB5V, enabled)
}

// SetExt5V enables 5V on the expansion header.
func (c *Controller) SetExt5V(ctx context.Context, enabled bool) error {
	return c.SetRail(ctx, Ext5V, enabled)
}

// SetExtAntenna switches the Wi-Fi module to the external antenna.
func (c *Controller) SetExtAntenna(ctx context.Context, enabled bool) error {
	return c.SetRail(ctx, ExtAntenna, enabled)
}

// SetWiFiPower powers the Wi-Fi module.
func (c *Controller) SetWiFiPower(ctx context.Context, enabled bool) error {
	c.logger.Infow("set wifi power", "enabled", enabled)
	return c.SetRail(ctx, WiFiPower, enabled)
}

// SetTouchpadPower drives the GT911 reset line; low holds the controller off.
func (c *Controller) SetTouchpadPower(ctx context.Context, enabled bool) error {
	c.logger.Infow("set touchpad power", "enabled", enabled)
	return c.SetRail(ctx, TouchpadPower, enabled)
}

// DetectHeadphone reports whether a headphone plug is inserted.
func (c *Controller) DetectHeadphone(ctx context.Context) (bool, error) {
	present, err := c.chip(Chip1).InputBit(ctx, headphoneDetectBit)
	if err != nil {
		return false, errors.Wrap(err, "failed to read headphone detect")
	}
	return present, nil
}

// DetectUSBC reports whether something is attached to the USB-C port.
func (c *Controller) DetectUSBC(ctx context.Context) (bool, error) {
	present, err := c.chip(Chip2).InputBit(ctx, usbCDetectBit)
	if err != nil {
		return false, errors.Wrap(err, "failed to read usb-c detect")
	}
	return present, nil
}

// ResetTouch pulls the LCD and touch reset lines low together, waits, releases them and waits
// again for the touch controller to boot.
func (c *Controller) ResetTouch(ctx context.Context) error {
	c.logger.Info("reset touch")
	const mask = 1<<lcdResetBit | 1<<touchResetBit
	chip := c.chip(Chip1)
	if err := chip.Update(ctx, mask, 0); err != nil {
		return errors.Wrap(err, "failed to assert touch reset")
	}
	if err := c.sleep(ctx, ResetHold); err != nil {
		return err
	}
	if err := chip.Update(ctx, mask, mask); err != nil {
		return errors.Wrap(err, "failed to release touch reset")
	}
	return c.sleep(ctx, ResetHold)
}

// GeneratePoweroffPulse toggles the PMIC poweroff line PulseCount times. Nothing acknowledges
// the pulse; if it works the board loses power part way through.
func (c *Controller) GeneratePoweroffPulse(ctx context.Context) error {
	c.logger.Warn("generate poweroff signal")
	chip := c.chip(Chip2)
	for i := 0; i < PulseCount; i++ {
		if err := chip.SetBit(ctx, poweroffBit, true); err != nil {
			return errors.Wrapf(err, "poweroff pulse %d", i)
		}
		if err := c.sleep(ctx, PulseInterval); err != nil {
			return err
		}
		if err := chip.SetBit(ctx, poweroffBit, false); err != nil {
			return errors.Wrapf(err, "poweroff pulse %d", i)
		}
		if err := c.sleep(ctx, PulseInterval); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	timer := c.clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
