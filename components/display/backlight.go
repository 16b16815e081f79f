package display

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.tab5.dev/bsp/logging"
)

// Backlight wiring: LEDC-style PWM on GPIO 22 at 5 kHz with 12-bit duty.
const (
	BacklightGPIO      = 22
	BacklightFreqHz    = 5000
	BacklightDutyBits  = 12
	backlightFullScale = 1<<BacklightDutyBits - 1
)

// DutyForPercent converts a brightness in percent to a 12-bit duty, clamping to 0..100.
func DutyForPercent(percent int) uint32 {
	percent = clampPercent(percent)
	return uint32(backlightFullScale * percent / 100)
}

func clampPercent(percent int) int {
	if percent > 100 {
		return 100
	}
	if percent < 0 {
		return 0
	}
	return percent
}

// Backlight is the panel backlight.
type Backlight struct {
	pwm    PWM
	logger logging.Logger

	mu          sync.Mutex
	initialized bool
	percent     int
}

// NewBacklight returns the backlight on the PWM channel. It starts off.
func NewBacklight(pwm PWM, logger logging.Logger) *Backlight {
	return &Backlight{pwm: pwm, logger: logger}
}

// Init configures the PWM channel. Calling it again is a no-op.
func (b *Backlight) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initLocked(ctx)
}

func (b *Backlight) initLocked(ctx context.Context) error {
	if b.initialized {
		return nil
	}
	if err := b.pwm.Configure(ctx, BacklightFreqHz, BacklightDutyBits); err != nil {
		return errors.Wrap(err, "brightness init failed")
	}
	b.initialized = true
	return nil
}

// SetBrightness sets the brightness in percent, clamped to 0..100.
func (b *Backlight) SetBrightness(ctx context.Context, percent int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.initLocked(ctx); err != nil {
		return err
	}
	percent = clampPercent(percent)
	b.logger.Infof("setting lcd backlight: %d%%", percent)
	if err := b.pwm.SetDuty(ctx, DutyForPercent(percent)); err != nil {
		return err
	}
	b.percent = percent
	return nil
}

// Brightness returns the last brightness set.
func (b *Backlight) Brightness() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.percent
}

// On sets full brightness.
func (b *Backlight) On(ctx context.Context) error {
	return b.SetBrightness(ctx, 100)
}

// Off turns the backlight off.
func (b *Backlight) Off(ctx context.Context) error {
	return b.SetBrightness(ctx, 0)
}
