package display

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// PWM is a hardware PWM channel with a fixed duty resolution.
type PWM interface {
	Configure(ctx context.Context, freqHz, resolutionBits uint) error
	SetDuty(ctx context.Context, duty uint32) error
}

// DefaultPWMRoot is where the kernel exposes PWM chips.
const DefaultPWMRoot = "/sys/class/pwm"

// SysfsPWM is a PWM channel driven through sysfs.
type SysfsPWM struct {
	// These values are immutable.
	chipPath string
	line     int
	linePath string

	mu sync.Mutex

	periodNs   uint64
	activeNs   uint64
	resolution uint
	exported   bool
	enabled    bool
}

var _ PWM = (*SysfsPWM)(nil)

// NewSysfsPWM returns the channel line of the chip under root, e.g. pwmchip0 under
// DefaultPWMRoot.
func NewSysfsPWM(root, chip string, line int) *SysfsPWM {
	chipPath := filepath.Join(root, chip)
	return &SysfsPWM{
		chipPath: chipPath,
		line:     line,
		linePath: filepath.Join(chipPath, fmt.Sprintf("pwm%d", line)),
	}
}

func writeValue(path string, value uint64) error {
	// The file always exists; sysfs ignores the mode.
	return os.WriteFile(path, []byte(fmt.Sprintf("%d", value)), 0o660)
}

func (pwm *SysfsPWM) lineFile(name string) string {
	return filepath.Join(pwm.linePath, name)
}

func (pwm *SysfsPWM) export() error {
	if pwm.exported {
		return nil
	}
	if _, err := os.Stat(pwm.linePath); err == nil {
		// Exported by someone else before us.
		pwm.exported = true
		return nil
	}
	if err := writeValue(filepath.Join(pwm.chipPath, "export"), uint64(pwm.line)); err != nil {
		return errors.Wrapf(err, "failed to export pwm %s", pwm.linePath)
	}
	pwm.exported = true
	return nil
}

func (pwm *SysfsPWM) setEnabled(enabled bool) error {
	if pwm.enabled == enabled {
		return nil
	}
	var value uint64
	if enabled {
		value = 1
	}
	if err := writeValue(pwm.lineFile("enable"), value); err != nil {
		return err
	}
	pwm.enabled = enabled
	return nil
}

// setTiming writes period and active duration in an order that never leaves the active
// duration longer than the period, which the kernel rejects.
func (pwm *SysfsPWM) setTiming(periodNs, activeNs uint64) error {
	writePeriod := func() error {
		if err := writeValue(pwm.lineFile("period"), periodNs); err != nil {
			return err
		}
		pwm.periodNs = periodNs
		return nil
	}
	writeActive := func() error {
		if err := writeValue(pwm.lineFile("duty_cycle"), activeNs); err != nil {
			return err
		}
		pwm.activeNs = activeNs
		return nil
	}
	if periodNs < pwm.activeNs {
		if err := writeActive(); err != nil {
			return err
		}
		return writePeriod()
	}
	if err := writePeriod(); err != nil {
		return err
	}
	return writeActive()
}

// Configure sets the frequency and duty resolution and starts the channel at zero duty.
func (pwm *SysfsPWM) Configure(ctx context.Context, freqHz, resolutionBits uint) error {
	if freqHz == 0 {
		return errors.New("pwm frequency must be positive")
	}
	if resolutionBits == 0 || resolutionBits > 20 {
		return errors.Errorf("unsupported pwm resolution %d bits", resolutionBits)
	}
	pwm.mu.Lock()
	defer pwm.mu.Unlock()

	if err := pwm.export(); err != nil {
		return err
	}
	if err := pwm.setEnabled(false); err != nil {
		return err
	}
	if err := pwm.setTiming(uint64(1e9)/uint64(freqHz), 0); err != nil {
		return err
	}
	pwm.resolution = resolutionBits
	return pwm.setEnabled(true)
}

// SetDuty sets the duty in units of the configured resolution.
func (pwm *SysfsPWM) SetDuty(ctx context.Context, duty uint32) error {
	pwm.mu.Lock()
	defer pwm.mu.Unlock()
	if pwm.resolution == 0 {
		return errors.New("pwm not configured")
	}
	full := uint64(1)<<pwm.resolution - 1
	if uint64(duty) > full {
		duty = uint32(full)
	}
	return pwm.setTiming(pwm.periodNs, pwm.periodNs*uint64(duty)/full)
}

// Close disables and unexports the channel.
func (pwm *SysfsPWM) Close() error {
	pwm.mu.Lock()
	defer pwm.mu.Unlock()
	if !pwm.exported {
		return nil
	}
	err := pwm.setEnabled(false)
	pwm.exported = false
	return multierr.Combine(err, writeValue(filepath.Join(pwm.chipPath, "unexport"), uint64(pwm.line)))
}
