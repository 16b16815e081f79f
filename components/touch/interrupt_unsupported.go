//go:build !linux

package touch

import (
	"time"

	"github.com/pkg/errors"

	"go.tab5.dev/bsp/logging"
)

// Interrupt delivers falling edges of the controller's INT line.
type Interrupt struct{}

// WatchInterrupt is only supported on linux.
func WatchInterrupt(chipDev string, offset uint32, logger logging.Logger, fn func(at time.Time)) (*Interrupt, error) {
	return nil, errors.New("gpio interrupts are only supported on linux")
}

// Close does nothing.
func (irq *Interrupt) Close() error {
	return nil
}
