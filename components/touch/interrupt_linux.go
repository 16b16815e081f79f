//go:build linux

package touch

import (
	"context"
	"time"

	"github.com/mkch/gpio"
	"go.viam.com/utils"

	"go.tab5.dev/bsp/logging"
)

// Interrupt delivers falling edges of the controller's INT line.
type Interrupt struct {
	line    *gpio.LineWithEvent
	workers *utils.StoppableWorkers
}

// WatchInterrupt opens the INT line on the gpio chip and calls fn for every falling edge until
// the returned Interrupt is closed.
func WatchInterrupt(chipDev string, offset uint32, logger logging.Logger, fn func(at time.Time)) (*Interrupt, error) {
	chip, err := gpio.OpenChip(chipDev)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(chip.Close)

	line, err := chip.OpenLineWithEvents(offset, gpio.Input, gpio.BothEdges, "tab5-touch")
	if err != nil {
		return nil, err
	}
	irq := &Interrupt{line: line}
	irq.workers = utils.NewBackgroundStoppableWorkers(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-line.Events():
				if !ok {
					logger.Debug("touch interrupt line closed")
					return
				}
				if !event.RisingEdge {
					fn(event.Time)
				}
			}
		}
	})
	return irq, nil
}

// Close stops delivering edges and releases the line.
func (irq *Interrupt) Close() error {
	irq.workers.Stop()
	return irq.line.Close()
}
