package buses

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var (
	hostInitOnce sync.Once
	errHostInit  error
)

// PeriphOpener opens buses through periph's host drivers, e.g. /dev/i2c-N on Linux.
type PeriphOpener struct{}

// Open implements Opener.
func (PeriphOpener) Open(ctx context.Context, cfg Config) (i2c.BusCloser, error) {
	hostInitOnce.Do(func() {
		_, errHostInit = host.Init()
	})
	if errHostInit != nil {
		return nil, errors.Wrap(errHostInit, "failed to initialize periph host drivers")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(cfg.DeviceName())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open i2c bus %q", cfg.DeviceName())
	}
	return bus, nil
}
