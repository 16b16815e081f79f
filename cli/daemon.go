package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.viam.com/utils"

	"go.tab5.dev/bsp/components/board/tab5"
	"go.tab5.dev/bsp/components/touch"
	"go.tab5.dev/bsp/config"
	"go.tab5.dev/bsp/logging"
)

const touchPollInterval = 20 * time.Millisecond

// DaemonAction brings up every subsystem the config enables and keeps the board running until
// interrupted. Changes to the config file are applied as they happen.
func DaemonAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	s := stateFrom(c)
	logger := s.logger

	return withBoard(c, func(b *tab5.Board) error {
		logger.Infow("board up", "board_id", b.ID().String())
		if err := startSubsystems(ctx, b, s.cfg, logger); err != nil {
			return err
		}

		if tp := b.Touch(); tp != nil {
			stopTouch, err := reportTouches(ctx, tp, s.cfg.Touch, c.String(flagTouchGPIOChip), logger.Sublogger("touch"))
			if err != nil {
				return err
			}
			defer stopTouch()
		}

		path := s.cfg.ConfigFilePath
		if path == "" {
			<-ctx.Done()
			return nil
		}
		debug := c.Bool(flagDebug)
		return config.Watch(ctx, path, logger, func(next *config.Config) {
			if err := applyLogConfig(logger, next.Log, debug); err != nil {
				logger.Warnw("failed to apply log config", "error", err)
			}
			if err := b.ApplyConfig(ctx, next); err != nil {
				logger.Errorw("failed to apply config", "error", err)
			}
		})
	})
}

// startSubsystems starts what the config enables. A subsystem the host cannot drive is logged
// and skipped.
func startSubsystems(ctx context.Context, b *tab5.Board, cfg *config.Config, logger logging.Logger) error {
	skip := func(name string, err error) error {
		if errors.Is(err, tab5.ErrUnavailable) {
			logger.Warnw("subsystem not available, skipping", "subsystem", name)
			return nil
		}
		return errors.Wrapf(err, "failed to start %s", name)
	}
	if cfg.SDCard != nil || cfg.SPIFFS != nil {
		if err := b.MountStorage(ctx); err != nil {
			if err := skip("storage", err); err != nil {
				return err
			}
		}
	}
	if cfg.Display.Enabled {
		if err := b.StartDisplay(ctx); err != nil {
			if err := skip("display", err); err != nil {
				return err
			}
		}
	}
	if cfg.Audio.Enabled {
		if _, err := b.StartAudio(ctx); err != nil {
			logger.Warnw("audio not started", "error", err)
		}
	}
	if cfg.USBHost.Enabled {
		if err := b.StartUSBHost(ctx); err != nil {
			if err := skip("usb host", err); err != nil {
				return err
			}
		}
	}
	return nil
}

// reportTouches logs touches at debug level, on INT edges when a gpio chip is given and by
// polling otherwise.
func reportTouches(
	ctx context.Context, tp *touch.GT911, cfg touch.Config, gpioChip string, logger logging.Logger,
) (func(), error) {
	read := func() {
		points, err := tp.ReadPoints(ctx)
		if err != nil {
			logger.Debugw("failed to read touch points", "error", err)
			return
		}
		if len(points) > 0 {
			logger.Debugw("touch", "points", points)
		}
	}
	if gpioChip != "" {
		line := cfg.InterruptGPIO
		if line == 0 {
			line = touch.InterruptGPIO
		}
		irq, err := touch.WatchInterrupt(gpioChip, uint32(line), logger, func(time.Time) { read() })
		if err != nil {
			return nil, errors.Wrap(err, "failed to watch touch interrupt")
		}
		return func() { utils.UncheckedError(irq.Close()) }, nil
	}
	workers := utils.NewBackgroundStoppableWorkers(func(ctx context.Context) {
		for utils.SelectContextOrWait(ctx, touchPollInterval) {
			read()
		}
	})
	return workers.Stop, nil
}
