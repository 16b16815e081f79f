package cli

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.tab5.dev/bsp/components/board/buses"
	"go.tab5.dev/bsp/components/board/tab5"
	"go.tab5.dev/bsp/components/board/tab5/sim"
	"go.tab5.dev/bsp/components/display"
	"go.tab5.dev/bsp/components/storage"
	"go.tab5.dev/bsp/components/usbhost"
	"go.tab5.dev/bsp/config"
	"go.tab5.dev/bsp/logging"
)

const stateKey = "tab5ctl"

// state is what the Before hook sets up for every command.
type state struct {
	cfg     *config.Config
	logger  logging.Logger
	closers []func() error
	// sim is set when running with --sim.
	sim *sim.Board
}

func stateFrom(c *cli.Context) *state {
	s, ok := c.App.Metadata[stateKey].(*state)
	if !ok {
		// Before did not run, e.g. a command invoked directly from a test.
		s = &state{cfg: config.Default(), logger: logging.NewWriterLogger("tab5ctl", c.App.ErrWriter)}
	}
	return s
}

// BeforeAction loads the config and sets up logging.
func BeforeAction(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Read(path); err != nil {
			return err
		}
	}

	logger := logging.NewWriterLogger("tab5ctl", c.App.ErrWriter)
	s := &state{cfg: cfg, logger: logger}
	if cfg.Log.File != nil {
		fa := logging.NewFileAppender(*cfg.Log.File)
		logger.AddAppender(fa)
		s.closers = append(s.closers, fa.Close)
	}
	if err := applyLogConfig(logger, cfg.Log, c.Bool(flagDebug)); err != nil {
		return err
	}
	if c.Bool(flagSim) {
		s.sim = sim.New()
		logger.Info("running against a simulated board")
	}
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}
	c.App.Metadata[stateKey] = s
	return nil
}

// AfterAction flushes and closes the log outputs.
func AfterAction(c *cli.Context) error {
	s, ok := c.App.Metadata[stateKey].(*state)
	if !ok {
		return nil
	}
	delete(c.App.Metadata, stateKey)
	err := s.logger.Sync()
	for _, closer := range s.closers {
		err = multierr.Combine(err, closer())
	}
	return err
}

func applyLogConfig(logger logging.Logger, lc config.LogConfig, debug bool) error {
	if err := logging.UpdateLoggerLevels(lc.Patterns, logger); err != nil {
		return err
	}
	level := logging.INFO
	if lc.Level != "" {
		var err error
		if level, err = logging.LevelFromString(lc.Level); err != nil {
			return err
		}
	}
	if debug {
		level = logging.DEBUG
	}
	logger.SetLevel(level)
	return nil
}

// hostDeps are the drivers available on a Linux host. The SoC's panel, I2S and LDO drivers have
// no host equivalent, so those subsystems report unavailable.
func hostDeps(cfg *config.Config, logger logging.Logger) tab5.Deps {
	deps := tab5.Deps{
		Opener:    buses.PeriphOpener{},
		Mounter:   storage.LinuxMounter{},
		Formatter: storage.MkfsDriver{},
		USBLibrary: usbhost.NewSysfsLibrary(
			cfg.USBHost.SysPath, cfg.USBHost.PollInterval, nil, logger.Sublogger("usb")),
	}
	if cfg.Display.PWMChip != "" {
		deps.BacklightPWM = display.NewSysfsPWM(display.DefaultPWMRoot, cfg.Display.PWMChip, cfg.Display.PWMChannel)
	}
	return deps
}

// openBoard brings up the board described by the loaded config. The caller must close it.
func openBoard(c *cli.Context, opts ...func(*tab5.Deps)) (*tab5.Board, error) {
	s := stateFrom(c)
	var deps tab5.Deps
	if s.sim != nil {
		deps = s.sim.Deps(nil, s.cfg.USBHost.SysPath, s.logger.Sublogger("usb"))
	} else {
		deps = hostDeps(s.cfg, s.logger)
	}
	for _, opt := range opts {
		opt(&deps)
	}
	b, err := tab5.New(c.Context, s.cfg, deps, s.logger.Sublogger("board"))
	if err != nil {
		return nil, errors.Wrap(err, "board bring-up failed")
	}
	return b, nil
}

// withBoard runs fn on a freshly brought up board and closes it afterwards.
func withBoard(c *cli.Context, fn func(b *tab5.Board) error, opts ...func(*tab5.Deps)) (err error) {
	b, err := openBoard(c, opts...)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, b.Close(c.Context))
	}()
	return fn(b)
}
