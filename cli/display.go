package cli

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.tab5.dev/bsp/components/board/tab5"
	"go.tab5.dev/bsp/components/display"
)

// BacklightAction sets the backlight. Only the PWM is touched, the panel is left alone.
func BacklightAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return errors.New("expected a brightness percentage")
	}
	percent, err := parsePercent(c.Args().First())
	if err != nil {
		return err
	}
	b, err := openBoard(c)
	if err != nil {
		return err
	}
	// The board is not closed: closing it turns the backlight off again.
	defer func() {
		if err := b.Buses().Close(); err != nil {
			stateFrom(c).logger.Warnw("failed to close i2c buses", "error", err)
		}
	}()
	bl := b.Backlight()
	if bl == nil {
		return errors.Wrap(tab5.ErrUnavailable, "backlight")
	}
	if err := bl.SetBrightness(c.Context, percent); err != nil {
		return err
	}
	infof(c.App.Writer, "backlight at %d%%", bl.Brightness())
	return nil
}

// CameraClockAction starts the camera XCLK and leaves it running.
func CameraClockAction(c *cli.Context) error {
	return withBoard(c, func(b *tab5.Board) error {
		if err := b.StartCameraClock(c.Context); err != nil {
			return err
		}
		infof(c.App.Writer, "camera clock running at %d Hz on gpio %d", tab5.CameraClockHz, tab5.CameraClockGPIO)
		return nil
	}, func(deps *tab5.Deps) {
		if deps.CameraPWM == nil {
			deps.CameraPWM = display.NewSysfsPWM(display.DefaultPWMRoot, c.String(flagPWMChip), c.Int(flagPWMChannel))
		}
	})
}
