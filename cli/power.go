package cli

import (
	"bufio"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"go.tab5.dev/bsp/components/board/tab5"
	"go.tab5.dev/bsp/components/power"
)

// RailListAction prints every rail with its expander wiring and current state.
func RailListAction(c *cli.Context) error {
	return withBoard(c, func(b *tab5.Board) error {
		t := newTable(c.App.Writer, "Rail", "Expander", "Bit", "Active", "State")
		for _, rail := range power.Rails() {
			wiring, _ := power.WiringOf(rail)
			enabled, err := b.Power().RailEnabled(c.Context, rail)
			if err != nil {
				return err
			}
			active := "high"
			if wiring.Inverted {
				active = "low"
			}
			t.AppendRow([]interface{}{rail.String(), wiring.Chip.String(), wiring.Bit, active, onOff(enabled)})
		}
		t.Render()
		return nil
	})
}

// RailSetAction switches one rail.
func RailSetAction(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return errors.Errorf("expected a rail and on or off, rails are: %s", strings.Join(power.RailNames(), ", "))
	}
	rail, err := power.ParseRail(c.Args().Get(0))
	if err != nil {
		return err
	}
	enabled, err := parseOnOff(c.Args().Get(1))
	if err != nil {
		return err
	}
	return withBoard(c, func(b *tab5.Board) error {
		if err := b.Power().SetRail(c.Context, rail, enabled); err != nil {
			return err
		}
		infof(c.App.Writer, "%s is %s", rail, onOff(enabled))
		return nil
	})
}

// DetectAction reads both detect inputs. They sit on different expanders and are read
// concurrently.
func DetectAction(c *cli.Context) error {
	return withBoard(c, func(b *tab5.Board) error {
		var headphone, usbc bool
		g, ctx := errgroup.WithContext(c.Context)
		g.Go(func() error {
			var err error
			headphone, err = b.Power().DetectHeadphone(ctx)
			return errors.Wrap(err, "headphone detect")
		})
		g.Go(func() error {
			var err error
			usbc, err = b.Power().DetectUSBC(ctx)
			return errors.Wrap(err, "usb-c detect")
		})
		if err := g.Wait(); err != nil {
			return err
		}
		t := newTable(c.App.Writer, "Input", "Detected")
		t.AppendRow([]interface{}{"headphone", headphone})
		t.AppendRow([]interface{}{"usb-c", usbc})
		t.Render()
		return nil
	})
}

// PoweroffAction asks the PMIC to cut power. Without --yes it asks first.
func PoweroffAction(c *cli.Context) error {
	if !c.Bool(flagYes) {
		warningf(c.App.Writer, "this turns the board off. continue? [y/N]")
		answer, err := bufio.NewReader(c.App.Reader).ReadString('\n')
		if err != nil || !strings.EqualFold(strings.TrimSpace(answer), "y") {
			printf(c.App.Writer, "aborted")
			return nil
		}
	}
	return withBoard(c, func(b *tab5.Board) error {
		if err := b.Power().GeneratePoweroffPulse(c.Context); err != nil {
			return err
		}
		// Still here, so the PMIC ignored the pulse, e.g. while on USB power.
		warningf(c.App.Writer, "poweroff pulse sent but the board is still running")
		return nil
	})
}
