package cli

import (
	"github.com/urfave/cli/v2"

	"go.tab5.dev/bsp/components/board/buses"
	"go.tab5.dev/bsp/components/board/tab5"
)

// I2CScanAction prints an i2cdetect style grid of a bus. The system bus is the default.
func I2CScanAction(c *cli.Context) error {
	id := buses.SystemBus
	if name := c.Args().First(); name != "" {
		var err error
		if id, err = buses.ParseBusID(name); err != nil {
			return err
		}
	}
	return withBoard(c, func(b *tab5.Board) error {
		bus, err := b.Buses().Init(c.Context, id)
		if err != nil {
			return err
		}
		res, err := bus.Scan(c.Context)
		if err != nil {
			return err
		}
		printf(c.App.Writer, "%s bus:", id)
		printf(c.App.Writer, "%s", res.String())
		infof(c.App.Writer, "%d devices found", len(res.Present()))
		return nil
	})
}
