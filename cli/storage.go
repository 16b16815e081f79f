package cli

import (
	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.tab5.dev/bsp/components/board/tab5"
	"go.tab5.dev/bsp/components/storage"
)

// StorageInfoAction mounts the storage named in the config, prints its usage and unmounts it
// again.
func StorageInfoAction(c *cli.Context) error {
	cfg := stateFrom(c).cfg
	if cfg.SDCard == nil && cfg.SPIFFS == nil {
		return errors.New("no sd_card or spiffs section in the config")
	}
	return withBoard(c, func(b *tab5.Board) error {
		if err := b.MountStorage(c.Context); err != nil {
			return err
		}
		t := newTable(c.App.Writer, "Storage", "Mount point", "Size", "Used", "Free")
		row := func(name, mountPoint string, u storage.Usage) {
			t.AppendRow([]interface{}{
				name, mountPoint,
				units.BytesSize(float64(u.Total)),
				units.BytesSize(float64(u.Used)),
				units.BytesSize(float64(u.Total - u.Used)),
			})
		}
		if card := b.SDCard().Card(); card != nil {
			row("sd card", card.MountPoint, card.Usage)
		}
		if cfg.SPIFFS != nil {
			usage, err := b.Partition().Info(cfg.SPIFFS.Label)
			if err != nil {
				return err
			}
			row(cfg.SPIFFS.Label, cfg.SPIFFS.MountPoint, usage)
		}
		t.Render()
		return nil
	})
}
