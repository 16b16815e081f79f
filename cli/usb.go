package cli

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.tab5.dev/bsp/usb"
)

// USBListAction lists the attached devices. Root hubs are left out.
func USBListAction(c *cli.Context) error {
	include := func(usb.Identifier) bool { return true }
	if vendor := c.String(flagVendor); vendor != "" {
		id, err := strconv.ParseUint(vendor, 16, 16)
		if err != nil {
			return errors.Errorf("invalid vendor id %q", vendor)
		}
		include = func(ident usb.Identifier) bool { return ident.Vendor == int(id) }
	}
	devices, err := usb.Scan(stateFrom(c).cfg.USBHost.SysPath, include)
	if err != nil {
		return err
	}
	t := newTable(c.App.Writer, "Bus", "Address", "ID", "Manufacturer", "Product", "Path")
	count := 0
	for _, dev := range devices {
		if dev.RootHub {
			continue
		}
		count++
		t.AppendRow([]interface{}{dev.Bus, dev.Address, dev.ID.String(), dev.Manufacturer, dev.Product, dev.Path})
	}
	if count == 0 {
		printf(c.App.Writer, "no usb devices attached")
		return nil
	}
	t.Render()
	return nil
}
