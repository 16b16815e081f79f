package usb

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultSysPath is where the kernel lists USB devices and interfaces.
const DefaultSysPath = "/sys/bus/usb/devices"

type uevent struct {
	id      Identifier
	bus     int
	address int
}

func readUevent(path string) (uevent, bool) {
	f, err := os.Open(path)
	if err != nil {
		return uevent{}, false
	}
	defer f.Close()

	var ev uevent
	var haveProduct bool
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "PRODUCT":
			parts := strings.Split(value, "/")
			if len(parts) < 2 {
				continue
			}
			vendorID, err := strconv.ParseInt(parts[0], 16, 64)
			if err != nil {
				continue
			}
			productID, err := strconv.ParseInt(parts[1], 16, 64)
			if err != nil {
				continue
			}
			ev.id = Identifier{Vendor: int(vendorID), Product: int(productID)}
			haveProduct = true
		case "BUSNUM":
			ev.bus, _ = strconv.Atoi(value)
		case "DEVNUM":
			ev.address, _ = strconv.Atoi(value)
		}
	}
	return ev, haveProduct
}

func readAttr(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// Scan lists the devices under root, normally DefaultSysPath. Interfaces and entries without a
// product line are skipped. include may be nil to keep every device.
func Scan(root string, include func(Identifier) bool) ([]Description, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to list %s", root)
	}
	var results []Description
	for _, entry := range entries {
		name := entry.Name()
		if strings.Contains(name, ":") {
			// 1-1:1.0 style names are interfaces of a device.
			continue
		}
		dir := filepath.Join(root, name)
		ev, ok := readUevent(filepath.Join(dir, "uevent"))
		if !ok {
			continue
		}
		if include != nil && !include(ev.id) {
			continue
		}
		results = append(results, Description{
			ID:           ev.id,
			Bus:          ev.bus,
			Address:      ev.address,
			Manufacturer: readAttr(dir, "manufacturer"),
			Product:      readAttr(dir, "product"),
			Path:         fmt.Sprintf("/dev/bus/usb/%03d/%03d", ev.bus, ev.address),
			SysName:      name,
			RootHub:      strings.HasPrefix(name, "usb"),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Bus != results[j].Bus {
			return results[i].Bus < results[j].Bus
		}
		return results[i].Address < results[j].Address
	})
	return results, nil
}
