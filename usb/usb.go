// Package usb lists the USB devices the kernel has enumerated.
package usb

import "fmt"

// Description describes a specific USB device.
type Description struct {
	ID           Identifier
	Bus          int
	Address      int
	Manufacturer string
	Product      string
	// Path is the device node, /dev/bus/usb/BBB/DDD.
	Path string
	// SysName is the sysfs directory name, e.g. 1-1.2.
	SysName string
	RootHub bool
}

// Identifier identifies a specific USB device by the vendor
// who produced it and the product that it is. These should
// be unique across products.
type Identifier struct {
	Vendor  int
	Product int
}

func (id Identifier) String() string {
	return fmt.Sprintf("%04x:%04x", id.Vendor, id.Product)
}
