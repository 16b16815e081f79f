package usb

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func writeDevice(t *testing.T, root, name, uevent string, attrs map[string]string) {
	t.Helper()
	dir := filepath.Join(root, name)
	test.That(t, os.MkdirAll(dir, 0o755), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, "uevent"), []byte(uevent), 0o644), test.ShouldBeNil)
	for k, v := range attrs {
		test.That(t, os.WriteFile(filepath.Join(dir, k), []byte(v+"\n"), 0o644), test.ShouldBeNil)
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeDevice(t, root, "usb1", "MAJOR=189\nDEVTYPE=usb_device\nPRODUCT=1d6b/2/610\nBUSNUM=001\nDEVNUM=001\n", nil)
	writeDevice(t, root, "1-1", "DEVTYPE=usb_device\nPRODUCT=46d/c52b/1211\nBUSNUM=001\nDEVNUM=004\n",
		map[string]string{"manufacturer": "Logitech", "product": "USB Receiver"})
	writeDevice(t, root, "1-1:1.0", "DEVTYPE=usb_interface\nPRODUCT=46d/c52b/1211\n", nil)
	writeDevice(t, root, "1-2", "DEVTYPE=usb_device\nPRODUCT=zz/c52b\n", nil)

	devices, err := Scan(root, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, devices, test.ShouldResemble, []Description{
		{
			ID: Identifier{Vendor: 0x1d6b, Product: 0x2}, Bus: 1, Address: 1,
			Path: "/dev/bus/usb/001/001", SysName: "usb1", RootHub: true,
		},
		{
			ID: Identifier{Vendor: 0x46d, Product: 0xc52b}, Bus: 1, Address: 4,
			Manufacturer: "Logitech", Product: "USB Receiver",
			Path: "/dev/bus/usb/001/004", SysName: "1-1",
		},
	})
	test.That(t, devices[1].ID.String(), test.ShouldEqual, "046d:c52b")

	devices, err = Scan(root, func(id Identifier) bool { return id.Vendor == 0x46d })
	test.That(t, err, test.ShouldBeNil)
	test.That(t, devices, test.ShouldHaveLength, 1)
}

func TestScanMissingRoot(t *testing.T) {
	devices, err := Scan(filepath.Join(t.TempDir(), "nope"), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, devices, test.ShouldBeEmpty)
}
