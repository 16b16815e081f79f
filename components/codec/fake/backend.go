// Package fake implements an in-memory audio backend for tests and simulated boards.
package fake

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"

	"go.tab5.dev/bsp/components/board/buses"
	"go.tab5.dev/bsp/components/codec"
)

// Backend records what the audio subsystem asked of the driver.
type Backend struct {
	mu       sync.Mutex
	I2SInits int
	Tx       codec.StdConfig
	Rx       codec.TDMConfig
	Devices  []*Device
	// InitErr, if set, is returned by InitI2S.
	InitErr error
}

var _ codec.Backend = (*Backend)(nil)

type port int

func (p port) Port() int {
	return int(p)
}

// InitI2S implements codec.Backend.
func (b *Backend) InitI2S(ctx context.Context, tx codec.StdConfig, rx codec.TDMConfig) (codec.DataInterface, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.InitErr != nil {
		return nil, b.InitErr
	}
	b.I2SInits++
	b.Tx, b.Rx = tx, rx
	return port(0), nil
}

// NewDevice implements codec.Backend. It reads register 0 of the chip to check it is present.
func (b *Backend) NewDevice(
	ctx context.Context, spec codec.DeviceSpec, ctrl buses.I2CHandle, data codec.DataInterface,
) (codec.Device, error) {
	if _, err := ctrl.ReadByteData(ctx, 0x00); err != nil {
		return nil, errors.Wrapf(err, "%s not responding", spec.Kind)
	}
	dev := &Device{Spec: spec}
	b.mu.Lock()
	b.Devices = append(b.Devices, dev)
	b.mu.Unlock()
	return dev, nil
}

// Device is an in-memory codec device. Reads return a ramp, writes are kept.
type Device struct {
	Spec codec.DeviceSpec

	mu     sync.Mutex
	info   codec.SampleInfo
	open   bool
	opens  int
	closes int
	muted  bool
	volume int
	gain   float64
	played bytes.Buffer
	sample int16

	openErr error
}

// FailNextOpen makes the next Open return err without opening the device.
func (d *Device) FailNextOpen(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErr = err
}

// Open implements codec.Device.
func (d *Device) Open(ctx context.Context, info codec.SampleInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.openErr; err != nil {
		d.openErr = nil
		return err
	}
	if d.open {
		return errors.New("device already open")
	}
	d.open = true
	d.opens++
	d.info = info
	return nil
}

// Close implements codec.Device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return errors.New("device not open")
	}
	d.open = false
	d.closes++
	return nil
}

// Read implements codec.Device.
func (d *Device) Read(ctx context.Context, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return errors.New("device not open")
	}
	for i := 0; i+1 < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], uint16(d.sample))
		d.sample++
	}
	return nil
}

// Write implements codec.Device.
func (d *Device) Write(ctx context.Context, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return errors.New("device not open")
	}
	d.played.Write(buf)
	return nil
}

// SetOutMute implements codec.Device.
func (d *Device) SetOutMute(ctx context.Context, mute bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.muted = mute
	return nil
}

// SetOutVolume implements codec.Device.
func (d *Device) SetOutVolume(ctx context.Context, volume int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume = volume
	return nil
}

// SetInGain implements codec.Device.
func (d *Device) SetInGain(ctx context.Context, gain float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gain = gain
	return nil
}

// State is a snapshot of a device.
type State struct {
	Info   codec.SampleInfo
	Open   bool
	Opens  int
	Closes int
	Muted  bool
	Volume int
	Gain   float64
}

// State returns a snapshot of the device.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return State{
		Info: d.info, Open: d.open, Opens: d.opens, Closes: d.closes,
		Muted: d.muted, Volume: d.volume, Gain: d.gain,
	}
}

// Played returns everything written to the device.
func (d *Device) Played() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.played.Bytes()...)
}
