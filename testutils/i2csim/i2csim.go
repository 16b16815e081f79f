// Package i2csim is an in-memory I2C bus for tests. Devices are register files addressed by the
// first written byte, which is how the PI4IOE, GT911 and codec chips on the board behave.
package i2csim

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// ErrNoDevice is returned for transactions to an address nothing answers on (a NACK).
var ErrNoDevice = errors.New("i2csim: no device acknowledged")

// ErrClosed is returned for transactions on a closed bus.
var ErrClosed = errors.New("i2csim: bus closed")

// Op is one recorded transaction.
type Op struct {
	Addr uint16
	W    []byte
	R    []byte
	Err  error
}

// IsWrite reports whether the transaction only wrote.
func (op Op) IsWrite() bool {
	return len(op.R) == 0 && len(op.W) > 0
}

func (op Op) String() string {
	if op.Err != nil {
		return fmt.Sprintf("0x%02x w=%x r=%x err=%v", op.Addr, op.W, op.R, op.Err)
	}
	return fmt.Sprintf("0x%02x w=%x r=%x", op.Addr, op.W, op.R)
}

// Device is a simulated register-file device.
type Device struct {
	mu   sync.Mutex
	regs [256]byte
	// OnWrite, if set, is called with the lock held after a register is written. It may change
	// other registers, e.g. to emulate self-clearing reset bits.
	OnWrite func(regs *[256]byte, reg byte)
	// Handler, if set, replaces the register file. Chips with 16-bit register addresses use it.
	Handler func(w, r []byte)
}

// Register returns the value of a register.
func (d *Device) Register(reg byte) byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[reg]
}

// SetRegister sets the value of a register as seen by the next read.
func (d *Device) SetRegister(reg, value byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs[reg] = value
}

func (d *Device) tx(w, r []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Handler != nil {
		d.Handler(w, r)
		return
	}
	if len(w) == 0 {
		// Probe or bare read from register 0.
		for i := range r {
			r[i] = d.regs[i%len(d.regs)]
		}
		return
	}
	reg := w[0]
	for i, b := range w[1:] {
		d.regs[reg+byte(i)] = b
		if d.OnWrite != nil {
			d.OnWrite(&d.regs, reg+byte(i))
		}
	}
	for i := range r {
		r[i] = d.regs[reg+byte(i)]
	}
}

// Bus implements periph's i2c.BusCloser over a set of simulated devices.
type Bus struct {
	name string

	mu      sync.Mutex
	devices map[uint16]*Device
	ops     []Op
	speed   physic.Frequency
	closed  bool
	fail    map[uint16][]error
	stalls  map[uint16]chan struct{}

	// BeforeTx, if set, is called before each transaction is applied and without any lock held.
	// Tests use it to interleave goroutines at a precise point.
	BeforeTx func(addr uint16, w []byte)
}

var _ i2c.BusCloser = (*Bus)(nil)

// New returns an empty bus.
func New(name string) *Bus {
	return &Bus{
		name:    name,
		devices: map[uint16]*Device{},
		fail:    map[uint16][]error{},
		stalls:  map[uint16]chan struct{}{},
	}
}

// AddDevice attaches a new device at the address and returns it.
func (b *Bus) AddDevice(addr uint16) *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	dev := &Device{}
	b.devices[addr] = dev
	return dev
}

// Device returns the device at the address or nil.
func (b *Bus) Device(addr uint16) *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.devices[addr]
}

// FailNext makes the next transactions to the address fail with the given errors, in order.
func (b *Bus) FailNext(addr uint16, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail[addr] = append(b.fail[addr], errs...)
}

// Stall makes transactions to the address block until the returned function is called.
func (b *Bus) Stall(addr uint16) (release func()) {
	ch := make(chan struct{})
	b.mu.Lock()
	b.stalls[addr] = ch
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.stalls, addr)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Tx implements i2c.Bus.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	if b.BeforeTx != nil {
		b.BeforeTx(addr, w)
	}

	b.mu.Lock()
	stall := b.stalls[addr]
	b.mu.Unlock()
	if stall != nil {
		<-stall
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	op := Op{Addr: addr, W: append([]byte(nil), w...)}
	defer func() {
		if len(r) > 0 && op.Err == nil {
			op.R = append([]byte(nil), r...)
		}
		b.ops = append(b.ops, op)
	}()

	if b.closed {
		op.Err = ErrClosed
		return op.Err
	}
	if pending := b.fail[addr]; len(pending) > 0 {
		op.Err = pending[0]
		b.fail[addr] = pending[1:]
		return op.Err
	}
	dev, ok := b.devices[addr]
	if !ok {
		op.Err = ErrNoDevice
		return op.Err
	}
	dev.tx(w, r)
	return nil
}

// SetSpeed implements i2c.Bus.
func (b *Bus) SetSpeed(f physic.Frequency) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.speed = f
	return nil
}

// Speed returns the last speed set.
func (b *Bus) Speed() physic.Frequency {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speed
}

// Close implements io.Closer.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.closed = true
	return nil
}

// Closed reports whether Close was called.
func (b *Bus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bus) String() string {
	return b.name
}

// Ops returns a copy of every transaction so far.
func (b *Bus) Ops() []Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Op(nil), b.ops...)
}

// Writes returns the payload of every successful write-only transaction to the address.
func (b *Bus) Writes(addr uint16) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out [][]byte
	for _, op := range b.ops {
		if op.Addr == addr && op.IsWrite() && op.Err == nil {
			out = append(out, op.W)
		}
	}
	return out
}

// ResetOps forgets the recorded transactions.
func (b *Bus) ResetOps() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = nil
}
