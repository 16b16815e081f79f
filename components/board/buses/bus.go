package buses

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"go.tab5.dev/bsp/logging"
)

var (
	// ErrTimeout is returned when a transaction does not complete within the bus timeout.
	ErrTimeout = errors.New("i2c transaction timed out")
	// ErrBusClosed is returned for transactions on a bus that was deinitialized.
	ErrBusClosed = errors.New("i2c bus closed")
	// ErrDeviceClosed is returned for transactions on a detached device.
	ErrDeviceClosed = errors.New("i2c device closed")
)

// Bus is an open I2C bus. Transactions are serialized; each one is bounded by the configured
// timeout.
type Bus struct {
	id     BusID
	cfg    Config
	clk    clock.Clock
	logger logging.Logger

	// txMu is held for the whole of a hardware transaction, including one that outlived its
	// caller's timeout. Transactions abandoned before they get txMu are dropped.
	txMu  sync.Mutex
	conn  i2c.BusCloser
	speed physic.Frequency

	mu     sync.Mutex
	closed bool
}

func newBus(id BusID, cfg Config, conn i2c.BusCloser, clk clock.Clock, logger logging.Logger) *Bus {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Bus{id: id, cfg: cfg, conn: conn, clk: clk, logger: logger}
}

// ID returns the bus id.
func (b *Bus) ID() BusID {
	return b.id
}

// Config returns the configuration the bus was opened with.
func (b *Bus) Config() Config {
	return b.cfg
}

func (b *Bus) String() string {
	return b.id.String() + " (" + b.conn.String() + ")"
}

type txResult struct {
	read []byte
	err  error
}

// Tx performs one write-then-read transaction at the given SCL speed. A zero speed keeps the
// current bus speed.
func (b *Bus) Tx(ctx context.Context, addr uint16, speed physic.Frequency, w, r []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBusClosed
	}

	done := make(chan txResult, 1)
	timer := b.clk.Timer(b.cfg.Timeout)
	defer timer.Stop()
	// txCtx is cancelled once the caller stops waiting; a transaction still queued on txMu by
	// then must not reach the hardware.
	txCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		b.txMu.Lock()
		defer b.txMu.Unlock()
		if err := txCtx.Err(); err != nil {
			done <- txResult{err: err}
			return
		}
		if speed != 0 && speed != b.speed {
			if err := b.conn.SetSpeed(speed); err != nil {
				done <- txResult{err: errors.Wrapf(err, "failed to set %s bus speed to %s", b.id, speed)}
				return
			}
			b.speed = speed
		}
		var read []byte
		if len(r) > 0 {
			read = make([]byte, len(r))
		}
		done <- txResult{read: read, err: b.conn.Tx(addr, w, read)}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return errors.Wrapf(res.err, "i2c %s tx to 0x%02x", b.id, addr)
		}
		copy(r, res.read)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		cancel()
		b.logger.Debugw("i2c transaction timed out", "bus", b.id.String(), "addr", addr, "timeout", b.cfg.Timeout)
		return errors.Wrapf(ErrTimeout, "i2c %s tx to 0x%02x", b.id, addr)
	}
}

// AddDevice attaches a device at the 7-bit address. Transactions on the device run at the
// given SCL speed, or DefaultSpeed when zero.
func (b *Bus) AddDevice(addr uint16, speed physic.Frequency) (*Device, error) {
	if addr > 0x7f {
		return nil, errors.Errorf("i2c address 0x%x is not a 7-bit address", addr)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	if speed == 0 {
		speed = DefaultSpeed
	}
	return &Device{bus: b, addr: addr, speed: speed}, nil
}

func (b *Bus) close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.closed = true
	b.mu.Unlock()

	b.txMu.Lock()
	defer b.txMu.Unlock()
	return b.conn.Close()
}

// Device is a device attached to a bus at a fixed address and speed. It implements I2CHandle.
type Device struct {
	bus   *Bus
	addr  uint16
	speed physic.Frequency

	mu     sync.Mutex
	closed bool
}

var _ I2CHandle = (*Device)(nil)

// Addr returns the device address.
func (d *Device) Addr() uint16 {
	return d.addr
}

// Bus returns the bus the device is attached to.
func (d *Device) Bus() *Bus {
	return d.bus
}

// Tx writes w then reads len(r) bytes.
func (d *Device) Tx(ctx context.Context, w, r []byte) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrDeviceClosed
	}
	return d.bus.Tx(ctx, d.addr, d.speed, w, r)
}

// Write writes the bytes as a single transaction.
func (d *Device) Write(ctx context.Context, tx []byte) error {
	return d.Tx(ctx, tx, nil)
}

// Read reads count bytes without writing first.
func (d *Device) Read(ctx context.Context, count int) ([]byte, error) {
	buffer := make([]byte, count)
	if err := d.Tx(ctx, nil, buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

// ReadByteData reads one register.
func (d *Device) ReadByteData(ctx context.Context, register byte) (byte, error) {
	var buffer [1]byte
	if err := d.Tx(ctx, []byte{register}, buffer[:]); err != nil {
		return 0, err
	}
	return buffer[0], nil
}

// WriteByteData writes one register.
func (d *Device) WriteByteData(ctx context.Context, register, data byte) error {
	return d.Tx(ctx, []byte{register, data}, nil)
}

// ReadBlockData reads numBytes starting at register.
func (d *Device) ReadBlockData(ctx context.Context, register byte, numBytes uint8) ([]byte, error) {
	buffer := make([]byte, numBytes)
	if err := d.Tx(ctx, []byte{register}, buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

// WriteBlockData writes data starting at register. On register-file devices this is the same
// as writing the register address followed by the bytes.
func (d *Device) WriteBlockData(ctx context.Context, register byte, data []byte) error {
	rawData := make([]byte, len(data)+1)
	rawData[0] = register
	copy(rawData[1:], data)
	return d.Tx(ctx, rawData, nil)
}

// Close detaches the device. The bus stays open.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
