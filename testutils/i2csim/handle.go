package i2csim

import (
	"context"
)

// Handle is a register-level handle on one simulated address. It satisfies the board's
// I2CHandle interface without going through a bus registry, so tests can interleave
// transactions from BeforeTx hooks.
type Handle struct {
	bus  *Bus
	addr uint16
}

// Handle returns a handle for the address.
func (b *Bus) Handle(addr uint16) *Handle {
	return &Handle{bus: b, addr: addr}
}

// Tx writes w then reads len(r) bytes.
func (h *Handle) Tx(ctx context.Context, w, r []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.bus.Tx(h.addr, w, r)
}

// Write writes tx.
func (h *Handle) Write(ctx context.Context, tx []byte) error {
	return h.Tx(ctx, tx, nil)
}

// Read reads count bytes.
func (h *Handle) Read(ctx context.Context, count int) ([]byte, error) {
	buf := make([]byte, count)
	if err := h.Tx(ctx, nil, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadByteData reads one register.
func (h *Handle) ReadByteData(ctx context.Context, register byte) (byte, error) {
	var buf [1]byte
	if err := h.Tx(ctx, []byte{register}, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteByteData writes one register.
func (h *Handle) WriteByteData(ctx context.Context, register, data byte) error {
	return h.Tx(ctx, []byte{register, data}, nil)
}

// ReadBlockData reads numBytes from register on.
func (h *Handle) ReadBlockData(ctx context.Context, register byte, numBytes uint8) ([]byte, error) {
	buf := make([]byte, numBytes)
	if err := h.Tx(ctx, []byte{register}, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteBlockData writes data from register on.
func (h *Handle) WriteBlockData(ctx context.Context, register byte, data []byte) error {
	return h.Tx(ctx, append([]byte{register}, data...), nil)
}

// Close is a no-op.
func (h *Handle) Close() error {
	return nil
}
