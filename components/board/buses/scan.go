package buses

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ProbeStatus is the outcome of probing one address.
type ProbeStatus int

// Probe outcomes.
const (
	Absent ProbeStatus = iota
	Present
	TimedOut
)

// ScanResult holds the probe status of every 7-bit address.
type ScanResult [128]ProbeStatus

// Present returns the addresses that acknowledged.
func (res *ScanResult) Present() []uint16 {
	var out []uint16
	for addr, status := range res {
		if status == Present {
			out = append(out, uint16(addr))
		}
	}
	return out
}

// String renders the result as the usual i2cdetect grid. Timed out addresses show as UU.
func (res *ScanResult) String() string {
	var sb strings.Builder
	sb.WriteString("     0  1  2  3  4  5  6  7  8  9  a  b  c  d  e  f\n")
	for row := 0; row < len(res); row += 16 {
		fmt.Fprintf(&sb, "%02x: ", row)
		for col := 0; col < 16; col++ {
			addr := row + col
			switch res[addr] {
			case Present:
				fmt.Fprintf(&sb, "%02x ", addr)
			case TimedOut:
				sb.WriteString("UU ")
			default:
				sb.WriteString("-- ")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Probe checks whether a device acknowledges its address with a one-byte read.
func (b *Bus) Probe(ctx context.Context, addr uint16) error {
	var buf [1]byte
	return b.Tx(ctx, addr, 0, nil, buf[:])
}

// Scan probes every 7-bit address. Only a cancelled context stops the scan early.
func (b *Bus) Scan(ctx context.Context) (*ScanResult, error) {
	var res ScanResult
	for addr := range res {
		err := b.Probe(ctx, uint16(addr))
		switch {
		case err == nil:
			res[addr] = Present
		case errors.Is(err, ErrTimeout):
			res[addr] = TimedOut
		case errors.Is(err, ErrBusClosed):
			return nil, err
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}
	}
	b.logger.Debugw("i2c scan finished", "bus", b.id.String(), "present", len(res.Present()))
	return &res, nil
}
