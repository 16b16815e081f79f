// Package fake models a GT911 on a simulated bus.
package fake

import (
	"encoding/binary"
	"sync"

	"go.tab5.dev/bsp/components/touch"
)

const (
	regCommand   = 0x8040
	regProductID = 0x8140
	regStatus    = 0x814E
	regPoints    = 0x814F
	pointLen     = 8
)

// GT911 is the controller's 16-bit register map. Attach Handle to an i2csim device.
type GT911 struct {
	mu  sync.Mutex
	mem map[uint16]byte
}

// NewGT911 returns a controller that identifies as a GT911 with the board resolution.
func NewGT911() *GT911 {
	g := &GT911{mem: map[uint16]byte{}}
	info := make([]byte, 11)
	copy(info, "911")
	binary.LittleEndian.PutUint16(info[4:], 0x1060)
	binary.LittleEndian.PutUint16(info[6:], touch.XMax)
	binary.LittleEndian.PutUint16(info[8:], touch.YMax)
	g.set(regProductID, info...)
	return g
}

func (g *GT911) set(reg uint16, data ...byte) {
	for i, b := range data {
		g.mem[reg+uint16(i)] = b
	}
}

// Handle serves one bus transaction.
func (g *GT911) Handle(w, r []byte) {
	if len(w) < 2 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	reg := binary.BigEndian.Uint16(w)
	g.set(reg, w[2:]...)
	for i := range r {
		r[i] = g.mem[reg+uint16(i)]
	}
}

// Command returns the last value written to the command register.
func (g *GT911) Command() byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mem[regCommand]
}

// Touch reports the points on the next status read.
func (g *GT911) Touch(points ...touch.Point) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.set(regStatus, 0x80|byte(len(points)))
	for i, p := range points {
		raw := make([]byte, pointLen)
		raw[0] = byte(p.Track)
		binary.LittleEndian.PutUint16(raw[1:], uint16(p.X))
		binary.LittleEndian.PutUint16(raw[3:], uint16(p.Y))
		binary.LittleEndian.PutUint16(raw[5:], uint16(p.Size))
		g.set(regPoints+uint16(i*pointLen), raw...)
	}
}
