// Package touch drives the GT911 capacitive touch controller behind the panel.
package touch

import (
	"context"
	"encoding/binary"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"

	"go.tab5.dev/bsp/components/board/buses"
	"go.tab5.dev/bsp/logging"
)

// Addresses the GT911 answers on, selected by the INT level at reset. The board straps the
// backup address.
const (
	Addr       = 0x5D
	BackupAddr = 0x14
)

// Board wiring. Reset is on the second expander, not a GPIO.
const (
	XMax          = 720
	YMax          = 1280
	InterruptGPIO = 23
)

// MaxPoints is the number of simultaneous touches the controller reports.
const MaxPoints = 5

// Speed is the bus clock used for the controller.
const Speed = 400 * physic.KiloHertz

const (
	regCommand   uint16 = 0x8040
	regProductID uint16 = 0x8140
	regStatus    uint16 = 0x814E
	regPoints    uint16 = 0x814F

	productInfoLen = 11
	pointLen       = 8

	cmdReadCoordinates byte = 0x00
	cmdSleep           byte = 0x05

	statusBufferReady byte = 0x80
	statusCountMask   byte = 0x0F
)

// ErrUnknownProduct is returned when the chip at the address does not identify as a GT911.
var ErrUnknownProduct = errors.New("touch controller is not a GT911")

// Config is the touch section of the board config.
type Config struct {
	Addr          uint16 `json:"addr,omitempty"`
	XMax          int    `json:"x_max,omitempty"`
	YMax          int    `json:"y_max,omitempty"`
	SwapXY        bool   `json:"swap_xy,omitempty"`
	MirrorX       bool   `json:"mirror_x,omitempty"`
	MirrorY       bool   `json:"mirror_y,omitempty"`
	InterruptGPIO int    `json:"interrupt_gpio,omitempty"`
}

// DefaultConfig is the controller as wired on the board.
func DefaultConfig() Config {
	return Config{Addr: BackupAddr, XMax: XMax, YMax: YMax, InterruptGPIO: InterruptGPIO}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.Addr == 0 {
		cfg.Addr = def.Addr
	}
	if cfg.XMax == 0 {
		cfg.XMax = def.XMax
	}
	if cfg.YMax == 0 {
		cfg.YMax = def.YMax
	}
	if cfg.InterruptGPIO == 0 {
		cfg.InterruptGPIO = def.InterruptGPIO
	}
	return cfg
}

// Point is one reported touch.
type Point struct {
	Track int
	X, Y  int
	Size  int
}

// Info is the product block read at init.
type Info struct {
	ProductID string
	Firmware  uint16
	XRes      int
	YRes      int
	Vendor    byte
}

// GT911 is an attached touch controller.
type GT911 struct {
	dev    buses.I2CHandle
	cfg    Config
	logger logging.Logger

	mu   sync.Mutex
	info Info
}

// New attaches the controller on the bus and reads its product block.
func New(ctx context.Context, bus *buses.Bus, cfg Config, logger logging.Logger) (*GT911, error) {
	cfg = cfg.withDefaults()
	dev, err := bus.AddDevice(cfg.Addr, Speed)
	if err != nil {
		return nil, err
	}
	g := NewFromHandle(dev, cfg, logger)
	if err := g.Init(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// NewFromHandle wraps an already attached device. Init must be called before use.
func NewFromHandle(dev buses.I2CHandle, cfg Config, logger logging.Logger) *GT911 {
	return &GT911{dev: dev, cfg: cfg.withDefaults(), logger: logger}
}

func (g *GT911) read(ctx context.Context, reg uint16, n int) ([]byte, error) {
	buf := make([]byte, n)
	var w [2]byte
	binary.BigEndian.PutUint16(w[:], reg)
	if err := g.dev.Tx(ctx, w[:], buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (g *GT911) write(ctx context.Context, reg uint16, data ...byte) error {
	w := make([]byte, 2, 2+len(data))
	binary.BigEndian.PutUint16(w, reg)
	return g.dev.Write(ctx, append(w, data...))
}

// Init reads the product block and checks the product id.
func (g *GT911) Init(ctx context.Context) error {
	raw, err := g.read(ctx, regProductID, productInfoLen)
	if err != nil {
		return errors.Wrap(err, "failed to read gt911 product id")
	}
	info := Info{
		ProductID: strings.TrimRight(string(raw[:4]), "\x00"),
		Firmware:  binary.LittleEndian.Uint16(raw[4:6]),
		XRes:      int(binary.LittleEndian.Uint16(raw[6:8])),
		YRes:      int(binary.LittleEndian.Uint16(raw[8:10])),
		Vendor:    raw[10],
	}
	if info.ProductID != "911" {
		return errors.Wrapf(ErrUnknownProduct, "product id %q", info.ProductID)
	}
	g.mu.Lock()
	g.info = info
	g.mu.Unlock()
	g.logger.Infow("touch controller ready",
		"product", info.ProductID, "firmware", info.Firmware, "x_res", info.XRes, "y_res", info.YRes)
	return nil
}

// Info returns the product block read by Init.
func (g *GT911) Info() Info {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.info
}

// ExitSleep puts the controller back into coordinate reporting mode.
func (g *GT911) ExitSleep(ctx context.Context) error {
	return g.write(ctx, regCommand, cmdReadCoordinates)
}

// EnterSleep puts the controller to sleep.
func (g *GT911) EnterSleep(ctx context.Context) error {
	return g.write(ctx, regCommand, cmdSleep)
}

// ReadPoints returns the current touches, or nil when the controller has nothing new. The
// status register is acknowledged after every ready read.
func (g *GT911) ReadPoints(ctx context.Context) ([]Point, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	status, err := g.read(ctx, regStatus, 1)
	if err != nil {
		return nil, err
	}
	if status[0]&statusBufferReady == 0 {
		return nil, nil
	}
	count := int(status[0] & statusCountMask)
	if count > MaxPoints {
		count = MaxPoints
	}
	var points []Point
	if count > 0 {
		raw, err := g.read(ctx, regPoints, count*pointLen)
		if err != nil {
			return nil, err
		}
		points = make([]Point, 0, count)
		for i := 0; i < count; i++ {
			p := raw[i*pointLen:]
			points = append(points, g.transform(Point{
				Track: int(p[0]),
				X:     int(binary.LittleEndian.Uint16(p[1:3])),
				Y:     int(binary.LittleEndian.Uint16(p[3:5])),
				Size:  int(binary.LittleEndian.Uint16(p[5:7])),
			}))
		}
	}
	if err := g.write(ctx, regStatus, 0); err != nil {
		return nil, errors.Wrap(err, "failed to acknowledge touch status")
	}
	return points, nil
}

func (g *GT911) transform(p Point) Point {
	if g.cfg.SwapXY {
		p.X, p.Y = p.Y, p.X
	}
	if g.cfg.MirrorX {
		p.X = g.cfg.XMax - p.X
	}
	if g.cfg.MirrorY {
		p.Y = g.cfg.YMax - p.Y
	}
	return p
}

// Close detaches the controller from the bus.
func (g *GT911) Close() error {
	return g.dev.Close()
}
