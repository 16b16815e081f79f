package buses

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/i2c"

	"go.tab5.dev/bsp/logging"
)

var (
	// ErrBusNotInitialized is returned by Deinit for a bus that is not open.
	ErrBusNotInitialized = errors.New("i2c bus not initialized")
	// ErrPortInUse is returned when a bus would reuse a controller port held by another bus.
	ErrPortInUse = errors.New("i2c port already in use")
)

// Opener opens the host side of a bus.
type Opener interface {
	Open(ctx context.Context, cfg Config) (i2c.BusCloser, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, cfg Config) (i2c.BusCloser, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, cfg Config) (i2c.BusCloser, error) {
	return f(ctx, cfg)
}

// Registry lazily opens the board buses and caches one handle per bus id.
type Registry struct {
	opener  Opener
	clk     clock.Clock
	logger  logging.Logger
	configs map[BusID]Config

	mu    sync.Mutex
	buses map[BusID]*Bus
}

// NewRegistry returns a registry using the given per-bus configs. Buses missing from configs
// use DefaultConfig. A nil clock means the wall clock.
func NewRegistry(opener Opener, configs map[BusID]Config, clk clock.Clock, logger logging.Logger) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	merged := DefaultConfigs()
	for id, cfg := range configs {
		merged[id] = cfg
	}
	return &Registry{
		opener:  opener,
		clk:     clk,
		logger:  logger,
		configs: merged,
		buses:   map[BusID]*Bus{},
	}
}

// Init opens the bus if it is not open yet and returns it. Calling Init on an open bus returns
// the cached handle without touching the hardware.
func (r *Registry) Init(ctx context.Context, id BusID) (*Bus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bus, ok := r.buses[id]; ok {
		return bus, nil
	}

	cfg, ok := r.configs[id]
	if !ok {
		return nil, errors.Errorf("unknown i2c bus %v", id)
	}
	for other, bus := range r.buses {
		if bus.cfg.Port == cfg.Port {
			return nil, errors.Wrapf(ErrPortInUse, "cannot open %s bus: port %d is held by the %s bus", id, cfg.Port, other)
		}
	}

	conn, err := r.opener.Open(ctx, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s i2c bus (%s)", id, cfg)
	}
	bus := newBus(id, cfg, conn, r.clk, r.logger)
	r.buses[id] = bus
	r.logger.Debugw("i2c bus initialized", "bus", id.String(), "port", cfg.Port, "sda", cfg.SDA, "scl", cfg.SCL)
	return bus, nil
}

// Deinit closes the bus and forgets it. Devices attached to it stop working.
func (r *Registry) Deinit(id BusID) error {
	r.mu.Lock()
	bus, ok := r.buses[id]
	delete(r.buses, id)
	r.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrBusNotInitialized, "cannot deinit %s bus", id)
	}
	if err := bus.close(); err != nil {
		return errors.Wrapf(err, "failed to close %s i2c bus", id)
	}
	r.logger.Debugw("i2c bus deinitialized", "bus", id.String())
	return nil
}

// Handle returns the open bus or nil.
func (r *Registry) Handle(id BusID) *Bus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buses[id]
}

// Close deinitializes every open bus.
func (r *Registry) Close() error {
	r.mu.Lock()
	ids := make([]BusID, 0, len(r.buses))
	for id := range r.buses {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var err error
	for _, id := range ids {
		err = multierr.Combine(err, r.Deinit(id))
	}
	return err
}
