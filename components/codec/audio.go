package codec

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.tab5.dev/bsp/components/board/buses"
	"go.tab5.dev/bsp/logging"
)

// ErrNoBackend is returned when the board was built without an audio backend.
var ErrNoBackend = errors.New("no audio backend configured")

// DataInterface is the opened I2S port codec devices stream through.
type DataInterface interface {
	Port() int
}

// Device is an opened codec device.
type Device interface {
	Open(ctx context.Context, info SampleInfo) error
	Close() error
	Read(ctx context.Context, buf []byte) error
	Write(ctx context.Context, buf []byte) error
	SetOutMute(ctx context.Context, mute bool) error
	SetOutVolume(ctx context.Context, volume int) error
	SetInGain(ctx context.Context, gain float64) error
}

// Backend is the I2S peripheral driver and codec device library.
type Backend interface {
	// InitI2S creates the duplex port: tx in standard mode, rx in TDM mode.
	InitI2S(ctx context.Context, tx StdConfig, rx TDMConfig) (DataInterface, error)
	// NewDevice creates a codec device controlled through ctrl and streaming through data.
	NewDevice(ctx context.Context, spec DeviceSpec, ctrl buses.I2CHandle, data DataInterface) (Device, error)
}

// Audio owns the I2S port and the two codec devices. Each is created on first use and lives as
// long as the Audio.
type Audio struct {
	registry *buses.Registry
	backend  Backend
	logger   logging.Logger

	mu         sync.Mutex
	data       DataInterface
	speaker    Device
	microphone Device
	codec      *I2SCodec
}

// NewAudio returns the audio subsystem. backend may be nil on hosts without audio.
func NewAudio(registry *buses.Registry, backend Backend, logger logging.Logger) *Audio {
	return &Audio{registry: registry, backend: backend, logger: logger}
}

// Init sets up the I2S port. A nil config uses DefaultStdConfig. Calling Init again is a no-op.
func (a *Audio) Init(ctx context.Context, std *StdConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initLocked(ctx, std)
}

func (a *Audio) initLocked(ctx context.Context, std *StdConfig) error {
	if a.data != nil {
		return nil
	}
	if a.backend == nil {
		return ErrNoBackend
	}
	cfg := DefaultStdConfig()
	if std != nil {
		cfg = *std
	}
	data, err := a.backend.InitI2S(ctx, cfg, DefaultTDMConfig())
	if err != nil {
		return errors.Wrap(err, "failed to initialize i2s")
	}
	a.data = data
	a.logger.Debugw("i2s initialized", "sample_rate", cfg.SampleRate, "bits", cfg.BitsPerSample, "slots", int(cfg.SlotMode))
	return nil
}

// newDeviceLocked makes sure the system bus and the I2S port are up, then creates the device.
func (a *Audio) newDeviceLocked(ctx context.Context, spec DeviceSpec) (Device, error) {
	bus, err := a.registry.Init(ctx, buses.SystemBus)
	if err != nil {
		return nil, err
	}
	if err := a.initLocked(ctx, nil); err != nil {
		return nil, err
	}
	ctrl, err := bus.AddDevice(spec.Addr, 0)
	if err != nil {
		return nil, err
	}
	dev, err := a.backend.NewDevice(ctx, spec, ctrl, a.data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s codec device", spec.Kind)
	}
	return dev, nil
}

// Speaker returns the playback device, creating it on first use.
func (a *Audio) Speaker(ctx context.Context) (Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speakerLocked(ctx)
}

func (a *Audio) speakerLocked(ctx context.Context) (Device, error) {
	if a.speaker != nil {
		return a.speaker, nil
	}
	dev, err := a.newDeviceLocked(ctx, SpeakerSpec)
	if err != nil {
		return nil, err
	}
	a.speaker = dev
	return dev, nil
}

// Microphone returns the capture device, creating it on first use.
func (a *Audio) Microphone(ctx context.Context) (Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.microphoneLocked(ctx)
}

func (a *Audio) microphoneLocked(ctx context.Context) (Device, error) {
	if a.microphone != nil {
		return a.microphone, nil
	}
	dev, err := a.newDeviceLocked(ctx, MicrophoneSpec)
	if err != nil {
		return nil, err
	}
	a.microphone = dev
	return dev, nil
}

// Codec brings up both devices, opens them in RecordFormat and PlaybackFormat and sets the
// volume to DefaultVolume. Later calls return the same codec. If any step fails, devices opened
// so far are closed again so a later call can retry.
func (a *Audio) Codec(ctx context.Context) (*I2SCodec, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.codec != nil {
		return a.codec, nil
	}

	play, err := a.speakerLocked(ctx)
	if err != nil {
		return nil, err
	}
	record, err := a.microphoneLocked(ctx)
	if err != nil {
		return nil, err
	}

	c := &I2SCodec{play: play, record: record, logger: a.logger}
	if err := a.openCodec(ctx, c); err != nil {
		if closeErr := c.closeOpen(); closeErr != nil {
			a.logger.Warnw("failed to close codec devices after failed open", "error", closeErr)
		}
		return nil, err
	}
	a.codec = c
	return c, nil
}

func (a *Audio) openCodec(ctx context.Context, c *I2SCodec) error {
	if err := c.ReconfigureInput(ctx, RecordFormat); err != nil {
		return err
	}
	if err := c.ReconfigureOutput(ctx, PlaybackFormat); err != nil {
		return err
	}
	return c.SetVolume(ctx, DefaultVolume)
}
