package codec

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.tab5.dev/bsp/logging"
)

// feedChannels is what echo cancellation consumes per frame: two microphones and one reference.
const feedChannels = 3

// Codec is an opened playback and record pair.
type Codec interface {
	Read(ctx context.Context, buf []byte) (int, error)
	Write(ctx context.Context, buf []byte) (int, error)
	SetMute(ctx context.Context, mute bool) error
	SetVolume(ctx context.Context, volume int) error
	Volume() int
	SetInGain(ctx context.Context, gain float64) error
	ReconfigureInput(ctx context.Context, info SampleInfo) error
	ReconfigureOutput(ctx context.Context, info SampleInfo) error
	InputFormat() SampleInfo
	OutputFormat() SampleInfo
	FeedChannels() uint8
}

var _ Codec = (*I2SCodec)(nil)

// I2SCodec is the Codec bound to the ES8388 and ES7210 devices on the shared I2S port.
type I2SCodec struct {
	play   Device
	record Device
	logger logging.Logger

	mu         sync.Mutex
	volume     int
	playInfo   SampleInfo
	recordInfo SampleInfo
	playOpen   bool
	recordOpen bool
}

// Read fills buf with PCM from the microphones and returns the number of bytes read.
func (c *I2SCodec) Read(ctx context.Context, buf []byte) (int, error) {
	if err := c.record.Read(ctx, buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// Write plays the PCM in buf and returns the number of bytes written.
func (c *I2SCodec) Write(ctx context.Context, buf []byte) (int, error) {
	if err := c.play.Write(ctx, buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// SetMute mutes or unmutes playback without changing the stored volume.
func (c *I2SCodec) SetMute(ctx context.Context, mute bool) error {
	return c.play.SetOutMute(ctx, mute)
}

// SetVolume sets the playback volume. A volume of zero or less mutes and stores zero.
func (c *I2SCodec) SetVolume(ctx context.Context, volume int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if volume <= 0 {
		c.volume = 0
		return c.play.SetOutMute(ctx, true)
	}
	c.volume = volume
	return multierr.Combine(
		c.play.SetOutMute(ctx, false),
		c.play.SetOutVolume(ctx, volume),
	)
}

// Volume returns the last volume set.
func (c *I2SCodec) Volume() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// SetInGain sets the microphone gain in dB.
func (c *I2SCodec) SetInGain(ctx context.Context, gain float64) error {
	return c.record.SetInGain(ctx, gain)
}

// ReconfigureInput reopens the record device with a new format.
func (c *I2SCodec) ReconfigureInput(ctx context.Context, info SampleInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.reopen(ctx, c.record, c.recordOpen, info); err != nil {
		c.recordOpen = false
		return errors.Wrap(err, "failed to open record device")
	}
	c.recordOpen = true
	c.recordInfo = info
	return nil
}

// ReconfigureOutput reopens the playback device with a new format.
func (c *I2SCodec) ReconfigureOutput(ctx context.Context, info SampleInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.reopen(ctx, c.play, c.playOpen, info); err != nil {
		c.playOpen = false
		return errors.Wrap(err, "failed to open playback device")
	}
	c.playOpen = true
	c.playInfo = info
	return nil
}

// reopen closes an open device and opens it again. Only the open result counts.
func (c *I2SCodec) reopen(ctx context.Context, dev Device, open bool, info SampleInfo) error {
	if open {
		if err := dev.Close(); err != nil {
			c.logger.Warnw("failed to close codec device", "error", err)
		}
	}
	return dev.Open(ctx, info)
}

// InputFormat returns the format the record device is open with.
func (c *I2SCodec) InputFormat() SampleInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordInfo
}

// OutputFormat returns the format the playback device is open with.
func (c *I2SCodec) OutputFormat() SampleInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playInfo
}

// FeedChannels returns the number of channels per frame handed to echo cancellation.
func (c *I2SCodec) FeedChannels() uint8 {
	return feedChannels
}

// closeOpen closes whichever devices are open.
func (c *I2SCodec) closeOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.recordOpen {
		err = multierr.Combine(err, c.record.Close())
		c.recordOpen = false
	}
	if c.playOpen {
		err = multierr.Combine(err, c.play.Close())
		c.playOpen = false
	}
	return err
}
