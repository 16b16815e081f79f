package codec

import (
	"context"
	"encoding/binary"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/transforms"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const (
	wavPCMFormat = 1
	chunkFrames  = 1024
)

// RecordWAV captures d worth of audio from the microphones into a 16-bit PCM WAV file.
func RecordWAV(ctx context.Context, c Codec, w io.WriteSeeker, d time.Duration) error {
	info := c.InputFormat()
	if info.BitsPerSample != 16 {
		return errors.Errorf("can only record 16-bit audio, input is %d-bit", info.BitsPerSample)
	}
	enc := wav.NewEncoder(w, info.SampleRate, info.BitsPerSample, info.Channels, wavPCMFormat)
	format := &audio.Format{NumChannels: info.Channels, SampleRate: info.SampleRate}

	remaining := int(d.Seconds() * float64(info.SampleRate))
	raw := make([]byte, chunkFrames*info.BytesPerFrame())
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return multiClose(err, enc)
		}
		frames := chunkFrames
		if remaining < frames {
			frames = remaining
		}
		chunk := raw[:frames*info.BytesPerFrame()]
		if _, err := c.Read(ctx, chunk); err != nil {
			return multiClose(errors.Wrap(err, "failed to read from microphones"), enc)
		}
		buf := &audio.IntBuffer{Format: format, Data: pcm16ToInts(chunk), SourceBitDepth: 16}
		if err := enc.Write(buf); err != nil {
			return multiClose(errors.Wrap(err, "failed to encode wav"), enc)
		}
		remaining -= frames
	}
	return enc.Close()
}

// CenterPan leaves both channels of a stereo file untouched.
const CenterPan = 0.5

// PlayWAV plays a 16-bit PCM WAV file, reopening the playback device if the file's format
// differs from the current one.
func PlayWAV(ctx context.Context, c Codec, r io.ReadSeeker) error {
	return PlayWAVPanned(ctx, c, r, CenterPan)
}

// PlayWAVPanned is PlayWAV with the balance of a stereo file moved towards the first (0) or
// second (1) channel. pan is ignored for files that are not stereo.
func PlayWAVPanned(ctx context.Context, c Codec, r io.ReadSeeker, pan float64) error {
	if pan < 0 || pan > 1 {
		return errors.Errorf("pan must be between 0 and 1, got %v", pan)
	}
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return errors.New("not a valid wav file")
	}
	if dec.BitDepth != 16 {
		return errors.Errorf("can only play 16-bit audio, file is %d-bit", dec.BitDepth)
	}
	info := SampleInfo{SampleRate: int(dec.SampleRate), BitsPerSample: int(dec.BitDepth), Channels: int(dec.NumChans)}
	if info != c.OutputFormat() {
		if err := c.ReconfigureOutput(ctx, info); err != nil {
			return err
		}
	}

	buf := &audio.IntBuffer{Data: make([]int, chunkFrames*info.Channels)}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return errors.Wrap(err, "failed to decode wav")
		}
		if n == 0 {
			return nil
		}
		samples := buf.Data[:n]
		if pan != CenterPan && info.Channels == 2 {
			if samples, err = panPCM16(samples, info, pan); err != nil {
				return err
			}
		}
		if _, err := c.Write(ctx, intsToPCM16(samples)); err != nil {
			return errors.Wrap(err, "failed to write to speaker")
		}
	}
}

func panPCM16(samples []int, info SampleInfo, pan float64) ([]int, error) {
	fb := &audio.FloatBuffer{
		Format: &audio.Format{NumChannels: info.Channels, SampleRate: info.SampleRate},
		Data:   make([]float64, len(samples)),
	}
	for i, s := range samples {
		fb.Data[i] = float64(s)
	}
	if err := transforms.StereoPan(fb, pan); err != nil {
		return nil, err
	}
	out := make([]int, len(samples))
	for i, v := range fb.Data {
		out[i] = int(v)
	}
	return out, nil
}

func pcm16ToInts(raw []byte) []int {
	out := make([]int, len(raw)/2)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(raw[2*i:])))
	}
	return out
}

func intsToPCM16(samples []int) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(s)))
	}
	return out
}

func multiClose(err error, c io.Closer) error {
	return multierr.Combine(err, c.Close())
}
