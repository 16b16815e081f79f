package cli

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.tab5.dev/bsp/components/board/tab5"
	"go.tab5.dev/bsp/components/codec"
)

const defaultRecordDuration = 5 * time.Second

// AudioRecordAction records all four microphone channels to a WAV file.
func AudioRecordAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("expected an output file")
	}
	d := c.Duration(flagDuration)
	if d <= 0 {
		return errors.New("duration must be positive")
	}
	return withBoard(c, func(b *tab5.Board) (err error) {
		cd, err := b.StartAudio(c.Context)
		if err != nil {
			return err
		}
		//nolint:gosec
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, f.Close())
		}()
		if err := codec.RecordWAV(c.Context, cd, f, d); err != nil {
			return err
		}
		infof(c.App.Writer, "recorded %s to %s", d, path)
		return nil
	})
}

// AudioPlayAction plays a WAV file on the speaker.
func AudioPlayAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("expected a WAV file")
	}
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			stateFrom(c).logger.Warnw("failed to close wav file", "path", path, "error", err)
		}
	}()
	return withBoard(c, func(b *tab5.Board) error {
		cd, err := b.StartAudio(c.Context)
		if err != nil {
			return err
		}
		if err := codec.PlayWAVPanned(c.Context, cd, f, c.Float64(flagPan)); err != nil {
			return err
		}
		infof(c.App.Writer, "played %s", path)
		return nil
	})
}
