package tab5

import (
	"context"

	"github.com/pkg/errors"
)

// The camera sensor has no crystal; the SoC drives its XCLK.
const (
	CameraClockGPIO = 36
	CameraClockHz   = 24000000
	cameraDutyBits  = 1
)

// StartCameraClock starts the 24 MHz camera clock at 50% duty.
func (b *Board) StartCameraClock(ctx context.Context) error {
	if b.deps.CameraPWM == nil {
		return errors.Wrap(ErrUnavailable, "camera clock")
	}
	if err := b.deps.CameraPWM.Configure(ctx, CameraClockHz, cameraDutyBits); err != nil {
		b.logger.Errorw("failed to configure camera clock", "freq_hz", CameraClockHz, "error", err)
		return err
	}
	if err := b.deps.CameraPWM.SetDuty(ctx, 1); err != nil {
		b.logger.Errorw("failed to start camera clock", "error", err)
		return err
	}
	return nil
}
