// Package cli implements tab5ctl, the command line tool for bringing up and poking at the board.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"

	"go.tab5.dev/bsp/components/codec"
)

const (
	// Global flags.
	flagConfig = "config"
	flagDebug  = "debug"
	flagSim    = "sim"

	flagDuration   = "duration"
	flagYes        = "yes"
	flagPWMChip    = "pwm-chip"
	flagPWMChannel = "pwm-channel"
	flagVendor     = "vendor"
	flagPan        = "pan"

	flagTouchGPIOChip = "touch-gpio-chip"
)

var app = &cli.App{
	Name:            "tab5ctl",
	Usage:           "bring up and control an M5Stack Tab5",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load board configuration from `FILE`",
			EnvVars: []string{"TAB5_CONFIG"},
		},
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.BoolFlag{
			Name:  flagSim,
			Usage: "run against an in-memory board instead of the hardware",
		},
	},
	Before: BeforeAction,
	After:  AfterAction,
	Commands: []*cli.Command{
		{
			Name:            "rail",
			Usage:           "work with the power rails",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:   "list",
					Usage:  "list every rail and its state",
					Action: RailListAction,
				},
				{
					Name:      "set",
					Usage:     "switch a rail on or off",
					ArgsUsage: "<rail> <on|off>",
					Action:    RailSetAction,
				},
			},
		},
		{
			Name:   "detect",
			Usage:  "read the headphone and USB-C detect inputs",
			Action: DetectAction,
		},
		{
			Name:  "poweroff",
			Usage: "pulse the PMIC poweroff line",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  flagYes,
					Usage: "do not ask for confirmation",
				},
			},
			Action: PoweroffAction,
		},
		{
			Name:            "i2c",
			Usage:           "work with the I2C buses",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:      "scan",
					Usage:     "probe every 7-bit address on a bus",
					ArgsUsage: "[system|external|grove]",
					Action:    I2CScanAction,
				},
			},
		},
		{
			Name:      "backlight",
			Usage:     "set the LCD backlight brightness",
			ArgsUsage: "<percent>",
			Action:    BacklightAction,
		},
		{
			Name:  "camera-clock",
			Usage: "start the 24 MHz camera clock",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  flagPWMChip,
					Usage: "sysfs pwm chip driving the camera XCLK",
					Value: "pwmchip0",
				},
				&cli.IntFlag{
					Name:  flagPWMChannel,
					Usage: "channel of the pwm chip",
					Value: 1,
				},
			},
			Action: CameraClockAction,
		},
		{
			Name:            "audio",
			Usage:           "record and play WAV files",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:      "record",
					Usage:     "record the microphones to a WAV file",
					ArgsUsage: "<file>",
					Flags: []cli.Flag{
						&cli.DurationFlag{
							Name:  flagDuration,
							Usage: "how long to record",
							Value: defaultRecordDuration,
						},
					},
					Action: AudioRecordAction,
				},
				{
					Name:      "play",
					Usage:     "play a WAV file on the speaker",
					ArgsUsage: "<file>",
					Flags: []cli.Flag{
						&cli.Float64Flag{
							Name:  flagPan,
							Usage: "balance of a stereo file, 0 is the first channel only and 1 the second",
							Value: codec.CenterPan,
						},
					},
					Action: AudioPlayAction,
				},
			},
		},
		{
			Name:            "storage",
			Usage:           "work with the SD card and the flash partition",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:   "info",
					Usage:  "mount the configured storage and print its usage",
					Action: StorageInfoAction,
				},
			},
		},
		{
			Name:            "usb",
			Usage:           "work with the USB host port",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:  "list",
					Usage: "list attached USB devices",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:  flagVendor,
							Usage: "only list devices with this vendor id, in hex",
						},
					},
					Action: USBListAction,
				},
			},
		},
		{
			Name:  "daemon",
			Usage: "bring up the whole board and apply config changes until interrupted",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  flagTouchGPIOChip,
					Usage: "gpio chip carrying the touch INT line, e.g. /dev/gpiochip0; touches are polled without it",
				},
			},
			Action: DaemonAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
