package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/hboxfw/hboxpack"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"
)

const appVersion = "0.3.0"

var (
	cfg      = hboxpack.DefaultConfig()
	settings = hboxpack.DefaultSettings()
)

func profileUsage() string {
	// Format the default profile in YAML as an example.
	buf := new(bytes.Buffer)
	enc := yaml.NewEncoder(buf)
	enc.Encode(hboxpack.DefaultConfig())
	enc.Close()
	return "Device profile yaml file. Example:\n\n" + buf.String()
}

func main() {
	app := &cli.App{
		Name:    "hboxpack",
		Usage:   "Package HBox firmware for the dual slot bootloader",
		Version: appVersion,
		// Errors are reported below.
		ExitErrHandler: func(c *cli.Context, e error) {},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose logging",
			},
			&cli.StringFlag{
				Name:  "profile",
				Usage: profileUsage(),
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Release settings toml file",
			},
		},
	}

	slotFlag := &cli.StringFlag{
		Name:    "slot",
		Aliases: []string{"s"},
		Usage:   "Target slot, A or B",
	}
	versionFlag := &cli.StringFlag{
		Name:    "fw-version",
		Aliases: []string{"V"},
		Usage:   "Firmware version string",
	}

	app.Commands = []*cli.Command{
		{
			Name:      "split",
			Usage:     "Split a hex file into per-region binaries and hex_manifest.json",
			ArgsUsage: "HEX_FILE",
			Action:    splitAction,
			Flags: []cli.Flag{
				versionFlag,
				&cli.StringFlag{
					Name:    "out",
					Aliases: []string{"o"},
					Usage:   "Output directory",
					Value:   "hex_components",
				},
			},
		},
		{
			Name:      "package",
			Usage:     "Build release packages",
			ArgsUsage: "HEX_FILE",
			Action:    packageAction,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "slot",
					Aliases: []string{"s"},
					Usage:   "Slots to build: A, B or AB",
				},
				versionFlag,
				&cli.StringFlag{Name: "webresources", Usage: "Web resources image"},
				&cli.StringFlag{Name: "adc-mapping", Usage: "ADC mapping image"},
				&cli.StringFlag{Name: "package-type", Usage: "Package type label"},
				&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Release directory"},
			},
		},
		{
			Name:      "verify",
			Usage:     "Check package files against the manifest checksums",
			ArgsUsage: "PACKAGE",
			Action:    verifyAction,
		},
		{
			Name:      "metadata",
			Usage:     "Write the metadata record of a package",
			ArgsUsage: "PACKAGE",
			Action:    metadataAction,
			Flags: []cli.Flag{
				slotFlag,
				&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file"},
			},
		},
		{
			Name:      "plan",
			Usage:     "Show the flash writes for a package",
			ArgsUsage: "PACKAGE",
			Action:    planAction,
			Flags:     []cli.Flag{slotFlag},
		},
		{
			Name:      "inspect",
			Usage:     "Decode and validate a metadata record",
			ArgsUsage: "METADATA_BIN",
			Action:    inspectAction,
		},
		{
			Name:      "adcmap",
			Usage:     "Decode an ADC mapping store dumped from flash",
			ArgsUsage: "FILE",
			Action:    adcmapAction,
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "buttons", Usage: "Calibrated buttons per mapping, 17 or 18", Value: 17},
				&cli.BoolFlag{Name: "json", Usage: "Print as json"},
			},
		},
		{
			Name:      "list",
			Usage:     "List release packages, newest first",
			ArgsUsage: "[DIR]",
			Action:    listAction,
		},
	}

	app.Before = func(ctx *cli.Context) error {
		if ctx.Bool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
		hboxpack.SetLogger(log.StandardLogger())

		var err error
		if p := ctx.String("profile"); p != "" {
			if cfg, err = hboxpack.LoadProfile(p); err != nil {
				return err
			}
			log.Debugf("device profile: %+v", cfg)
		}
		if c := ctx.String("config"); c != "" {
			if settings, err = hboxpack.LoadSettings(c); err != nil {
				return err
			}
			log.Debugf("settings: %+v", settings)
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err)
		if v, ok := err.(cli.ExitCoder); ok {
			os.Exit(v.ExitCode())
		}
		os.Exit(1)
	}
}

func requireArg(ctx *cli.Context, name string) (string, error) {
	if ctx.Args().Len() != 1 {
		return "", fmt.Errorf("%s is required", name)
	}
	return ctx.Args().First(), nil
}
