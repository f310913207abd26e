// Command fluxvm is a thin demonstration harness around the Flux
// runtime core: it loads a *bytecode.Program from a hand-assembled
// fixture or a cache file and drives the VM. It does not compile Flux
// source — lexing and parsing are out of scope for this repository.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/fluxlang/flux/bytecode"
	"github.com/fluxlang/flux/internal/config"
	"github.com/fluxlang/flux/version"
	"github.com/fluxlang/flux/vm"
)

var logger = log.New(os.Stderr, "fluxvm: ", 0)

func main() {
	app := &cli.Command{
		Name:  "fluxvm",
		Usage: "Run and inspect Flux bytecode",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to fluxvm.yaml",
				Value: "fluxvm.yaml",
			},
			&cli.BoolFlag{
				Name:  "version",
				Usage: "print the fluxvm version and exit",
				Action: func(ctx context.Context, cmd *cli.Command, v bool) error {
					if v {
						fmt.Println(version.Version())
						os.Exit(0)
					}
					return nil
				},
			},
		},
		Commands: []*cli.Command{
			runCommand,
			replCommand,
			cacheCommand,
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logger.Printf("error: %v", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	return config.Load(cmd.String("config"))
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "run a fixture or a cached program",
	ArgsUsage: "<fixture-name>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "cache", Usage: "load a *.fxbc cache file instead of a fixture"},
		&cli.BoolFlag{Name: "trace", Usage: "print each executed instruction"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		program, err := resolveProgram(cmd)
		if err != nil {
			return err
		}

		machine := vm.New(program)
		machine.GCHeapMut().SetEnabled(cfg.GC.Enabled)
		if cfg.GC.Threshold > 0 {
			machine.GCHeapMut().SetThreshold(cfg.GC.Threshold)
		}
		if cmd.Bool("trace") || cfg.Trace {
			sessionID := uuid.New().String()
			machine.SetTrace(true)
			machine.SetTracer(&prefixWriter{prefix: "[" + sessionID + "] ", w: os.Stderr})
		}

		if err := machine.Run(); err != nil {
			return fmt.Errorf("run: %w", err)
		}
		fmt.Println(machine.LastPoppedStackElem().String())
		return nil
	},
}

func resolveProgram(cmd *cli.Command) (*bytecode.Program, error) {
	name := cmd.Args().First()
	if name == "" {
		return nil, fmt.Errorf("usage: fluxvm run <fixture-name> (known: %v)", fixtureNames)
	}
	if cachePath := cmd.String("cache"); cachePath != "" {
		return loadCachedProgram(cachePath, name)
	}
	return loadFixture(name)
}
