package main

import (
	"context"
	"fmt"
	"os"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"

	"github.com/fluxlang/flux/internal/config"
	"github.com/fluxlang/flux/vm"
)

var replCommand = &cli.Command{
	Name:  "repl",
	Usage: "interactively run fixtures against a persistent VM",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runREPL(cfg)
	},
}

func runREPL(cfg *config.Config) error {
	sessionID := uuid.New().String()[:8]
	prompt := "fluxvm> "
	if interactive() && os.Getenv("NO_COLOR") == "" {
		prompt = "\033[36mfluxvm>\033[0m "
	}

	rl, err := readline.New(prompt)
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Printf("Flux bytecode REPL (session %s). Type a fixture name to run it, \"list\" to see fixtures, \"exit\" to quit.\n", sessionID)
	fmt.Printf("known fixtures: %v\n", fixtureNames)

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF or readline.ErrInterrupt
			return nil
		}

		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "list":
			fmt.Println(fixtureNames)
			continue
		}

		program, err := loadFixture(line)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}

		machine := vm.New(program)
		machine.GCHeapMut().SetEnabled(cfg.GC.Enabled)
		if cfg.GC.Threshold > 0 {
			machine.GCHeapMut().SetThreshold(cfg.GC.Threshold)
		}
		if cfg.Trace {
			machine.SetTrace(true)
			machine.SetTracer(&prefixWriter{prefix: "[" + sessionID + "] ", w: os.Stderr})
		}

		if err := machine.Run(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		fmt.Println(machine.LastPoppedStackElem().String())
	}
}

func interactive() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}
