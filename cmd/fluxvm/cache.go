package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/fluxlang/flux/bytecode"
	"github.com/fluxlang/flux/cache"
)

// fixtureCacheKey stands in for a real compiler's "hash of source plus
// compiler version": since lexing/parsing are out of scope here, a
// fixture's name is its "source", and the cache key is derived from
// it the same way a real front end would derive one from file bytes.
func fixtureCacheKey(fixtureName string) [32]byte {
	return cache.HashBytes([]byte(fixtureName))
}

func loadCachedProgram(path, fixtureName string) (*bytecode.Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	defer f.Close()

	result, err := cache.ReadDepsAndValidate(f, cache.FormatVersion, fixtureCacheKey(fixtureName), cache.HashFile)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("cache: stale dependencies: %v", result.Stale)
	}
	return result.Program, nil
}

var cacheCommand = &cli.Command{
	Name:  "cache",
	Usage: "inspect or manage the bytecode cache",
	Commands: []*cli.Command{
		cacheWriteCommand,
		cacheInspectCommand,
		cacheClearCommand,
	},
}

var cacheWriteCommand = &cli.Command{
	Name:      "write",
	Usage:     "write a fixture to a cache file",
	ArgsUsage: "<fixture-name> <output-path>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		name := cmd.Args().Get(0)
		out := cmd.Args().Get(1)
		if name == "" || out == "" {
			return fmt.Errorf("usage: fluxvm cache write <fixture-name> <output-path>")
		}

		program, err := loadFixture(name)
		if err != nil {
			return err
		}

		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()

		if err := cache.WriteProgram(f, fixtureCacheKey(name), nil, program); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		fmt.Printf("wrote %s (%s fixture)\n", out, name)
		return nil
	},
}

var cacheInspectCommand = &cli.Command{
	Name:      "inspect",
	Usage:     "report a cache file's format validity and dependency status",
	ArgsUsage: "<path> <fixture-name>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		path := cmd.Args().Get(0)
		name := cmd.Args().Get(1)
		if path == "" || name == "" {
			return fmt.Errorf("usage: fluxvm cache inspect <path> <fixture-name>")
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		statuses, err := cache.ReadDepsWithStatus(f, cache.FormatVersion, fixtureCacheKey(name), cache.HashFile)
		if err != nil {
			fmt.Printf("%s: invalid (%v)\n", path, err)
			return nil
		}
		fmt.Printf("%s: format OK, %d dependencies\n", path, len(statuses))
		for _, s := range statuses {
			state := "valid"
			if !s.StillValid {
				state = "STALE"
			}
			fmt.Printf("  %s: %s\n", s.Path, state)
		}
		return nil
	},
}

var cacheClearCommand = &cli.Command{
	Name:      "clear",
	Usage:     "remove every *.fxbc file in a directory",
	ArgsUsage: "<dir>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		dir := cmd.Args().First()
		if dir == "" {
			return fmt.Errorf("usage: fluxvm cache clear <dir>")
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		removed := 0
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".fxbc" {
				continue
			}
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
			removed++
		}
		fmt.Printf("removed %d cache file(s) from %s\n", removed, dir)
		return nil
	},
}
