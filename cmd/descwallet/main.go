// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
)

func main() {
	// The parser prints its own errors, including those returned by
	// commands.
	if err := run(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

// run parses the command line and executes the selected command.
func run() error {
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer cancel()

	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	cfg := defaultConfig()
	a := &app{cfg: cfg, ctx: ctx}

	parser := flags.NewParser(cfg, flags.Default)
	for _, cmd := range newCommands(a) {
		if err := cmd.Register(parser); err != nil {
			return err
		}
	}

	// The config is finished once the command line is parsed, right
	// before the command runs.
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if err := finishConfig(cfg); err != nil {
			return err
		}

		if cmd == nil {
			return nil
		}

		return cmd.Execute(args)
	}

	if err := loadConfig(cfg, parser, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	_, err := parser.Parse()

	return err
}
