package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"

	"github.com/jakobhellermann/wasm-server-runner/internal/artifact"
	"github.com/jakobhellermann/wasm-server-runner/internal/config"
	"github.com/jakobhellermann/wasm-server-runner/internal/logging"
	"github.com/jakobhellermann/wasm-server-runner/internal/server"
)

var (
	errMissingInput = errors.New("expected wasm file as argument")
	errNotWasm      = errors.New("expected to be run with a wasm target")
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("wasm-server-runner", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: wasm-server-runner <file.wasm>")
		fmt.Fprintln(stderr)
		config.EnvHelp(stderr)
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	input, err := inputPath(fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fs.Usage()
		return 1
	}

	osFs := afero.NewOsFs()
	opts, err := config.Load(os.LookupEnv, osFs, input)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logger := logging.New(stderr, opts.LogLevel, logging.WithTargetLevels(opts.TargetLevels))
	slog.SetDefault(logger)

	output, err := artifact.Generate(ctx, osFs, input, artifact.Options{
		NoModule:         opts.NoModule,
		CompressionLevel: opts.Tunables.CompressionLevel,
		Logger:           logger,
	})
	if err != nil {
		logger.Error("failed to prepare wasm output", "input", input, "error", err)
		return 1
	}
	logger.Info(fmt.Sprintf("uncompressed wasm output is %s in size", prettySize(len(output.Binary))))

	if err := server.Run(ctx, opts, output, logger); err != nil {
		logger.Error("server failed", "error", err)
		return 1
	}
	return 0
}

// inputPath checks for exactly one argument naming a .wasm file.
func inputPath(args []string) (string, error) {
	if len(args) < 1 {
		return "", errMissingInput
	}
	if filepath.Ext(args[0]) != ".wasm" {
		return "", errNotWasm
	}
	return args[0], nil
}

func prettySize(bytes int) string {
	kb := float64(bytes) / 1024
	if kb < 1024 {
		return fmt.Sprintf("%.2fkb", kb)
	}
	return fmt.Sprintf("%.2fmb", kb/1024)
}
