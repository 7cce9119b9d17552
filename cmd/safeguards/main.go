// Package main is the entry point for the safeguards binary.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/polisai/safeguards/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], cli.Streams{Out: os.Stdout, Err: os.Stderr})
	stop()
	os.Exit(code)
}
