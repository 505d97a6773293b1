/*
linkprobe measures how much data a bidirectional serial link, such as a pair
of transparent radio modules, carries without loss or corruption.

It opens both ends of the link and runs full-duplex trials of growing size:

1. Each trial sends an independent random printable payload in each
direction at the same time and compares what arrived byte for byte

2. The payload size grows geometrically after every fully successful trial
until a trial fails or the maximum size is reached

The largest size that succeeded in both directions is reported together
with its theoretical transfer time at the configured baud rate.
*/
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"linkprobe/cmd"
)

func main() {
	ctx, stop := setupSignalHandling()
	defer stop()

	code := cmd.Execute(ctx)
	stop()
	os.Exit(code)
}

// setupSignalHandling cancels the returned context on SIGINT or SIGTERM so
// the running trial stops and the summary of completed trials is still
// printed.
func setupSignalHandling() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-signals:
			slog.Info("Received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(signals)
		cancel()
	}
}
