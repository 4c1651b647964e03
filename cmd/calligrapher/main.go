// cmd/calligrapher/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// version is stamped by the release build with -ldflags "-X main.version=...".
var version = "0.3.0"

// interruptGrace is how long a command may take to unwind after Ctrl+C.
// A prompt blocked on stdin never notices the cancellation.
const interruptGrace = 500 * time.Millisecond

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		stop()
		time.Sleep(interruptGrace)
		os.Exit(exitInterrupted)
	}()

	os.Exit(execute(ctx, os.Args[1:]))
}
