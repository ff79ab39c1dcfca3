package utils

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext returns a context cancelled on SIGINT/SIGTERM, the same
// signal set the teacher's shmon/hpmon daemons install a sigHandler
// goroutine for, collapsed into the context.CancelFunc idiom §9 calls for
// in place of scattered global "asked to stop" state.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()
	return ctx
}
