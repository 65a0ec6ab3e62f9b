package sigcontext

import (
	"context"
	"os"
	"os/signal"
	"sync"
)

// WithSignalCancel derives a context that cancels when the process receives
// any of sigs. The returned cancel releases the installed signal handlers and
// must be called; once it runs, signal handling reverts to the runtime
// default, so a second SIGINT after shutdown begins will terminate the
// process.
func WithSignalCancel(ctx context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	sigctx, ctxcancel := context.WithCancel(ctx)

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, sigs...)

	var once sync.Once
	cancel := func() {
		ctxcancel()
		once.Do(func() {
			signal.Stop(sigchan)
			close(sigchan)
		})
	}

	// Watch for signals until the caller cancels, which releases the
	// channel and notification registration.
	go func() {
		for {
			select {
			case <-sigctx.Done():
				ctxcancel()
				return
			case _, ok := <-sigchan:
				if !ok {
					continue
				}
				ctxcancel()
			}
		}
	}()

	return sigctx, cancel
}
