package signals

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mudler/xlog"
)

var (
	signalHandlers      []func()
	signalHandlersMutex sync.Mutex
	signalHandlersOnce  sync.Once
	exitCode            = func() int { return 0 }
)

// RegisterGracefulTerminationHandler runs fn when the process receives
// SIGINT or SIGTERM. Handlers run in registration order, then the
// process exits. A second signal while handlers run exits immediately.
func RegisterGracefulTerminationHandler(fn func()) {
	signalHandlersMutex.Lock()
	signalHandlers = append(signalHandlers, fn)
	signalHandlersMutex.Unlock()

	signalHandlersOnce.Do(func() {
		c := make(chan os.Signal, 2)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		go signalHandler(c)
	})
}

// SetExitCode sets the function consulted for the status passed to os.Exit
// once the handlers are done.
func SetExitCode(fn func() int) {
	signalHandlersMutex.Lock()
	defer signalHandlersMutex.Unlock()
	exitCode = fn
}

func signalHandler(c chan os.Signal) {
	sig := <-c
	xlog.Info("termination signal received, shutting down", "signal", sig.String())

	go func() {
		sig := <-c
		xlog.Warn("second termination signal received, exiting now", "signal", sig.String())
		os.Exit(1)
	}()

	signalHandlersMutex.Lock()
	handlers := append([]func(){}, signalHandlers...)
	code := exitCode
	signalHandlersMutex.Unlock()

	for _, fn := range handlers {
		fn()
	}

	os.Exit(code())
}
