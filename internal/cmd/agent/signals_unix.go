//go:build unix

package agent

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rzbill/hostlive/internal/runtime"
	logpkg "github.com/rzbill/hostlive/pkg/log"
)

// watchVisibility maps SIGUSR1 to background and SIGUSR2 to foreground for
// every instance.
func watchVisibility(ctx context.Context, insts []*runtime.Instance, logger logpkg.Logger) {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			foreground := sig == syscall.SIGUSR2
			SetVisibility(insts, foreground, time.Now())
			logger.Info("visibility changed", logpkg.Bool("foreground", foreground))
		}
	}
}
