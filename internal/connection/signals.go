package connection

import (
	"context"
	"os"
	"syscall"
)

// FollowSignals feeds SetOnline from process signals until ctx is done:
// SIGUSR1 marks the network down, SIGUSR2 marks it back up. Operators and
// host network hooks use it in place of a platform connectivity callback.
func (m *Monitor) FollowSignals(ctx context.Context, sigs <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				m.log.Info("network marked offline by signal")
				m.SetOnline(false)
			case syscall.SIGUSR2:
				m.log.Info("network marked online by signal")
				m.SetOnline(true)
			}
		}
	}
}
