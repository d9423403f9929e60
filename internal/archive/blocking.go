package archive

import (
	"context"
	"time"
)

// WaitForAppend blocks until a new append occurs, the timeout elapses or ctx
// ends. It returns true if woken by an append. A timeout <= 0 waits for an
// append or ctx only.
func (l *Log) WaitForAppend(ctx context.Context, timeout time.Duration) bool {
	l.mu.Lock()
	ch := l.notifyCh
	l.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-ch:
		return true
	case <-expired:
		return false
	case <-ctx.Done():
		return false
	}
}
