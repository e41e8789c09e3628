//go:build unix

package reactor

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// poll waits for readiness on fds. A negative timeout blocks until an event arrives.
// Sub-millisecond timeouts are rounded up so a pending timer never causes a busy loop.
func poll(fds []unix.PollFd, timeout time.Duration) (int, error) {
	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	for {
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return n, err
	}
}
