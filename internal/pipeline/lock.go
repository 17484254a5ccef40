package pipeline

import (
	"fmt"
	"os"
	"syscall"
)

// AcquireLock takes the single-run lock by flocking path. ok=false means
// another live run on this host holds it; the caller should skip this
// invocation and let the next schedule tick retry. The kernel drops the
// flock when the holding process exits, so a run killed mid-flight leaves
// the file behind but never the lock: the next invocation reacquires it.
// The returned release func unlocks and removes the file.
//
// Overlapping invocations from different hosts are not covered; that risk
// is accepted for a single-host scheduler.
func AcquireLock(path string) (release func(), ok bool, err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("flock lock file: %w", err)
	}
	f.Truncate(0)
	fmt.Fprintf(f, "%d\n", os.Getpid())

	return func() {
		os.Remove(path)
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, true, nil
}
