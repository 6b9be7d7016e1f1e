package dirstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/calvinalkan/dirstore/internal/vfs"
)

// lockRetryInterval is the poll interval while another process holds a
// sentinel.
const lockRetryInterval = 10 * time.Millisecond

// acquireFileLock takes the cross-process advisory lock for a collection by
// exclusively creating its sentinel file with this process's pid inside.
//
// A sentinel owned by a process that no longer exists is reclaimed. A
// sentinel owned by a live process is polled until the timeout, then the
// acquisition fails hard with [ErrLockTimeout]. The returned release func
// removes the sentinel and is safe to call more than once.
//
// Two waiters can both observe a dead holder and race to reclaim; the
// second remove may then hit a sentinel freshly created by the first. The
// window is inherent to pid-sentinel schemes and accepted here: reclaim is
// for crash recovery, not a fairness mechanism.
func acquireFileLock(ctx context.Context, fsys vfs.FS, path string, timeout time.Duration, log *slog.Logger) (func(), error) {
	deadline := time.Now().Add(timeout)

	for {
		release, err := tryCreateSentinel(fsys, path)
		if err == nil {
			return release, nil
		}

		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to create lock sentinel %s: %w", path, err)
		}

		pid, known := readSentinelPID(fsys, path)
		if known && !pidAlive(pid) {
			log.Warn("reclaiming lock sentinel from dead process", "path", path, "pid", pid)
			_ = fsys.Remove(path)

			continue
		}

		if time.Now().After(deadline) {
			if known {
				return nil, fmt.Errorf("%w: %s held by pid %d", ErrLockTimeout, path, pid)
			}

			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, path)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func tryCreateSentinel(fsys vfs.FS, path string) (func(), error) {
	f, err := fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}

	_, werr := f.Write([]byte(strconv.Itoa(os.Getpid())))
	cerr := f.Close()

	if err := errors.Join(werr, cerr); err != nil {
		_ = fsys.Remove(path)

		return nil, fmt.Errorf("failed to write lock sentinel: %w", err)
	}

	var once sync.Once

	release := func() {
		once.Do(func() {
			_ = fsys.Remove(path)
		})
	}

	return release, nil
}

// readSentinelPID reads the holder's pid from a sentinel. A missing or
// not-yet-complete sentinel returns known=false; the caller keeps polling
// and the timeout is the backstop.
func readSentinelPID(fsys vfs.FS, path string) (int, bool) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	return pid, true
}

// pidAlive probes a process with signal 0. EPERM means the process exists
// but belongs to someone else, so it counts as alive.
func pidAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}

	return errors.Is(err, syscall.EPERM)
}
