// Package lockfile guards a data directory against concurrent use by more
// than one daemon process.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rogpeppe/go-internal/lockedfile"
)

// ErrLocked is returned by [TryCreate] when another process holds the lock.
var ErrLocked = errors.New("lock file held by another process")

// Owner identifies the process holding a lock file.
type Owner struct {
	PID     int
	Host    string
	Process string
	Started time.Time
}

func currentOwner() Owner {
	host, _ := os.Hostname()
	procName := ""
	if len(os.Args) > 0 {
		procName = os.Args[0]
	}
	return Owner{
		PID:     os.Getpid(),
		Host:    host,
		Process: procName,
		Started: time.Now(),
	}
}

// LockFile holds an exclusive lock on a file until closed.
type LockFile struct {
	f     *lockedfile.File
	owner Owner
}

// Owner returns the owner data written to the lock file.
func (lf *LockFile) Owner() Owner {
	return lf.owner
}

// Path returns the path of the lock file.
func (lf *LockFile) Path() string {
	return lf.f.Name()
}

// Close releases the lock.
func (lf *LockFile) Close() error {
	if lf.f == nil {
		return fmt.Errorf("nil internal locked file")
	}
	return lf.f.Close()
}

// Create acquires the lock file, creating it and its parent dir if needed.
// It blocks until the lock is acquired or ctx is done.
func Create(ctx context.Context, filePath string) (*LockFile, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o0700); err != nil {
		return nil, err
	}
	cf := make(chan *lockedfile.File)
	cerr := make(chan error)
	go func() {
		f, err := lockedfile.Create(filePath)
		if err != nil {
			cerr <- err
		} else {
			cf <- f
		}
	}()

	select {
	case f := <-cf:
		// Errors writing the owner are not fatal: the lock is held.
		owner := currentOwner()
		fmt.Fprintf(f, "PID=%d\n", owner.PID)
		fmt.Fprintf(f, "Host=%q\n", owner.Host)
		fmt.Fprintf(f, "Process=%q\n", owner.Process)
		fmt.Fprintf(f, "Started=%s\n", owner.Started.Format(time.RFC3339))
		return &LockFile{f: f, owner: owner}, nil

	case err := <-cerr:
		return nil, err

	case <-ctx.Done():
		// The file may still open later. Close it if it does.
		go func() {
			select {
			case <-cerr:
			case f := <-cf:
				f.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// TryCreate attempts to acquire the lock file for at most wait. It returns
// ErrLocked when the lock is held by another process for the whole wait.
func TryCreate(ctx context.Context, filePath string, wait time.Duration) (*LockFile, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	lf, err := Create(ctx, filePath)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, filePath)
	}
	return lf, err
}
