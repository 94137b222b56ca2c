package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockRetryInterval  = 25 * time.Millisecond
	defaultLockTimeout = 5 * time.Second
)

// lockFile takes an exclusive advisory lock on path+".lock", retrying until
// timeout. The kernel drops the lock when its holder exits, so a crashed
// process never leaves the file locked.
func lockFile(path string, timeout time.Duration) (*flock.Flock, error) {
	fl := flock.New(path + ".lock")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", fl.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%s is held by another process", fl.Path())
	}
	return fl, nil
}
