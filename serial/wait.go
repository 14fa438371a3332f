package serial

import (
	"context"
	"fmt"
	"os"
	"time"
)

const waitPoll = 500 * time.Millisecond

// WaitForSerial polls for the device node at path until it exists, the
// timeout expires or ctx is done. USB adapters can take a few seconds to
// appear after boot.
func WaitForSerial(ctx context.Context, path string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(waitPoll)
	defer ticker.Stop()
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("serial port %s not found after %v: %w", path, timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}
