// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"time"
)

// Attempt is one try of a retried operation. retry reports whether a
// failure is worth another try.
type Attempt func(n int) (retry bool, err error)

// delay returns the wait before attempt n (n >= 1): base, 2*base, 4*base...
func delay(base time.Duration, n int) time.Duration {
	return base << (n - 1)
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry aborted: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

// RetryWithBackoff runs op until it succeeds, reports a permanent failure, or
// maxAttempts tries are used; op always runs at least once. The wait doubles
// after each retried failure and is cut short by ctx. The last error is
// returned when attempts run out.
func RetryWithBackoff(ctx context.Context, maxAttempts int, baseBackoff time.Duration, op Attempt) error {
	attempts := max(maxAttempts, 1)
	for n := 0; ; n++ {
		retry, err := op(n)
		switch {
		case err == nil:
			return nil
		case !retry, n+1 >= attempts:
			return err
		}
		if err := sleep(ctx, delay(baseBackoff, n+1)); err != nil {
			return err
		}
	}
}
