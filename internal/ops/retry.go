package ops

import (
	"context"
	"math/rand"
	"time"

	"github.com/arkstor/gatewayfs/driver"
	"github.com/arkstor/gatewayfs/internal/applog"
)

// withRetry runs op against drv, applying the engine's retry policy
// from spec §7: Transient retries at most twice with exponential
// backoff (base 500ms, jitter +/-20%); RateLimited honors Retry-After
// if given, else backs off exponentially up to 3 attempts; Auth tries
// drv's refresh hook once (if it implements driver.AuthRefresher) and
// retries once more; every other kind surfaces immediately. Grounded
// on the teacher's fs.Pacer, a retry-with-backoff wrapper around
// driver calls, adapted from a connections-wide pacer to a per-call
// helper scoped to the engine's classified error kinds.
func withRetry(ctx context.Context, drv driver.Driver, baseBackoff time.Duration, op func() error) error {
	if baseBackoff <= 0 {
		baseBackoff = 500 * time.Millisecond
	}

	authRetried := false
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		cerr := classify(err)

		switch cerr.Kind {
		case driver.KindAuth:
			if authRetried {
				return cerr
			}
			refresher, ok := drv.(driver.AuthRefresher)
			if !ok {
				return cerr
			}
			if rerr := refresher.RefreshToken(ctx); rerr != nil {
				return cerr
			}
			authRetried = true
			applog.Infof(applog.Fields{"driver": drv.Name()}, "refreshed auth token, retrying")
			continue

		case driver.KindRateLimited:
			if attempt >= 3 {
				return cerr
			}
			wait := backoffFor(cerr, attempt, baseBackoff)
			if !sleepOrDone(ctx, wait) {
				return ctx.Err()
			}
			continue

		case driver.KindTransient:
			if attempt >= 2 {
				return cerr
			}
			wait := jitter(baseBackoff * time.Duration(1<<attempt))
			if !sleepOrDone(ctx, wait) {
				return ctx.Err()
			}
			continue

		default:
			return cerr
		}
	}
}

func backoffFor(cerr *driver.Error, attempt int, base time.Duration) time.Duration {
	if cerr.RetryAfter > 0 {
		return time.Duration(cerr.RetryAfter) * time.Second
	}
	return jitter(base * time.Duration(1<<attempt))
}

// jitter applies +/-20% jitter to d, per spec §4.4.1's retry policy.
func jitter(d time.Duration) time.Duration {
	delta := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
