package timer

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lthibault/jitterbug/v2"

	log "github.com/sirupsen/logrus"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

type Interval struct {
	Duration time.Duration
	Jitter   time.Duration
}

type tickerJitter struct {
	MaxJitter time.Duration
}

func (j tickerJitter) Jitter(d time.Duration) time.Duration {
	if j.MaxJitter == 0 {
		return d
	}

	// Clamp rather than abort, a misconfigured jitter must not take the node down
	maxJitter := j.MaxJitter
	if maxJitter >= d {
		maxJitter = d / 2
	}
	if maxJitter <= 0 {
		return d
	}

	return d + (time.Duration(rand.Int63n(int64(2*maxJitter))) - maxJitter)
}

// Runs the provided function periodically with a given duration. Exits when a context is cancelled or when f() returns an error.
// If immediate is set, f() is invoked once before the first tick.
func RunWithTicker(ctx context.Context, interval *Interval, immediate bool, f func(ctx context.Context) error) error {
	funcName := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()

	j := jitterbug.New(interval.Duration, &tickerJitter{MaxJitter: interval.Jitter})
	defer j.Stop()

	log.Debugf("RunWithTicker: running %s with interval %v (jitter %v)", funcName, interval.Duration, interval.Jitter)

	if immediate {
		if err := f(ctx); err != nil {
			log.Errorf("RunWithTicker: function %s returned error: %v", funcName, err)
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Debugf("RunWithTicker: context cancelled for %s", funcName)
			return ctx.Err()
		case <-j.C:
			if err := f(ctx); err != nil {
				log.Errorf("RunWithTicker: function %s returned error: %v", funcName, err)
				return err
			}
		}
	}
}

// Sleep pauses for d or until ctx is cancelled, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Upper bound for the retry delay when Backoff.Max is not set
const maxRetryDelay = time.Hour

type Backoff struct {
	Initial  time.Duration
	Max      time.Duration
	Attempts int // 0 means retry until ctx is cancelled
}

// policy turns b into an exponential schedule without randomization, bounded by Attempts and ctx.
func (b *Backoff) policy(ctx context.Context) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Initial
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxInterval = b.Max
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = maxRetryDelay
	}
	eb.MaxElapsedTime = 0

	var p backoff.BackOff = eb
	if b.Attempts > 0 {
		p = backoff.WithMaxRetries(eb, uint64(b.Attempts-1))
	}
	return backoff.WithContext(p, ctx)
}

// Retry calls f until it succeeds, the attempts are used up or ctx is cancelled.
// The delay between attempts doubles from Initial up to Max.
func Retry(ctx context.Context, b *Backoff, f func(ctx context.Context) error) error {
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return f(ctx)
	}, b.policy(ctx), func(err error, next time.Duration) {
		log.Warnf("Retry: attempt %d failed: %v; retrying in %v", attempt, err, next)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.Join(ErrRetriesExhausted, err)
}
