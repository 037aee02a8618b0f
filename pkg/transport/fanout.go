package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/pkg/fault"
)

// RaceFirst tries candidates in random order, one at a time, and returns the
// first successful result.
//
// A business fault (the endpoint understood and rejected the request) ends the
// race immediately since another replica would answer the same. Otherwise the
// race fails only once every candidate has failed, with the last error.
func RaceFirst[T any](ctx context.Context, candidates []string, fn func(ctx context.Context, base string) (T, error)) (T, error) {
	var zero T
	if len(candidates) == 0 {
		return zero, fault.New(fault.MissingData, "no endpoints available")
	}

	order := shuffled(candidates)

	var lastErr error
	for _, base := range order {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx, base)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if fault.IsBusiness(err) || fault.IsDataInput(err) {
			return zero, err
		}
		logger.Debug("Endpoint %s failed, trying next candidate: %v", base, err)
	}

	return zero, fault.Wrapf(lastErr, "all %d endpoints failed", len(order))
}

// Quorum runs fn against enough candidates to reach a majority.
//
// The first majority-sized group runs concurrently. If some of them fail, the
// remaining candidates are tried one at a time until the majority is reached
// or the candidates are exhausted.
func Quorum(ctx context.Context, candidates []string, fn func(ctx context.Context, base string) error) error {
	if len(candidates) == 0 {
		return fault.New(fault.MissingData, "no endpoints available")
	}

	order := shuffled(candidates)
	majority := len(order)/2 + 1

	var (
		mu        sync.Mutex
		successes int
		errs      []error
		wg        sync.WaitGroup
	)

	for _, base := range order[:majority] {
		wg.Add(1)
		go func(base string) {
			defer wg.Done()
			err := fn(ctx, base)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", base, err))
				return
			}
			successes++
		}(base)
	}
	wg.Wait()

	for _, base := range order[majority:] {
		if successes >= majority {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, base); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", base, err))
			continue
		}
		successes++
	}

	if successes >= majority {
		if len(errs) > 0 {
			logger.Warn("Quorum reached with %d/%d endpoints, %d failed", successes, len(order), len(errs))
		}
		return nil
	}

	return fault.Wrapf(errors.Join(errs...), "quorum not reached: %d/%d succeeded, %d required",
		successes, len(order), majority)
}

func shuffled(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
