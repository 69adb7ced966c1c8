package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"castline/internal/repo"
	"castline/internal/status"
	"castline/internal/store"
)

// ClassResult is the per-entity-class outcome of a chunked write.
type ClassResult struct {
	Class     EntityClass `json:"entityClass"`
	Matched   int         `json:"matched"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Batches   int         `json:"batches"`
	Error     string      `json:"error,omitempty"`
}

func (e Engine) attempts() int {
	if n := e.config().Retry.Attempts; n > 0 {
		return n
	}
	return 1
}

func (e Engine) newBackOff() backoff.BackOff {
	if e.Backoff != nil {
		return e.Backoff()
	}
	r := e.config().Retry
	b := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		b.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		b.MaxInterval = r.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// retryable reports whether a failed batch may succeed on a later attempt.
// Contract violations and missing documents never will.
func retryable(err error) bool {
	switch {
	case errors.Is(err, store.ErrBatchTooLarge),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, repo.ErrMalformed),
		errors.Is(err, status.ErrIllegalTransition),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// commitChunk writes one atomic batch, retrying transient failures with
// backoff up to the configured attempt count.
func (e Engine) commitChunk(ctx context.Context, class EntityClass, chunk int, mutations []store.Mutation) error {
	attempt := 0
	op := func() error {
		attempt++
		err := e.Store.BatchWrite(ctx, mutations)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		e.Metrics.BatchRetried(string(class))
		e.logger().Warn("batch write failed; retrying",
			"entity_class", class, "chunk", chunk, "attempt", attempt, "wait", wait, "err", err)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), uint64(e.attempts()-1)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		e.Metrics.BatchFailed(string(class))
		e.logger().Error("batch write abandoned",
			"entity_class", class, "chunk", chunk, "attempts", attempt, "mutations", len(mutations), "err", err)
		return err
	}
	e.Metrics.BatchCommitted(string(class), len(mutations))
	return nil
}

// writeClass commits mutations in sequential chunks at the store ceiling.
// The first chunk that cannot be committed stops the class: it and every
// later chunk count as failed, earlier chunks stay committed. Cancellation
// is observed between chunks only.
func (e Engine) writeClass(ctx context.Context, class EntityClass, mutations []store.Mutation) (ClassResult, error) {
	res := ClassResult{Class: class, Matched: len(mutations)}
	for i, chunk := range store.Chunk(mutations, e.Store.BatchLimit()) {
		err := ctx.Err()
		if err == nil {
			err = e.commitChunk(ctx, class, i, chunk)
		}
		if err != nil {
			res.Failed = len(mutations) - res.Succeeded
			incomplete := &CascadeIncompleteError{Class: class, Succeeded: res.Succeeded, Failed: res.Failed, Err: err}
			res.Error = incomplete.Error()
			return res, incomplete
		}
		res.Succeeded += len(chunk)
		res.Batches++
	}
	return res, nil
}

// failClass records an entity class that could not be loaded at all.
func failClass(class EntityClass, err error) (ClassResult, error) {
	incomplete := &CascadeIncompleteError{Class: class, Err: err}
	return ClassResult{Class: class, Error: incomplete.Error()}, incomplete
}
