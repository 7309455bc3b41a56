// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

package backoff

import (
	"context"
	"fmt"
	"sync"
	"time"

	cenkalti "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Config parameterizes an exponential backoff schedule.
type Config struct {
	// Name identifies the operation being retried, for logging.
	Name string

	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration

	// Multiplier scales the interval after each attempt.
	Multiplier float64

	// MaxInterval caps the interval regardless of Multiplier.
	MaxInterval time.Duration

	// MaxAttempts is the total number of attempts (including the first),
	// after which the operation is treated as a permanent failure.
	MaxAttempts uint64
}

// DefaultConfig returns the schedule used for stat-binary invocation and
// per-scan lifecycle backoff: initial 1s, factor 2, cap 60s, 5 attempts.
func DefaultConfig(name string) Config {
	return Config{
		Name:            name,
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxInterval:     60 * time.Second,
		MaxAttempts:     5,
	}
}

// FileConfig returns the schedule used for a single file's copy/verify
// retry and for Dashboard registration: same curve, but only 3 attempts
// before the file (or registration) is given up for this pass.
func FileConfig(name string) Config {
	cfg := DefaultConfig(name)
	cfg.MaxAttempts = 3
	return cfg
}

func (c Config) toExponentialBackOff() *cenkalti.ExponentialBackOff {
	eb := cenkalti.NewExponentialBackOff()
	eb.InitialInterval = c.InitialInterval
	eb.Multiplier = c.Multiplier
	eb.MaxInterval = c.MaxInterval
	eb.MaxElapsedTime = 0 // attempts are bounded by MaxAttempts, not elapsed time
	eb.RandomizationFactor = 0
	return eb
}

// BackoffManager tracks repeated failures for a single long-lived unit
// of work (a scan, a file) and decides when a transient error has
// exhausted its retry budget and must be escalated to permanent.
type BackoffManager struct {
	mu        sync.Mutex
	cfg       Config
	logger    *zap.SugaredLogger
	attempts  uint64
	lastError error
}

// NewBackoffManager creates a BackoffManager for the given schedule.
func NewBackoffManager(cfg Config, logger *zap.SugaredLogger) *BackoffManager {
	return &BackoffManager{cfg: cfg, logger: logger}
}

// SetError records a failure and returns true once the configured
// MaxAttempts has been reached or err is already a permanent category.
func (m *BackoffManager) SetError(err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		m.attempts = 0
		m.lastError = nil
		return false
	}

	m.attempts++
	m.lastError = err

	if IsPermanentError(err) || m.attempts >= m.cfg.MaxAttempts {
		m.lastError = fmt.Errorf("%s: %w (%s)", PermanentFailureError, err, m.cfg.Name)
		if m.logger != nil {
			m.logger.Errorw("permanent failure after retry budget exhausted",
				"operation", m.cfg.Name, "attempts", m.attempts, "error", err)
		}
		return true
	}

	if m.logger != nil {
		m.logger.Warnw("transient error, will retry",
			"operation", m.cfg.Name, "attempt", m.attempts, "maxAttempts", m.cfg.MaxAttempts, "error", err)
	}
	return false
}

// GetLastError returns the last error recorded, if any.
func (m *BackoffManager) GetLastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// Attempts returns the number of consecutive failures recorded so far.
func (m *BackoffManager) Attempts() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Reset clears the failure count, e.g. after a successful attempt.
func (m *BackoffManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = 0
	m.lastError = nil
}

// Retry runs fn according to cfg's exponential schedule, stopping early
// if fn returns a CategoryPermanent error or ctx is cancelled. attempt
// is 1-indexed. The last error is returned if all attempts fail.
func Retry(ctx context.Context, cfg Config, logger *zap.SugaredLogger, fn func(attempt int) error) error {
	eb := cfg.toExponentialBackOff()

	var maxRetries uint64
	if cfg.MaxAttempts > 0 {
		maxRetries = cfg.MaxAttempts - 1
	}

	withRetries := cenkalti.WithMaxRetries(eb, maxRetries)
	withCtx := cenkalti.WithContext(withRetries, ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if IsPermanentError(err) {
			return cenkalti.Permanent(err)
		}
		if logger != nil {
			logger.Debugw("retrying after error", "operation", cfg.Name, "attempt", attempt, "error", err)
		}
		return err
	}

	return cenkalti.Retry(operation, withCtx)
}
