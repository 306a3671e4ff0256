package reconstruct

import "time"

// Options configures a Reconstructor. Use the With* functions with New.
type Options struct {
	WorkerCount int
	// MaxAttempts bounds how many times a single FileEntry may be assigned
	// before it is given up as FatalError, resolving the source's
	// unbounded-retry TODO with a concrete default.
	MaxAttempts int
	PollInterval time.Duration
	RandIndex    func(n int) int
}

// Option mutates an Options value, following the teacher's functional
// options convention.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		WorkerCount:  16,
		MaxAttempts:  5,
		PollInterval: 10 * time.Millisecond,
	}
}

// WithWorkerCount overrides the default 16-worker pool size.
func WithWorkerCount(n int) Option {
	return func(o *Options) { o.WorkerCount = n }
}

// WithMaxAttempts overrides the default bound of 5 assignment attempts per
// FileEntry before it is marked FatalError.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithPollInterval overrides the scheduler's between-rounds sleep.
func WithPollInterval(d time.Duration) Option {
	return func(o *Options) { o.PollInterval = d }
}

// WithRandIndex overrides the source of randomness used for uniform mirror
// selection; tests use this to make selection deterministic.
func WithRandIndex(f func(n int) int) Option {
	return func(o *Options) { o.RandIndex = f }
}
