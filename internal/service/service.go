// Package service implements the application operations behind the API
// surface: entity CRUD, run creation and resumption, and cancellation. All
// run mutations go through version-checked store transitions.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/assistantd/assistantd/internal/observability"
	"github.com/assistantd/assistantd/internal/queue"
	"github.com/assistantd/assistantd/internal/storage"
)

// ValidationError marks a caller mistake: rejected synchronously with no
// state mutation, surfaced as a 400-class response.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a caller mistake.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Service exposes the application operations.
type Service struct {
	stores    *storage.Set
	queue     queue.Queue
	logger    *observability.Logger
	runExpiry time.Duration
	now       func() int64
}

// Options configures the service.
type Options struct {
	Stores *storage.Set
	Queue  queue.Queue
	Logger *observability.Logger

	// RunExpiry is added to the creation time to set each run's deadline.
	RunExpiry time.Duration

	// Now returns the current unix time; nil uses the wall clock.
	Now func() int64
}

// New creates the service.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.LogConfig{})
	}
	if opts.RunExpiry == 0 {
		opts.RunExpiry = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = func() int64 { return time.Now().Unix() }
	}
	return &Service{
		stores:    opts.Stores,
		queue:     opts.Queue,
		logger:    opts.Logger,
		runExpiry: opts.RunExpiry,
		now:       opts.Now,
	}
}
