// Package storage persists finished reports: to the local filesystem, to a
// MinIO bucket, and to PostgreSQL.
package storage

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mikeyg42/videoscope/internal/report"
)

// StorageError represents a storage operation error
type StorageError struct {
	Op         string
	Key        string
	Err        error
	StatusCode int
	Retryable  bool
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsAccessDenied returns true if the error indicates access was denied
func IsAccessDenied(err error) bool {
	var serr *StorageError
	if errors.As(err, &serr) {
		return serr.StatusCode == http.StatusForbidden
	}
	return false
}

// IsRetryable reports whether a later attempt could succeed.
func IsRetryable(err error) bool {
	var serr *StorageError
	if errors.As(err, &serr) {
		return serr.Retryable
	}
	return false
}

// Multi persists to every sink in order. A failing sink does not stop the
// others; all errors are returned combined.
type Multi struct {
	sinks  []namedSink
	logger *zap.Logger
}

type namedSink struct {
	name string
	sink report.Sink
}

// NewMulti returns an empty fan-out sink.
func NewMulti(logger *zap.Logger) *Multi {
	if logger == nil {
		logger = zap.L().Named("storage")
	}
	return &Multi{logger: logger}
}

// Add registers a sink under name.
func (m *Multi) Add(name string, s report.Sink) {
	m.sinks = append(m.sinks, namedSink{name: name, sink: s})
}

// Len returns the number of registered sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Persist implements report.Sink.
func (m *Multi) Persist(ctx context.Context, r *report.Report) error {
	var errs error
	for _, ns := range m.sinks {
		if err := ns.sink.Persist(ctx, r); err != nil {
			m.logger.Error("report sink failed", zap.String("sink", ns.name), zap.String("run_id", r.RunID), zap.Error(err))
			errs = multierr.Append(errs, &StorageError{Op: "persist", Key: ns.name, Err: err, Retryable: IsRetryable(err)})
			continue
		}
		m.logger.Info("report persisted", zap.String("sink", ns.name), zap.String("run_id", r.RunID))
	}
	return errs
}
