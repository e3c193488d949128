package story

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyResponse means the generation call succeeded but returned no usable content
	ErrEmptyResponse = errors.New("generation returned an empty response")

	// ErrMalformedGeneration means no dialogue line survived normalization
	ErrMalformedGeneration = errors.New("generated text has no dialogue lines")

	// ErrRejectedTopic means the generation service refused the request for
	// this topic, e.g. it exceeds the model's context length
	ErrRejectedTopic = errors.New("generation service rejected the topic")

	// ErrResourceMismatch means the synthesized output does not match the dialogue
	ErrResourceMismatch = errors.New("synthesized audio does not match dialogue")

	// ErrSynthesisTimeout means the fan-out did not complete before its deadline
	ErrSynthesisTimeout = errors.New("voice synthesis timed out")

	// ErrQuotaReached is a pacing signal: the class already has enough stories
	ErrQuotaReached = errors.New("story quota reached for priority class")

	// ErrNotFound is returned by repositories for unknown ids
	ErrNotFound = errors.New("not found")
)

// ServiceError is a transient failure of an external generation service
type ServiceError struct {
	Service string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s service error: %v", e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// FatalError is a failure that retrying cannot fix, e.g. rejected credentials
type FatalError struct {
	Service string
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s fatal error: %v", e.Service, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// RepositoryError wraps a persistence failure
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// NewRepositoryError wraps err unless it is nil or ErrNotFound
func NewRepositoryError(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &RepositoryError{Op: op, Err: err}
}

// IsServiceError reports whether err is a transient service failure
func IsServiceError(err error) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr)
}

// IsFatal reports whether err must stop the pipeline
func IsFatal(err error) bool {
	var fatalErr *FatalError
	return errors.As(err, &fatalErr)
}

// IsRepositoryError reports whether err came from a repository
func IsRepositoryError(err error) bool {
	var repoErr *RepositoryError
	return errors.As(err, &repoErr)
}
