package legalapi

import (
	"errors"

	"github.com/rbright/vakil/internal/domain"
)

var (
	// ErrValidation indicates a request was rejected locally before any network call.
	ErrValidation = errors.New("validation failed")
	// ErrEmptyArtifact indicates a transcription was requested for a recording with no audio.
	ErrEmptyArtifact = errors.New("recording is empty; nothing to transcribe")
)

// ServiceError is a failed call to the legal research service.
// Error returns the service-provided message verbatim.
type ServiceError struct {
	Kind      domain.ErrorKind
	Message   string
	Endpoint  string
	Status    int
	RequestID string
	Err       error
}

func (e *ServiceError) Error() string {
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// AsServiceError extracts a *ServiceError from err's chain.
func AsServiceError(err error) (*ServiceError, bool) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}
