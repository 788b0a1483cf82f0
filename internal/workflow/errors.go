package workflow

import (
	"context"
	"errors"
	"strings"

	"github.com/rbright/vakil/internal/capture"
	"github.com/rbright/vakil/internal/domain"
	"github.com/rbright/vakil/internal/legalapi"
)

// Classify maps an operation error onto the failure shown to the user.
// Service messages pass through verbatim; fallback names anything unrecognized.
func Classify(err error, fallback domain.ErrorKind) domain.Failure {
	if err == nil {
		return domain.Failure{Kind: fallback}
	}

	var failure domain.Failure
	if errors.As(err, &failure) {
		return failure
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.Failure{Kind: domain.ErrorTimeout, Message: "the legal research service did not respond in time"}
	case errors.Is(err, capture.ErrPermission), errors.Is(err, capture.ErrPermissionRequired):
		return domain.Failure{Kind: domain.ErrorPermission, Message: err.Error()}
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return domain.Failure{Kind: domain.ErrorDeviceUnavailable, Message: err.Error()}
	case errors.Is(err, legalapi.ErrValidation):
		return domain.Failure{Kind: domain.ErrorValidation, Message: strings.TrimPrefix(err.Error(), legalapi.ErrValidation.Error()+": ")}
	}

	if svcErr, ok := legalapi.AsServiceError(err); ok {
		kind := svcErr.Kind
		if kind == "" {
			kind = fallback
		}
		return domain.Failure{Kind: kind, Message: svcErr.Message}
	}
	return domain.Failure{Kind: fallback, Message: err.Error()}
}
