package guardrail

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// APIError is a service-side failure returned by Bedrock
type APIError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Throttled reports whether the service rejected the call for rate reasons
func (e *APIError) Throttled() bool {
	return e.Code == "ThrottlingException" || e.Code == "ServiceQuotaExceededException"
}

func wrapError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			Op:      op,
			Code:    apiErr.ErrorCode(),
			Message: apiErr.ErrorMessage(),
			Err:     err,
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
