package apierrors

import "errors"

// APIError is the only error shape that crosses the service boundary.
// Handlers translate it to a status code and a stable machine-readable code;
// everything else is logged and collapsed to a 500.
type APIError struct {
	Status int
	Code   string
}

func (e *APIError) Error() string {
	return e.Code
}

func NewAPIError(status int, code string) *APIError {
	return &APIError{Status: status, Code: code}
}

// AsAPIError unwraps err into an APIError if it is one.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

var (
	ErrGenerateAccessTokenFailed  = NewAPIError(500, "GENERATE_ACCESS_TOKEN_FAILED")
	ErrGenerateRefreshTokenFailed = NewAPIError(500, "GENERATE_REFRESH_TOKEN_FAILED")
)
