package httpapi

import (
	"errors"
	"net/http"

	"llamagate/internal/proxy"
	"llamagate/internal/supervisor"
)

// ErrorResponse is the OpenAI-compatible error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the message, type and optional machine-readable code.
type ErrorDetail struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param,omitempty"`
	Code    *string `json:"code,omitempty"`
}

// Error type strings, matching the OpenAI API's documented values.
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeNotFound       = "not_found_error"
	ErrorTypeServerError    = "server_error"
	ErrorTypeUnavailable    = "service_unavailable_error"
	ErrorTypeGatewayTimeout = "gateway_timeout_error"
)

func newErrorResponse(errType, message string, param, code *string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Message: message, Type: errType, Param: param, Code: code}}
}

func newInvalidRequestError(message, param string) ErrorResponse {
	p := param
	return newErrorResponse(ErrorTypeInvalidRequest, message, &p, nil)
}

func newNotFoundError(message string) ErrorResponse {
	return newErrorResponse(ErrorTypeNotFound, message, nil, nil)
}

func newServerError(message string) ErrorResponse {
	return newErrorResponse(ErrorTypeServerError, message, nil, nil)
}

func newServiceUnavailableError(message string) ErrorResponse {
	return newErrorResponse(ErrorTypeUnavailable, message, nil, nil)
}

func newGatewayTimeoutError(message string) ErrorResponse {
	return newErrorResponse(ErrorTypeGatewayTimeout, message, nil, nil)
}

// httpStatusCode maps an ErrorResponse to the HTTP status it should be
// written with.
func httpStatusCode(e ErrorResponse) int {
	switch e.Error.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// translateError converts a supervisor/proxy error into the OpenAI-shaped
// ErrorResponse a client should see. An unknown model is the client's
// mistake (404); a worker that is not running is reported as 503;
// everything else that goes wrong past name resolution — a vanished file,
// a failed load, a crashed or timed-out worker — is the gateway's (500
// with the underlying message).
func translateError(err error) ErrorResponse {
	var unknownModel *supervisor.UnknownModelError
	if errors.As(err, &unknownModel) {
		return newNotFoundError(err.Error())
	}

	var workerNotRunning *proxy.WorkerNotRunningError
	if errors.As(err, &workerNotRunning) {
		return newServiceUnavailableError(err.Error())
	}

	return newServerError(err.Error())
}
