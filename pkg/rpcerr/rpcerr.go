// Package rpcerr defines the wire error codes exposed by the gateway and
// translates arbitrary errors into a code, an HTTP status, and a message.
package rpcerr

import (
	"context"
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Wire codes carried in error responses. Clients switch on these, so the
// strings are stable.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeTimeout            = "TIMEOUT"
	CodeConflict           = "CONFLICT"
	CodePreconditionFailed = "PRECONDITION_FAILED"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedMedia   = "UNSUPPORTED_MEDIA_TYPE"
	CodeUnprocessable      = "UNPROCESSABLE_CONTENT"
	CodeTooManyRequests    = "TOO_MANY_REQUESTS"
	CodeClientClosed       = "CLIENT_CLOSED_REQUEST"
	CodeParse              = "PARSE_ERROR"
	CodeInternal           = "INTERNAL_SERVER_ERROR"
)

// StatusClientClosedRequest is the nginx convention for a client that went
// away before the response could be written. net/http has no constant for it.
const StatusClientClosedRequest = 499

// ValidationMessage is the message reported for every input validation
// failure, regardless of how the underlying validator phrases it.
const ValidationMessage = "Input validation failed"

var statusByCode = map[string]int{
	CodeBadRequest:         http.StatusBadRequest,
	CodeUnauthorized:       http.StatusUnauthorized,
	CodeForbidden:          http.StatusForbidden,
	CodeNotFound:           http.StatusNotFound,
	CodeTimeout:            http.StatusRequestTimeout,
	CodeConflict:           http.StatusConflict,
	CodePreconditionFailed: http.StatusPreconditionFailed,
	CodePayloadTooLarge:    http.StatusRequestEntityTooLarge,
	CodeUnsupportedMedia:   http.StatusUnsupportedMediaType,
	CodeUnprocessable:      http.StatusUnprocessableEntity,
	CodeTooManyRequests:    http.StatusTooManyRequests,
	CodeClientClosed:       StatusClientClosedRequest,
	CodeParse:              http.StatusBadRequest,
	CodeInternal:           http.StatusInternalServerError,
}

var categoryByCode = map[string]goerrors.Category{
	CodeBadRequest:         goerrors.CategoryBadInput,
	CodeUnauthorized:       goerrors.CategoryAuth,
	CodeForbidden:          goerrors.CategoryAuth,
	CodeNotFound:           goerrors.CategoryNotFound,
	CodeTimeout:            goerrors.CategoryOperation,
	CodeConflict:           goerrors.CategoryConflict,
	CodePreconditionFailed: goerrors.CategoryBadInput,
	CodePayloadTooLarge:    goerrors.CategoryBadInput,
	CodeUnsupportedMedia:   goerrors.CategoryBadInput,
	CodeUnprocessable:      goerrors.CategoryBadInput,
	CodeTooManyRequests:    goerrors.CategoryRateLimit,
	CodeClientClosed:       goerrors.CategoryOperation,
	CodeParse:              goerrors.CategoryBadInput,
	CodeInternal:           goerrors.CategoryInternal,
}

var fallbackMessage = map[string]string{
	CodeNotFound:        "Not found",
	CodeTimeout:         "Request timed out",
	CodePayloadTooLarge: "Request body too large",
	CodeClientClosed:    "Client closed request",
	CodeInternal:        "Internal server error",
}

// StatusForCode maps a wire code to its HTTP status. Unknown codes map to
// http.StatusInternalServerError.
func StatusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New builds a coded error carrying code as its text code and the matching
// HTTP status as its numeric code.
func New(code, message string) error {
	return goerrors.New(message, categoryForCode(code)).
		WithCode(StatusForCode(code)).
		WithTextCode(code)
}

// Wrap attaches a wire code to an existing error while keeping it in the
// chain for callers that inspect the source.
func Wrap(err error, code, message string) error {
	return goerrors.Wrap(err, categoryForCode(code), message).
		WithCode(StatusForCode(code)).
		WithTextCode(code)
}

// Validation builds the error produced when request input fails validation.
// Each issue becomes a field error on the envelope so Normalize can report
// them individually.
func Validation(issues ...Issue) error {
	fields := make([]goerrors.FieldError, 0, len(issues))
	for _, issue := range issues {
		fields = append(fields, goerrors.FieldError{
			Field:   issue.Field,
			Message: issue.Message,
		})
	}
	return goerrors.NewValidation(ValidationMessage, fields...).
		WithCode(http.StatusBadRequest).
		WithTextCode(CodeBadRequest)
}

// Issue is one field-level validation failure reported to the client.
type Issue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Normalized is the flattened classification of an error: the wire code,
// HTTP status, client-facing message, and any validation issues.
type Normalized struct {
	Code    string
	Status  int
	Message string
	Issues  []Issue
}

// Normalize classifies err into a Normalized outcome. Rich envelopes keep
// their code and message, validation failures collapse to BAD_REQUEST with
// ValidationMessage plus per-field issues, oversized bodies become
// PAYLOAD_TOO_LARGE, context sentinels become TIMEOUT and
// CLIENT_CLOSED_REQUEST, and anything else becomes INTERNAL_SERVER_ERROR.
func Normalize(err error) Normalized {
	if err == nil {
		return Normalized{
			Code:    CodeInternal,
			Status:  http.StatusInternalServerError,
			Message: fallbackMessage[CodeInternal],
		}
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return Normalized{
			Code:    CodePayloadTooLarge,
			Status:  http.StatusRequestEntityTooLarge,
			Message: fallbackMessage[CodePayloadTooLarge],
		}
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		if rich.Category == goerrors.CategoryValidation {
			var issues []Issue
			for _, fieldErr := range rich.AllValidationErrors() {
				issues = append(issues, Issue{
					Field:   fieldErr.Field,
					Message: fieldErr.Message,
				})
			}
			return Normalized{
				Code:    CodeBadRequest,
				Status:  http.StatusBadRequest,
				Message: ValidationMessage,
				Issues:  issues,
			}
		}

		code := rich.TextCode
		if _, known := statusByCode[code]; !known {
			code = codeForCategory(rich.Category)
		}
		message := rich.Message
		if message == "" {
			message = defaultMessage(code)
		}
		return Normalized{
			Code:    code,
			Status:  StatusForCode(code),
			Message: message,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Normalized{
			Code:    CodeTimeout,
			Status:  http.StatusRequestTimeout,
			Message: fallbackMessage[CodeTimeout],
		}
	}
	if errors.Is(err, context.Canceled) {
		return Normalized{
			Code:    CodeClientClosed,
			Status:  StatusClientClosedRequest,
			Message: fallbackMessage[CodeClientClosed],
		}
	}

	return Normalized{
		Code:    CodeInternal,
		Status:  http.StatusInternalServerError,
		Message: fallbackMessage[CodeInternal],
	}
}

func categoryForCode(code string) goerrors.Category {
	if category, ok := categoryByCode[code]; ok {
		return category
	}
	return goerrors.CategoryInternal
}

func codeForCategory(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput:
		return CodeBadRequest
	case goerrors.CategoryAuth:
		return CodeUnauthorized
	case goerrors.CategoryNotFound:
		return CodeNotFound
	case goerrors.CategoryConflict:
		return CodeConflict
	case goerrors.CategoryRateLimit:
		return CodeTooManyRequests
	default:
		return CodeInternal
	}
}

func defaultMessage(code string) string {
	if message, ok := fallbackMessage[code]; ok {
		return message
	}
	return "Request failed"
}
