package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/ideaforge/ideaforge/pkg/catalog"
	"github.com/ideaforge/ideaforge/pkg/model"
	"github.com/ideaforge/ideaforge/pkg/prompt"
	"github.com/ideaforge/ideaforge/pkg/stage"
	"github.com/ideaforge/ideaforge/pkg/storage"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id"`
}

// Error codes carried in ErrorDetail.Code.
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"
)

// ErrInternalServer is the generic failure used when nothing more specific
// can be said.
var ErrInternalServer = errors.New("internal server error")

// errorRule maps a class of errors to a status and code. Rules are tried
// in order, so narrower matches come first.
type errorRule struct {
	match  func(error) bool
	status int
	code   string
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

func as[T error]() func(error) bool {
	return func(err error) bool {
		var target T
		return errors.As(err, &target)
	}
}

var errorRules = []errorRule{
	{match: as[*storage.NotFoundError](), status: http.StatusNotFound, code: ErrCodeNotFound},
	{match: is(catalog.ErrAgentNotFound), status: http.StatusNotFound, code: ErrCodeNotFound},
	{match: is(catalog.ErrSystemAgent), status: http.StatusForbidden, code: ErrCodeForbidden},
	{match: is(catalog.ErrAgentExists), status: http.StatusConflict, code: ErrCodeConflict},
	{match: as[*model.ConfigurationError](), status: http.StatusBadRequest, code: ErrCodeValidationFailed},
	{match: as[*stage.PlanError](), status: http.StatusBadRequest, code: ErrCodeValidationFailed},
	{match: as[*prompt.ValidationError](), status: http.StatusBadRequest, code: ErrCodeValidationFailed},
	{match: as[*storage.StorageUnavailableError](), status: http.StatusServiceUnavailable, code: ErrCodeServiceUnavailable},
	{match: is(context.DeadlineExceeded), status: http.StatusGatewayTimeout, code: ErrCodeGatewayTimeout},
}

// Classify returns the status and error code for err. Unknown errors are
// a 500.
func Classify(err error) (int, string) {
	for _, rule := range errorRules {
		if rule.match(err) {
			return rule.status, rule.code
		}
	}
	return http.StatusInternalServerError, ErrCodeInternalServer
}

// HandleError writes the error response for err. The message of an
// unclassified error is replaced so internals do not leak.
func HandleError(w http.ResponseWriter, err error, requestID string) {
	status, code := Classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = ErrInternalServer.Error()
	}
	Error(w, status, code, msg, requestID)
}
