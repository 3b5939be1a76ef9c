package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/arcade-scoregate/internal/protocol"
)

// ErrorBuilder helps construct structured errors with context
type ErrorBuilder struct {
	errType   string
	message   string
	reason    string
	context   map[string]interface{}
	requestID string
}

// NewError creates a new error builder
func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{
		errType: errType,
		message: message,
		context: make(map[string]interface{}),
	}
}

// WithReason sets the human readable rejection reason.
func (eb *ErrorBuilder) WithReason(reason string) *ErrorBuilder {
	eb.reason = reason
	return eb
}

// WithContext adds context information to the error
func (eb *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	eb.context[key] = value
	return eb
}

// WithRequestID adds request ID to the error
func (eb *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	eb.requestID = requestID
	return eb
}

// Build creates the final APIError
func (eb *ErrorBuilder) Build() APIError {
	e := APIError{
		Type:      eb.errType,
		Message:   eb.message,
		Reason:    eb.reason,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if len(eb.context) > 0 {
		e.Context = eb.context
	}
	return e
}

// ErrorHandler maps domain errors to HTTP responses and logs them.
type ErrorHandler struct {
	logger         *log.Logger
	securityLogger *SecurityLogger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *log.Logger, securityLogger *SecurityLogger) *ErrorHandler {
	return &ErrorHandler{
		logger:         logger,
		securityLogger: securityLogger,
	}
}

// classify returns the status code and body for err. Unknown errors are
// internal and their text is not echoed to the client.
func classify(err error) (int, *ErrorBuilder) {
	var (
		inputErr      *protocol.InputError
		validationErr *protocol.ValidationError
		storageErr    *protocol.StorageError
		apiErr        APIError
	)
	switch {
	case errors.As(err, &apiErr):
		return http.StatusBadRequest, NewError(apiErr.Type, apiErr.Message).WithReason(apiErr.Reason)
	case errors.As(err, &inputErr):
		return http.StatusBadRequest, NewError(ErrTypeInput, "Invalid request").
			WithReason(inputErr.Error()).
			WithContext("field", inputErr.Field)
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, NewError(ErrTypeValidationFailed, "Score validation failed").
			WithReason(validationErr.Reason).
			WithContext("rule", string(validationErr.Rule))
	case errors.Is(err, protocol.ErrSessionInvalid):
		return http.StatusUnauthorized, NewError(ErrTypeSessionInvalid, "Invalid or expired session")
	case errors.Is(err, protocol.ErrIdentityMismatch):
		return http.StatusForbidden, NewError(ErrTypeIdentityMismatch, "Player identity mismatch")
	case errors.Is(err, protocol.ErrSeedMismatch):
		return http.StatusForbidden, NewError(ErrTypeSeedMismatch, "Seed mismatch")
	case errors.As(err, &storageErr):
		return http.StatusInternalServerError, NewError(ErrTypeStorage, "Storage failure").
			WithContext("op", storageErr.Op)
	default:
		return http.StatusInternalServerError, NewError(ErrTypeInternal, "Internal server error")
	}
}

// HandleError writes the response for err.
func (eh *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetReqID(r.Context())
	status, builder := classify(err)
	apiErr := builder.WithRequestID(requestID).Build()

	if GetErrorCategory(apiErr.Type) != CategorySystem && apiErr.Type != ErrTypeInput {
		eh.securityLogger.LogSecurityEvent(requestID, apiErr.Type, apiErr.Error(), apiErr.Context, r.RemoteAddr)
	}
	eh.logError(r, apiErr, status, err)
	eh.writeErrorResponse(w, status, apiErr)
}

// HandleStatus writes a fixed error that did not come from the domain layer.
func (eh *ErrorHandler) HandleStatus(w http.ResponseWriter, r *http.Request, status int, errType, message, reason string) {
	apiErr := NewError(errType, message).
		WithReason(reason).
		WithRequestID(middleware.GetReqID(r.Context())).
		Build()
	eh.logError(r, apiErr, status, nil)
	eh.writeErrorResponse(w, status, apiErr)
}

// logError logs the error with a level derived from its category and status.
func (eh *ErrorHandler) logError(r *http.Request, apiErr APIError, status int, cause error) {
	category := GetErrorCategory(apiErr.Type)

	logLevel := "WARN"
	if status >= 500 {
		logLevel = "ERROR"
	}

	causeText := ""
	if cause != nil && status >= 500 {
		causeText = cause.Error()
	}

	eh.logger.Printf(
		"error_occurred level=%s type=%s category=%s status=%d request_id=%s method=%s path=%s message=%q reason=%q cause=%q",
		logLevel, apiErr.Type, category, status, apiErr.RequestID, r.Method, r.URL.Path, apiErr.Message, apiErr.Reason, causeText,
	)
}

// writeErrorResponse writes the error response as JSON
func (eh *ErrorHandler) writeErrorResponse(w http.ResponseWriter, status int, apiErr APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Service-Version", Version)
	w.Header().Set("X-Error-Type", apiErr.Type)
	w.Header().Set("X-Error-Category", string(GetErrorCategory(apiErr.Type)))
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(apiErr); err != nil {
		eh.logger.Printf("error_encode_failed request_id=%s err=%v", apiErr.RequestID, err)
	}
}

// RecoveryHandler provides panic recovery with structured error logging
func (eh *ErrorHandler) RecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				requestID := middleware.GetReqID(r.Context())

				eh.logger.Printf(
					"panic_recovered request_id=%s path=%s method=%s panic=%v",
					requestID, r.URL.Path, r.Method, rvr,
				)

				apiErr := NewError(ErrTypeInternal, "Internal server error").
					WithRequestID(requestID).
					Build()

				eh.writeErrorResponse(w, http.StatusInternalServerError, apiErr)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
