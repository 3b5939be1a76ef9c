package api

// APIError is the JSON body of every error response.
type APIError struct {
	Message   string                 `json:"error"`
	Reason    string                 `json:"reason,omitempty"`
	Type      string                 `json:"type"`
	Context   map[string]interface{} `json:"context,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e APIError) Error() string {
	if e.Reason != "" {
		return e.Message + ": " + e.Reason
	}
	return e.Message
}

// Error types reported in the body and the X-Error-Type header.
const (
	// Caller errors
	ErrTypeInput            = "input_error"
	ErrTypeValidationFailed = "validation_failed"

	// Session errors
	ErrTypeSessionInvalid   = "session_invalid"
	ErrTypeIdentityMismatch = "identity_mismatch"
	ErrTypeSeedMismatch     = "seed_mismatch"

	// Admin errors
	ErrTypeUnauthorized  = "unauthorized"
	ErrTypeAdminDisabled = "admin_disabled"

	// System errors
	ErrTypeStorage  = "storage_error"
	ErrTypeInternal = "internal_error"
)

// ErrorCategory groups error types for log filtering.
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategorySession    ErrorCategory = "session"
	CategorySecurity   ErrorCategory = "security"
	CategorySystem     ErrorCategory = "system"
)

// GetErrorCategory returns the category for an error type
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeInput, ErrTypeValidationFailed:
		return CategoryValidation
	case ErrTypeSessionInvalid:
		return CategorySession
	case ErrTypeIdentityMismatch, ErrTypeSeedMismatch, ErrTypeUnauthorized, ErrTypeAdminDisabled:
		return CategorySecurity
	default:
		return CategorySystem
	}
}

// VersionInfo describes the running build.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

type startRequest struct {
	PlayerIdentity string `json:"playerIdentity"`
}

type highestScoreResponse struct {
	HighestScore int `json:"highestScore"`
}

type cleanupResponse struct {
	Removed int `json:"removed"`
}
