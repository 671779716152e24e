package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Session ───────────────────────────────────────────────────────
	ErrSessionRequired ErrCode = "SESSION_REQUIRED"
	ErrSessionNotFound ErrCode = "SESSION_NOT_FOUND"
	ErrSessionClosed   ErrCode = "SESSION_CLOSED"
	ErrWorkflowBusy    ErrCode = "WORKFLOW_IN_FLIGHT"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrRequestCancelled ErrCode = "REQUEST_CANCELLED"
	ErrInternal         ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Session ───────────────────────────────────────────────────────
	case ErrSessionRequired:
		return "Start a session before sending actions."
	case ErrSessionNotFound:
		return "Session not found or expired. Start a new session."
	case ErrSessionClosed:
		return "This session has ended."
	case ErrWorkflowBusy:
		return "Please wait for the current request to finish."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrRequestCancelled:
		return "The request was cancelled before the result was ready."
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
