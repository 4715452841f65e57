package apperror

import "net/http"

// GenericError is implemented by every typed error in the gateway so the
// recovery middleware can map panics to HTTP responses.
type GenericError interface {
	error
	ErrCode() string
	StatusCode() int
}

type ValidationError string

func (err ValidationError) Error() string   { return string(err) }
func (err ValidationError) ErrCode() string { return "VALIDATION_ERROR" }
func (err ValidationError) StatusCode() int { return http.StatusBadRequest }

type NotFoundError string

func (err NotFoundError) Error() string   { return string(err) }
func (err NotFoundError) ErrCode() string { return "NOT_FOUND_ERROR" }
func (err NotFoundError) StatusCode() int { return http.StatusNotFound }

// UnauthorizedError is returned for failed webhook signature checks.
type UnauthorizedError string

func (err UnauthorizedError) Error() string   { return string(err) }
func (err UnauthorizedError) ErrCode() string { return "UNAUTHORIZED" }
func (err UnauthorizedError) StatusCode() int { return http.StatusUnauthorized }

type WebhookError string

func (err WebhookError) Error() string   { return string(err) }
func (err WebhookError) ErrCode() string { return "WEBHOOK_ERROR" }
func (err WebhookError) StatusCode() int { return http.StatusBadGateway }

// QuotaExceededError is returned when a tenant's billing-period message
// allowance is exhausted. Never retried.
type QuotaExceededError string

func (err QuotaExceededError) Error() string   { return string(err) }
func (err QuotaExceededError) ErrCode() string { return "QUOTA_EXCEEDED" }
func (err QuotaExceededError) StatusCode() int { return http.StatusPaymentRequired }

// RateLimitedError is returned when the per-tenant send ceiling is hit.
type RateLimitedError string

func (err RateLimitedError) Error() string   { return string(err) }
func (err RateLimitedError) ErrCode() string { return "RATE_LIMITED" }
func (err RateLimitedError) StatusCode() int { return http.StatusTooManyRequests }

// SessionNotReadyError is returned when sending through a live session that
// has not reached READY.
type SessionNotReadyError string

func (err SessionNotReadyError) Error() string   { return string(err) }
func (err SessionNotReadyError) ErrCode() string { return "SESSION_NOT_READY" }
func (err SessionNotReadyError) StatusCode() int { return http.StatusConflict }

// NoActiveChannelError is returned when a tenant has neither push credentials
// nor a READY live session.
type NoActiveChannelError string

func (err NoActiveChannelError) Error() string   { return string(err) }
func (err NoActiveChannelError) ErrCode() string { return "NO_ACTIVE_CHANNEL" }
func (err NoActiveChannelError) StatusCode() int { return http.StatusConflict }

// SendError carries the retryable classification the dispatcher hands back to
// callers deciding on queue retries.
type SendError struct {
	Reason    string
	Retryable bool
}

func (err *SendError) Error() string   { return err.Reason }
func (err *SendError) ErrCode() string { return "SEND_FAILED" }
func (err *SendError) StatusCode() int { return http.StatusBadGateway }

// NewRetryableSendError marks transient failures (network, timeout, 5xx).
func NewRetryableSendError(reason string) *SendError {
	return &SendError{Reason: reason, Retryable: true}
}

// NewPermanentSendError marks failures retrying cannot fix (bad recipient).
func NewPermanentSendError(reason string) *SendError {
	return &SendError{Reason: reason, Retryable: false}
}

// IsRetryable reports whether err should be scheduled for a backoff retry.
func IsRetryable(err error) bool {
	if se, ok := err.(*SendError); ok {
		return se.Retryable
	}
	return false
}
