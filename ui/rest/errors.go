package rest

import (
	"errors"

	"github.com/flowdesk/msggate/pkg/apperror"

	autoreplydomain "github.com/flowdesk/msggate/autoreply/domain"
	messagingdomain "github.com/flowdesk/msggate/messaging/domain"
	sessiondomain "github.com/flowdesk/msggate/session/domain"
	tenantdomain "github.com/flowdesk/msggate/tenant/domain"
)

// panicIfNeeded maps domain errors to their HTTP-typed equivalents before
// handing them to the recovery middleware. Unmapped errors surface as 500.
func panicIfNeeded(err error) {
	if err == nil {
		return
	}

	if _, ok := err.(apperror.GenericError); ok {
		panic(err)
	}

	switch {
	case errors.Is(err, tenantdomain.ErrTenantNotFound),
		errors.Is(err, tenantdomain.ErrTenantDisabled):
		// Disabled tenants look like missing ones so tenant IDs cannot be
		// probed from outside.
		panic(apperror.NotFoundError("tenant not found"))

	case errors.Is(err, tenantdomain.ErrDuplicateTenant):
		panic(apperror.ValidationError("tenant already exists"))

	case errors.Is(err, tenantdomain.ErrQuotaExhausted):
		panic(apperror.QuotaExceededError("monthly message quota exhausted"))

	case errors.Is(err, autoreplydomain.ErrRuleNotFound):
		panic(apperror.NotFoundError("rule not found"))

	case errors.Is(err, sessiondomain.ErrSessionNotFound):
		panic(apperror.NotFoundError("session not found"))

	case errors.Is(err, sessiondomain.ErrSessionNotReady),
		errors.Is(err, sessiondomain.ErrNoReadySession):
		panic(apperror.SessionNotReadyError(err.Error()))

	case errors.Is(err, messagingdomain.ErrContactNotFound),
		errors.Is(err, messagingdomain.ErrConversationNotFound),
		errors.Is(err, messagingdomain.ErrMessageNotFound):
		panic(apperror.NotFoundError(err.Error()))

	default:
		panic(err)
	}
}
