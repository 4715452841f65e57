package validations

import (
	"context"
	"regexp"

	"github.com/flowdesk/msggate/pkg/apperror"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	domainMessaging "github.com/flowdesk/msggate/messaging/domain"
)

var addressPattern = regexp.MustCompile(`^[0-9A-Za-z@.\-_+]{3,128}$`)

func ValidateSendMessage(ctx context.Context, request domainMessaging.SendMessageRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.To, validation.Required, validation.Match(addressPattern)),
		validation.Field(&request.Body, validation.Required, validation.Length(1, 4096)),
	)

	if err != nil {
		return apperror.ValidationError(err.Error())
	}

	return nil
}
