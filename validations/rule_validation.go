package validations

import (
	"context"
	"regexp"

	"github.com/flowdesk/msggate/pkg/apperror"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	domainAutoReply "github.com/flowdesk/msggate/autoreply/domain"
)

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

func ValidateRule(ctx context.Context, rule *domainAutoReply.Rule) error {
	err := validation.ValidateStructWithContext(ctx, rule,
		validation.Field(&rule.ReplyText, validation.Required, validation.Length(1, 4096)),
		validation.Field(&rule.Shortcuts, validation.Required, validation.Length(1, 50)),
		validation.Field(&rule.MatchMode, validation.In(
			domainAutoReply.MatchAny,
			domainAutoReply.MatchAll,
			domainAutoReply.MatchExact,
			domainAutoReply.MatchRegex,
		)),
	)
	if err != nil {
		return apperror.ValidationError(err.Error())
	}

	for _, cond := range rule.Conditions {
		if !cond.Op.Valid() {
			return apperror.ValidationError("unknown condition operator: " + string(cond.Op))
		}
		if cond.Field == "" {
			return apperror.ValidationError("condition field is required")
		}
	}

	if hours := rule.BusinessHours; hours != nil {
		if !clockPattern.MatchString(hours.Start) || !clockPattern.MatchString(hours.End) {
			return apperror.ValidationError("business hours must be HH:MM")
		}
	}

	return nil
}
