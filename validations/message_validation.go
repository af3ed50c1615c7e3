package validations

import (
	"context"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	domainMessage "github.com/nexloop/wabridge/domains/message"
	pkgError "github.com/nexloop/wabridge/pkg/error"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{10,15}$`)

func ValidateOutboundMessage(ctx context.Context, request domainMessage.OutboundRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.LocationID, validation.Required),
		validation.Field(&request.Phone, validation.Required, validation.Match(phonePattern)),
		validation.Field(&request.Message, validation.Required),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
