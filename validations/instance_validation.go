package validations

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	domainInstance "github.com/nexloop/wabridge/domains/instance"
	pkgError "github.com/nexloop/wabridge/pkg/error"
)

func ValidateCreateInstance(ctx context.Context, request domainInstance.CreateInstanceRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Name, validation.Required, validation.Length(1, 120)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateRenameInstance(ctx context.Context, request domainInstance.RenameInstanceRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Name, validation.Required, validation.Length(1, 120)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
