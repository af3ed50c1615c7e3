package middleware

import (
	"fmt"

	pkgError "github.com/nexloop/wabridge/pkg/error"
	"github.com/nexloop/wabridge/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

func Recovery() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		defer func() {
			err := recover()
			if err != nil {
				var res utils.ResponseData
				res.Status = 500
				res.Code = "INTERNAL_SERVER_ERROR"
				res.Message = fmt.Sprintf("%v", err)

				logrus.Errorf("Panic recovered in middleware: %v", err)

				errKnown, isKnownError := err.(pkgError.GenericError)
				if isKnownError {
					res.Status = errKnown.StatusCode()
					res.Code = errKnown.ErrCode()
					res.Message = errKnown.Error()
				}

				_ = ctx.Status(res.Status).JSON(res)
			}
		}()

		return ctx.Next()
	}
}
