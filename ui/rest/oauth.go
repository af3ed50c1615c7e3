package rest

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	domainInstance "github.com/nexloop/wabridge/domains/instance"
	"github.com/nexloop/wabridge/pkg/utils"
)

type OAuth struct {
	Service     domainInstance.IInstanceUsecase
	FrontendURL string
}

func InitRestOAuth(app fiber.Router, service domainInstance.IInstanceUsecase, frontendURL string) OAuth {
	rest := OAuth{Service: service, FrontendURL: frontendURL}
	app.Get("/leadconnectorhq/oauth/callback", rest.Callback)
	return rest
}

// Callback completes the GHL marketplace install. The state parameter carries
// the instance ID handed out at provisioning time.
func (handler *OAuth) Callback(c *fiber.Ctx) error {
	code := c.Query("code")
	state := c.Query("state")
	companyID := c.Query("companyId")

	if code == "" || state == "" {
		return c.Status(400).JSON(utils.ResponseData{
			Status:  400,
			Code:    "BAD_REQUEST",
			Message: "missing code or state query parameter",
			Results: nil,
		})
	}

	instance, err := handler.Service.CompleteOAuth(c.UserContext(), state, code, companyID)
	utils.PanicIfNeeded(err)

	logrus.Infof("[OAUTH] Install completed for instance %s (location %s)", instance.ID, instance.LocationID)

	if handler.FrontendURL != "" {
		return c.Redirect(handler.FrontendURL+"/instance/"+instance.ID, fiber.StatusFound)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Install completed",
		Results: instance,
	})
}
