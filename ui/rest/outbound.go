package rest

import (
	"github.com/gofiber/fiber/v2"

	domainMessage "github.com/nexloop/wabridge/domains/message"
	"github.com/nexloop/wabridge/pkg/utils"
)

type Outbound struct {
	Service domainMessage.IMessageUsecase
}

func InitRestOutbound(app fiber.Router, service domainMessage.IMessageUsecase) Outbound {
	rest := Outbound{Service: service}
	app.Post("/crm/outbound", rest.SendMessage)
	return rest
}

// SendMessage is the conversation provider webhook GHL calls when an agent
// sends a message from the CRM.
func (handler *Outbound) SendMessage(c *fiber.Ctx) error {
	var request domainMessage.OutboundRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	response, err := handler.Service.SendFromCRM(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Message sent",
		Results: response,
	})
}
