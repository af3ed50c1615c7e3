package rest

import (
	domainInstance "github.com/nexloop/wabridge/domains/instance"
	"github.com/nexloop/wabridge/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type Instance struct {
	Service domainInstance.IInstanceUsecase
}

func InitRestInstance(app fiber.Router, service domainInstance.IInstanceUsecase) Instance {
	rest := Instance{Service: service}
	app.Post("/instances", rest.CreateInstance)
	app.Get("/instances", rest.ListInstances)
	app.Get("/instances/:id", rest.GetInstance)
	app.Patch("/instances/:id", rest.RenameInstance)
	app.Delete("/instances/:id", rest.DeleteInstance)
	app.Get("/instances/:id/qr", rest.GetInstanceQR)
	app.Post("/instances/:id/connect", rest.ConnectInstance)
	app.Post("/instances/:id/disconnect", rest.DisconnectInstance)
	app.Post("/instances/:id/reconnect", rest.ReconnectInstance)
	app.Post("/instances/:id/logout", rest.LogoutInstance)
	return rest
}

func (handler *Instance) CreateInstance(c *fiber.Ctx) error {
	var request domainInstance.CreateInstanceRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	response, err := handler.Service.Provision(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instance created",
		Results: response,
	})
}

func (handler *Instance) ListInstances(c *fiber.Ctx) error {
	instances, err := handler.Service.List(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instances fetched",
		Results: instances,
	})
}

func (handler *Instance) GetInstance(c *fiber.Ctx) error {
	detail, err := handler.Service.Detail(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instance fetched",
		Results: detail,
	})
}

func (handler *Instance) RenameInstance(c *fiber.Ctx) error {
	var request domainInstance.RenameInstanceRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	instance, err := handler.Service.Rename(c.UserContext(), c.Params("id"), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instance renamed",
		Results: instance,
	})
}

func (handler *Instance) DeleteInstance(c *fiber.Ctx) error {
	err := handler.Service.Delete(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instance deleted",
		Results: nil,
	})
}

func (handler *Instance) GetInstanceQR(c *fiber.Ctx) error {
	detail, err := handler.Service.Detail(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	var qr any
	if detail.QRCode != "" {
		qr = detail.QRCode
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instance QR fetched",
		Results: map[string]any{
			"qr_code":            qr,
			"qr_code_updated_at": detail.QRCodeUpdatedAt,
		},
	})
}

func (handler *Instance) ReconnectInstance(c *fiber.Ctx) error {
	err := handler.Service.Reconnect(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instance reconnecting",
		Results: nil,
	})
}

func (handler *Instance) ConnectInstance(c *fiber.Ctx) error {
	err := handler.Service.Connect(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instance connecting",
		Results: nil,
	})
}

func (handler *Instance) DisconnectInstance(c *fiber.Ctx) error {
	err := handler.Service.Disconnect(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instance disconnected",
		Results: nil,
	})
}

func (handler *Instance) LogoutInstance(c *fiber.Ctx) error {
	err := handler.Service.Logout(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instance logged out",
		Results: nil,
	})
}
