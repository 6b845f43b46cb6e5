package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/membership-functions/internal/service"
)

type IPNService interface {
	Handle(ctx context.Context, body []byte, contentType string) service.Outcome
}

type IPNHandler struct {
	service IPNService
}

func NewIPNHandler(service IPNService) (*IPNHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("ipn service is required")
	}
	return &IPNHandler{service: service}, nil
}

func RegisterIPNRoutes(router fiber.Router, service IPNService) error {
	h, err := NewIPNHandler(service)
	if err != nil {
		return err
	}

	router.Post("/Paypal-IPN", h.ReceiveIPN)
	router.All("/Paypal-IPN", methodNotAllowed)

	return nil
}

// ReceiveIPN answers PayPal with an empty body. Any 2xx stops redelivery,
// so only transient failures map to 5xx.
func (h *IPNHandler) ReceiveIPN(c *fiber.Ctx) error {
	// c.Body() is only valid for the lifetime of the handler; Handle does
	// not retain it.
	outcome := h.service.Handle(c.UserContext(), c.Body(), c.Get(fiber.HeaderContentType))
	return c.Status(outcome.StatusCode).Send(nil)
}

func methodNotAllowed(c *fiber.Ctx) error {
	return fiber.NewError(fiber.StatusMethodNotAllowed, "method not allowed")
}
