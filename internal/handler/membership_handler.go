package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/membership-functions/internal/domain"
	"github.com/kursadbilgin/membership-functions/internal/service"
)

const memberNotFoundMessage = "No such member"

type MembershipService interface {
	Check(ctx context.Context, email string) (*service.MembershipStatus, error)
}

type MembershipHandler struct {
	service MembershipService
}

func NewMembershipHandler(service MembershipService) (*MembershipHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("membership service is required")
	}
	return &MembershipHandler{service: service}, nil
}

func RegisterMembershipRoutes(router fiber.Router, service MembershipService) error {
	h, err := NewMembershipHandler(service)
	if err != nil {
		return err
	}

	router.Post("/Membership-Check", h.CheckMembership)
	router.All("/Membership-Check", methodNotAllowed)

	return nil
}

type membershipCheckRequest struct {
	Email string `json:"email"`
}

type membershipCheckResponse struct {
	Membership string  `json:"membership"`
	Expiration *string `json:"expiration"`
}

func (h *MembershipHandler) CheckMembership(c *fiber.Ctx) error {
	var req membershipCheckRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	status, err := h.service.Check(c.UserContext(), strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, domain.ErrMemberNotFound) {
			return c.Status(fiber.StatusNotFound).SendString(memberNotFoundMessage)
		}
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(membershipCheckResponse{
		Membership: status.Membership,
		Expiration: status.Expiration,
	})
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrMemberNotFound):
		return fiber.NewError(fiber.StatusNotFound, memberNotFoundMessage)
	default:
		// Provider details stay in the service log.
		return fiber.NewError(fiber.StatusInternalServerError, "membership lookup failed")
	}
}
