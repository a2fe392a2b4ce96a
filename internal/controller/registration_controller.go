package controller

import (
	"net/http"

	"github.com/cassiomorais/eventpay/internal/service"
)

type RegistrationController struct {
	registrations *service.RegistrationService
}

func NewRegistrationController(registrations *service.RegistrationService) *RegistrationController {
	return &RegistrationController{registrations: registrations}
}

// Register creates a pending registration with its consents.
func (c *RegistrationController) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	reg, err := c.registrations.Register(r.Context(), req.toService())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, FromRegistration(reg))
}
