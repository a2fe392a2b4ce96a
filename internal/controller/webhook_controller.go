package controller

import (
	"errors"
	"io"
	"net/http"

	domainErrors "github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/cassiomorais/eventpay/internal/service"
	"github.com/go-chi/chi/v5"
)

const maxWebhookBody = 1 << 20

// WebhookController receives gateway callbacks.
type WebhookController struct {
	reconciler *service.WebhookReconciler
}

func NewWebhookController(reconciler *service.WebhookReconciler) *WebhookController {
	return &WebhookController{reconciler: reconciler}
}

// Receive answers 200 once a delivery is parsed and applied, whatever the
// business outcome. Gateways retry anything else.
func (c *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large", Code: "payload_too_large"})
			return
		}
		writeError(w, domainErrors.NewValidationError("body", "unreadable request body"))
		return
	}

	res, err := c.reconciler.Handle(r.Context(), chi.URLParam(r, "gateway"), raw, r.Header)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WebhookResponse{Status: "ok", Outcome: string(res.Outcome)})
}
