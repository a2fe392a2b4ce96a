package controller

import (
	"net/http"

	"github.com/cassiomorais/eventpay/internal/service"
	"github.com/google/uuid"
)

// OrderController serves the public order endpoints.
type OrderController struct {
	orders   *service.OrderService
	currency string
}

func NewOrderController(orders *service.OrderService, currency string) *OrderController {
	return &OrderController{orders: orders, currency: currency}
}

// Create opens (or returns the live) payment order of a registration.
func (c *OrderController) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	o, err := c.orders.CreateOrder(r.Context(), service.CreateOrderRequest{
		RegistrationID: uuid.MustParse(req.RegistrationID),
		CouponCode:     req.CouponCode,
		Gateway:        req.Gateway,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, FromOrder(o))
}

// Verify handles the client callback after checkout.
func (c *OrderController) Verify(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req VerifyPaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := c.orders.VerifyPayment(r.Context(), id, req.PaymentRef, req.Signature)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromOrder(res.Order))
}

func (c *OrderController) Get(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	o, err := c.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromOrder(o))
}

// ResolveCoupon previews the fee a registration would pay with a coupon.
func (c *OrderController) ResolveCoupon(w http.ResponseWriter, r *http.Request) {
	var req ResolveCouponRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	fee, err := c.orders.PreviewFee(r.Context(), uuid.MustParse(req.RegistrationID), req.CouponCode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromFee(fee, c.currency))
}
