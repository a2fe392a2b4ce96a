package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	domainErrors "github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// verificationFailed is the only thing a caller learns about a rejected
// signature or a state race.
const verificationFailed = "payment could not be verified"

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{domainErrors.ErrRegistrationNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrOrderNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrEventNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrGatewayNotFound, http.StatusNotFound, "unknown_gateway"},
	{domainErrors.ErrRegistrationErased, http.StatusGone, "registration_erased"},
	{domainErrors.ErrRegistrationConfirmed, http.StatusConflict, "registration_confirmed"},
	{domainErrors.ErrActiveOrderExists, http.StatusConflict, "active_order_exists"},
	{domainErrors.ErrDuplicateIdempotencyKey, http.StatusConflict, "duplicate_request"},
	{domainErrors.ErrInvalidCursor, http.StatusBadRequest, "invalid_cursor"},
	{domainErrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domainErrors.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domainErrors.ErrCouponNotFound, http.StatusUnprocessableEntity, "coupon_not_found"},
	{domainErrors.ErrCouponExpired, http.StatusUnprocessableEntity, "coupon_expired"},
	{domainErrors.ErrCouponNotApplicable, http.StatusUnprocessableEntity, "coupon_not_applicable"},
	{domainErrors.ErrCouponExhausted, http.StatusUnprocessableEntity, "coupon_exhausted"},
	{domainErrors.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{domainErrors.ErrSignatureMismatch, http.StatusBadRequest, "verification_failed"},
	{domainErrors.ErrInvalidStateTransition, http.StatusBadRequest, "verification_failed"},
	{domainErrors.ErrConcurrentModification, http.StatusBadRequest, "verification_failed"},
	{domainErrors.ErrGatewayUnavailable, http.StatusServiceUnavailable, "gateway_unavailable"},
	{domainErrors.ErrGatewayRejected, http.StatusBadGateway, "gateway_rejected"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		resp.Code = "validation_error"
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			switch m.code {
			case "verification_failed", "invalid_signature":
				resp.Error = verificationFailed
			case "gateway_unavailable":
				resp.Error = "payment gateway unavailable, please retry"
			case "gateway_rejected":
				resp.Error = "payment rejected by gateway"
			}
			if m.code == "verification_failed" {
				log.Warn().Err(err).Msg("payment verification refused")
			}
			writeJSON(w, m.status, resp)
			return
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			return domainErrors.NewValidationError(jsonFieldName(ve[0]), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}

// jsonFieldName drops the struct name: "RegisterRequest.consents[0].type" becomes "consents[0].type".
func jsonFieldName(fe validator.FieldError) string {
	_, field, found := strings.Cut(fe.Namespace(), ".")
	if !found {
		return fe.Field()
	}
	return field
}

func urlUUID(r *http.Request, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		return uuid.Nil, domainErrors.NewValidationError(param, "must be a valid UUID")
	}
	return id, nil
}
