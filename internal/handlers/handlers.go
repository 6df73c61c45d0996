package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/batisoft/batifact/internal/apperr"
	"github.com/batisoft/batifact/internal/httpx"
)

var validate = validator.New()

// idParam reads a positive integer query parameter.
func idParam(r *http.Request, name string) (uint, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return uint(n), true
}

// writeError maps the domain error taxonomy onto the JSON surface.
// Validation and immutability failures stay 4xx and carry their reason;
// store failures surface as retryable 503s with the schema-missing variant
// kept distinct.
func writeError(w http.ResponseWriter, err error) {
	var vErr *apperr.ValidationError
	if errors.As(err, &vErr) {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", vErr.Violations)
		return
	}
	var iErr *apperr.ImmutableStateError
	if errors.As(err, &iErr) {
		httpx.JSONError(w, http.StatusConflict, "immutable_state", map[string]string{"reason": iErr.Error()})
		return
	}
	var oErr *apperr.OverpaymentError
	if errors.As(err, &oErr) {
		httpx.JSONError(w, http.StatusBadRequest, "overpayment", map[string]any{
			"message":   oErr.Error(),
			"remaining": oErr.Remaining,
		})
		return
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		httpx.JSONError(w, http.StatusNotFound, "not_found", nil)
		return
	}
	var xErr *apperr.ExternalServiceError
	if errors.As(err, &xErr) {
		code := "store_unreachable"
		if xErr.Kind == apperr.KindSchemaMissing {
			code = "store_schema_missing"
		}
		httpx.JSONError(w, http.StatusServiceUnavailable, code, nil)
		return
	}
	httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
}

// checkStruct runs validator tags and converts violations to the taxonomy.
func checkStruct(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.NewValidation("body", "invalid")
	}
	violations := map[string]string{}
	for _, fe := range fieldErrs {
		violations[fe.Field()] = fe.Tag()
	}
	return &apperr.ValidationError{Violations: violations}
}
