package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

// newValidator registers the decimal tags used on money and quantity fields:
// dec_min=<n> (inclusive lower bound) and dec_places=<n> (at most n decimals).
// Decimals are validated through their string form.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("dec_min", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		bound, err := decimal.NewFromString(fl.Param())
		return err == nil && d.GreaterThanOrEqual(bound)
	})
	_ = v.RegisterValidation("dec_places", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		places, err := strconv.ParseInt(fl.Param(), 10, 32)
		return err == nil && d.Equal(d.Truncate(int32(places)))
	})
	return v
}

// DecodeAndValidate decodes a JSON body into dst and runs struct validation tags.
// Failures are returned as AppErrors ready for WriteError.
func DecodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return NewAppError("PAYLOAD_TOO_LARGE", "request body too large", http.StatusRequestEntityTooLarge, err)
		}
		return NewAppError("BAD_REQUEST", "invalid payload", http.StatusBadRequest, err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fieldPath(fe.Namespace())] = fe.Tag()
			}
			return NewAppError("VALIDATION_FAILED", "request validation failed", http.StatusBadRequest, err).WithDetails(fields)
		}
		return NewAppError("VALIDATION_FAILED", "request validation failed", http.StatusBadRequest, err)
	}
	return nil
}

// fieldPath drops the top-level struct name from a validator namespace.
func fieldPath(ns string) string {
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return ns
}
