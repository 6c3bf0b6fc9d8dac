package validators

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/lumenandco/atelier-backend/pkg/enums"
	pkgerrors "github.com/lumenandco/atelier-backend/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	v.RegisterValidation("payment_method", func(fl validator.FieldLevel) bool {
		return enums.PaymentMethod(fl.Field().String()).IsValid()
	})
	v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		return enums.Currency(fl.Field().String()).IsValid()
	})
	v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		amount, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		return !amount.IsNegative() && amount.Exponent() >= -2
	})
	return v
}

func DecodeJSONBody(r *http.Request, dest any) error {
	defer func() {
		io.Copy(io.Discard, r.Body)
	}()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").WithDetails(map[string]any{"error": err.Error()})
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) *pkgerrors.Error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "email":
		return "must be a valid email"
	case "payment_method":
		return "must be a supported payment method"
	case "currency":
		return "must be a supported currency"
	case "money":
		return "must be a non-negative amount with at most two decimal places"
	}
	return "is invalid"
}
