package api

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"example.com/tradedesk/services/deals/internal/fault"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Report fields by their json name so error payloads match the wire form
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// validateRequest runs tag validation over a bound request body and converts
// the first failure into a contract validation error naming the field.
func validateRequest(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fault.Validation(fe.Field(), "failed %q validation", fe.Tag())
	}

	return fault.Validation("body", "invalid request body")
}
